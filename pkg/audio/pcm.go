package audio

import (
	"encoding/base64"
	"encoding/binary"
	"strings"
)

const (
	// SampleRate is the rate in Hz of every PCM stream exchanged with the
	// realtime service, in both directions.
	SampleRate = 24000

	// Channels is the channel count of every PCM stream (mono).
	Channels = 1

	// FrameSize is the number of samples per captured frame.
	FrameSize = 4096

	// encodeBlock is the number of PCM bytes base64-encoded per step. It is a
	// multiple of 3 so that concatenated blocks produce the same output as a
	// single-shot encode.
	encodeBlock = 0x8000 - 0x8000%3
)

// FloatToPCM16 converts float samples to little-endian int16 PCM.
//
// Samples are clamped to [-1, 1]. Negative values are scaled by 32768 and
// non-negative values by 32767, so -1.0 maps to -32768 and 1.0 to 32767
// without wrapping. The fractional part is truncated toward zero.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	switch {
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	case s != s: // NaN
		return 0
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// PCM16ToFloat reinterprets little-endian int16 PCM as float samples in
// [-1, 1], inverting the asymmetric scaling of [FloatToPCM16]. A trailing odd
// byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7FFF
		}
	}
	return out
}

// EncodeFrame converts samples to PCM16 and returns the standard base64
// encoding used by input_audio_buffer.append messages.
//
// Large frames are encoded in fixed-size blocks so that arbitrarily long
// inputs never need a single oversized intermediate buffer.
func EncodeFrame(samples []float32) string {
	pcm := FloatToPCM16(samples)
	if len(pcm) <= encodeBlock {
		return base64.StdEncoding.EncodeToString(pcm)
	}

	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(pcm)))
	buf := make([]byte, base64.StdEncoding.EncodedLen(encodeBlock))
	for off := 0; off < len(pcm); off += encodeBlock {
		end := min(off+encodeBlock, len(pcm))
		n := base64.StdEncoding.EncodedLen(end - off)
		base64.StdEncoding.Encode(buf[:n], pcm[off:end])
		sb.Write(buf[:n])
	}
	return sb.String()
}

// DecodeSegment decodes a base64 response.audio.delta payload into raw PCM
// bytes.
func DecodeSegment(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}
