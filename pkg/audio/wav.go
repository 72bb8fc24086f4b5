package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header written by
// [WrapWAV].
const WAVHeaderSize = 44

// WAVInfo describes the format fields of a canonical PCM WAV header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataSize      int
}

// ErrInvalidWAV is returned by [ParseWAVHeader] for data that does not start
// with a canonical 44-byte PCM header.
var ErrInvalidWAV = errors.New("audio: invalid wav header")

// WrapWAV prefixes raw mono PCM16 bytes with a canonical 44-byte WAV header
// so that decoders that only accept self-describing containers can play it.
// A trailing odd byte is dropped.
func WrapWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
		blockAlign    = channels * bitsPerSample / 8
	)
	dataSize := len(pcm) &^ 1

	out := make([]byte, WAVHeaderSize+dataSize)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], channels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:34], blockAlign)
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))
	copy(out[WAVHeaderSize:], pcm[:dataSize])
	return out
}

// ParseWAVHeader validates the canonical header at the start of b and returns
// its format fields. Only uncompressed PCM is accepted.
func ParseWAVHeader(b []byte) (WAVInfo, error) {
	if len(b) < WAVHeaderSize {
		return WAVInfo{}, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidWAV, WAVHeaderSize, len(b))
	}
	switch {
	case string(b[0:4]) != "RIFF":
		return WAVInfo{}, fmt.Errorf("%w: missing RIFF tag", ErrInvalidWAV)
	case string(b[8:12]) != "WAVE":
		return WAVInfo{}, fmt.Errorf("%w: missing WAVE tag", ErrInvalidWAV)
	case string(b[12:16]) != "fmt ":
		return WAVInfo{}, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	case string(b[36:40]) != "data":
		return WAVInfo{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	}
	if tag := binary.LittleEndian.Uint16(b[20:22]); tag != 1 {
		return WAVInfo{}, fmt.Errorf("%w: format tag %d is not PCM", ErrInvalidWAV, tag)
	}
	return WAVInfo{
		Channels:      int(binary.LittleEndian.Uint16(b[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(b[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(b[34:36])),
		DataSize:      int(binary.LittleEndian.Uint32(b[40:44])),
	}, nil
}
