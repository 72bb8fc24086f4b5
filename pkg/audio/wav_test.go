package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/voicesim/pkg/audio"
)

func TestWrapWAV_Header(t *testing.T) {
	t.Parallel()
	pcm := []byte{1, 2, 3, 4, 5, 6}
	wav := audio.WrapWAV(pcm, 24000)

	if len(wav) != audio.WAVHeaderSize+len(pcm) {
		t.Fatalf("len = %d; want %d", len(wav), audio.WAVHeaderSize+len(pcm))
	}

	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"riff size", binary.LittleEndian.Uint32(wav[4:8]), 36 + 6},
		{"fmt size", binary.LittleEndian.Uint32(wav[16:20]), 16},
		{"format tag", uint32(binary.LittleEndian.Uint16(wav[20:22])), 1},
		{"channels", uint32(binary.LittleEndian.Uint16(wav[22:24])), 1},
		{"sample rate", binary.LittleEndian.Uint32(wav[24:28]), 24000},
		{"byte rate", binary.LittleEndian.Uint32(wav[28:32]), 48000},
		{"block align", uint32(binary.LittleEndian.Uint16(wav[32:34])), 2},
		{"bits", uint32(binary.LittleEndian.Uint16(wav[34:36])), 16},
		{"data size", binary.LittleEndian.Uint32(wav[40:44]), 6},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d; want %d", c.name, c.got, c.want)
		}
	}
	for _, tag := range []struct {
		off  int
		want string
	}{{0, "RIFF"}, {8, "WAVE"}, {12, "fmt "}, {36, "data"}} {
		if got := string(wav[tag.off : tag.off+4]); got != tag.want {
			t.Errorf("tag at %d = %q; want %q", tag.off, got, tag.want)
		}
	}
	if !bytes.Equal(wav[audio.WAVHeaderSize:], pcm) {
		t.Error("payload does not match input PCM")
	}
}

func TestWrapWAV_DropsOddTrailingByte(t *testing.T) {
	t.Parallel()
	wav := audio.WrapWAV([]byte{1, 2, 3}, 24000)
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 2 {
		t.Errorf("data size = %d; want 2", got)
	}
	if len(wav) != audio.WAVHeaderSize+2 {
		t.Errorf("len = %d; want %d", len(wav), audio.WAVHeaderSize+2)
	}
}

func TestParseWAVHeader_RoundTrip(t *testing.T) {
	t.Parallel()
	info, err := audio.ParseWAVHeader(audio.WrapWAV(make([]byte, 480), 24000))
	if err != nil {
		t.Fatalf("ParseWAVHeader: %v", err)
	}
	want := audio.WAVInfo{SampleRate: 24000, Channels: 1, BitsPerSample: 16, DataSize: 480}
	if info != want {
		t.Errorf("info = %+v; want %+v", info, want)
	}
}

func TestParseWAVHeader_Invalid(t *testing.T) {
	t.Parallel()
	valid := audio.WrapWAV([]byte{0, 0}, 24000)

	corrupt := func(off int, b byte) []byte {
		c := bytes.Clone(valid)
		c[off] = b
		return c
	}

	tests := []struct {
		name string
		in   []byte
	}{
		{"too short", valid[:20]},
		{"bad riff", corrupt(0, 'X')},
		{"bad wave", corrupt(8, 'X')},
		{"bad fmt", corrupt(12, 'X')},
		{"bad data", corrupt(36, 'X')},
		{"not pcm", corrupt(20, 3)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.ParseWAVHeader(tc.in)
			if !errors.Is(err, audio.ErrInvalidWAV) {
				t.Errorf("err = %v; want ErrInvalidWAV", err)
			}
		})
	}
}
