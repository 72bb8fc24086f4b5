package audio

import (
	"log/slog"
	"sync"
)

// Downmix averages interleaved multi-channel float samples into mono. With
// channels <= 1 the input is returned unchanged. Trailing samples that do not
// form a complete frame are dropped.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ResampleMono resamples mono float samples from srcRate to dstRate using
// linear interpolation. If the rates match or either is not positive, the
// input is returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// Reframer converts a stream of arbitrarily sized sample blocks into
// fixed-size frames, optionally downmixing and resampling on the way. It logs
// once on the first format conversion. Create one per stream; not safe for
// concurrent use.
type Reframer struct {
	// FrameSize is the number of samples per emitted frame.
	FrameSize int

	// SourceRate and SourceChannels describe the incoming blocks. Zero values
	// mean the blocks already match TargetRate / mono.
	SourceRate     int
	SourceChannels int

	// TargetRate is the sample rate of emitted frames.
	TargetRate int

	pending    []float32
	warnedConv sync.Once
}

// Push appends block and returns every complete frame now available. The
// returned frames are freshly allocated and owned by the caller.
func (r *Reframer) Push(block []float32) [][]float32 {
	mono := block
	if r.SourceChannels > 1 || (r.SourceRate > 0 && r.SourceRate != r.TargetRate) {
		r.warnedConv.Do(func() {
			slog.Warn("audio capture format mismatch: converting",
				"from_rate", r.SourceRate,
				"from_channels", r.SourceChannels,
				"to_rate", r.TargetRate,
			)
		})
		mono = ResampleMono(Downmix(block, r.SourceChannels), r.SourceRate, r.TargetRate)
	}

	r.pending = append(r.pending, mono...)
	if r.FrameSize <= 0 {
		return nil
	}

	var frames [][]float32
	for len(r.pending) >= r.FrameSize {
		frame := make([]float32, r.FrameSize)
		copy(frame, r.pending[:r.FrameSize])
		frames = append(frames, frame)
		r.pending = r.pending[r.FrameSize:]
	}
	if len(r.pending) == 0 {
		r.pending = nil
	}
	return frames
}
