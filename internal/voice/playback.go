package voice

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/voicesim/internal/observe"
	"github.com/MrWong99/voicesim/pkg/audio"
)

// playDone is posted to the run loop when a segment finishes.
type playDone struct {
	seq uint64
	err error
}

// player drains queued segments through a sink strictly in order, one at a
// time. It is owned by the run loop. Completions arrive on done and must be
// handed back through [player.finish].
type player struct {
	sink       audio.Sink
	sampleRate int
	done       chan playDone
	ctx        context.Context

	metrics *observe.Metrics

	queue   [][]byte
	playing bool
	seq     uint64
}

func newPlayer(ctx context.Context, sink audio.Sink, sampleRate int, m *observe.Metrics) *player {
	return &player{
		sink:       sink,
		sampleRate: sampleRate,
		done:       make(chan playDone, 1),
		ctx:        ctx,
		metrics:    m,
	}
}

func (p *player) enqueue(seg []byte) {
	p.queue = append(p.queue, seg)
}

// idle reports whether nothing is playing and nothing is queued.
func (p *player) idle() bool {
	return !p.playing && len(p.queue) == 0
}

// pump starts the head segment unless one is already playing. Segments the
// sink rejects are skipped. It reports whether a segment is playing on return.
func (p *player) pump() bool {
	for !p.playing && len(p.queue) > 0 {
		seg := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]

		p.seq++
		seq := p.seq
		var once sync.Once
		err := p.sink.Play(audio.WrapWAV(seg, p.sampleRate), func(err error) {
			once.Do(func() {
				select {
				case p.done <- playDone{seq: seq, err: err}:
				case <-p.ctx.Done():
				}
			})
		})
		if err != nil {
			p.metrics.SegmentsFailed.Add(p.ctx, 1)
			slog.Warn("voice: skipping segment", "err", err, "bytes", len(seg))
			continue
		}
		p.playing = true
	}
	return p.playing
}

// finish records the completion of the current segment. Stale completions
// are ignored. It reports whether res belonged to the current segment.
func (p *player) finish(res playDone) bool {
	if !p.playing || res.seq != p.seq {
		return false
	}
	p.playing = false
	if res.err != nil {
		p.metrics.SegmentsFailed.Add(p.ctx, 1)
		slog.Warn("voice: segment playback failed", "err", res.err)
	} else {
		p.metrics.SegmentsPlayed.Add(p.ctx, 1)
	}
	return true
}

// reset drops every queued segment.
func (p *player) reset() {
	clear(p.queue)
	p.queue = nil
	p.playing = false
}
