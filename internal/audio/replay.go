package audio

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
)

const replayFrame = 20 * time.Millisecond

// ReplaySource plays a WAV file as if it came from a microphone, in real time
// and optionally looping. Useful on a bench without a microphone.
type ReplaySource struct {
	samples    []float32
	sampleRate int
	loop       bool
	fan        *fanout

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReplaySource loads path into memory.
func NewReplaySource(path string, loop bool) (*ReplaySource, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioDevice).
			Context("operation", "read_replay_file").
			Build()
	}
	samples, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("operation", "decode_replay_file").
			Build()
	}
	return NewReplaySourceFromSamples(samples, rate, loop), nil
}

// NewReplaySourceFromSamples replays in-memory samples.
func NewReplaySourceFromSamples(samples []float32, sampleRate int, loop bool) *ReplaySource {
	return &ReplaySource{samples: samples, sampleRate: sampleRate, loop: loop, fan: newFanout()}
}

func (r *ReplaySource) SampleRate() int { return r.sampleRate }

func (r *ReplaySource) Subscribe(h FrameHandler) func() { return r.fan.Subscribe(h) }

func (r *ReplaySource) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
	return nil
}

func (r *ReplaySource) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	return nil
}

func (r *ReplaySource) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	frameLen := max(1, int(float64(r.sampleRate)*replayFrame.Seconds()))
	ticker := time.NewTicker(replayFrame)
	defer ticker.Stop()

	pos := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if pos >= len(r.samples) {
			if !r.loop || len(r.samples) == 0 {
				return
			}
			pos = 0
		}
		end := min(pos+frameLen, len(r.samples))
		frame := append([]float32(nil), r.samples[pos:end]...)
		pos = end
		r.fan.dispatch(frame)
	}
}
