// Package capture records one bounded clip of microphone audio at a time.
package capture

import (
	"sync"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/audio"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
)

// ErrEmptyCapture is returned by Stop when no audio arrived during the
// session. Callers must not send anything to the classifier in that case.
var ErrEmptyCapture = errors.NewStd("capture produced no audio")

// DefaultMaxDuration bounds manual sessions that are never stopped.
const DefaultMaxDuration = 30 * time.Second

// Recording is a finalised capture session
type Recording struct {
	Samples    []float32
	SampleRate int
	StartedAt  time.Time
	Duration   time.Duration
}

// WAV encodes the recording as a 16-bit mono WAV file
func (r *Recording) WAV() ([]byte, error) {
	return audio.EncodeWAV(r.Samples, r.SampleRate)
}

// Capturer buffers frames between Start and Stop. It is an audio.FrameHandler
// that stays subscribed to the source; frames outside a session are ignored.
type Capturer struct {
	sampleRate int
	maxSamples int
	now        func() time.Time

	mu        sync.Mutex
	active    bool
	chunks    [][]float32
	total     int
	startedAt time.Time
}

// Option configures a Capturer
type Option func(*Capturer)

// WithMaxDuration caps how much audio one session keeps
func WithMaxDuration(d time.Duration) Option {
	return func(c *Capturer) {
		if d > 0 {
			c.maxSamples = int(d.Seconds() * float64(c.sampleRate))
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Capturer) { c.now = now }
}

// New creates a Capturer for audio at sampleRate
func New(sampleRate int, opts ...Option) *Capturer {
	c := &Capturer{
		sampleRate: sampleRate,
		maxSamples: int(DefaultMaxDuration.Seconds() * float64(sampleRate)),
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins a session, discarding anything left from a previous one.
// It returns false when a session is already active.
func (c *Capturer) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return false
	}
	c.active = true
	c.chunks = nil
	c.total = 0
	c.startedAt = c.now()
	return true
}

// Stop ends the session and returns its audio. Stopping when no session is
// active returns (nil, nil). A session without audio returns ErrEmptyCapture.
func (c *Capturer) Stop() (*Recording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil, nil
	}
	c.active = false

	chunks, total := c.chunks, c.total
	c.chunks = nil
	c.total = 0

	if total == 0 {
		return nil, ErrEmptyCapture
	}

	samples := make([]float32, 0, total)
	for _, ch := range chunks {
		samples = append(samples, ch...)
	}
	return &Recording{
		Samples:    samples,
		SampleRate: c.sampleRate,
		StartedAt:  c.startedAt,
		Duration:   time.Duration(float64(total) / float64(c.sampleRate) * float64(time.Second)),
	}, nil
}

// Active reports whether a session is running
func (c *Capturer) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// HandleFrame appends samples to the active session.
func (c *Capturer) HandleFrame(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || len(samples) == 0 {
		return
	}
	room := c.maxSamples - c.total
	if room <= 0 {
		return
	}
	if len(samples) > room {
		samples = samples[:room]
	}
	c.chunks = append(c.chunks, append([]float32(nil), samples...))
	c.total += len(samples)
}
