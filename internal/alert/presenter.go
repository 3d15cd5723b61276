// Package alert turns classification results into what the driver sees: a
// single auto-hiding alert for the latest detection and a list of server
// notifications that expire one by one.
package alert

import (
	"sync"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/classifier"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/clock"
)

// DefaultDisplayDuration is how long an alert stays visible
const DefaultDisplayDuration = 5 * time.Second

// Source tells which detector produced an alert
type Source string

const (
	SourceAudio  Source = "audio"
	SourceVision Source = "vision"
)

// Alert is the visible alert
type Alert struct {
	Label      string    `json:"label"`
	Direction  Direction `json:"direction"`
	Score      float64   `json:"score"`
	IsCritical bool      `json:"is_critical"`
	Source     Source    `json:"source"`
	ShownAt    time.Time `json:"shown_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Presenter is the Hidden/Visible state machine for the latest detection.
// A new actionable result replaces the visible one and restarts the
// auto-hide timer; dismissal always leaves no timer behind.
type Presenter struct {
	ttl        time.Duration
	defaultDir Direction
	clock      clock.Clock

	mu        sync.Mutex
	current   *Alert
	timer     clock.Timer
	gen       uint64
	closed    bool
	listeners []func(a Alert, visible bool)
}

// PresenterOption customises a Presenter
type PresenterOption func(*Presenter)

// WithClock replaces the wall clock
func WithClock(c clock.Clock) PresenterOption {
	return func(p *Presenter) { p.clock = c }
}

// NewPresenter creates a hidden presenter
func NewPresenter(ttl time.Duration, defaultDir Direction, opts ...PresenterOption) *Presenter {
	if ttl <= 0 {
		ttl = DefaultDisplayDuration
	}
	if defaultDir == "" {
		defaultDir = DirectionFront
	}
	p := &Presenter{ttl: ttl, defaultDir: defaultDir, clock: clock.Real{}}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnChange registers fn, called after every show and hide outside the lock.
func (p *Presenter) OnChange(fn func(a Alert, visible bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Show displays r if it is actionable and reports whether it did.
func (p *Presenter) Show(r *classifier.Result, src Source) bool {
	if !r.Actionable() {
		return false
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	now := p.clock.Now()
	a := Alert{
		Label:      r.Label,
		Direction:  DirectionFromLabel(r.Label, p.defaultDir),
		Score:      r.Score,
		IsCritical: r.IsCritical,
		Source:     src,
		ShownAt:    now,
		ExpiresAt:  now.Add(p.ttl),
	}
	p.stopTimerLocked()
	p.current = &a
	p.gen++
	gen := p.gen
	p.timer = p.clock.AfterFunc(p.ttl, func() { p.expire(gen) })
	listeners := p.listeners
	p.mu.Unlock()

	notify(listeners, a, true)
	return true
}

// Current returns the visible alert
func (p *Presenter) Current() (Alert, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Alert{}, false
	}
	return *p.current, true
}

// Visible reports whether an alert is shown
func (p *Presenter) Visible() bool {
	_, ok := p.Current()
	return ok
}

// Dismiss hides the alert and cancels its timer. Hiding a hidden presenter
// is a no-op.
func (p *Presenter) Dismiss() {
	p.hide(0, false)
}

// Close dismisses and refuses further alerts.
func (p *Presenter) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Dismiss()
}

// expire runs on the timer; a timer belonging to an older alert is ignored.
func (p *Presenter) expire(gen uint64) {
	p.hide(gen, true)
}

func (p *Presenter) hide(gen uint64, fromTimer bool) {
	p.mu.Lock()
	if p.current == nil || (fromTimer && gen != p.gen) {
		p.mu.Unlock()
		return
	}
	a := *p.current
	p.current = nil
	p.gen++
	if !fromTimer {
		p.stopTimerLocked()
	}
	p.timer = nil
	listeners := p.listeners
	p.mu.Unlock()

	notify(listeners, a, false)
}

func (p *Presenter) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func notify(listeners []func(Alert, bool), a Alert, visible bool) {
	for _, fn := range listeners {
		fn(a, visible)
	}
}
