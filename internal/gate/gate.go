// Package gate implements the threshold gate: it polls the microphone
// loudness, starts a fixed-length capture when the level crosses the
// threshold, hands the finished clip to the classifier and returns to the
// armed state whatever the outcome.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/capture"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/classifier"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/clock"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

// Defaults
const (
	DefaultThreshold       = 40.0
	DefaultCaptureDuration = 3 * time.Second
	DefaultPollInterval    = 100 * time.Millisecond
	MaxManualDuration      = capture.DefaultMaxDuration
)

var (
	// ErrNotRunning is returned by manual controls before Start or after a
	// device failure.
	ErrNotRunning = errors.NewStd("gate is not running")
	// ErrBusy is returned when a capture or classification is in flight.
	ErrBusy = errors.NewStd("capture or classification in flight")
)

// VolumeSource exposes the current loudness on a 0..255 scale
type VolumeSource interface {
	Volume() float64
}

// Recorder is the capture session owner
type Recorder interface {
	Start() bool
	Stop() (*capture.Recording, error)
}

// Locator returns the latest accepted position
type Locator interface {
	Current() (geo.Position, error)
}

// Device is the microphone lifecycle
type Device interface {
	Start(ctx context.Context) error
	Stop() error
}

// Outcome describes one finished cycle. Result is nil when the clip was
// dropped or classification failed; Err says why.
type Outcome struct {
	Trigger   Trigger
	Recording *capture.Recording
	Position  geo.Position
	Result    *classifier.Result
	Err       error
	Started   time.Time
	Finished  time.Time
}

// Config configures a Gate
type Config struct {
	Threshold       float64
	CaptureDuration time.Duration
	PollInterval    time.Duration
	AutoMode        bool
}

// Status is a point in time view of the gate
type Status struct {
	State       string  `json:"state"`
	AutoMode    bool    `json:"auto_mode"`
	Volume      float64 `json:"volume"`
	Threshold   float64 `json:"threshold"`
	DeviceError string  `json:"device_error,omitempty"`
	Trigger     Trigger `json:"trigger,omitempty"`
	Cycles      uint64  `json:"cycles"`
}

// Gate owns the capture cycle. All transitions happen under mu; the capture
// timer and classification run on their own goroutines and always end by
// re-arming.
type Gate struct {
	cfg        Config
	volume     VolumeSource
	recorder   Recorder
	locator    Locator
	classifier classifier.Classifier
	device     Device
	clock      clock.Clock
	log        logger.Logger

	mu           sync.Mutex
	state        State
	running      bool
	autoMode     bool
	trigger      Trigger
	captureStart time.Time
	captureTimer clock.Timer
	deviceErr    error
	cycles       uint64
	runCtx       context.Context
	cancelRun    context.CancelFunc
	pollCancel   context.CancelFunc
	pollDone     chan struct{}
	onOutcome    []func(Outcome)
	onState      []func(from, to State)

	wg sync.WaitGroup
}

// Option customises a Gate
type Option func(*Gate)

// WithClock replaces the wall clock
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithDevice lets the gate start and stop the microphone
func WithDevice(d Device) Option {
	return func(g *Gate) { g.device = d }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// New creates a stopped gate.
func New(cfg Config, vol VolumeSource, rec Recorder, loc Locator, cls classifier.Classifier, opts ...Option) *Gate {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.CaptureDuration <= 0 {
		cfg.CaptureDuration = DefaultCaptureDuration
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	g := &Gate{
		cfg:        cfg,
		volume:     vol,
		recorder:   rec,
		locator:    loc,
		classifier: cls,
		clock:      clock.Real{},
		autoMode:   cfg.AutoMode,
	}
	for _, o := range opts {
		o(g)
	}
	if g.log == nil {
		g.log = logger.Global().Module("gate")
	}
	return g
}

// OnOutcome registers fn for every finished cycle. Callbacks run on the
// classification goroutine before the gate re-arms.
func (g *Gate) OnOutcome(fn func(Outcome)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onOutcome = append(g.onOutcome, fn)
}

// OnStateChange registers fn for every state transition. fn must not call
// back into the gate.
func (g *Gate) OnStateChange(fn func(from, to State)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onState = append(g.onState, fn)
}

// Start opens the device, if any, and arms the gate. A device failure leaves
// the gate Idle and is returned so the caller can surface it; the rest of the
// application keeps running.
func (g *Gate) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	if g.device != nil {
		if err := g.device.Start(ctx); err != nil {
			g.mu.Lock()
			g.deviceErr = err
			g.mu.Unlock()
			g.log.Error("microphone unavailable, gate stays idle", logger.Error(err))
			return err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.deviceErr = nil
	g.running = true
	g.runCtx, g.cancelRun = context.WithCancel(ctx)
	g.setStateLocked(StateArmed)
	g.startPollingLocked()
	g.log.Info("gate armed",
		logger.Float64("threshold", g.cfg.Threshold),
		logger.Duration("capture_duration", g.cfg.CaptureDuration),
		logger.Bool("auto_mode", g.autoMode))
	return nil
}

// Stop cancels polling, any pending capture timer and any in-flight
// classification, releases the device and returns the gate to Idle.
func (g *Gate) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	if g.captureTimer != nil && g.captureTimer.Stop() {
		g.wg.Done()
	}
	g.captureTimer = nil
	if g.state == StateCapturing {
		_, _ = g.recorder.Stop()
	}
	g.cancelRun()
	cancel, done := g.takePollerLocked()
	g.setStateLocked(StateIdle)
	g.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	g.wg.Wait()

	if g.device != nil {
		return g.device.Stop()
	}
	return nil
}

// State returns the current state
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Status returns a snapshot for display
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Status{
		State:     g.state.String(),
		AutoMode:  g.autoMode,
		Threshold: g.cfg.Threshold,
		Cycles:    g.cycles,
	}
	if g.volume != nil {
		s.Volume = g.volume.Volume()
	}
	if g.deviceErr != nil {
		s.DeviceError = g.deviceErr.Error()
	}
	if g.state == StateCapturing || g.state == StateClassifying {
		s.Trigger = g.trigger
	}
	return s
}

// AutoMode reports whether threshold triggering is enabled
func (g *Gate) AutoMode() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.autoMode
}

// SetAutoMode enables or disables threshold triggering. Disabling stops the
// polling loop but leaves an in-flight capture alone.
func (g *Gate) SetAutoMode(enabled bool) {
	g.mu.Lock()
	if g.autoMode == enabled {
		g.mu.Unlock()
		return
	}
	g.autoMode = enabled
	g.log.Info("auto mode changed", logger.Bool("enabled", enabled))
	if enabled {
		g.startPollingLocked()
		g.mu.Unlock()
		return
	}
	cancel, done := g.takePollerLocked()
	g.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Poll runs one threshold check and reports whether it started a capture.
// The polling loop calls it every PollInterval.
func (g *Gate) Poll() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.autoMode || g.state != StateArmed || g.volume == nil {
		return false
	}
	v := g.volume.Volume()
	if v <= g.cfg.Threshold {
		return false
	}
	if !g.beginCaptureLocked(TriggerThreshold, g.cfg.CaptureDuration) {
		return false
	}
	g.log.Debug("threshold crossed", logger.Float64("volume", v))
	return true
}

// StartRecording forces a manual capture. It obeys the same exclusion as
// threshold triggering. A manual session ends with StopRecording or after
// MaxManualDuration.
func (g *Gate) StartRecording() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return ErrNotRunning
	}
	if g.state != StateArmed {
		return ErrBusy
	}
	if !g.beginCaptureLocked(TriggerManual, MaxManualDuration) {
		return ErrBusy
	}
	return nil
}

// StopRecording ends the current capture early; the clip is still finalised
// and classified. Stopping when nothing is recording is a no-op.
func (g *Gate) StopRecording() {
	g.mu.Lock()
	if g.state != StateCapturing || g.captureTimer == nil {
		g.mu.Unlock()
		return
	}
	if !g.captureTimer.Stop() {
		// the timer already fired and owns the finish
		g.mu.Unlock()
		return
	}
	g.captureTimer = nil
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		g.finishCapture()
	}()
}

// beginCaptureLocked moves Armed to Capturing and schedules the finish.
func (g *Gate) beginCaptureLocked(trigger Trigger, d time.Duration) bool {
	if !g.recorder.Start() {
		return false
	}
	g.trigger = trigger
	g.captureStart = g.clock.Now()
	g.setStateLocked(StateCapturing)

	g.wg.Add(1)
	g.captureTimer = g.clock.AfterFunc(d, func() {
		defer g.wg.Done()
		g.mu.Lock()
		g.captureTimer = nil
		g.mu.Unlock()
		g.finishCapture()
	})
	g.log.Info("capture started", logger.String("trigger", string(trigger)))
	return true
}

// finishCapture finalises the clip and classifies it. It always ends with
// the gate re-armed, or Idle when the gate was stopped meanwhile.
func (g *Gate) finishCapture() {
	g.mu.Lock()
	if g.state != StateCapturing || !g.running {
		g.mu.Unlock()
		return
	}
	g.setStateLocked(StateClassifying)
	ctx := g.runCtx
	out := Outcome{Trigger: g.trigger, Started: g.captureStart}
	g.mu.Unlock()

	defer g.rearm()

	rec, err := g.recorder.Stop()
	out.Recording = rec
	switch {
	case errors.Is(err, capture.ErrEmptyCapture):
		g.log.Debug("empty capture, nothing to classify")
		out.Err = err
		g.emit(out)
		return
	case err != nil:
		g.log.Warn("capture failed", logger.Error(err))
		out.Err = err
		g.emit(out)
		return
	case rec == nil:
		return
	}

	pos, err := g.locator.Current()
	if err != nil {
		g.log.Warn("no location fix, capture discarded", logger.Error(err))
		out.Err = err
		g.emit(out)
		return
	}
	out.Position = pos

	result, err := g.classifier.Classify(ctx, rec, pos)
	if err != nil {
		g.log.Warn("classification failed, capture dropped", logger.Error(err))
		out.Err = err
		g.emit(out)
		return
	}
	out.Result = result
	g.log.Info("capture classified",
		logger.String("label", result.Label),
		logger.Float64("score", result.Score),
		logger.Bool("actionable", result.Actionable()))
	g.emit(out)
}

func (g *Gate) emit(out Outcome) {
	out.Finished = g.clock.Now()
	g.mu.Lock()
	handlers := append(([]func(Outcome))(nil), g.onOutcome...)
	g.mu.Unlock()
	for _, h := range handlers {
		h(out)
	}
}

func (g *Gate) rearm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cycles++
	if g.running && g.state == StateClassifying {
		g.setStateLocked(StateArmed)
	}
}

func (g *Gate) setStateLocked(to State) {
	from := g.state
	if from == to {
		return
	}
	g.state = to
	for _, fn := range g.onState {
		fn(from, to)
	}
}

func (g *Gate) startPollingLocked() {
	if !g.running || !g.autoMode || g.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(g.runCtx)
	done := make(chan struct{})
	g.pollCancel = cancel
	g.pollDone = done
	go g.pollLoop(ctx, done)
}

func (g *Gate) takePollerLocked() (context.CancelFunc, chan struct{}) {
	cancel, done := g.pollCancel, g.pollDone
	g.pollCancel, g.pollDone = nil, nil
	return cancel, done
}

func (g *Gate) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Poll()
		}
	}
}
