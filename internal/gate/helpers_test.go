package gate

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/capture"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/classifier"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/clock"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

type fakeVolume struct{ bits atomic.Uint64 }

func (v *fakeVolume) Set(x float64)    { v.bits.Store(math.Float64bits(x)) }
func (v *fakeVolume) Volume() float64 { return math.Float64frombits(v.bits.Load()) }

type fakeClassifier struct {
	mu     sync.Mutex
	calls  int
	result *classifier.Result
	err    error
	block  chan struct{}
}

func (f *fakeClassifier) Classify(ctx context.Context, _ *capture.Recording, _ geo.Position) (*classifier.Result, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeClassifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLocator struct {
	pos geo.Position
	err error
}

func (l fakeLocator) Current() (geo.Position, error) { return l.pos, l.err }

type fakeDevice struct {
	startErr error
	stops    atomic.Int32
}

func (d *fakeDevice) Start(context.Context) error { return d.startErr }
func (d *fakeDevice) Stop() error                 { d.stops.Add(1); return nil }

type fixture struct {
	gate     *Gate
	clock    *clock.Fake
	volume   *fakeVolume
	capturer *capture.Capturer
	cls      *fakeClassifier
	outcomes chan Outcome
}

func newFixture(t *testing.T, loc Locator, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:    clock.NewFake(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)),
		volume:   &fakeVolume{},
		capturer: capture.New(16000),
		cls:      &fakeClassifier{result: &classifier.Result{Label: "ambulance_siren_right", Score: 0.9}},
		outcomes: make(chan Outcome, 16),
	}
	if loc == nil {
		loc = fakeLocator{pos: geo.Position{Latitude: 41.38, Longitude: 2.17}}
	}
	opts = append([]Option{WithClock(f.clock), WithLogger(logger.NewDiscard())}, opts...)
	f.gate = New(Config{
		Threshold:       40,
		CaptureDuration: 3 * time.Second,
		PollInterval:    time.Hour, // tests drive Poll directly unless overridden
		AutoMode:        true,
	}, f.volume, f.capturer, loc, f.cls, opts...)
	f.gate.OnOutcome(func(o Outcome) { f.outcomes <- o })
	t.Cleanup(func() { _ = f.gate.Stop() })
	return f
}

func (f *fixture) outcome(t *testing.T) Outcome {
	t.Helper()
	select {
	case o := <-f.outcomes:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome")
		return Outcome{}
	}
}
