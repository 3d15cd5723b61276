package detection

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/classifier"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/clock"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/kvstore"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

const (
	DefaultTTL           = 60 * time.Second
	DefaultSweepInterval = time.Minute
	DefaultDedupDegrees  = 0.0001
	DefaultDedupWindow   = 5 * time.Second
)

// ErrNotFound is returned by Remove for unknown IDs
var ErrNotFound = errors.NewStd("detection not found")

// Config tunes expiry and dedup. Zero values take the defaults.
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
	DedupDegrees  float64
	DedupWindow   time.Duration
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.DedupDegrees <= 0 {
		c.DedupDegrees = DefaultDedupDegrees
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
}

// Listener is notified after an event has been stored
type Listener func(Event)

// Store holds the unexpired detection events and mirrors them into a
// kvstore.Store under kvstore.KeyDetections.
type Store struct {
	kv    kvstore.Store
	cfg   Config
	clock clock.Clock
	log   logger.Logger

	mu        sync.Mutex
	events    []Event
	listeners []Listener
	removed   []Listener
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces the wall clock
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the store logger
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates an empty store. Call Load to restore persisted events.
func New(kv kvstore.Store, cfg Config, opts ...Option) *Store {
	cfg.applyDefaults()
	s := &Store{
		kv:    kv,
		cfg:   cfg,
		clock: clock.Real{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("detection")
	}
	return s
}

// OnAdd registers fn to run after each successful Add
func (s *Store) OnAdd(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// OnRemove registers fn to run for every event that is removed or expires
func (s *Store) OnRemove(fn Listener) {
	s.mu.Lock()
	s.removed = append(s.removed, fn)
	s.mu.Unlock()
}

// Load restores the persisted set and sweeps it immediately
func (s *Store) Load(ctx context.Context) error {
	var stored []Event
	if _, err := kvstore.GetJSON(ctx, s.kv, kvstore.KeyDetections, &stored); err != nil {
		return errors.New(err).
			Component("detection").
			Category(errors.CategoryStorage).
			Context("operation", "load").
			Build()
	}

	s.mu.Lock()
	s.events = stored
	s.mu.Unlock()

	s.log.Debug("detections restored", logger.Int("count", len(stored)))
	_, err := s.SweepExpired(ctx)
	return err
}

// Add stores ev unless it duplicates an existing event. A missing ID,
// CreatedAt or ExpiresAt is filled in. added is false for duplicates and for
// events that are already expired; the returned Event is the stored one.
// When persisting fails the event is not kept and the error is returned.
func (s *Store) Add(ctx context.Context, ev Event) (Event, bool, error) {
	if !ev.Position.Valid() {
		return Event{}, false, errors.Newf("detection has no valid position").
			Component("detection").
			Category(errors.CategoryValidation).
			Build()
	}

	now := s.clock.Now()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	if ev.ExpiresAt.IsZero() {
		ev.ExpiresAt = ev.CreatedAt.Add(s.cfg.TTL)
	}
	if ev.ID == "" {
		ev.ID = newID(ev.CreatedAt)
	}
	if ev.Type == "" {
		ev.Type = TypeWarning
	}

	s.mu.Lock()
	if ev.Expired(now) {
		s.mu.Unlock()
		return ev, false, nil
	}
	for _, existing := range s.events {
		if existing.ID == ev.ID || existing.sameAs(ev, s.cfg.DedupDegrees, s.cfg.DedupWindow) {
			s.mu.Unlock()
			s.log.Debug("duplicate detection dropped",
				logger.String("description", ev.Description),
				logger.String("existing_id", existing.ID))
			return existing, false, nil
		}
	}
	s.events = append(s.events, ev)
	if err := s.persistLocked(ctx); err != nil {
		// keep memory in step with the persisted snapshot so a retry is not
		// rejected as a duplicate
		s.events = s.events[:len(s.events)-1]
		s.mu.Unlock()
		return ev, false, err
	}
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.log.Info("detection stored",
		logger.String("id", ev.ID),
		logger.String("type", string(ev.Type)),
		logger.String("description", ev.Description))
	for _, fn := range listeners {
		fn(ev)
	}
	return ev, true, nil
}

// AddResult stores an event for an actionable classification result.
// Non-actionable results and invalid positions are ignored.
func (s *Store) AddResult(ctx context.Context, r *classifier.Result, pos geo.Position, src Source) (Event, bool, error) {
	if r == nil {
		return Event{}, false, nil
	}
	ev, ok := FromResult(r, pos, src)
	if !ok {
		return Event{}, false, nil
	}
	return s.Add(ctx, ev)
}

// Remove deletes the event with the given id
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := slices.IndexFunc(s.events, func(e Event) bool { return e.ID == id })
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	ev := s.events[idx]
	s.events = slices.Delete(s.events, idx, idx+1)
	err := s.persistLocked(ctx)
	removed := slices.Clone(s.removed)
	s.mu.Unlock()

	for _, fn := range removed {
		fn(ev)
	}
	return err
}

// SweepExpired drops every event with ExpiresAt <= now and returns how many
// were removed. The set is persisted even when nothing expired.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()

	s.mu.Lock()
	var expired []Event
	kept := s.events[:0]
	for _, e := range s.events {
		if e.Expired(now) {
			expired = append(expired, e)
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	err := s.persistLocked(ctx)
	removed := slices.Clone(s.removed)
	s.mu.Unlock()

	if len(expired) > 0 {
		s.log.Debug("expired detections swept", logger.Int("count", len(expired)))
	}
	for _, e := range expired {
		for _, fn := range removed {
			fn(e)
		}
	}
	return len(expired), err
}

// List returns the unexpired events, oldest first
func (s *Store) List() []Event {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	return out
}

// Len is the number of held events, including any not yet swept
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Run sweeps on cfg.SweepInterval until ctx is cancelled
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.log.Warn("detection sweep failed", logger.Error(err))
			}
		}
	}
}

func (s *Store) persistLocked(ctx context.Context) error {
	if s.events == nil {
		s.events = []Event{}
	}
	if err := kvstore.SetJSON(ctx, s.kv, kvstore.KeyDetections, s.events); err != nil {
		return errors.New(err).
			Component("detection").
			Category(errors.CategoryStorage).
			Context("operation", "persist").
			Context("count", len(s.events)).
			Build()
	}
	return nil
}
