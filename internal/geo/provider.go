package geo

import (
	"context"
	"sync"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/kvstore"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

// DefaultMinDistance is the jitter filter: smaller moves are ignored.
const DefaultMinDistance = 10.0

// ErrNoFix is returned when no valid position has been accepted yet.
var ErrNoFix = errors.NewStd("no valid location fix")

// Provider tracks the last accepted position and persists it under
// lastKnownLocation.
type Provider struct {
	mu          sync.RWMutex
	current     Position
	hasFix      bool
	minDistance float64
	store       kvstore.Store
	log         logger.Logger
	listeners   []func(Position)
}

// NewProvider creates a Provider. store may be nil to disable persistence.
func NewProvider(store kvstore.Store, minDistanceMeters float64, log logger.Logger) *Provider {
	if log == nil {
		log = logger.Global().Module("geo")
	}
	if minDistanceMeters < 0 {
		minDistanceMeters = DefaultMinDistance
	}
	return &Provider{
		minDistance: minDistanceMeters,
		store:       store,
		log:         log,
	}
}

// Restore loads the last known location, if any. An invalid stored value is
// ignored.
func (p *Provider) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	var pos Position
	found, err := kvstore.GetJSON(ctx, p.store, kvstore.KeyLastKnownLocation, &pos)
	if err != nil {
		return errors.New(err).
			Component("geo").
			Category(errors.CategoryLocation).
			Context("operation", "restore_last_known_location").
			Build()
	}
	if !found || !pos.Valid() {
		return nil
	}

	p.mu.Lock()
	p.current = pos
	p.hasFix = true
	p.mu.Unlock()

	p.log.Info("restored last known location", logger.Float64("accuracy", pos.Accuracy))
	return nil
}

// Update offers a new fix. Invalid fixes are rejected. The first valid fix is
// always accepted; later ones only when they moved more than the minimum
// distance. Accepted fixes are persisted and broadcast to listeners.
func (p *Provider) Update(ctx context.Context, pos Position) (bool, error) {
	if !pos.Valid() {
		return false, nil
	}

	p.mu.Lock()
	if p.hasFix && Distance(p.current, pos) <= p.minDistance {
		p.mu.Unlock()
		return false, nil
	}
	p.current = pos
	p.hasFix = true
	listeners := append(([]func(Position))(nil), p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(pos)
	}

	if p.store == nil {
		return true, nil
	}
	if err := kvstore.SetJSON(ctx, p.store, kvstore.KeyLastKnownLocation, pos); err != nil {
		return true, errors.New(err).
			Component("geo").
			Category(errors.CategoryStorage).
			Context("operation", "persist_last_known_location").
			Build()
	}
	return true, nil
}

// Current returns the last accepted fix.
func (p *Provider) Current() (Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.hasFix {
		return Position{}, ErrNoFix
	}
	return p.current, nil
}

// OnChange registers fn to be called with every accepted fix.
func (p *Provider) OnChange(fn func(Position)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}
