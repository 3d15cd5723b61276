// Package detection keeps the set of geotagged detection events shown on the
// map. Events expire after a fixed TTL, near-identical events are merged and
// the whole set is persisted after every change.
package detection

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/classifier"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
)

// Type classifies a detection for rendering
type Type string

const (
	TypeCritical Type = "critical"
	TypeWarning  Type = "warning"
)

// Source names the detector
type Source string

const (
	SourceAudio  Source = "audio"
	SourceVision Source = "vision"
	SourceRemote Source = "remote"
)

// Event is one geotagged detection
type Event struct {
	ID          string       `json:"id"`
	Position    geo.Position `json:"position"`
	Type        Type         `json:"type"`
	Description string       `json:"description"`
	Score       float64      `json:"score,omitempty"`
	Source      Source       `json:"source,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Expired reports whether e is due for removal at now
func (e Event) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// sameAs is the dedup rule: same description, both coordinates within
// degrees and creation times within window.
func (e Event) sameAs(o Event, degrees float64, window time.Duration) bool {
	if e.Description != o.Description {
		return false
	}
	if !geo.Near(e.Position, o.Position, degrees) {
		return false
	}
	return math.Abs(float64(e.CreatedAt.Sub(o.CreatedAt))) <= float64(window)
}

// FromResult builds an event for an actionable result. ok is false for
// results that must not produce a marker. CreatedAt is left for the store to
// stamp; the backend's clock does not decide when a marker expires.
func FromResult(r *classifier.Result, pos geo.Position, src Source) (Event, bool) {
	if !r.Actionable() || !pos.Valid() {
		return Event{}, false
	}
	t := TypeWarning
	if r.IsCritical {
		t = TypeCritical
	}
	return Event{
		Position:    pos,
		Type:        t,
		Description: r.Label,
		Score:       r.Score,
		Source:      src,
	}, true
}

// newID combines the creation time with a random suffix
func newID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
