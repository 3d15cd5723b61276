// Package events fans pipeline events out to slow consumers (MQTT, push
// services, metrics) without ever blocking the producer.
package events

import (
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/alert"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/detection"
)

// Kind identifies what happened
type Kind string

const (
	KindDetectionAdded   Kind = "detection_added"
	KindDetectionRemoved Kind = "detection_removed"
	KindAlertShown       Kind = "alert_shown"
	KindAlertHidden      Kind = "alert_hidden"
)

// Event is one pipeline occurrence. Exactly one of Detection or Alert is set,
// matching Kind.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Detection *detection.Event
	Alert     *alert.Alert
}

// DetectionAdded wraps a newly stored detection
func DetectionAdded(ev detection.Event) Event {
	return Event{Kind: KindDetectionAdded, Timestamp: time.Now(), Detection: &ev}
}

// DetectionRemoved wraps a removed or expired detection
func DetectionRemoved(ev detection.Event) Event {
	return Event{Kind: KindDetectionRemoved, Timestamp: time.Now(), Detection: &ev}
}

// AlertChanged wraps a presenter transition
func AlertChanged(a alert.Alert, visible bool) Event {
	kind := KindAlertHidden
	if visible {
		kind = KindAlertShown
	}
	return Event{Kind: kind, Timestamp: time.Now(), Alert: &a}
}

// key identifies an event for duplicate suppression
func (e Event) key() string {
	switch {
	case e.Detection != nil:
		return string(e.Kind) + "|" + e.Detection.ID
	case e.Alert != nil:
		return string(e.Kind) + "|" + string(e.Alert.Source) + "|" + e.Alert.Label + "|" + string(e.Alert.Direction)
	default:
		return string(e.Kind)
	}
}

// Consumer processes events on a bus worker goroutine
type Consumer interface {
	// Name identifies the consumer in logs
	Name() string

	// Accepts filters events before they are handed over
	Accepts(kind Kind) bool

	// ProcessEvent handles one event
	ProcessEvent(event Event) error
}

// Stats contains runtime statistics for monitoring
type Stats struct {
	EventsReceived   uint64
	EventsSuppressed uint64
	EventsProcessed  uint64
	EventsDropped    uint64
	ConsumerErrors   uint64
}
