package alert

import (
	"sync"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/clock"
)

// Notification is one server pushed message shown in the list
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Level     string    `json:"level"` // critical, warning or info
	Label     string    `json:"label,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type listEntry struct {
	n     Notification
	timer clock.Timer
}

// NotificationList shows one entry per notification and expires each on its
// own timer.
type NotificationList struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	entries []*listEntry
	closed  bool
}

// NewNotificationList creates an empty list
func NewNotificationList(ttl time.Duration, c clock.Clock) *NotificationList {
	if ttl <= 0 {
		ttl = DefaultDisplayDuration
	}
	if c == nil {
		c = clock.Real{}
	}
	return &NotificationList{ttl: ttl, clock: c}
}

// Push adds n unless an entry with the same ID is already shown. The entry
// disappears after the list TTL.
func (l *NotificationList) Push(n Notification) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	for _, e := range l.entries {
		if e.n.ID == n.ID {
			return false
		}
	}

	now := l.clock.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.ExpiresAt = now.Add(l.ttl)
	if n.Direction == "" && n.Label != "" {
		n.Direction = DirectionFromLabel(n.Label, DirectionFront)
	}

	e := &listEntry{n: n}
	id := n.ID
	e.timer = l.clock.AfterFunc(l.ttl, func() { l.expire(id, e) })
	l.entries = append(l.entries, e)
	return true
}

// Remove dismisses one entry and cancels its timer
func (l *NotificationList) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.n.ID == id {
			e.timer.Stop()
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Items returns the visible entries, oldest first
func (l *NotificationList) Items() []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Notification, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.n)
	}
	return out
}

// Len returns the number of visible entries
func (l *NotificationList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close clears the list and cancels every timer
func (l *NotificationList) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for _, e := range l.entries {
		e.timer.Stop()
	}
	l.entries = nil
}

// expire removes entry e; an entry re-pushed under the same ID is a
// different *listEntry and stays.
func (l *NotificationList) expire(id string, e *listEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, cur := range l.entries {
		if cur == e && cur.n.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}
