package events

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"
)

// DeduplicationConfig holds configuration for event deduplication
type DeduplicationConfig struct {
	Enabled    bool
	TTL        time.Duration
	MaxEntries int
}

// DefaultDeduplicationConfig suppresses repeats of the same alert while it
// is still on screen.
func DefaultDeduplicationConfig() *DeduplicationConfig {
	return &DeduplicationConfig{
		Enabled:    true,
		TTL:        2 * time.Second,
		MaxEntries: 1000,
	}
}

// Deduplicator drops events whose key was seen within TTL
type Deduplicator struct {
	config *DeduplicationConfig
	now    func() time.Time

	mu    sync.Mutex
	cache map[uint64]time.Time

	totalSeen       atomic.Uint64
	totalSuppressed atomic.Uint64
}

// NewDeduplicator creates a deduplicator. Expired entries are pruned inline,
// so no cleanup goroutine is started.
func NewDeduplicator(config *DeduplicationConfig) *Deduplicator {
	if config == nil {
		config = DefaultDeduplicationConfig()
	}
	return &Deduplicator{
		config: config,
		now:    time.Now,
		cache:  make(map[uint64]time.Time),
	}
}

// ShouldProcess reports whether event is new within the TTL window
func (d *Deduplicator) ShouldProcess(event Event) bool {
	if d == nil || !d.config.Enabled {
		return true
	}
	d.totalSeen.Add(1)

	hash := hashKey(event.key())
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.cache[hash]; ok && now.Sub(last) < d.config.TTL {
		d.totalSuppressed.Add(1)
		return false
	}
	if len(d.cache) >= d.config.MaxEntries {
		d.pruneLocked(now)
	}
	d.cache[hash] = now
	return true
}

// Stats returns seen and suppressed counts
func (d *Deduplicator) Stats() (seen, suppressed uint64) {
	return d.totalSeen.Load(), d.totalSuppressed.Load()
}

// pruneLocked drops expired entries and, if still full, the oldest one
func (d *Deduplicator) pruneLocked(now time.Time) {
	var oldestHash uint64
	var oldest time.Time
	for h, seen := range d.cache {
		if now.Sub(seen) >= d.config.TTL {
			delete(d.cache, h)
			continue
		}
		if oldest.IsZero() || seen.Before(oldest) {
			oldest, oldestHash = seen, h
		}
	}
	if len(d.cache) >= d.config.MaxEntries && !oldest.IsZero() {
		delete(d.cache, oldestHash)
	}
}

func hashKey(key string) uint64 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8])
}
