package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/alert"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/detection"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

type recordingConsumer struct {
	name  string
	kinds []Kind
	err   error
	panic bool

	mu     sync.Mutex
	events []Event
}

func (c *recordingConsumer) Name() string { return c.name }

func (c *recordingConsumer) Accepts(kind Kind) bool {
	if len(c.kinds) == 0 {
		return true
	}
	for _, k := range c.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (c *recordingConsumer) ProcessEvent(e Event) error {
	if c.panic {
		panic("boom")
	}
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return c.err
}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newBus(t *testing.T, cfg *Config) *Bus {
	t.Helper()
	b := New(cfg, logger.NewDiscard())
	t.Cleanup(func() { _ = b.Shutdown(time.Second) })
	return b
}

func TestPublishWithoutConsumersIsDropped(t *testing.T) {
	t.Parallel()
	b := newBus(t, nil)
	assert.False(t, b.TryPublish(DetectionAdded(detection.Event{ID: "1"})))
}

func TestDeliveryAndFiltering(t *testing.T) {
	t.Parallel()
	b := newBus(t, nil)

	all := &recordingConsumer{name: "all"}
	onlyDetections := &recordingConsumer{name: "detections", kinds: []Kind{KindDetectionAdded}}
	require.NoError(t, b.RegisterConsumer(all))
	require.NoError(t, b.RegisterConsumer(onlyDetections))

	assert.True(t, b.TryPublish(DetectionAdded(detection.Event{ID: "1"})))
	assert.True(t, b.TryPublish(AlertChanged(alert.Alert{Label: "siren"}, true)))

	require.Eventually(t, func() bool { return all.count() == 2 && onlyDetections.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, KindDetectionAdded, onlyDetections.events[0].Kind)
}

func TestDuplicateConsumerName(t *testing.T) {
	t.Parallel()
	b := newBus(t, nil)
	require.NoError(t, b.RegisterConsumer(&recordingConsumer{name: "x"}))
	require.Error(t, b.RegisterConsumer(&recordingConsumer{name: "x"}))
}

func TestRepeatedAlertSuppressed(t *testing.T) {
	t.Parallel()
	b := newBus(t, nil)
	c := &recordingConsumer{name: "c"}
	require.NoError(t, b.RegisterConsumer(c))

	a := alert.Alert{Label: "siren", Direction: alert.DirectionLeft, Source: alert.SourceAudio}
	assert.True(t, b.TryPublish(AlertChanged(a, true)))
	assert.False(t, b.TryPublish(AlertChanged(a, true)))
	assert.True(t, b.TryPublish(AlertChanged(a, false)), "hide is a different event")

	require.Eventually(t, func() bool { return c.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), b.GetStats().EventsSuppressed)
}

func TestConsumerFailuresAreCounted(t *testing.T) {
	t.Parallel()
	b := newBus(t, &Config{BufferSize: 8, Workers: 1})
	require.NoError(t, b.RegisterConsumer(&recordingConsumer{name: "err", err: errors.NewStd("nope")}))
	require.NoError(t, b.RegisterConsumer(&recordingConsumer{name: "panic", panic: true}))
	ok := &recordingConsumer{name: "ok"}
	require.NoError(t, b.RegisterConsumer(ok))

	require.True(t, b.TryPublish(DetectionAdded(detection.Event{ID: "1"})))
	require.Eventually(t, func() bool { return b.GetStats().EventsProcessed == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, uint64(2), b.GetStats().ConsumerErrors)
	assert.Equal(t, 1, ok.count())
}

func TestShutdownDrainsAndRejects(t *testing.T) {
	t.Parallel()
	b := New(&Config{BufferSize: 16, Workers: 1}, logger.NewDiscard())
	c := &recordingConsumer{name: "c"}
	require.NoError(t, b.RegisterConsumer(c))

	for i := range 5 {
		b.TryPublish(DetectionAdded(detection.Event{ID: string(rune('a' + i))}))
	}
	require.NoError(t, b.Shutdown(time.Second))
	assert.Equal(t, 5, c.count())

	assert.False(t, b.TryPublish(DetectionAdded(detection.Event{ID: "late"})))
	require.Error(t, b.RegisterConsumer(&recordingConsumer{name: "late"}))
}

func TestDeduplicatorWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	d := NewDeduplicator(&DeduplicationConfig{Enabled: true, TTL: 2 * time.Second, MaxEntries: 2})
	d.now = func() time.Time { return now }

	e := AlertChanged(alert.Alert{Label: "horn"}, true)
	assert.True(t, d.ShouldProcess(e))
	assert.False(t, d.ShouldProcess(e))

	now = now.Add(2 * time.Second)
	assert.True(t, d.ShouldProcess(e), "window elapsed")

	assert.True(t, d.ShouldProcess(AlertChanged(alert.Alert{Label: "a"}, true)))
	assert.True(t, d.ShouldProcess(AlertChanged(alert.Alert{Label: "b"}, true)))
	d.mu.Lock()
	assert.LessOrEqual(t, len(d.cache), 2, "cache stays bounded")
	d.mu.Unlock()

	seen, suppressed := d.Stats()
	assert.Equal(t, uint64(5), seen)
	assert.Equal(t, uint64(1), suppressed)
}

func TestDisabledDeduplicator(t *testing.T) {
	t.Parallel()
	d := NewDeduplicator(&DeduplicationConfig{Enabled: false})
	e := DetectionAdded(detection.Event{ID: "1"})
	assert.True(t, d.ShouldProcess(e))
	assert.True(t, d.ShouldProcess(e))
}
