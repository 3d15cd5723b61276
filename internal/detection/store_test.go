package detection

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/classifier"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/clock"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/kvstore"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

var (
	t0     = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	madrid = geo.Position{Latitude: 40.4168, Longitude: -3.7038}
)

func newStore(t *testing.T) (*Store, *kvstore.MemoryStore, *clock.Fake) {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	clk := clock.NewFake(t0)
	return New(kv, Config{}, WithClock(clk), WithLogger(logger.NewDiscard())), kv, clk
}

func persisted(t *testing.T, kv *kvstore.MemoryStore) []Event {
	t.Helper()
	var out []Event
	found, err := kvstore.GetJSON(context.Background(), kv, kvstore.KeyDetections, &out)
	require.NoError(t, err)
	require.True(t, found, "detections key should be written")
	return out
}

func TestAddFillsDefaults(t *testing.T) {
	t.Parallel()
	s, kv, _ := newStore(t)

	ev, added, err := s.Add(context.Background(), Event{Position: madrid, Description: "siren"})
	require.NoError(t, err)
	require.True(t, added)

	assert.Equal(t, t0, ev.CreatedAt)
	assert.Equal(t, t0.Add(60*time.Second), ev.ExpiresAt)
	assert.Equal(t, TypeWarning, ev.Type)
	assert.True(t, strings.HasPrefix(ev.ID, "1777887000000-"), "id starts with creation millis: %s", ev.ID)

	stored := persisted(t, kv)
	require.Len(t, stored, 1)
	assert.Equal(t, ev.ID, stored[0].ID)
}

func TestAddRejectsInvalidPosition(t *testing.T) {
	t.Parallel()
	s, _, _ := newStore(t)

	_, added, err := s.Add(context.Background(), Event{Description: "siren"})
	require.Error(t, err)
	assert.False(t, added)
	assert.Zero(t, s.Len())
}

func TestAddDeduplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, kv, clk := newStore(t)

	first, added, err := s.Add(ctx, Event{Position: madrid, Description: "siren"})
	require.NoError(t, err)
	require.True(t, added)

	clk.Advance(3 * time.Second)
	near := geo.Position{Latitude: madrid.Latitude + 0.00005, Longitude: madrid.Longitude - 0.00005}
	got, added, err := s.Add(ctx, Event{Position: near, Description: "siren"})
	require.NoError(t, err)
	assert.False(t, added, "same description, nearby, within 5s")
	assert.Equal(t, first.ID, got.ID)

	_, added, err = s.Add(ctx, Event{Position: near, Description: "horn"})
	require.NoError(t, err)
	assert.True(t, added, "different description is a new event")

	far := geo.Position{Latitude: madrid.Latitude + 0.001, Longitude: madrid.Longitude}
	_, added, err = s.Add(ctx, Event{Position: far, Description: "siren"})
	require.NoError(t, err)
	assert.True(t, added, "different place is a new event")

	clk.Advance(3 * time.Second)
	_, added, err = s.Add(ctx, Event{Position: madrid, Description: "siren"})
	require.NoError(t, err)
	assert.True(t, added, "6s after the first is outside the window")

	assert.Len(t, persisted(t, kv), 4)
}

func TestAddSkipsExpired(t *testing.T) {
	t.Parallel()
	s, _, _ := newStore(t)

	_, added, err := s.Add(context.Background(), Event{
		Position:    madrid,
		Description: "siren",
		CreatedAt:   t0.Add(-2 * time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, s.List())
}

func TestSweepRemovesExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, kv, clk := newStore(t)

	var removed []string
	s.OnRemove(func(e Event) { removed = append(removed, e.Description) })

	_, _, err := s.Add(ctx, Event{Position: madrid, Description: "old"})
	require.NoError(t, err)
	clk.Advance(30 * time.Second)
	_, _, err = s.Add(ctx, Event{Position: madrid, Description: "new"})
	require.NoError(t, err)

	clk.Advance(30 * time.Second) // "old" has ExpiresAt == now
	assert.Len(t, s.List(), 1, "List hides expired events before the sweep")
	assert.Equal(t, 2, s.Len())

	n, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"old"}, removed)

	stored := persisted(t, kv)
	require.Len(t, stored, 1)
	assert.Equal(t, "new", stored[0].Description)
}

func TestLoadSweepsImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	require.NoError(t, kvstore.SetJSON(ctx, kv, kvstore.KeyDetections, []Event{
		{ID: "a", Position: madrid, Description: "stale", CreatedAt: t0.Add(-2 * time.Minute), ExpiresAt: t0.Add(-time.Minute)},
		{ID: "b", Position: madrid, Description: "fresh", CreatedAt: t0.Add(-10 * time.Second), ExpiresAt: t0.Add(50 * time.Second)},
	}))

	s := New(kv, Config{}, WithClock(clock.NewFake(t0)), WithLogger(logger.NewDiscard()))
	require.NoError(t, s.Load(ctx))

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)
	assert.Len(t, persisted(t, kv), 1)
}

// flakyKV fails Set while failing is true
type flakyKV struct {
	*kvstore.MemoryStore
	failing bool
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failing {
		return errors.NewStd("disk full")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func TestAddRollsBackWhenPersistFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := &flakyKV{MemoryStore: kvstore.NewMemoryStore(), failing: true}
	s := New(kv, Config{}, WithClock(clock.NewFake(t0)), WithLogger(logger.NewDiscard()))

	var notified int
	s.OnAdd(func(Event) { notified++ })

	_, added, err := s.Add(ctx, Event{Position: madrid, Description: "siren"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryStorage))
	assert.False(t, added)
	assert.Zero(t, s.Len())
	assert.Zero(t, notified)

	kv.failing = false
	ev, added, err := s.Add(ctx, Event{Position: madrid, Description: "siren"})
	require.NoError(t, err)
	require.True(t, added, "retry is not treated as a duplicate")
	assert.Equal(t, 1, notified)
	stored := persisted(t, kv.MemoryStore)
	require.Len(t, stored, 1)
	assert.Equal(t, ev.ID, stored[0].ID)
}

func TestAddResultUsesStoreClock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name string
		ts   time.Time
	}{
		{name: "epoch seconds read as millis", ts: time.UnixMilli(1791979200)},
		{name: "backend two minutes behind", ts: t0.Add(-2 * time.Minute)},
		{name: "backend ahead", ts: t0.Add(10 * time.Minute)},
		{name: "no timestamp", ts: time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _, _ := newStore(t)

			ev, added, err := s.AddResult(ctx, &classifier.Result{Label: "siren", IsCritical: true, Timestamp: tt.ts}, madrid, SourceAudio)
			require.NoError(t, err)
			require.True(t, added)
			assert.Equal(t, t0, ev.CreatedAt)
			assert.Equal(t, t0.Add(DefaultTTL), ev.ExpiresAt)
			require.Len(t, s.List(), 1)
		})
	}
}

func TestReloadRestoresUnexpiredSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	clk := clock.NewFake(t0)
	a := New(kv, Config{}, WithClock(clk), WithLogger(logger.NewDiscard()))

	old, added, err := a.Add(ctx, Event{Position: madrid, Type: TypeCritical, Description: "siren"})
	require.NoError(t, err)
	require.True(t, added)

	clk.Advance(30 * time.Second)
	fresh, added, err := a.Add(ctx, Event{Position: madrid, Description: "horn", Score: 0.7, Source: SourceVision})
	require.NoError(t, err)
	require.True(t, added)

	// past the first event's expiry, before the second's
	clk.Advance(40 * time.Second)

	b := New(kv, Config{}, WithClock(clk), WithLogger(logger.NewDiscard()))
	require.NoError(t, b.Load(ctx))

	list := b.List()
	require.Len(t, list, 1)
	assert.Equal(t, fresh.ID, list[0].ID)
	assert.Equal(t, fresh.Description, list[0].Description)
	assert.Equal(t, fresh.Type, list[0].Type)
	assert.Equal(t, fresh.Source, list[0].Source)
	assert.InDelta(t, fresh.Score, list[0].Score, 1e-9)
	assert.True(t, fresh.CreatedAt.Equal(list[0].CreatedAt))
	assert.True(t, fresh.ExpiresAt.Equal(list[0].ExpiresAt))
	assert.InDelta(t, madrid.Latitude, list[0].Position.Latitude, 1e-9)

	stored := persisted(t, kv)
	require.Len(t, stored, 1, "reload persists the swept set")
	assert.NotEqual(t, old.ID, stored[0].ID)
}

func TestLoadEmptyStore(t *testing.T) {
	t.Parallel()
	s, kv, _ := newStore(t)
	require.NoError(t, s.Load(context.Background()))
	assert.Empty(t, s.List())

	raw, found, err := kv.Get(context.Background(), kvstore.KeyDetections)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, kv, _ := newStore(t)

	ev, _, err := s.Add(ctx, Event{Position: madrid, Description: "siren"})
	require.NoError(t, err)

	require.ErrorIs(t, s.Remove(ctx, "missing"), ErrNotFound)
	require.NoError(t, s.Remove(ctx, ev.ID))
	assert.Empty(t, s.List())
	assert.Empty(t, persisted(t, kv))
}

func TestAddResult(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _, _ := newStore(t)

	var notified []Event
	s.OnAdd(func(e Event) { notified = append(notified, e) })

	_, added, err := s.AddResult(ctx, &classifier.Result{Label: ""}, madrid, SourceAudio)
	require.NoError(t, err)
	assert.False(t, added, "null label produces no event")

	_, added, err = s.AddResult(ctx, &classifier.Result{Label: "siren", IsCritical: true, Timestamp: t0}, geo.Position{}, SourceAudio)
	require.NoError(t, err)
	assert.False(t, added, "no position produces no event")

	ev, added, err := s.AddResult(ctx, &classifier.Result{Label: "siren", Score: 0.9, IsCritical: true, Timestamp: t0}, madrid, SourceAudio)
	require.NoError(t, err)
	require.True(t, added)
	assert.Equal(t, TypeCritical, ev.Type)
	assert.Equal(t, SourceAudio, ev.Source)
	assert.InDelta(t, 0.9, ev.Score, 1e-9)

	ev, added, err = s.AddResult(ctx, &classifier.Result{Label: "horn", Timestamp: t0}, madrid, SourceVision)
	require.NoError(t, err)
	require.True(t, added)
	assert.Equal(t, TypeWarning, ev.Type)

	require.Len(t, notified, 2)
	assert.Equal(t, "siren", notified[0].Description)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(kvstore.NewMemoryStore(), Config{SweepInterval: time.Millisecond}, WithLogger(logger.NewDiscard()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEventJSONShape(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(Event{ID: "x", Position: madrid, Type: TypeCritical, Description: "siren", CreatedAt: t0, ExpiresAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"critical"`)
	assert.Contains(t, string(data), `"latitude":40.4168`)
}
