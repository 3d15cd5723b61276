package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/kvstore"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

func TestPositionValid(t *testing.T) {
	t.Parallel()

	lat := 40.4168
	tests := []struct {
		name string
		pos  Position
		want bool
	}{
		{"madrid", Position{Latitude: 40.4168, Longitude: -3.7038}, true},
		{"null island", Position{}, false},
		{"only latitude zero", Position{Latitude: 0, Longitude: 12.5}, true},
		{"missing longitude", FromOptional(&lat, nil), false},
		{"missing both", FromOptional(nil, nil), false},
		{"out of range", Position{Latitude: 91, Longitude: 0.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.pos.Valid())
		})
	}
}

func TestDistance(t *testing.T) {
	t.Parallel()

	madrid := Position{Latitude: 40.4168, Longitude: -3.7038}
	barcelona := Position{Latitude: 41.3874, Longitude: 2.1686}
	assert.InDelta(t, 505000, Distance(madrid, barcelona), 5000)
	assert.InDelta(t, 0, Distance(madrid, madrid), 1e-9)

	// 0.0001 degrees of latitude is about 11 meters
	north := Position{Latitude: madrid.Latitude + 0.0001, Longitude: madrid.Longitude}
	assert.InDelta(t, 11.1, Distance(madrid, north), 0.2)
}

func TestNear(t *testing.T) {
	t.Parallel()

	a := Position{Latitude: 40.0, Longitude: -3.0}
	assert.True(t, Near(a, Position{Latitude: 40.00005, Longitude: -3.00009}, 0.0001))
	assert.False(t, Near(a, Position{Latitude: 40.0002, Longitude: -3.0}, 0.0001))
}

func TestProviderJitterFilter(t *testing.T) {
	t.Parallel()

	store := kvstore.NewMemoryStore()
	p := NewProvider(store, DefaultMinDistance, logger.NewDiscard())
	ctx := t.Context()

	_, err := p.Current()
	require.ErrorIs(t, err, ErrNoFix)

	first := Position{Latitude: 40.4168, Longitude: -3.7038}
	accepted, err := p.Update(ctx, first)
	require.NoError(t, err)
	assert.True(t, accepted, "first fix is always accepted")

	// ~5.5 m north
	jitter := Position{Latitude: first.Latitude + 0.00005, Longitude: first.Longitude}
	accepted, err = p.Update(ctx, jitter)
	require.NoError(t, err)
	assert.False(t, accepted)

	// ~22 m north
	moved := Position{Latitude: first.Latitude + 0.0002, Longitude: first.Longitude}
	accepted, err = p.Update(ctx, moved)
	require.NoError(t, err)
	assert.True(t, accepted)

	cur, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, moved, cur)

	accepted, err = p.Update(ctx, Position{})
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestProviderPersistsAndRestores(t *testing.T) {
	t.Parallel()

	store := kvstore.NewMemoryStore()
	ctx := t.Context()

	var seen []Position
	p := NewProvider(store, DefaultMinDistance, logger.NewDiscard())
	p.OnChange(func(pos Position) { seen = append(seen, pos) })

	fix := Position{Latitude: 41.3874, Longitude: 2.1686, Accuracy: 8}
	_, err := p.Update(ctx, fix)
	require.NoError(t, err)
	assert.Equal(t, []Position{fix}, seen)

	restored := NewProvider(store, DefaultMinDistance, logger.NewDiscard())
	require.NoError(t, restored.Restore(ctx))
	cur, err := restored.Current()
	require.NoError(t, err)
	assert.Equal(t, fix, cur)
}

func TestRestoreIgnoresInvalidStoredFix(t *testing.T) {
	t.Parallel()

	store := kvstore.NewMemoryStore()
	require.NoError(t, kvstore.SetJSON(t.Context(), store, kvstore.KeyLastKnownLocation, Position{}))

	p := NewProvider(store, DefaultMinDistance, logger.NewDiscard())
	require.NoError(t, p.Restore(t.Context()))
	_, err := p.Current()
	require.ErrorIs(t, err, ErrNoFix)
}
