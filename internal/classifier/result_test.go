package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLabel(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":             "",
		"null":         "",
		"NULL":         "",
		"  None ":      "",
		"undefined":    "",
		"siren":        "siren",
		" ambulance ":  "ambulance",
		"nullish-horn": "nullish-horn",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeLabel(in), "input %q", in)
	}
}

func TestDecodeResultSentinels(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for _, body := range []string{
		`{"predicted_label":"null","score":0.2,"is_critical":true}`,
		`{"predicted_label":null}`,
		`{}`,
		`{"predicted_label":"   "}`,
		`{"type":"detection_result","label":"Null"}`,
	} {
		r, err := decodeResult([]byte(body), now)
		require.NoError(t, err, body)
		assert.False(t, r.Actionable(), body)
		assert.False(t, r.IsCritical, "a null result is never critical: %s", body)
		assert.Equal(t, now, r.Timestamp)
	}
}

func TestDecodeResultFull(t *testing.T) {
	t.Parallel()

	body := `{
		"predicted_label": "ambulance_siren",
		"score": 0.91,
		"is_critical": true,
		"timestamp": "2026-05-01T08:00:01Z",
		"processing_time_ms": 120.5,
		"all_results": [
			{"label": "car_horn", "score": 0.05},
			{"label": "ambulance_siren", "score": 0.91},
			{"class": "dog_bark", "confidence": 0.04}
		]
	}`
	r, err := decodeResult([]byte(body), time.Now())
	require.NoError(t, err)

	assert.True(t, r.Actionable())
	assert.Equal(t, "ambulance_siren", r.Label)
	assert.InDelta(t, 0.91, r.Score, 1e-9)
	assert.True(t, r.IsCritical)
	assert.Equal(t, time.Date(2026, 5, 1, 8, 0, 1, 0, time.UTC), r.Timestamp)
	assert.InDelta(t, 120.5, r.ProcessingTimeMs, 1e-9)
	require.Len(t, r.AllResults, 3)
	assert.Equal(t, "ambulance_siren", r.AllResults[0].Label)
	assert.Equal(t, "car_horn", r.AllResults[1].Label)
	assert.Equal(t, "dog_bark", r.AllResults[2].Label)
}

func TestDecodeResultEpochTimestampAndConfidence(t *testing.T) {
	t.Parallel()

	r, err := decodeResult([]byte(`{"label":"horn","confidence":0.7,"timestamp":1767225600000}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "horn", r.Label)
	assert.InDelta(t, 0.7, r.Score, 1e-9)
	assert.Equal(t, int64(1767225600000), r.Timestamp.UnixMilli())
}

func TestDecodeResultEpochSeconds(t *testing.T) {
	t.Parallel()

	r, err := decodeResult([]byte(`{"label":"horn","timestamp":1791979200.25}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1791979200250), r.Timestamp.UnixMilli())
}

func TestNilResultNotActionable(t *testing.T) {
	t.Parallel()
	var r *Result
	assert.False(t, r.Actionable())
}
