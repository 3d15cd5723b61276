// Package classifier sends captured audio to the remote inference backend,
// either as one multipart upload per capture or as a stream of PCM frames
// over a websocket, and normalises the answers into a Result.
package classifier

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/capture"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
)

// Classifier turns one finished capture into a Result. Implementations allow
// one outstanding call per capture and never retry a failed clip.
type Classifier interface {
	Classify(ctx context.Context, rec *capture.Recording, pos geo.Position) (*Result, error)
}

// LabelScore is one entry of the ranked candidate list
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Result is a normalised classification. An empty Label means the backend
// found nothing worth alerting on.
type Result struct {
	Label            string       `json:"label"`
	Score            float64      `json:"score"`
	IsCritical       bool         `json:"is_critical"`
	Timestamp        time.Time    `json:"timestamp"`
	ProcessingTimeMs float64      `json:"processing_time_ms"`
	AllResults       []LabelScore `json:"all_results,omitempty"`
}

// Actionable reports whether the result should raise an alert and a
// detection event.
func (r *Result) Actionable() bool {
	return r != nil && r.Label != ""
}

// NormalizeLabel maps every "no detection" spelling the backend uses to "".
func NormalizeLabel(label string) string {
	label = strings.TrimSpace(label)
	switch strings.ToLower(label) {
	case "", "null", "none", "undefined":
		return ""
	}
	return label
}

// wireResult covers both the batch response and the streaming
// detection_result message.
type wireResult struct {
	Type             string          `json:"type,omitempty"`
	PredictedLabel   json.RawMessage `json:"predicted_label"`
	Label            json.RawMessage `json:"label"`
	Score            *float64        `json:"score"`
	Confidence       *float64        `json:"confidence"`
	IsCritical       *bool           `json:"is_critical"`
	Timestamp        json.RawMessage `json:"timestamp"`
	ProcessingTimeMs float64         `json:"processing_time_ms"`
	AllResults       []wireScore     `json:"all_results"`
}

type wireScore struct {
	Label      string   `json:"label"`
	Class      string   `json:"class"`
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence"`
}

// decodeResult parses a backend payload. received stamps results that carry
// no usable timestamp of their own.
func decodeResult(data []byte, received time.Time) (*Result, error) {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	label := rawLabel(w.PredictedLabel)
	if label == "" {
		label = rawLabel(w.Label)
	}

	r := &Result{
		Label:            NormalizeLabel(label),
		Score:            firstFloat(w.Score, w.Confidence),
		ProcessingTimeMs: w.ProcessingTimeMs,
		Timestamp:        parseTimestamp(w.Timestamp, received),
	}
	if w.IsCritical != nil {
		r.IsCritical = *w.IsCritical
	}

	for _, s := range w.AllResults {
		l := s.Label
		if l == "" {
			l = s.Class
		}
		r.AllResults = append(r.AllResults, LabelScore{Label: l, Score: firstFloat(s.Score, s.Confidence)})
	}
	sort.SliceStable(r.AllResults, func(i, j int) bool {
		return r.AllResults[i].Score > r.AllResults[j].Score
	})

	if r.Label == "" {
		r.IsCritical = false
	}
	return r, nil
}

// rawLabel reads a label that may be a JSON string, null or absent.
func rawLabel(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func firstFloat(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds:
// 1e11 seconds is the year 5138, 1e11 milliseconds is 1973.
const epochMillisThreshold = 1e11

// parseTimestamp accepts RFC 3339 strings, epoch seconds (possibly
// fractional) and epoch milliseconds.
func parseTimestamp(raw json.RawMessage, fallback time.Time) time.Time {
	if len(raw) == 0 {
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		return fallback
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		if n < epochMillisThreshold {
			return time.UnixMilli(int64(n * 1000))
		}
		return time.UnixMilli(int64(n))
	}
	return fallback
}
