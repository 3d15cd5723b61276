package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/classifier"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

// AudioListPath lists the server-side history of audio detections
const AudioListPath = "/detection/audio_list/"

// JSONGetter is the part of httpclient.Client used by SyncRemote
type JSONGetter interface {
	GetJSON(ctx context.Context, path string, out any) error
}

// remoteEntry tolerates the field spellings seen across backend versions
type remoteEntry struct {
	ID             json.RawMessage `json:"id"`
	PredictedLabel string          `json:"predicted_label"`
	Label          string          `json:"label"`
	DetectionType  string          `json:"detection_type"`
	Type           string          `json:"type"`
	IsCritical     *bool           `json:"is_critical"`
	Confidence     *float64        `json:"confidence"`
	Latitude       flexFloat       `json:"latitude"`
	Longitude      flexFloat       `json:"longitude"`
	CreatedAt      string          `json:"created_at"`
	Timestamp      string          `json:"timestamp"`
}

// flexFloat accepts a JSON number, a numeric string or null
type flexFloat struct {
	Value *float64
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f.Value = &v
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.Value = &v
	return nil
}

// SyncRemote merges the server's recent audio detections into the store
// through the regular dedup rule. Entries without a valid position, without
// a label or already expired are skipped. It returns how many were added.
func (s *Store) SyncRemote(ctx context.Context, client JSONGetter) (int, error) {
	var raw json.RawMessage
	if err := client.GetJSON(ctx, AudioListPath, &raw); err != nil {
		return 0, err
	}

	entries, err := decodeRemoteList(raw)
	if err != nil {
		return 0, errors.New(err).
			Component("detection").
			Category(errors.CategoryValidation).
			Context("path", AudioListPath).
			Build()
	}

	added := 0
	for _, e := range entries {
		ev, ok := e.event(s.clock.Now())
		if !ok {
			continue
		}
		_, ok, err := s.Add(ctx, ev)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}

	s.log.Info("remote detections merged",
		logger.Int("received", len(entries)),
		logger.Int("added", added))
	return added, nil
}

func decodeRemoteList(raw json.RawMessage) ([]remoteEntry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []remoteEntry
		err := json.Unmarshal(raw, &list)
		return list, err
	}
	var page struct {
		Results []remoteEntry `json:"results"`
		Data    []remoteEntry `json:"data"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, err
	}
	if page.Results != nil {
		return page.Results, nil
	}
	return page.Data, nil
}

func (e remoteEntry) event(now time.Time) (Event, bool) {
	label := classifier.NormalizeLabel(e.PredictedLabel)
	if label == "" {
		label = classifier.NormalizeLabel(e.Label)
	}
	if label == "" {
		label = classifier.NormalizeLabel(e.DetectionType)
	}
	if label == "" {
		return Event{}, false
	}

	pos := geo.FromOptional(e.Latitude.Value, e.Longitude.Value)
	if !pos.Valid() {
		return Event{}, false
	}

	created := parseRemoteTime(e.CreatedAt)
	if created.IsZero() {
		created = parseRemoteTime(e.Timestamp)
	}
	if created.IsZero() {
		created = now
	}

	t := TypeWarning
	if (e.IsCritical != nil && *e.IsCritical) || strings.EqualFold(e.Type, string(TypeCritical)) {
		t = TypeCritical
	}

	ev := Event{
		Position:    pos,
		Type:        t,
		Description: label,
		Source:      SourceRemote,
		CreatedAt:   created,
	}
	if e.Confidence != nil {
		ev.Score = *e.Confidence
	}
	return ev, true
}

func parseRemoteTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}
