// Package notification brings server notifications into the local alert list
// and forwards critical detections to external push services.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/alert"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/classifier"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

// NotificationsPath lists the user's server-side notifications
const NotificationsPath = "/detection/api/notifications/"

const (
	DefaultPollInterval = 15 * time.Second
	DefaultSeenTTL      = time.Hour
)

// JSONGetter is the part of httpclient.Client the poller needs
type JSONGetter interface {
	GetJSON(ctx context.Context, path string, out any) error
}

// Sink receives new notifications
type Sink interface {
	Push(n alert.Notification) bool
}

type serverNotification struct {
	ID             json.RawMessage `json:"id"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Body           string          `json:"body"`
	Type           string          `json:"type"`
	Level          string          `json:"level"`
	NotificationTy string          `json:"notification_type"`
	Label          string          `json:"label"`
	PredictedLabel string          `json:"predicted_label"`
	IsCritical     *bool           `json:"is_critical"`
	IsRead         bool            `json:"is_read"`
	CreatedAt      string          `json:"created_at"`
}

// Poller fetches notifications on an interval and pushes the unseen ones
// into a Sink.
type Poller struct {
	client   JSONGetter
	sink     Sink
	interval time.Duration
	seen     *cache.Cache
	log      logger.Logger
}

// NewPoller creates a poller. Zero durations take the defaults.
func NewPoller(client JSONGetter, sink Sink, interval, seenTTL time.Duration, log logger.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if seenTTL <= 0 {
		seenTTL = DefaultSeenTTL
	}
	if log == nil {
		log = logger.Global().Module("notification")
	}
	return &Poller{
		client:   client,
		sink:     sink,
		interval: interval,
		// No janitor goroutine; expired IDs are purged at the start of each poll.
		seen: cache.New(seenTTL, 0),
		log:  log,
	}
}

// Poll fetches once and returns how many notifications were delivered
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.seen.DeleteExpired()

	var raw json.RawMessage
	if err := p.client.GetJSON(ctx, NotificationsPath, &raw); err != nil {
		return 0, err
	}
	items, err := decodeNotifications(raw)
	if err != nil {
		return 0, errors.New(err).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("path", NotificationsPath).
			Build()
	}

	delivered := 0
	for _, item := range items {
		n, ok := item.toAlert()
		if !ok || item.IsRead {
			continue
		}
		if _, found := p.seen.Get(n.ID); found {
			continue
		}
		p.seen.SetDefault(n.ID, struct{}{})
		if p.sink.Push(n) {
			delivered++
		}
	}
	if delivered > 0 {
		p.log.Info("server notifications delivered", logger.Int("count", delivered))
	}
	return delivered, nil
}

// Run polls immediately and then every interval until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
		p.log.Warn("notification poll failed", logger.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("notification poll failed", logger.Error(err))
			}
		}
	}
}

func decodeNotifications(raw json.RawMessage) ([]serverNotification, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []serverNotification
		err := json.Unmarshal(raw, &list)
		return list, err
	}
	var page struct {
		Results       []serverNotification `json:"results"`
		Notifications []serverNotification `json:"notifications"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, err
	}
	if page.Results != nil {
		return page.Results, nil
	}
	return page.Notifications, nil
}

func (s serverNotification) toAlert() (alert.Notification, bool) {
	id := rawID(s.ID)
	if id == "" {
		return alert.Notification{}, false
	}

	msg := s.Message
	if msg == "" {
		msg = s.Body
	}
	label := classifier.NormalizeLabel(s.PredictedLabel)
	if label == "" {
		label = classifier.NormalizeLabel(s.Label)
	}

	n := alert.Notification{
		ID:      id,
		Title:   s.Title,
		Message: msg,
		Level:   level(s),
		Label:   label,
	}
	if t, err := time.Parse(time.RFC3339Nano, s.CreatedAt); err == nil {
		n.CreatedAt = t
	}
	if n.Title == "" {
		n.Title = label
	}
	return n, n.Title != "" || n.Message != ""
}

func level(s serverNotification) string {
	if s.IsCritical != nil && *s.IsCritical {
		return LevelCritical
	}
	for _, v := range []string{s.Level, s.Type, s.NotificationTy} {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case LevelCritical, "alert", "danger", "error":
			return LevelCritical
		case LevelWarning, "warn":
			return LevelWarning
		case LevelInfo:
			return LevelInfo
		}
	}
	return LevelInfo
}

func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}
