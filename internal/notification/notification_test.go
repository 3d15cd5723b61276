package notification

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/alert"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/clock"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/detection"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/events"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/httpclient"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

const notificationsURL = "https://backend.test/detection/api/notifications/"

var t0 = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func newPoller(t *testing.T) (*Poller, *alert.NotificationList, *clock.Fake) {
	t.Helper()
	hc, err := httpclient.New(&httpclient.Config{BaseURL: "https://backend.test"})
	require.NoError(t, err)
	httpmock.ActivateNonDefault(hc.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	clk := clock.NewFake(t0)
	list := alert.NewNotificationList(5*time.Second, clk)
	t.Cleanup(list.Close)
	return NewPoller(hc, list, time.Second, time.Hour, logger.NewDiscard()), list, clk
}

func TestPollDeliversUnseen(t *testing.T) {
	p, list, _ := newPoller(t)

	httpmock.RegisterResponder(http.MethodGet, notificationsURL, httpmock.NewStringResponder(http.StatusOK, `[
		{"id": 7, "title": "Siren nearby", "message": "Ambulance approaching from the left", "predicted_label": "siren_left", "is_critical": true},
		{"id": "abc", "message": "Road works ahead", "type": "warning"},
		{"id": 8, "message": "already read", "is_read": true},
		{"message": "no id"}
	]`))

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items := list.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "7", items[0].ID)
	assert.Equal(t, LevelCritical, items[0].Level)
	assert.Equal(t, alert.DirectionLeft, items[0].Direction)
	assert.Equal(t, "abc", items[1].ID)
	assert.Equal(t, LevelWarning, items[1].Level)

	n, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "seen IDs are not delivered twice")
}

func TestPollSeenSurvivesListExpiry(t *testing.T) {
	p, list, clk := newPoller(t)

	httpmock.RegisterResponder(http.MethodGet, notificationsURL, httpmock.NewStringResponder(http.StatusOK,
		`{"results": [{"id": 1, "title": "Horn", "message": "Horn behind you"}]}`))

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	clk.Advance(5 * time.Second)
	assert.Zero(t, list.Len(), "entry expired from the list")

	n, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "an expired entry is not re-shown while its ID is remembered")
}

func TestPollHTTPError(t *testing.T) {
	p, _, _ := newPoller(t)
	httpmock.RegisterResponder(http.MethodGet, notificationsURL, httpmock.NewStringResponder(http.StatusBadGateway, ""))

	_, err := p.Poll(context.Background())
	var se *httpclient.StatusError
	require.ErrorAs(t, err, &se)
}

func TestPollMalformed(t *testing.T) {
	p, _, _ := newPoller(t)
	httpmock.RegisterResponder(http.MethodGet, notificationsURL, httpmock.NewStringResponder(http.StatusOK, `{"results": "nope"}`))

	_, err := p.Poll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotification))
}

func TestRunPollsImmediately(t *testing.T) {
	p, list, _ := newPoller(t)
	httpmock.RegisterResponder(http.MethodGet, notificationsURL, httpmock.NewStringResponder(http.StatusOK,
		`[{"id": 1, "message": "hello"}]`))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return list.Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

type fakeSender struct {
	messages []string
	titles   []string
	err      error
}

func (f *fakeSender) Send(message string, params *stypes.Params) []error {
	f.messages = append(f.messages, message)
	f.titles = append(f.titles, (*params)["title"])
	return []error{f.err}
}

func event(typ detection.Type) detection.Event {
	return detection.Event{
		ID:          "1-abc",
		Position:    geo.Position{Latitude: 40.4168, Longitude: -3.7038},
		Type:        typ,
		Description: "siren",
		CreatedAt:   t0,
	}
}

func TestPushCriticalOnly(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	p := NewPushNotifierWithSender(s, PushConfig{}, logger.NewDiscard())

	require.NoError(t, p.Notify(context.Background(), event(detection.TypeWarning)))
	assert.Empty(t, s.messages)

	require.NoError(t, p.Notify(context.Background(), event(detection.TypeCritical)))
	require.Len(t, s.messages, 1)
	assert.Equal(t, "Critical sound: siren", s.titles[0])
	assert.Contains(t, s.messages[0], "40.41680, -3.70380")
}

func TestPushIncludeWarnings(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	p := NewPushNotifierWithSender(s, PushConfig{IncludeWarnings: true}, logger.NewDiscard())

	require.NoError(t, p.Notify(context.Background(), event(detection.TypeWarning)))
	require.Len(t, s.titles, 1)
	assert.Equal(t, "Warning: siren", s.titles[0])
}

func TestPushRateLimited(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	p := NewPushNotifierWithSender(s, PushConfig{RatePerMinute: 1, Burst: 2}, logger.NewDiscard())

	ctx := context.Background()
	require.NoError(t, p.Notify(ctx, event(detection.TypeCritical)))
	require.NoError(t, p.Notify(ctx, event(detection.TypeCritical)))
	require.ErrorIs(t, p.Notify(ctx, event(detection.TypeCritical)), ErrRateLimited)
	assert.Len(t, s.messages, 2)
}

func TestPushSendError(t *testing.T) {
	t.Parallel()
	s := &fakeSender{err: errors.NewStd("smtp down")}
	p := NewPushNotifierWithSender(s, PushConfig{}, logger.NewDiscard())

	err := p.Notify(context.Background(), event(detection.TypeCritical))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotification))
}

func TestNewPushNotifierValidatesURLs(t *testing.T) {
	t.Parallel()
	_, err := NewPushNotifier(PushConfig{}, logger.NewDiscard())
	require.Error(t, err)

	_, err = NewPushNotifier(PushConfig{URLs: []string{"nosuchservice://secret@host"}}, logger.NewDiscard())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret@host")
}

func TestPushConsumer(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	c := NewPushConsumer(NewPushNotifierWithSender(s, PushConfig{RatePerMinute: 1, Burst: 1}, logger.NewDiscard()))

	assert.Equal(t, "push", c.Name())
	assert.True(t, c.Accepts(events.KindDetectionAdded))
	assert.False(t, c.Accepts(events.KindAlertShown))

	require.NoError(t, c.ProcessEvent(events.Event{Kind: events.KindDetectionAdded}))
	require.NoError(t, c.ProcessEvent(events.DetectionAdded(event(detection.TypeCritical))))
	require.NoError(t, c.ProcessEvent(events.DetectionAdded(event(detection.TypeCritical))), "rate limited is not an error")
	assert.Len(t, s.messages, 1)
}
