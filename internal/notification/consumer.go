package notification

import (
	"context"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/events"
)

// defaultPushTimeout bounds one shoutrrr delivery
const defaultPushTimeout = 15 * time.Second

// PushConsumer forwards stored detections from the event bus to a
// PushNotifier.
type PushConsumer struct {
	notifier *PushNotifier
	timeout  time.Duration
}

// NewPushConsumer wraps n as an events.Consumer
func NewPushConsumer(n *PushNotifier) *PushConsumer {
	return &PushConsumer{notifier: n, timeout: defaultPushTimeout}
}

func (c *PushConsumer) Name() string { return "push" }

func (c *PushConsumer) Accepts(kind events.Kind) bool {
	return kind == events.KindDetectionAdded
}

// ProcessEvent sends the detection. Rate limited events are not failures.
func (c *PushConsumer) ProcessEvent(e events.Event) error {
	if e.Detection == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	err := c.notifier.Notify(ctx, *e.Detection)
	if errors.Is(err, ErrRateLimited) {
		return nil
	}
	return err
}
