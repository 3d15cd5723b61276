package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/clock"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/detection"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

// Notification levels
const (
	LevelCritical = "critical"
	LevelWarning  = "warning"
	LevelInfo     = "info"
)

const (
	DefaultRatePerMinute = 10
	DefaultBurst         = 3
	defaultSendTimeout   = 10 * time.Second
)

// ErrRateLimited is returned when a push was dropped by the limiter
var ErrRateLimited = errors.NewStd("push notification rate limited")

// Sender is satisfied by shoutrrr's router.ServiceRouter
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// PushConfig configures a PushNotifier
type PushConfig struct {
	URLs            []string
	RatePerMinute   int
	Burst           int
	IncludeWarnings bool
	Breaker         CircuitBreakerConfig // zero value means defaults
	Clock           clock.Clock          // nil means wall time
}

// PushNotifier forwards detection events to shoutrrr services
type PushNotifier struct {
	sender          Sender
	limiter         *rate.Limiter
	breaker         *CircuitBreaker
	includeWarnings bool
	log             logger.Logger
}

// NewPushNotifier builds a shoutrrr router for cfg.URLs
func NewPushNotifier(cfg PushConfig, l logger.Logger) (*PushNotifier, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("at least one push URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router, err := shoutrrr.CreateSender(cfg.URLs...)
	if err != nil {
		// shoutrrr echoes the URL, which carries credentials
		return nil, errors.Newf("invalid push URL: %s", redact(err.Error(), cfg.URLs)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router.Timeout = defaultSendTimeout
	router.SetLogger(log.New(io.Discard, "", 0))
	return NewPushNotifierWithSender(router, cfg, l), nil
}

// NewPushNotifierWithSender uses an existing Sender
func NewPushNotifierWithSender(s Sender, cfg PushConfig, l logger.Logger) *PushNotifier {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = DefaultRatePerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if l == nil {
		l = logger.Global().Module("notification")
	}
	return &PushNotifier{
		sender:          s,
		limiter:         rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.Burst),
		breaker:         NewCircuitBreaker(cfg.Breaker, cfg.Clock),
		includeWarnings: cfg.IncludeWarnings,
		log:             l,
	}
}

// Wants reports whether ev would be forwarded
func (p *PushNotifier) Wants(ev detection.Event) bool {
	return ev.Type == detection.TypeCritical || p.includeWarnings
}

// Notify sends ev. Warnings are skipped unless enabled; events beyond the
// rate limit are dropped with ErrRateLimited, and events arriving while the
// circuit breaker is open fail with ErrCircuitOpen.
func (p *PushNotifier) Notify(ctx context.Context, ev detection.Event) error {
	if !p.Wants(ev) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.limiter.Allow() {
		p.log.Debug("push dropped by rate limiter", logger.String("id", ev.ID))
		return ErrRateLimited
	}

	err := p.breaker.Call(ctx, func(context.Context) error {
		params := stypes.Params{}
		params.SetTitle(pushTitle(ev))
		for _, err := range p.sender.Send(pushMessage(ev), &params) {
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("detection_id", ev.ID).
			Context("circuit", p.breaker.State().String()).
			Build()
	}
	p.log.Info("push notification sent", logger.String("id", ev.ID), logger.String("type", string(ev.Type)))
	return nil
}

func pushTitle(ev detection.Event) string {
	if ev.Type == detection.TypeCritical {
		return "Critical sound: " + ev.Description
	}
	return "Warning: " + ev.Description
}

func pushMessage(ev detection.Event) string {
	return fmt.Sprintf("%s detected at %.5f, %.5f (%s)",
		ev.Description, ev.Position.Latitude, ev.Position.Longitude,
		ev.CreatedAt.Format(time.TimeOnly))
}

func redact(msg string, urls []string) string {
	for _, u := range urls {
		if u != "" {
			msg = strings.ReplaceAll(msg, u, "[redacted]")
		}
	}
	return msg
}
