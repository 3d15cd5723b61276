// Package analysis assembles the listening pipeline: microphone, threshold
// gate, classifier, alert presenters, detection store and the optional
// vision, notification, MQTT, push and HTTP API components.
package analysis

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/alert"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/api"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/audio"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/auth"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/buildinfo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/capture"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/classifier"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/conf"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/detection"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/events"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/gate"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/httpclient"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/kvstore"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/mqtt"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/notification"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/observability"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/vision"
)

const (
	monitorInterval       = time.Second
	eventBusShutdownGrace = 5 * time.Second
)

var gateStates = []string{
	gate.StateIdle.String(),
	gate.StateArmed.String(),
	gate.StateCapturing.String(),
	gate.StateClassifying.String(),
}

// Pipeline owns every long-lived component of the agent
type Pipeline struct {
	settings *conf.Settings
	base     logger.Logger
	log      logger.Logger

	kv       kvstore.Store
	ownsKV   bool
	source   audio.Source
	refresh  *httpclient.Client
	backend  *httpclient.Client
	tokens   *auth.TokenStore
	metrics  *observability.Metrics
	bus      *events.Bus
	sampler  *audio.Sampler
	capturer *capture.Capturer
	stream   *classifier.StreamClient
	gate     *gate.Gate

	presenter     *alert.Presenter
	notifications *alert.NotificationList
	location      *geo.Provider
	detections    *detection.Store

	vision   *vision.Sampler
	poller   *notification.Poller
	push     *notification.PushNotifier
	mqtt     mqtt.Client
	api      *api.Server
	unsubscr []func()

	// ctx is the Run context, used by callbacks fired from component
	// goroutines
	ctx context.Context

	lastReconnects int
	lastDropped    uint64
}

// Option customises a Pipeline
type Option func(*Pipeline)

// WithSource replaces the microphone, e.g. with an audio.ReplaySource
func WithSource(s audio.Source) Option {
	return func(p *Pipeline) { p.source = s }
}

// WithStore replaces the SQLite store. The pipeline does not close it.
func WithStore(kv kvstore.Store) Option {
	return func(p *Pipeline) { p.kv = kv }
}

// WithLogger sets the parent logger of every component
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) { p.base = l }
}

// WithMQTTClient replaces the paho client
func WithMQTTClient(c mqtt.Client) Option {
	return func(p *Pipeline) { p.mqtt = c }
}

// New builds the pipeline from settings. Nothing is started until Run.
func New(settings *conf.Settings, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{settings: settings, ctx: context.Background()}
	for _, o := range opts {
		o(p)
	}
	p.log = p.logFor("analysis")

	if err := p.build(); err != nil {
		p.release()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) build() error {
	s := p.settings
	var err error

	if p.kv == nil {
		p.kv, err = kvstore.OpenSQLite(s.Storage.Path, p.logFor("kvstore"))
		if err != nil {
			return err
		}
		p.ownsKV = true
	}

	p.metrics, err = observability.NewMetrics()
	if err != nil {
		return err
	}

	clientCfg := httpclient.Config{
		BaseURL:        s.Backend.APIURL,
		DefaultTimeout: s.Backend.Timeout,
		UserAgent:      s.Backend.UserAgent,
	}
	if clientCfg.UserAgent == "" {
		clientCfg.UserAgent = buildinfo.Current().UserAgent()
	}
	if p.refresh, err = httpclient.New(&clientCfg); err != nil {
		return err
	}
	p.tokens = auth.NewTokenStore(p.kv, p.refresh, s.Auth.RefreshPath, p.logFor("auth"))
	clientCfg.Tokens = p.tokens
	if p.backend, err = httpclient.New(&clientCfg); err != nil {
		return err
	}
	p.metrics.Backend.Instrument(p.backend)

	p.bus = events.New(events.DefaultConfig(), p.logFor("events"))

	p.presenter = alert.NewPresenter(s.Alert.DisplayDuration, alert.ParseDirection(s.Alert.DefaultDirection))
	p.presenter.OnChange(p.onAlertChange)
	p.notifications = alert.NewNotificationList(s.Alert.NotificationTTL, nil)

	p.location = geo.NewProvider(p.kv, s.Location.MinDistanceMeters, p.logFor("geo"))

	p.detections = detection.New(p.kv, detection.Config{
		TTL:           s.Detections.TTL,
		SweepInterval: s.Detections.SweepInterval,
		DedupDegrees:  s.Detections.DedupDegrees,
		DedupWindow:   s.Detections.DedupWindow,
	}, detection.WithLogger(p.logFor("detection")))
	p.detections.OnAdd(p.onDetectionAdded)
	p.detections.OnRemove(p.onDetectionRemoved)

	if err := p.buildAudio(); err != nil {
		return err
	}
	if err := p.buildOptional(); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) buildAudio() error {
	s := p.settings
	if p.source == nil {
		p.source = audio.NewMalgoSource(audio.MalgoConfig{
			DeviceName: s.Audio.Source,
			SampleRate: s.Audio.SampleRate,
			Gain:       s.Audio.Gain,
		}, p.logFor("audio"))
	}

	p.sampler = audio.NewSampler(audio.NewAnalyser(audio.AnalyserConfig{
		FFTSize:     s.Audio.FFTSize,
		Smoothing:   s.Audio.Smoothing,
		MinDecibels: s.Audio.MinDecibels,
		MaxDecibels: s.Audio.MaxDecibels,
	}))
	p.capturer = capture.New(p.source.SampleRate(), capture.WithMaxDuration(gate.MaxManualDuration))
	p.unsubscr = append(p.unsubscr,
		p.source.Subscribe(p.sampler),
		p.source.Subscribe(p.capturer),
	)

	var cls classifier.Classifier
	if strings.EqualFold(s.Classifier.Mode, conf.ClassifierModeStream) {
		p.stream = classifier.NewStreamClient(classifier.StreamConfig{
			URL:            s.Backend.StreamURL(),
			SampleRate:     p.source.SampleRate(),
			FrameDuration:  s.Classifier.Stream.FrameDuration,
			InitialBackoff: s.Classifier.Stream.InitialBackoff,
			MaxBackoff:     s.Classifier.Stream.MaxBackoff,
			QueueSize:      s.Classifier.Stream.QueueSize,
			Token:          p.tokens.Token,
		}, p.logFor("classifier"))
		p.stream.OnResult(p.onStreamResult)
		cls = p.stream
	} else {
		cls = classifier.NewBatchClient(p.backend, p.logFor("classifier"))
	}

	p.gate = gate.New(gate.Config{
		Threshold:       s.Gate.Threshold,
		CaptureDuration: s.Gate.CaptureDuration,
		PollInterval:    s.Gate.PollInterval,
		AutoMode:        s.Gate.AutoMode,
	}, p.sampler, p.capturer, p.location, cls,
		gate.WithDevice(p.source),
		gate.WithLogger(p.logFor("gate")))
	p.gate.OnOutcome(p.onOutcome)
	p.gate.OnStateChange(func(_, to gate.State) {
		p.metrics.Pipeline.SetGateState(to.String(), gateStates)
	})
	p.metrics.Pipeline.SetGateState(gate.StateIdle.String(), gateStates)
	return nil
}

func (p *Pipeline) buildOptional() error {
	s := p.settings

	if s.Vision.Enabled {
		src, err := vision.NewSource(s.Vision.Source)
		if err != nil {
			return err
		}
		p.vision = vision.NewSampler(src, vision.NewClient(p.backend), s.Vision.Interval, p.logFor("vision"))
		p.vision.OnResult(p.onVisionResult)
	}

	if s.Notifications.Enabled {
		p.poller = notification.NewPoller(p.backend, p.notifications,
			s.Notifications.PollInterval, s.Notifications.SeenTTL, p.logFor("notification"))
	}

	if s.Notifications.Push.Enabled {
		push, err := notification.NewPushNotifier(notification.PushConfig{
			URLs:            s.Notifications.Push.URLs,
			RatePerMinute:   s.Notifications.Push.RatePerMinute,
			Burst:           s.Notifications.Push.Burst,
			IncludeWarnings: s.Notifications.Push.IncludeWarnings,
		}, p.logFor("notification"))
		if err != nil {
			return err
		}
		p.push = push
	}

	if s.MQTT.Enabled && p.mqtt == nil {
		cfg := mqtt.DefaultConfig()
		cfg.Broker = s.MQTT.Broker
		cfg.Username = s.MQTT.Username
		cfg.Password = s.MQTT.Password
		cfg.Retain = s.MQTT.Retain
		if s.MQTT.Topic != "" {
			cfg.Topic = s.MQTT.Topic
		}
		if s.MQTT.ClientID != "" {
			cfg.ClientID = s.MQTT.ClientID
		}
		c, err := mqtt.NewClient(cfg, p.metrics.MQTT, p.logFor("mqtt"))
		if err != nil {
			return err
		}
		p.mqtt = c
	}

	if s.API.Enabled {
		cfg := api.DefaultConfig()
		if s.API.Listen != "" {
			cfg.Listen = s.API.Listen
		}
		deps := api.Deps{
			Gate:          p.gate,
			Alerts:        p.presenter,
			Detections:    p.detections,
			Notifications: p.notifications,
			Location:      p.location,
			Metrics:       p.metrics.Handler(),
		}
		if p.stream != nil {
			deps.Stream = p.stream
		}
		server, err := api.New(cfg, deps, api.WithLogger(p.logFor("api")))
		if err != nil {
			return err
		}
		p.api = server
	}
	return nil
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails. All components are stopped before it returns.
func (p *Pipeline) Run(ctx context.Context) error {
	p.ctx = ctx
	defer p.shutdown()

	if err := p.start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.detections.Run(gctx) })
	g.Go(func() error { return p.monitor(gctx) })
	if p.vision != nil {
		g.Go(func() error { return p.vision.Run(gctx) })
	}
	if p.poller != nil {
		g.Go(func() error { return p.poller.Run(gctx) })
	}
	if p.api != nil {
		g.Go(func() error { return p.api.Run(gctx) })
	}

	p.log.Info("pipeline running",
		logger.String("classifier", p.settings.Classifier.Mode),
		logger.Bool("vision", p.vision != nil),
		logger.Bool("notifications", p.poller != nil),
		logger.Bool("mqtt", p.mqtt != nil),
		logger.Bool("api", p.api != nil))

	return g.Wait()
}

func (p *Pipeline) start(ctx context.Context) error {
	s := p.settings

	if err := p.tokens.Seed(ctx, s.Auth.Token, s.Auth.RefreshToken); err != nil {
		return err
	}

	if err := p.location.Restore(ctx); err != nil {
		p.log.Warn("last known location unavailable", logger.Error(err))
	}
	static := geo.Position{Latitude: s.Location.Latitude, Longitude: s.Location.Longitude}
	if static.Valid() {
		if _, err := p.location.Update(ctx, static); err != nil {
			p.log.Warn("failed to persist configured location", logger.Error(err))
		}
	}

	if err := p.detections.Load(ctx); err != nil {
		return err
	}
	if s.Detections.SyncRemote {
		if n, err := p.detections.SyncRemote(ctx, p.backend); err != nil {
			p.log.Warn("remote detection sync failed", logger.Error(err))
		} else {
			p.log.Info("merged remote detections", logger.Int("count", n))
		}
	}

	if p.mqtt != nil {
		if err := p.mqtt.Connect(ctx); err != nil {
			p.log.Warn("MQTT broker unavailable, detections will not be published until it connects", logger.Error(err))
		}
		if err := p.bus.RegisterConsumer(mqtt.NewPublisher(p.mqtt, s.MQTT.Topic, 0)); err != nil {
			return err
		}
	}
	if p.push != nil {
		if err := p.bus.RegisterConsumer(notification.NewPushConsumer(p.push)); err != nil {
			return err
		}
	}

	if p.stream != nil {
		if err := p.stream.Start(ctx); err != nil {
			return err
		}
	}

	// A missing microphone leaves the gate idle; vision, notifications and the
	// API keep working.
	if err := p.gate.Start(ctx); err != nil {
		p.log.Error("audio pipeline unavailable", logger.Error(err))
	}
	return nil
}

func (p *Pipeline) shutdown() {
	if err := p.gate.Stop(); err != nil {
		p.log.Warn("failed to stop microphone", logger.Error(err))
	}
	if p.stream != nil {
		if err := p.stream.Stop(); err != nil {
			p.log.Warn("failed to stop stream client", logger.Error(err))
		}
	}
	if err := p.bus.Shutdown(eventBusShutdownGrace); err != nil {
		p.log.Warn("event bus shutdown incomplete", logger.Error(err))
	}
	p.release()
	p.log.Info("pipeline stopped")
}

// release frees what build acquired. Safe on a partially built pipeline.
func (p *Pipeline) release() {
	for _, unsub := range p.unsubscr {
		unsub()
	}
	p.unsubscr = nil
	if p.presenter != nil {
		p.presenter.Close()
	}
	if p.notifications != nil {
		p.notifications.Close()
	}
	if p.mqtt != nil {
		p.mqtt.Disconnect()
	}
	if p.backend != nil {
		p.backend.Close()
	}
	if p.refresh != nil {
		p.refresh.Close()
	}
	if p.ownsKV && p.kv != nil {
		if err := p.kv.Close(); err != nil {
			p.log.Warn("failed to close store", logger.Error(err))
		}
		p.kv = nil
	}
}

// monitor publishes point-in-time gauges
func (p *Pipeline) monitor(ctx context.Context) error {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.sample()
		}
	}
}

func (p *Pipeline) sample() {
	m := p.metrics.Pipeline
	m.Volume.Set(p.sampler.Volume())
	m.DetectionsActive.Set(float64(p.detections.Len()))

	if p.stream != nil {
		connected := 0.0
		if p.stream.Connected() {
			connected = 1
		}
		m.StreamConnected.Set(connected)
		if r := p.stream.Reconnects(); r > p.lastReconnects {
			m.StreamReconnects.Add(float64(r - p.lastReconnects))
			p.lastReconnects = r
		}
	}

	if dropped := p.bus.GetStats().EventsDropped; dropped > p.lastDropped {
		m.EventsDropped.Add(float64(dropped - p.lastDropped))
		p.lastDropped = dropped
	}
}

// Metrics exposes the registry, e.g. for the status command
func (p *Pipeline) Metrics() *observability.Metrics {
	return p.metrics
}

// Gate exposes the threshold gate
func (p *Pipeline) Gate() *gate.Gate {
	return p.gate
}

// Detections exposes the detection store
func (p *Pipeline) Detections() *detection.Store {
	return p.detections
}

// Presenter exposes the single alert presenter
func (p *Pipeline) Presenter() *alert.Presenter {
	return p.presenter
}

func (p *Pipeline) logFor(module string) logger.Logger {
	if p.base != nil {
		return p.base.Module(module)
	}
	return logger.Global().Module(module)
}

func isDiscard(err error) bool {
	return errors.Is(err, capture.ErrEmptyCapture) || errors.Is(err, geo.ErrNoFix)
}
