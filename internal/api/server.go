package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/alert"
	mw "github.com/leonidasmv10/safe-drive-app-sub000/internal/api/middleware"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/buildinfo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/detection"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/gate"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

// GateController is the part of gate.Gate the API drives
type GateController interface {
	Status() gate.Status
	SetAutoMode(enabled bool)
	StartRecording() error
	StopRecording()
}

// AlertView exposes the single alert presenter
type AlertView interface {
	Current() (alert.Alert, bool)
	Dismiss()
}

// DetectionStore exposes the expiring detection set
type DetectionStore interface {
	List() []detection.Event
	Remove(ctx context.Context, id string) error
}

// NotificationView exposes the notification list
type NotificationView interface {
	Items() []alert.Notification
}

// LocationUpdater accepts fixes from the display's positioning
type LocationUpdater interface {
	Update(ctx context.Context, pos geo.Position) (bool, error)
	Current() (geo.Position, error)
}

// StreamStatus reports streaming classifier connectivity
type StreamStatus interface {
	Connected() bool
	QueueLen() int
}

// Deps are the components served by the API. Nil members disable their
// routes' data and answer with defaults.
type Deps struct {
	Gate          GateController
	Alerts        AlertView
	Detections    DetectionStore
	Notifications NotificationView
	Location      LocationUpdater
	Stream        StreamStatus
	Metrics       http.Handler
}

// Server is the local HTTP API server.
type Server struct {
	echo      *echo.Echo
	config    *Config
	deps      Deps
	log       logger.Logger
	startTime time.Time

	mu       sync.Mutex
	listener net.Listener
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// New creates the server and registers all routes.
func New(config *Config, deps Deps, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		deps:      deps,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("api")
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == "/metrics" || c.Path() == "/health"
	}))

	sec := mw.DefaultSecurityConfig()
	if len(s.config.AllowedOrigins) > 0 {
		sec.AllowedOrigins = s.config.AllowedOrigins
	}
	s.echo.Use(mw.NewCORS(sec))
	if s.config.BodyLimit != "" {
		s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	}
	s.echo.Use(mw.NewSecureHeaders())
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.deps.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}

	v1 := s.echo.Group("/api/v1", mw.NoStore())
	v1.GET("/status", s.getStatus)
	v1.GET("/alert", s.getAlert)
	v1.DELETE("/alert", s.dismissAlert)
	v1.GET("/detections", s.listDetections)
	v1.DELETE("/detections/:id", s.deleteDetection)
	v1.GET("/notifications", s.listNotifications)
	v1.POST("/recording/start", s.startRecording)
	v1.POST("/recording/stop", s.stopRecording)
	v1.PUT("/automode", s.setAutoMode)
	v1.GET("/location", s.getLocation)
	v1.POST("/location", s.postLocation)
}

// Handler exposes the router, e.g. for httptest
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the bound address once Run is listening
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.echo.Listener = ln

	s.log.Info("HTTP API listening", logger.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start("")
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	s.log.Info("HTTP API stopped")
	return nil
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        buildinfo.Current().GetVersion(),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}
