// Package vision samples camera frames on an interval and asks the backend
// whether they show a road hazard.
package vision

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/classifier"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/httpclient"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

// VisionPath is the image classification endpoint
const VisionPath = "/models_ai/detection-vision/"

// DefaultInterval between two samples
const DefaultInterval = 5 * time.Second

// ErrEmptyFrame is returned for zero-length snapshots
var ErrEmptyFrame = errors.NewStd("empty camera frame")

type visionRequest struct {
	Image string `json:"image"`
}

type visionDetection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type visionResponse struct {
	Alert      bool              `json:"alert"`
	Detections []visionDetection `json:"detections"`
}

// DataURL encodes a frame the way the vision endpoint expects it
func DataURL(f Frame) string {
	return "data:" + f.MIME + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// Client posts frames to the vision endpoint
type Client struct {
	http *httpclient.Client
	now  func() time.Time
}

// NewClient wraps an authenticated backend client
func NewClient(c *httpclient.Client) *Client {
	return &Client{http: c, now: time.Now}
}

// Classify sends one frame. Frames without an alert yield a Result with an
// empty Label; otherwise the first detection names the hazard.
func (c *Client) Classify(ctx context.Context, f Frame) (*classifier.Result, error) {
	start := c.now()

	var resp visionResponse
	if err := c.http.PostJSON(ctx, VisionPath, "application/json", visionRequest{Image: DataURL(f)}, &resp); err != nil {
		return nil, errors.New(err).
			Component("vision").
			Category(errors.CategoryVision).
			Timing("classify", c.now().Sub(start)).
			Build()
	}

	r := &classifier.Result{
		Timestamp:        c.now(),
		ProcessingTimeMs: float64(c.now().Sub(start).Milliseconds()),
	}
	for _, d := range resp.Detections {
		label := classifier.NormalizeLabel(d.Label)
		if label == "" {
			continue
		}
		r.AllResults = append(r.AllResults, classifier.LabelScore{Label: label, Score: d.Confidence})
	}
	if resp.Alert && len(r.AllResults) > 0 {
		r.Label = r.AllResults[0].Label
		r.Score = r.AllResults[0].Score
	}
	return r, nil
}

// Sampler periodically classifies frames from a Source
type Sampler struct {
	src      Source
	client   *Client
	interval time.Duration
	log      logger.Logger

	mu       sync.Mutex
	handlers []func(*classifier.Result)
	inFlight bool
}

// NewSampler creates a sampler. interval <= 0 uses DefaultInterval.
func NewSampler(src Source, client *Client, interval time.Duration, log logger.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logger.Global().Module("vision")
	}
	return &Sampler{src: src, client: client, interval: interval, log: log}
}

// OnResult registers fn for actionable results
func (s *Sampler) OnResult(fn func(*classifier.Result)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// SampleOnce grabs and classifies one frame. Overlapping calls are skipped
// and return (nil, nil).
func (s *Sampler) SampleOnce(ctx context.Context) (*classifier.Result, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, nil
	}
	s.inFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	frame, err := s.src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Classify(ctx, frame)
	if err != nil {
		return nil, err
	}
	if !r.Actionable() {
		s.log.Trace("vision frame clear")
		return r, nil
	}

	s.log.Info("vision hazard detected",
		logger.String("label", r.Label),
		logger.Float64("confidence", r.Score))

	s.mu.Lock()
	handlers := append([]func(*classifier.Result){}, s.handlers...)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(r)
	}
	return r, nil
}

// Run samples every interval until ctx is cancelled. Failures are logged and
// the loop continues.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SampleOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("vision sample failed", logger.Error(err))
			}
		}
	}
}
