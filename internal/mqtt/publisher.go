package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/detection"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/events"
)

// DetectionDTO is the JSON payload published for each stored detection.
// Field names are part of the topic contract.
type DetectionDTO struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Score       float64   `json:"score,omitempty"`
	Source      string    `json:"source,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewDetectionDTO converts a stored event
func NewDetectionDTO(ev detection.Event) DetectionDTO {
	return DetectionDTO{
		ID:          ev.ID,
		Type:        string(ev.Type),
		Description: ev.Description,
		Score:       ev.Score,
		Source:      string(ev.Source),
		Latitude:    ev.Position.Latitude,
		Longitude:   ev.Position.Longitude,
		CreatedAt:   ev.CreatedAt,
		ExpiresAt:   ev.ExpiresAt,
	}
}

// Publisher is an events.Consumer that publishes new detections
type Publisher struct {
	client  Client
	topic   string
	timeout time.Duration
}

// NewPublisher publishes to baseTopic + DetectionsSuffix
func NewPublisher(c Client, baseTopic string, timeout time.Duration) *Publisher {
	if baseTopic == "" {
		baseTopic = DefaultConfig().Topic
	}
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}
	return &Publisher{client: c, topic: baseTopic + DetectionsSuffix, timeout: timeout}
}

// Topic is the full detections topic
func (p *Publisher) Topic() string { return p.topic }

// Name implements events.Consumer
func (p *Publisher) Name() string { return "mqtt" }

// Accepts implements events.Consumer; alert transitions are not published
func (p *Publisher) Accepts(kind events.Kind) bool {
	return kind == events.KindDetectionAdded
}

// ProcessEvent implements events.Consumer
func (p *Publisher) ProcessEvent(e events.Event) error {
	if e.Detection == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.PublishDetection(ctx, *e.Detection)
}

// PublishDetection publishes one event
func (p *Publisher) PublishDetection(ctx context.Context, ev detection.Event) error {
	payload, err := json.Marshal(NewDetectionDTO(ev))
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.topic, payload)
}
