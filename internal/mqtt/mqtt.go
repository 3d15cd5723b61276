// Package mqtt publishes detection events to an MQTT broker on the vehicle
// network.
package mqtt

import (
	"context"
	"time"
)

// DetectionsSuffix is appended to the configured topic
const DetectionsSuffix = "/detections"

// Client defines the MQTT operations the publisher needs.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Observer receives connection and publish measurements
type Observer interface {
	UpdateConnectionStatus(connected bool)
	ObservePublish(d time.Duration, size int, err error)
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Topic             string // base topic, detections go to Topic + DetectionsSuffix
	Retain            bool   // true to retain messages at the broker
	QoS               byte
	ReconnectCooldown time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ClientID:          "safedrive",
		Topic:             "safedrive",
		QoS:               1,
		ReconnectCooldown: 5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

type nopObserver struct{}

func (nopObserver) UpdateConnectionStatus(bool)              {}
func (nopObserver) ObservePublish(time.Duration, int, error) {}
