package conf

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError collects every problem found in a Settings value
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(s *Settings) error {
	ve := ValidationError{}
	add := func(errs []string) {
		ve.Errors = append(ve.Errors, errs...)
	}

	add(validateBackend(&s.Backend))
	add(validateAudio(&s.Audio))
	add(validateGate(&s.Gate))
	add(validateClassifier(&s.Classifier))
	add(validateAlert(&s.Alert))
	add(validateDetections(&s.Detections))
	add(validateLocation(&s.Location))

	if s.Vision.Enabled {
		if s.Vision.Source == "" {
			ve.Errors = append(ve.Errors, "vision.source is required when vision is enabled")
		}
		if s.Vision.Interval <= 0 {
			ve.Errors = append(ve.Errors, "vision.interval must be positive")
		}
	}
	if s.Notifications.Enabled && s.Notifications.PollInterval <= 0 {
		ve.Errors = append(ve.Errors, "notifications.pollinterval must be positive")
	}
	if s.Notifications.Push.Enabled && len(s.Notifications.Push.URLs) == 0 {
		ve.Errors = append(ve.Errors, "notifications.push.urls must list at least one URL when push is enabled")
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		ve.Errors = append(ve.Errors, "mqtt.broker is required when MQTT is enabled")
	}
	if s.API.Enabled && s.API.Listen == "" {
		ve.Errors = append(ve.Errors, "api.listen is required when the API is enabled")
	}
	if s.Telemetry.Enabled && s.Telemetry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry.dsn is required when telemetry is enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateBackend(b *BackendSettings) []string {
	var errs []string
	if err := validateEnvURL(b.APIURL); err != nil {
		errs = append(errs, fmt.Sprintf("backend.apiurl: %v", err))
	} else if u, _ := url.Parse(b.APIURL); u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, "backend.apiurl must use http or https")
	}
	if b.WSURL != "" {
		u, err := url.Parse(b.WSURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, "backend.wsurl must use ws or wss")
		}
	}
	if b.Timeout <= 0 {
		errs = append(errs, "backend.timeout must be positive")
	}
	return errs
}

func validateAudio(a *AudioSettings) []string {
	var errs []string
	if a.SampleRate <= 0 {
		errs = append(errs, "audio.samplerate must be positive")
	}
	if a.FFTSize < 32 || a.FFTSize&(a.FFTSize-1) != 0 {
		errs = append(errs, "audio.fftsize must be a power of two of at least 32")
	}
	if a.Smoothing < 0 || a.Smoothing >= 1 {
		errs = append(errs, "audio.smoothing must be in [0, 1)")
	}
	if a.MinDecibels >= a.MaxDecibels {
		errs = append(errs, "audio.mindecibels must be lower than audio.maxdecibels")
	}
	if a.Gain <= 0 {
		errs = append(errs, "audio.gain must be positive")
	}
	return errs
}

func validateGate(g *GateSettings) []string {
	var errs []string
	if g.Threshold < 0 || g.Threshold > 255 {
		errs = append(errs, "gate.threshold must be between 0 and 255")
	}
	if g.CaptureDuration < MinCaptureDuration || g.CaptureDuration > MaxCaptureDuration {
		errs = append(errs, fmt.Sprintf("gate.captureduration must be between %s and %s", MinCaptureDuration, MaxCaptureDuration))
	}
	if g.PollInterval <= 0 {
		errs = append(errs, "gate.pollinterval must be positive")
	}
	return errs
}

func validateClassifier(c *ClassifierSettings) []string {
	var errs []string
	switch strings.ToLower(c.Mode) {
	case ClassifierModeBatch:
	case ClassifierModeStream:
		if c.Stream.FrameDuration <= 0 {
			errs = append(errs, "classifier.stream.frameduration must be positive")
		}
		if c.Stream.InitialBackoff <= 0 || c.Stream.MaxBackoff < c.Stream.InitialBackoff {
			errs = append(errs, "classifier.stream backoff must satisfy 0 < initialbackoff <= maxbackoff")
		}
		if c.Stream.QueueSize <= 0 {
			errs = append(errs, "classifier.stream.queuesize must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("classifier.mode %q must be batch or stream", c.Mode))
	}
	return errs
}

func validateAlert(a *AlertSettings) []string {
	var errs []string
	if a.DisplayDuration <= 0 {
		errs = append(errs, "alert.displayduration must be positive")
	}
	if a.NotificationTTL <= 0 {
		errs = append(errs, "alert.notificationttl must be positive")
	}
	switch a.DefaultDirection {
	case "front", "rear", "left", "right":
	default:
		errs = append(errs, "alert.defaultdirection must be front, rear, left or right")
	}
	return errs
}

func validateDetections(d *DetectionSettings) []string {
	var errs []string
	if d.TTL <= 0 {
		errs = append(errs, "detections.ttl must be positive")
	}
	if d.SweepInterval <= 0 {
		errs = append(errs, "detections.sweepinterval must be positive")
	}
	if d.DedupDegrees < 0 {
		errs = append(errs, "detections.dedupdegrees must not be negative")
	}
	if d.DedupWindow < 0 {
		errs = append(errs, "detections.dedupwindow must not be negative")
	}
	return errs
}

func validateLocation(l *LocationSettings) []string {
	var errs []string
	if l.Latitude < -90 || l.Latitude > 90 {
		errs = append(errs, "location.latitude must be between -90 and 90")
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		errs = append(errs, "location.longitude must be between -180 and 180")
	}
	if l.MinDistanceMeters < 0 {
		errs = append(errs, "location.mindistancemeters must not be negative")
	}
	return errs
}
