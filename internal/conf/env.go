package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding maps an environment variable to a config key
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "SAFEDRIVE_DEBUG", validateEnvBool},
		{"backend.apiurl", "SAFEDRIVE_API_URL", validateEnvURL},
		{"backend.wsurl", "SAFEDRIVE_WS_URL", validateEnvURL},
		{"auth.token", "SAFEDRIVE_TOKEN", nil},
		{"auth.refreshtoken", "SAFEDRIVE_REFRESH_TOKEN", nil},
		{"audio.source", "SAFEDRIVE_AUDIO_SOURCE", nil},
		{"gate.threshold", "SAFEDRIVE_THRESHOLD", validateEnvThreshold},
		{"classifier.mode", "SAFEDRIVE_CLASSIFIER_MODE", nil},
		{"location.latitude", "SAFEDRIVE_LATITUDE", validateEnvLatitude},
		{"location.longitude", "SAFEDRIVE_LONGITUDE", validateEnvLongitude},
		{"storage.path", "SAFEDRIVE_DB_PATH", nil},
		{"mqtt.broker", "SAFEDRIVE_MQTT_BROKER", nil},
		{"mqtt.username", "SAFEDRIVE_MQTT_USERNAME", nil},
		{"mqtt.password", "SAFEDRIVE_MQTT_PASSWORD", nil},
		{"telemetry.dsn", "SAFEDRIVE_SENTRY_DSN", nil},
		{"api.listen", "SAFEDRIVE_API_LISTEN", nil},
	}
}

// bindEnvVars binds every SAFEDRIVE_* variable and validates values that are set
func bindEnvVars() error {
	var warnings []string
	for _, b := range getEnvBindings() {
		if err := viper.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", b.EnvVar, err))
			continue
		}
		if b.Validate == nil {
			continue
		}
		if v := os.Getenv(b.EnvVar); v != "" {
			if err := b.Validate(v); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", b.EnvVar, v, err))
			}
		}
	}
	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	_, err := strconv.ParseBool(value)
	return err
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func validateEnvThreshold(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	if f < 0 || f > 255 {
		return fmt.Errorf("must be between 0 and 255")
	}
	return nil
}

func validateEnvLatitude(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	if f < -90 || f > 90 {
		return fmt.Errorf("must be between -90 and 90")
	}
	return nil
}

func validateEnvLongitude(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	if f < -180 || f > 180 {
		return fmt.Errorf("must be between -180 and 180")
	}
	return nil
}

// StreamURL returns the websocket base URL, deriving it from APIURL when
// WSURL is unset.
func (b *BackendSettings) StreamURL() string {
	if b.WSURL != "" {
		return strings.TrimRight(b.WSURL, "/")
	}
	base := strings.TrimRight(b.APIURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
