// Package conf loads and validates safedrive settings from config.yaml,
// environment variables and command line flags.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings is the full runtime configuration
type Settings struct {
	Debug bool `yaml:"debug"`

	Logging       logger.LoggingConfig `yaml:"logging"`
	Backend       BackendSettings      `yaml:"backend"`
	Auth          AuthSettings         `yaml:"auth"`
	Audio         AudioSettings        `yaml:"audio"`
	Gate          GateSettings         `yaml:"gate"`
	Classifier    ClassifierSettings   `yaml:"classifier"`
	Alert         AlertSettings        `yaml:"alert"`
	Detections    DetectionSettings    `yaml:"detections"`
	Location      LocationSettings     `yaml:"location"`
	Storage       StorageSettings      `yaml:"storage"`
	Vision        VisionSettings       `yaml:"vision"`
	Notifications NotificationSettings `yaml:"notifications"`
	MQTT          MQTTSettings         `yaml:"mqtt"`
	API           APISettings          `yaml:"api"`
	Telemetry     TelemetrySettings    `yaml:"telemetry"`
}

// BackendSettings locates the inference backend
type BackendSettings struct {
	APIURL    string        `yaml:"apiurl"`    // e.g. https://api.example.com
	WSURL     string        `yaml:"wsurl"`     // e.g. wss://api.example.com
	Timeout   time.Duration `yaml:"timeout"`   // per request timeout
	UserAgent string        `yaml:"useragent"` // sent with every request
}

// AuthSettings seeds and refreshes the bearer token
type AuthSettings struct {
	Token        string `yaml:"token"`        // seeds the KV store when empty
	RefreshToken string `yaml:"refreshtoken"` // seeds the KV store when empty
	RefreshPath  string `yaml:"refreshpath"`  // relative to backend.apiurl

	TokenFile        string `yaml:"tokenfile"`        // overrides token
	RefreshTokenFile string `yaml:"refreshtokenfile"` // overrides refreshtoken
}

// AudioSettings configures the capture device and the loudness analyser
type AudioSettings struct {
	Source      string  `yaml:"source"`      // capture device name or id, empty for default
	SampleRate  int     `yaml:"samplerate"`  // Hz
	FFTSize     int     `yaml:"fftsize"`     // analyser window, power of two
	Smoothing   float64 `yaml:"smoothing"`   // temporal smoothing constant 0..1
	MinDecibels float64 `yaml:"mindecibels"` // maps to byte 0
	MaxDecibels float64 `yaml:"maxdecibels"` // maps to byte 255
	Gain        float64 `yaml:"gain"`        // linear input gain
}

// GateSettings configures the automatic threshold trigger
type GateSettings struct {
	Threshold       float64       `yaml:"threshold"`       // UMBRAL, 0..255
	CaptureDuration time.Duration `yaml:"captureduration"` // 2s..4s
	PollInterval    time.Duration `yaml:"pollinterval"`    // volume polling period
	AutoMode        bool          `yaml:"automode"`        // start with auto mode enabled
}

// Classifier modes
const (
	ClassifierModeBatch  = "batch"
	ClassifierModeStream = "stream"
)

// ClassifierSettings selects batch upload or streaming
type ClassifierSettings struct {
	Mode   string         `yaml:"mode"` // batch or stream
	Stream StreamSettings `yaml:"stream"`
}

// StreamSettings configures the websocket streaming client
type StreamSettings struct {
	FrameDuration  time.Duration `yaml:"frameduration"`
	InitialBackoff time.Duration `yaml:"initialbackoff"`
	MaxBackoff     time.Duration `yaml:"maxbackoff"`
	QueueSize      int           `yaml:"queuesize"`
}

// AlertSettings configures the alert presenters
type AlertSettings struct {
	DisplayDuration  time.Duration `yaml:"displayduration"`  // single alert auto-hide
	NotificationTTL  time.Duration `yaml:"notificationttl"`  // per list entry
	DefaultDirection string        `yaml:"defaultdirection"` // when the label names none
}

// DetectionSettings configures the expiring detection set
type DetectionSettings struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweepinterval"`
	DedupDegrees  float64       `yaml:"dedupdegrees"`
	DedupWindow   time.Duration `yaml:"dedupwindow"`
	SyncRemote    bool          `yaml:"syncremote"` // merge /detection/audio_list/ on start
}

// LocationSettings configures the position source
type LocationSettings struct {
	Latitude          float64 `yaml:"latitude"`  // static fix, 0/0 means none
	Longitude         float64 `yaml:"longitude"` // static fix, 0/0 means none
	MinDistanceMeters float64 `yaml:"mindistancemeters"`
}

// StorageSettings locates the local key/value database
type StorageSettings struct {
	Path string `yaml:"path"`
}

// VisionSettings configures periodic camera frame classification
type VisionSettings struct {
	Enabled  bool          `yaml:"enabled"`
	Source   string        `yaml:"source"` // file path or http(s) snapshot URL
	Interval time.Duration `yaml:"interval"`
}

// NotificationSettings configures the server notification poller
type NotificationSettings struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"pollinterval"`
	SeenTTL      time.Duration `yaml:"seenttl"`
	Push         PushSettings  `yaml:"push"`
}

// PushSettings forwards critical alerts through shoutrrr URLs
type PushSettings struct {
	Enabled         bool     `yaml:"enabled"`
	URLs            []string `yaml:"urls"`
	RatePerMinute   int      `yaml:"rateperminute"`
	Burst           int      `yaml:"burst"`
	IncludeWarnings bool     `yaml:"includewarnings"`
}

// MQTTSettings configures publishing of detection events
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// PasswordFile overrides Password, e.g. a mounted Docker secret
	PasswordFile string `yaml:"passwordfile"`
	ClientID string `yaml:"clientid"`
	Retain   bool   `yaml:"retain"`
}

// APISettings configures the local HTTP API
type APISettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// TelemetrySettings configures Sentry error reporting
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads .env, config.yaml and SAFEDRIVE_* environment variables. When no
// config file exists a default one is written to the first config path.
func Load() (*Settings, error) {
	return load(func() error {
		paths, err := GetDefaultConfigPaths()
		if err != nil {
			return err
		}
		for _, p := range paths {
			viper.AddConfigPath(p)
		}
		return readInConfig(paths)
	})
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Settings, error) {
	return load(func() error {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		return nil
	})
}

func load(read func() error) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "load_dotenv").
			Build()
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return nil, err
	}
	if err := read(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

func readInConfig(paths []string) error {
	err := viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return createDefaultConfig(paths[0])
}

// createDefaultConfig writes the embedded config.yaml to dir and reads it back
func createDefaultConfig(dir string) error {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}
	logger.Global().Module("conf").Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// GetSettings returns the most recently loaded settings
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths lists the directories searched for config.yaml
func GetDefaultConfigPaths() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get_home_directory").
			Build()
	}
	return []string{
		filepath.Join(home, ".config", "safedrive"),
		".",
		"/etc/safedrive",
	}, nil
}

// SaveYAMLConfig writes settings to configPath atomically. Comments in an
// existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}
	if err := os.Rename(tmpName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

// resolveSecrets replaces credentials with the contents of their *file
// settings and expands ${VAR} references in the remaining ones.
func resolveSecrets(s *Settings) error {
	fields := []struct {
		name  string
		file  string
		value *string
	}{
		{"auth.token", s.Auth.TokenFile, &s.Auth.Token},
		{"auth.refreshtoken", s.Auth.RefreshTokenFile, &s.Auth.RefreshToken},
		{"mqtt.password", s.MQTT.PasswordFile, &s.MQTT.Password},
		{"telemetry.dsn", "", &s.Telemetry.DSN},
	}
	for _, f := range fields {
		v, err := secrets.Resolve(f.file, *f.value)
		if err != nil {
			return fmt.Errorf("error resolving %s: %w", f.name, err)
		}
		*f.value = v
	}
	return nil
}
