package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Defaults shared with packages that need them without a Settings value.
const (
	DefaultThreshold       = 40.0
	DefaultCaptureDuration = 3 * time.Second
	MinCaptureDuration     = 2 * time.Second
	MaxCaptureDuration     = 4 * time.Second
	DefaultDetectionTTL    = 60 * time.Second
	DefaultAlertDuration   = 5 * time.Second
)

// setDefaultConfig sets default values for every configuration key
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/safedrive.log")
	viper.SetDefault("logging.file_output.level", "debug")

	viper.SetDefault("backend.apiurl", "http://localhost:8000")
	viper.SetDefault("backend.wsurl", "")
	viper.SetDefault("backend.timeout", 30*time.Second)
	viper.SetDefault("backend.useragent", "")

	viper.SetDefault("auth.token", "")
	viper.SetDefault("auth.refreshtoken", "")
	viper.SetDefault("auth.refreshpath", "/auth/token/refresh/")
	viper.SetDefault("auth.tokenfile", "")
	viper.SetDefault("auth.refreshtokenfile", "")

	viper.SetDefault("audio.source", "")
	viper.SetDefault("audio.samplerate", 16000)
	viper.SetDefault("audio.fftsize", 256)
	viper.SetDefault("audio.smoothing", 0.8)
	viper.SetDefault("audio.mindecibels", -100.0)
	viper.SetDefault("audio.maxdecibels", -30.0)
	viper.SetDefault("audio.gain", 1.0)

	viper.SetDefault("gate.threshold", DefaultThreshold)
	viper.SetDefault("gate.captureduration", DefaultCaptureDuration)
	viper.SetDefault("gate.pollinterval", 100*time.Millisecond)
	viper.SetDefault("gate.automode", true)

	viper.SetDefault("classifier.mode", "batch")
	viper.SetDefault("classifier.stream.frameduration", 250*time.Millisecond)
	viper.SetDefault("classifier.stream.initialbackoff", 5*time.Second)
	viper.SetDefault("classifier.stream.maxbackoff", 30*time.Second)
	viper.SetDefault("classifier.stream.queuesize", 256)

	viper.SetDefault("alert.displayduration", DefaultAlertDuration)
	viper.SetDefault("alert.notificationttl", DefaultAlertDuration)
	viper.SetDefault("alert.defaultdirection", "front")

	viper.SetDefault("detections.ttl", DefaultDetectionTTL)
	viper.SetDefault("detections.sweepinterval", time.Minute)
	viper.SetDefault("detections.dedupdegrees", 0.0001)
	viper.SetDefault("detections.dedupwindow", 5*time.Second)
	viper.SetDefault("detections.syncremote", false)

	viper.SetDefault("location.latitude", 0.0)
	viper.SetDefault("location.longitude", 0.0)
	viper.SetDefault("location.mindistancemeters", 10.0)

	viper.SetDefault("storage.path", "safedrive.db")

	viper.SetDefault("vision.enabled", false)
	viper.SetDefault("vision.source", "")
	viper.SetDefault("vision.interval", 2*time.Second)

	viper.SetDefault("notifications.enabled", false)
	viper.SetDefault("notifications.pollinterval", 30*time.Second)
	viper.SetDefault("notifications.seenttl", time.Hour)
	viper.SetDefault("notifications.push.enabled", false)
	viper.SetDefault("notifications.push.urls", []string{})
	viper.SetDefault("notifications.push.rateperminute", 6)
	viper.SetDefault("notifications.push.burst", 2)
	viper.SetDefault("notifications.push.includewarnings", false)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "safedrive")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.passwordfile", "")
	viper.SetDefault("mqtt.clientid", "")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", "127.0.0.1:8090")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.dsn", "")
}
