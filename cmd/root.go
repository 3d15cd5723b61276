package cmd

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leonidasmv10/safe-drive-app-sub000/cmd/config"
	"github.com/leonidasmv10/safe-drive-app-sub000/cmd/detections"
	"github.com/leonidasmv10/safe-drive-app-sub000/cmd/devices"
	"github.com/leonidasmv10/safe-drive-app-sub000/cmd/listen"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/buildinfo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/conf"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

const sentryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "safedrive",
		Short:         "SafeDrive in-vehicle hazard listener",
		Version:       buildinfo.Current().String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		panic(err)
	}

	devicesCmd := devices.Command()
	configCmd := config.Command(settings)

	rootCmd.AddCommand(
		listen.Command(settings),
		detections.Command(settings),
		devicesCmd,
		configCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// devices and config need neither logging nor telemetry
		if cmd.Name() == devicesCmd.Name() || cmd.Name() == configCmd.Name() {
			return nil
		}
		return initialize(settings)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if settings.Telemetry.Enabled {
			sentry.Flush(sentryFlushTimeout)
		}
		_ = logger.Global().Close()
	}

	return rootCmd
}

// initialize sets up logging and error telemetry before a subcommand runs
func initialize(settings *conf.Settings) error {
	logCfg := settings.Logging
	if settings.Debug {
		logCfg.DefaultLevel = "debug"
		if logCfg.Console != nil {
			logCfg.Console.Level = "debug"
		}
	}
	central, err := logger.NewCentralLogger(&logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if !settings.Telemetry.Enabled || settings.Telemetry.DSN == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Telemetry.DSN,
		Release:          buildinfo.Current().Release(),
		AttachStacktrace: true,
		SendDefaultPII:   false,
	}); err != nil {
		return fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	central.Module("telemetry").Info("error reporting enabled")
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Backend.APIURL, "apiurl", viper.GetString("backend.apiurl"), "Inference backend base URL")
	rootCmd.PersistentFlags().StringVar(&settings.Storage.Path, "db", viper.GetString("storage.path"), "Path of the local SQLite store")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
