package listen

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/analysis"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/audio"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/conf"
)

// Command creates the listen command, which runs the full pipeline until
// interrupted.
func Command(settings *conf.Settings) *cobra.Command {
	var replay string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Listen for critical sounds and present alerts",
		Long: "Capture microphone audio, record a clip whenever the volume crosses the threshold, " +
			"classify it remotely and keep the expiring detection set for the display.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.ValidateSettings(settings); err != nil {
				return err
			}

			var opts []analysis.Option
			if replay != "" {
				src, err := audio.NewReplaySource(replay, true)
				if err != nil {
					return err
				}
				opts = append(opts, analysis.WithSource(src))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pipeline, err := analysis.New(settings, opts...)
			if err != nil {
				return fmt.Errorf("failed to build pipeline: %w", err)
			}
			return pipeline.Run(ctx)
		},
	}

	if err := setupFlags(cmd, settings, &replay); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

// setupFlags configures flags specific to the listen command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings, replay *string) error {
	cmd.Flags().StringVar(&settings.Audio.Source, "source", viper.GetString("audio.source"), "Audio capture device (name, id or substring)")
	cmd.Flags().Float64Var(&settings.Gate.Threshold, "threshold", viper.GetFloat64("gate.threshold"), "Volume 0..255 that starts a capture")
	cmd.Flags().BoolVar(&settings.Gate.AutoMode, "automode", viper.GetBool("gate.automode"), "Start captures automatically when the threshold is crossed")
	cmd.Flags().StringVar(&settings.Classifier.Mode, "mode", viper.GetString("classifier.mode"), "Classifier transport: batch or stream")
	cmd.Flags().BoolVar(&settings.API.Enabled, "api", viper.GetBool("api.enabled"), "Serve the local HTTP API")
	cmd.Flags().StringVar(&settings.API.Listen, "listen", viper.GetString("api.listen"), "Listen address of the local HTTP API")
	cmd.Flags().StringVar(replay, "replay", "", "Replay a WAV file in a loop instead of using the microphone")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
