package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/conf"
)

// Command prints the effective configuration, optionally saving it
func Command(settings *conf.Settings) *cobra.Command {
	var save string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if save != "" {
				if err := conf.SaveYAMLConfig(save, settings); err != nil {
					return err
				}
				fmt.Printf("Configuration written to %s\n", save)
				return nil
			}

			out := *settings
			out.MQTT.Password = redact(out.MQTT.Password)
			out.Auth.Token = redact(out.Auth.Token)
			out.Auth.RefreshToken = redact(out.Auth.RefreshToken)

			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(&out)
		},
	}

	cmd.Flags().StringVar(&save, "save", "", "Write the configuration to this file instead of printing it")
	return cmd
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
