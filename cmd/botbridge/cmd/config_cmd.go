package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/botbridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration botbridge would run with, after defaults and
environment overrides, as YAML. Secrets are redacted.

Validation problems are reported after the output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigRaw()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if devMode {
			cfg.DevMode = true
		}
		cfg.SetDevDefaults()

		if err := writeConfigYAML(cmd, cfg); err != nil {
			return err
		}
		if used := config.ConfigFileUsed(); used != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "# loaded from %s\n", used)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
		return nil
	},
}

func writeConfigYAML(cmd *cobra.Command, cfg *config.BridgeConfig) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func init() {
	configCmd.Flags().BoolVar(&devMode, "dev", false, "apply development defaults")
	rootCmd.AddCommand(configCmd)
}
