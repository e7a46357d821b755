// Package cmd provides the CLI commands for botbridge.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/botbridge/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "botbridge",
	Short: "botbridge - bot-defense channel bridge",
	Long: `botbridge exposes a bot-defense capability to a host application over the
"com.humansecurity/sdk" channel. The host asks for headers to attach to
outbound requests (humanGetHeaders) and submits blocked responses for
challenge handling (humanHandleResponse).

Quick start:
  1. Create a config file: botbridge.yaml
  2. Run: botbridge start          (HTTP channel)
     or:  botbridge start --stdio  (channel over stdin/stdout)

Configuration:
  Config is loaded from botbridge.yaml in the current directory,
  $HOME/.botbridge/, or /etc/botbridge/.

  Environment variables can override config values with the BOTBRIDGE_ prefix.
  Example: BOTBRIDGE_CAPABILITY_APP_ID=PXabc123

Commands:
  start       Start the bridge
  stop        Stop the running bridge
  config      Print the effective configuration
  hash-key    Hash an admin API key
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./botbridge.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
