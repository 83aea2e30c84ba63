package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/benvon/cometblue-bridge/pkg/config"
)

// These variables will be set at build time by goreleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// settings holds the global flags, overridable through COMETBLUE_* variables
var settings = viper.New()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cometblue",
	Short: "Bridge for Comet Blue radiator thermostats",
	Long: `Bridge for EUROtronic Comet Blue Bluetooth radiator thermostats:

- Poll every configured thermostat and keep its last known state
- Expose climate, number and sensor entities to Home Assistant over MQTT
- Serve a JSON API with a live WebSocket state stream
- Scan for thermostats and read one from the command line`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("ERROR:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(configCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "config.yaml", "Path to configuration file")
	flags.String("log-level", "", "Log level (debug, info, warn, error), overrides the config file")
	flags.String("log-format", "", "Log format (console, json), overrides the config file")
	flags.Bool("no-color", false, "Disable colored output")

	settings.SetEnvPrefix(config.EnvPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	for _, name := range []string{"config", "log-level", "log-format", "no-color"} {
		_ = settings.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if settings.GetBool("no-color") {
			color.NoColor = true
		}
	}
}

// loadConfig reads the configuration file and applies the global overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(settings.GetString("config"))
	if err != nil {
		return nil, err
	}
	applyLogOverrides(&cfg.Bridge)
	return cfg, nil
}

func applyLogOverrides(bridge *config.BridgeConfig) {
	if level := settings.GetString("log-level"); level != "" {
		bridge.LogLevel = level
	}
	if format := settings.GetString("log-format"); format != "" {
		bridge.LogFormat = format
	}
}
