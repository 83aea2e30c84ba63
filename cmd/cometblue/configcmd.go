package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benvon/cometblue-bridge/pkg/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write an example configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := settings.GetString("config")
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists, use --force to overwrite it", path)
		}
		if err := config.CreateExampleConfig(path); err != nil {
			return err
		}
		_, err := good.Fprintf(cmd.OutOrStdout(), "Example configuration written to %s\n", path)
		return err
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if _, err := good.Fprintf(out, "Configuration is valid, %d device(s)\n", len(cfg.Devices)); err != nil {
			return err
		}
		for _, device := range cfg.Devices {
			if _, err := fmt.Fprintf(out, "  %s  %s\n", device.Address, device.DisplayName()); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)
}
