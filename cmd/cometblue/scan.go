package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/benvon/cometblue-bridge/internal/devices/cometblue"
	"github.com/benvon/cometblue-bridge/internal/logger"
)

var (
	scanDuration time.Duration
	scanFormat   string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Comet Blue thermostats",
	Long: `Listen for Bluetooth advertisements and list every Comet Blue
thermostat heard, with the address to put in the configuration file.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", formatTable, "Output format (table, json)")
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}

	level := settings.GetString("log-level")
	if level == "" {
		level = logger.WarnLevel
	}
	log := logger.New(level, settings.GetString("log-format"))
	defer func() { _ = log.Sync() }()

	if err := cometblue.InitAdapter(); err != nil {
		return err
	}

	// The scan duration doubles as the window so nothing heard is dropped
	scanner := cometblue.NewScanner(scanDuration+time.Minute, log)
	if err := scanner.Run(cmd.Context(), scanDuration); err != nil {
		return err
	}

	if scanFormat == formatJSON {
		return writeJSON(cmd.OutOrStdout(), scanner.Devices())
	}
	return printDiscovered(cmd.OutOrStdout(), scanner.Devices(), time.Now())
}
