package main

import (
	"fmt"
	"strings"

	defaults "github.com/mcuadros/go-defaults"
	"github.com/spf13/cobra"

	"github.com/benvon/cometblue-bridge/internal/core"
	"github.com/benvon/cometblue-bridge/internal/devices/cometblue"
	"github.com/benvon/cometblue-bridge/internal/devices/simulated"
	"github.com/benvon/cometblue-bridge/internal/logger"
	"github.com/benvon/cometblue-bridge/pkg/config"
	"github.com/benvon/cometblue-bridge/pkg/model"
)

var (
	readFormat   string
	readPIN      uint32
	readSchedule bool
	readSimulate bool
)

var readCmd = &cobra.Command{
	Use:   "read [address]",
	Short: "Read the state of a thermostat",
	Long: `Connect to a thermostat once and print its state.

Without an address every device of the configuration file is read.
With an address the configuration file is optional and --pin is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRead,
}

func init() {
	readCmd.Flags().StringVarP(&readFormat, "format", "f", formatTable, "Output format (table, json)")
	readCmd.Flags().Uint32Var(&readPIN, "pin", 0, "PIN of the thermostat when reading by address")
	readCmd.Flags().BoolVarP(&readSchedule, "schedule", "s", false, "Also read the weekly schedule")
	readCmd.Flags().BoolVar(&readSimulate, "simulate", false, "Read an in-memory thermostat instead of Bluetooth")
}

// readResult is the JSON output of one device
type readResult struct {
	Name     string                       `json:"name"`
	Address  string                       `json:"address"`
	Snapshot model.Snapshot               `json:"snapshot"`
	Schedule map[string]model.DaySchedule `json:"schedule,omitempty"`
	Error    string                       `json:"error,omitempty"`
}

// readTargets resolves the devices to read from the arguments
func readTargets(args []string) (*config.Config, []config.DeviceConfig, error) {
	if len(args) == 1 {
		cfg := &config.Config{}
		defaults.SetDefaults(cfg)
		cfg.Bridge.LogLevel = "warn"
		device := config.DeviceConfig{Address: strings.ToUpper(args[0]), PIN: readPIN}
		if loaded, err := loadConfig(); err == nil {
			cfg = loaded
			if known, err := loaded.GetDeviceConfig(args[0]); err == nil {
				return cfg, []config.DeviceConfig{*known}, nil
			}
		}
		applyLogOverrides(&cfg.Bridge)
		defaults.SetDefaults(&device)
		return cfg, []config.DeviceConfig{device}, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Devices, nil
}

func runRead(cmd *cobra.Command, args []string) error {
	if err := validateFormat(readFormat); err != nil {
		return err
	}

	cfg, targets, err := readTargets(args)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Bridge.LogLevel, cfg.Bridge.LogFormat)
	defer func() { _ = log.Sync() }()

	if !readSimulate {
		if err := cometblue.InitAdapter(); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	results := make([]readResult, 0, len(targets))
	failed := 0

	for _, dc := range targets {
		var device model.Device = cometblue.NewDevice(dc.Address, dc.PIN, log.Named("ble"))
		if readSimulate {
			device = simulated.NewDevice(dc.Address)
		}
		coordinator := core.NewCoordinator[model.Snapshot](device, core.SnapshotStrategy{}, nil, core.Options{
			Name:    dc.DisplayName(),
			Retry:   cfg.RetryPolicy(dc),
			Timeout: dc.Timeout,
			Logger:  log,
		})

		result := readResult{Name: coordinator.Name(), Address: coordinator.Address()}
		snapshot, err := coordinator.Refresh(ctx)
		result.Snapshot = snapshot

		var schedule model.WeekSchedule
		if err == nil && readSchedule {
			var value any
			value, err = coordinator.SendCommand(ctx, core.GetWeekdaysCommand{}, "cli")
			if err == nil {
				schedule, _ = value.(model.WeekSchedule)
				result.Schedule = make(map[string]model.DaySchedule, len(schedule))
				for day, periods := range schedule {
					result.Schedule[model.WeekdayName(day)] = periods
				}
			}
		}
		if err != nil {
			failed++
			result.Error = err.Error()
		}
		results = append(results, result)

		if readFormat == formatJSON {
			continue
		}
		if err != nil {
			if _, werr := bad.Fprintf(out, "%s (%s): %v\n", result.Name, result.Address, err); werr != nil {
				return werr
			}
			continue
		}
		if err := printSnapshot(out, result.Name, result.Address, snapshot); err != nil {
			return err
		}
		if schedule != nil {
			if err := printSchedule(out, schedule); err != nil {
				return err
			}
		}
	}

	if readFormat == formatJSON {
		if err := writeJSON(out, results); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d device(s) could not be read", failed, len(targets))
	}
	return nil
}
