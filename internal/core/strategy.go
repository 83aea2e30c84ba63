package core

import (
	"context"
	"fmt"

	"github.com/benvon/cometblue-bridge/pkg/model"
)

// Strategy decides what a refresh cycle reads and how the result is folded
// into the cached value.
type Strategy[T any] interface {
	// Mandatory reads the attribute group a refresh cannot succeed without.
	// An error here fails the attempt.
	Mandatory(ctx context.Context, device model.Device, into *T) error

	// Optional reads best-effort groups in the same session. Failures are
	// reported but never fail the attempt.
	Optional(ctx context.Context, device model.Device, into *T) []error

	// Merge combines the previous value with a freshly fetched one
	Merge(prev, fetched T) T
}

// HolidaySlot is the holiday slot polled on every refresh
const HolidaySlot = 1

// SnapshotStrategy polls a Comet Blue thermostat: temperatures are mandatory,
// battery, holiday window and device clock are optional.
type SnapshotStrategy struct{}

// Mandatory reads the temperature characteristic
func (SnapshotStrategy) Mandatory(ctx context.Context, device model.Device, into *model.Snapshot) error {
	temperatures, err := device.GetTemperatures(ctx)
	if err != nil {
		return fmt.Errorf("reading temperatures: %w", err)
	}
	temperatures.Apply(into)
	return nil
}

// Optional reads battery, holiday slot and datetime
func (SnapshotStrategy) Optional(ctx context.Context, device model.Device, into *model.Snapshot) []error {
	var errs []error

	if battery, err := device.GetBattery(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reading battery: %w", err))
	} else {
		into.Battery = model.Ptr(battery)
	}

	if holiday, err := device.GetHoliday(ctx, HolidaySlot); err != nil {
		errs = append(errs, fmt.Errorf("reading holiday %d: %w", HolidaySlot, err))
	} else {
		into.Holiday = &holiday
	}

	if datetime, err := device.GetDatetime(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reading datetime: %w", err))
	} else {
		into.Datetime = &datetime
	}

	return errs
}

// Merge implements Strategy
func (SnapshotStrategy) Merge(prev, fetched model.Snapshot) model.Snapshot {
	return MergeSnapshot(prev, fetched)
}

// MergeSnapshot returns fetched with every attribute it lacks taken from prev.
// A value is never cleared by a fetch that did not retrieve it.
func MergeSnapshot(prev, fetched model.Snapshot) model.Snapshot {
	return model.Snapshot{
		Battery:           pick(fetched.Battery, prev.Battery),
		CurrentTemp:       pick(fetched.CurrentTemp, prev.CurrentTemp),
		ManualTemp:        pick(fetched.ManualTemp, prev.ManualTemp),
		TargetTempLow:     pick(fetched.TargetTempLow, prev.TargetTempLow),
		TargetTempHigh:    pick(fetched.TargetTempHigh, prev.TargetTempHigh),
		TempOffset:        pick(fetched.TempOffset, prev.TempOffset),
		WindowOpen:        pick(fetched.WindowOpen, prev.WindowOpen),
		WindowOpenMinutes: pick(fetched.WindowOpenMinutes, prev.WindowOpenMinutes),
		Holiday:           pick(fetched.Holiday, prev.Holiday),
		Datetime:          pick(fetched.Datetime, prev.Datetime),
	}
}

func pick[V any](fetched, prev *V) *V {
	if fetched != nil {
		return fetched
	}
	return prev
}
