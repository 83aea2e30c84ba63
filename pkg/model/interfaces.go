package model

import (
	"context"
	"time"
)

// Device is the driver of one Comet Blue thermostat.
// Reads and writes are only valid between Connect and Disconnect.
type Device interface {
	// Address returns the Bluetooth address of the thermostat
	Address() string

	// Connect opens the BLE connection and authenticates
	Connect(ctx context.Context) error

	// Disconnect releases the BLE connection
	Disconnect() error

	// Connected reports whether a connection is currently open
	Connected() bool

	// DeviceInfo reads the identification strings of the thermostat
	DeviceInfo(ctx context.Context) (DeviceInfo, error)

	// GetTemperatures reads the temperature characteristic
	GetTemperatures(ctx context.Context) (Temperatures, error)

	// GetBattery reads the battery level in percent
	GetBattery(ctx context.Context) (int, error)

	// GetHoliday reads the holiday window stored in slot (1-8)
	GetHoliday(ctx context.Context, slot int) (Holiday, error)

	// GetDatetime reads the device clock
	GetDatetime(ctx context.Context) (time.Time, error)

	// GetWeekdays reads the weekly schedule
	GetWeekdays(ctx context.Context) (WeekSchedule, error)

	// SetTemperatures writes the temperature characteristic
	SetTemperatures(ctx context.Context, values TemperatureWrite) error

	// SetDatetime sets the device clock
	SetDatetime(ctx context.Context, t time.Time) error

	// SetWeekdays writes the days present in the schedule
	SetWeekdays(ctx context.Context, values WeekSchedule) error

	// SetHoliday writes the holiday window into slot (1-8)
	SetHoliday(ctx context.Context, slot int, values Holiday) error
}

// PresenceChecker reports whether a device is currently visible on the radio
type PresenceChecker interface {
	// Present returns true if the address was advertised recently
	Present(address string) bool
}

// PresenceFunc adapts a function to PresenceChecker
type PresenceFunc func(address string) bool

// Present implements PresenceChecker
func (f PresenceFunc) Present(address string) bool { return f(address) }

// AlwaysPresent is used when no scanner is running
var AlwaysPresent PresenceChecker = PresenceFunc(func(string) bool { return true })
