// Package simulated provides an in-memory Comet Blue thermostat for
// development without hardware and for tests.
package simulated

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benvon/cometblue-bridge/pkg/model"
	"github.com/benvon/cometblue-bridge/pkg/temperature"
)

// Simulation defaults
const (
	DefaultCurrentTemp       = 20.5
	DefaultManualTemp        = 21.0
	DefaultTargetTempLow     = 17.0
	DefaultTargetTempHigh    = 21.0
	DefaultWindowOpenMinutes = 10
	DefaultBattery           = 87
)

// Operation names used to inject faults
const (
	OpConnect         = "connect"
	OpGetTemperatures = "get_temperatures"
	OpGetBattery      = "get_battery"
	OpGetHoliday      = "get_holiday"
	OpGetDatetime     = "get_datetime"
	OpGetWeekdays     = "get_weekdays"
	OpSetTemperatures = "set_temperatures"
	OpSetDatetime     = "set_datetime"
	OpSetWeekdays     = "set_weekdays"
	OpSetHoliday      = "set_holiday"
)

// Device is a thermostat kept in memory. It implements model.Device.
type Device struct {
	address string

	mu           sync.Mutex
	connected    bool
	temperatures model.Temperatures
	battery      int
	holidays     map[int]model.Holiday
	clock        time.Time
	schedule     model.WeekSchedule
	faults       map[string][]error
	calls        map[string]int
	writes       []model.TemperatureWrite
	maxSessions  int
	sessions     int
}

// NewDevice creates a simulated thermostat with plausible defaults
func NewDevice(address string) *Device {
	return &Device{
		address: address,
		temperatures: model.Temperatures{
			CurrentTemp:       DefaultCurrentTemp,
			ManualTemp:        DefaultManualTemp,
			TargetTempLow:     DefaultTargetTempLow,
			TargetTempHigh:    DefaultTargetTempHigh,
			WindowOpenMinutes: DefaultWindowOpenMinutes,
		},
		battery:  DefaultBattery,
		holidays: make(map[int]model.Holiday),
		clock:    time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC),
		schedule: make(model.WeekSchedule),
		faults:   make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next len(errs) calls of op fail with errs, in order
func (d *Device) FailNext(op string, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = append(d.faults[op], errs...)
}

// FailAlways makes every call of op fail with err until Clear is called
func (d *Device) FailAlways(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = []error{&persistent{err}}
}

// Clear removes all injected faults
func (d *Device) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = make(map[string][]error)
}

type persistent struct{ err error }

func (p *persistent) Error() string { return p.err.Error() }

// Calls returns how often op was invoked, failed calls included
func (d *Device) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Writes returns every temperature write that reached the device
func (d *Device) Writes() []model.TemperatureWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.TemperatureWrite(nil), d.writes...)
}

// MaxConcurrentSessions returns the largest number of simultaneous connections seen
func (d *Device) MaxConcurrentSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxSessions
}

// SetTemperaturesState replaces the temperature state
func (d *Device) SetTemperaturesState(t model.Temperatures) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.temperatures = t
}

// SetBatteryState replaces the battery level
func (d *Device) SetBatteryState(percent int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.battery = percent
}

// SetHolidayState replaces the holiday window stored in slot
func (d *Device) SetHolidayState(slot int, h model.Holiday) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holidays[slot] = h
}

// begin records a call and returns the injected fault, if any.
// Must be called with d.mu held.
func (d *Device) begin(op string) error {
	d.calls[op]++

	queue := d.faults[op]
	if len(queue) == 0 {
		return nil
	}
	if p, ok := queue[0].(*persistent); ok {
		return p.err
	}
	d.faults[op] = queue[1:]
	return queue[0]
}

// read performs the common checks of a device round trip
func (d *Device) read(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, model.ErrTimeout)
	}
	if err := d.begin(op); err != nil {
		return err
	}
	if !d.connected {
		return fmt.Errorf("%s: %w", op, model.ErrNotConnected)
	}
	return nil
}

// Address implements model.Device
func (d *Device) Address() string { return d.address }

// Connect implements model.Device
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.begin(OpConnect); err != nil {
		return err
	}
	d.connected = true
	d.sessions++
	if d.sessions > d.maxSessions {
		d.maxSessions = d.sessions
	}
	return nil
}

// Disconnect implements model.Device
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		d.sessions--
	}
	d.connected = d.sessions > 0
	return nil
}

// Connected implements model.Device
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// DeviceInfo implements model.Device
func (d *Device) DeviceInfo(ctx context.Context) (model.DeviceInfo, error) {
	return model.DeviceInfo{
		Address:      d.address,
		Name:         "Comet Blue",
		Manufacturer: "EUROtronic GmbH",
		Model:        "Comet Blue (simulated)",
		SWVersion:    "0.0.10",
	}, nil
}

// GetTemperatures implements model.Device
func (d *Device) GetTemperatures(ctx context.Context) (model.Temperatures, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.read(ctx, OpGetTemperatures); err != nil {
		return model.Temperatures{}, err
	}
	return d.temperatures, nil
}

// GetBattery implements model.Device
func (d *Device) GetBattery(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.read(ctx, OpGetBattery); err != nil {
		return 0, err
	}
	return d.battery, nil
}

// GetHoliday implements model.Device
func (d *Device) GetHoliday(ctx context.Context, slot int) (model.Holiday, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.read(ctx, OpGetHoliday); err != nil {
		return model.Holiday{}, err
	}
	return d.holidays[slot], nil
}

// GetDatetime implements model.Device
func (d *Device) GetDatetime(ctx context.Context) (time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.read(ctx, OpGetDatetime); err != nil {
		return time.Time{}, err
	}
	return d.clock, nil
}

// GetWeekdays implements model.Device
func (d *Device) GetWeekdays(ctx context.Context) (model.WeekSchedule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.read(ctx, OpGetWeekdays); err != nil {
		return nil, err
	}
	schedule := make(model.WeekSchedule, len(model.Weekdays))
	for _, day := range model.Weekdays {
		schedule[day] = append(model.DaySchedule{}, d.schedule[day]...)
	}
	return schedule, nil
}

// SetTemperatures implements model.Device.
// Values are clamped to the device range the way the firmware does.
func (d *Device) SetTemperatures(ctx context.Context, values model.TemperatureWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.read(ctx, OpSetTemperatures); err != nil {
		return err
	}
	if _, err := temperature.Encode(values.ManualTemp); err != nil {
		return err
	}

	d.writes = append(d.writes, values)
	d.temperatures.ManualTemp = clamp(values.ManualTemp)
	if values.TargetTempLow != nil {
		d.temperatures.TargetTempLow = clamp(*values.TargetTempLow)
	}
	if values.TargetTempHigh != nil {
		d.temperatures.TargetTempHigh = clamp(*values.TargetTempHigh)
	}
	if values.TempOffset != nil {
		d.temperatures.TempOffset = *values.TempOffset
	}
	if values.WindowOpenMinutes != nil {
		d.temperatures.WindowOpenMinutes = *values.WindowOpenMinutes
	}
	return nil
}

// SetDatetime implements model.Device
func (d *Device) SetDatetime(ctx context.Context, t time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.read(ctx, OpSetDatetime); err != nil {
		return err
	}
	d.clock = t.Truncate(time.Minute)
	return nil
}

// SetWeekdays implements model.Device
func (d *Device) SetWeekdays(ctx context.Context, values model.WeekSchedule) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.read(ctx, OpSetWeekdays); err != nil {
		return err
	}
	for day, periods := range values {
		for _, p := range periods {
			if p.Start%10 != 0 || p.End%10 != 0 {
				return fmt.Errorf("%w: %s-%s is not in 10 minute steps", model.ErrInvalidValue, p.Start, p.End)
			}
		}
		d.schedule[day] = append(model.DaySchedule{}, periods...)
	}
	return nil
}

// SetHoliday implements model.Device
func (d *Device) SetHoliday(ctx context.Context, slot int, values model.Holiday) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.read(ctx, OpSetHoliday); err != nil {
		return err
	}
	d.holidays[slot] = values
	return nil
}

func clamp(v float64) float64 {
	switch {
	case v < temperature.MinTemp:
		return temperature.MinTemp
	case v > temperature.MaxTemp:
		return temperature.MaxTemp
	default:
		return v
	}
}
