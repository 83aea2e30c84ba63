package core

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/benvon/cometblue-bridge/pkg/model"
	"github.com/benvon/cometblue-bridge/pkg/temperature"
)

// Operation names accepted by CommandByName
const (
	OpSetTemperature = "set_temperature"
	OpSetDatetime    = "set_datetime"
	OpSetWeekdays    = "set_weekdays"
	OpGetWeekdays    = "get_weekdays"
	OpSetHoliday     = "set_holiday"
)

// MaxHolidaySlot is the number of holiday slots on the device
const MaxHolidaySlot = 8

// Command is one device operation run through Coordinator.SendCommand
type Command interface {
	// Name is the operation name used in logs and errors
	Name() string

	// Validate returns a *model.ValidationError when the payload is unusable
	Validate() error

	// Execute performs the operation on a connected device
	Execute(ctx context.Context, device model.Device) (any, error)
}

// SetTemperatureCommand writes the temperature characteristic
type SetTemperatureCommand struct {
	Values model.TemperatureWrite
}

func (c SetTemperatureCommand) Name() string { return OpSetTemperature }

// Validate checks every value against the device limits
func (c SetTemperatureCommand) Validate() error {
	v := c.Values
	if err := temperature.ValidateRange("manual_temp", v.ManualTemp, temperature.MinTemp, temperature.MaxTemp, temperature.Step); err != nil {
		return err
	}
	for name, value := range map[string]*float64{
		"target_temp_low":  v.TargetTempLow,
		"target_temp_high": v.TargetTempHigh,
	} {
		if value == nil {
			continue
		}
		if err := temperature.ValidateRange(name, *value, temperature.MinTemp, temperature.MaxTemp, temperature.Step); err != nil {
			return err
		}
	}
	if v.TempOffset != nil {
		if err := temperature.ValidateRange("temp_offset", *v.TempOffset, temperature.MinOffset, temperature.MaxOffset, temperature.Step); err != nil {
			return err
		}
	}
	if v.WindowOpenMinutes != nil {
		if err := temperature.ValidateRange("window_open_minutes", float64(*v.WindowOpenMinutes), 0, 255, 1); err != nil {
			return err
		}
	}
	return nil
}

func (c SetTemperatureCommand) Execute(ctx context.Context, device model.Device) (any, error) {
	return nil, device.SetTemperatures(ctx, c.Values)
}

// SetDatetimeCommand sets the device clock
type SetDatetimeCommand struct {
	Time time.Time `json:"datetime"`
}

func (c SetDatetimeCommand) Name() string { return OpSetDatetime }

func (c SetDatetimeCommand) Validate() error {
	if c.Time.IsZero() {
		return model.NewValidationError("datetime is required")
	}
	if c.Time.Year() < 2000 || c.Time.Year() > 2255 {
		return model.NewValidationError("datetime %s cannot be stored by the device", c.Time.Format(time.RFC3339))
	}
	return nil
}

func (c SetDatetimeCommand) Execute(ctx context.Context, device model.Device) (any, error) {
	return nil, device.SetDatetime(ctx, c.Time)
}

// SetWeekdaysCommand writes the days present in Schedule. An empty day
// clears that day on the device.
type SetWeekdaysCommand struct {
	Schedule model.WeekSchedule
}

func (c SetWeekdaysCommand) Name() string { return OpSetWeekdays }

func (c SetWeekdaysCommand) Validate() error {
	if len(c.Schedule) == 0 {
		return model.NewValidationError("schedule has no days")
	}
	return c.Schedule.Validate()
}

func (c SetWeekdaysCommand) Execute(ctx context.Context, device model.Device) (any, error) {
	return nil, device.SetWeekdays(ctx, c.Schedule)
}

// GetWeekdaysCommand reads the weekly schedule
type GetWeekdaysCommand struct{}

func (GetWeekdaysCommand) Name() string { return OpGetWeekdays }

func (GetWeekdaysCommand) Validate() error { return nil }

func (GetWeekdaysCommand) Execute(ctx context.Context, device model.Device) (any, error) {
	return device.GetWeekdays(ctx)
}

// SetHolidayCommand writes a holiday window into a slot
type SetHolidayCommand struct {
	Slot    int
	Holiday model.Holiday
}

func (c SetHolidayCommand) Name() string { return OpSetHoliday }

// Validate checks slot, window order and temperature. Whether the window lies
// in the future depends on the clock and is checked by the caller.
func (c SetHolidayCommand) Validate() error {
	if c.Slot < 1 || c.Slot > MaxHolidaySlot {
		return model.NewValidationError("holiday slot %d is outside of 1-%d", c.Slot, MaxHolidaySlot)
	}
	h := c.Holiday
	if h.Start == nil || h.End == nil || h.Temperature == nil {
		return model.NewValidationError("holiday requires start, end and temperature")
	}
	if !h.End.After(*h.Start) {
		return model.NewValidationError("holiday end %s must be after start %s",
			h.End.Format(time.RFC3339), h.Start.Format(time.RFC3339))
	}
	return temperature.ValidateSetpoint(*h.Temperature)
}

func (c SetHolidayCommand) Execute(ctx context.Context, device model.Device) (any, error) {
	return nil, device.SetHoliday(ctx, c.Slot, c.Holiday)
}

// commandDecoders build a command from a JSON payload
var commandDecoders = map[string]func(payload json.RawMessage) (Command, error){
	OpSetTemperature: func(payload json.RawMessage) (Command, error) {
		var values struct {
			model.TemperatureWrite
			ManualTemp *float64 `json:"manual_temp"`
		}
		if err := decodePayload(payload, &values); err != nil {
			return nil, err
		}
		if values.ManualTemp == nil {
			return nil, model.NewValidationError("manual_temp is required")
		}
		values.TemperatureWrite.ManualTemp = *values.ManualTemp
		return SetTemperatureCommand{Values: values.TemperatureWrite}, nil
	},
	OpSetDatetime: func(payload json.RawMessage) (Command, error) {
		cmd := SetDatetimeCommand{}
		if err := decodePayload(payload, &cmd); err != nil {
			return nil, err
		}
		if cmd.Time.IsZero() {
			cmd.Time = time.Now()
		}
		return cmd, nil
	},
	OpSetWeekdays: func(payload json.RawMessage) (Command, error) {
		var days map[string]model.DaySchedule
		if err := decodePayload(payload, &days); err != nil {
			return nil, err
		}
		schedule := make(model.WeekSchedule, len(days))
		for name, periods := range days {
			day, err := model.ParseWeekday(name)
			if err != nil {
				return nil, err
			}
			if periods == nil {
				periods = model.DaySchedule{}
			}
			schedule[day] = periods
		}
		return SetWeekdaysCommand{Schedule: schedule}, nil
	},
	OpGetWeekdays: func(json.RawMessage) (Command, error) {
		return GetWeekdaysCommand{}, nil
	},
	OpSetHoliday: func(payload json.RawMessage) (Command, error) {
		var values struct {
			Slot int `json:"slot"`
			model.Holiday
		}
		if err := decodePayload(payload, &values); err != nil {
			return nil, err
		}
		if values.Slot == 0 {
			values.Slot = HolidaySlot
		}
		return SetHolidayCommand{Slot: values.Slot, Holiday: values.Holiday}, nil
	},
}

// CommandByName builds the command for operation from its JSON payload.
// Unknown operations and malformed payloads are caller errors.
func CommandByName(operation string, payload json.RawMessage) (Command, error) {
	decode, ok := commandDecoders[operation]
	if !ok {
		return nil, model.NewValidationError("unsupported operation %q, must be one of: %v", operation, Operations())
	}
	return decode(payload)
}

// Operations lists the supported operation names
func Operations() []string {
	names := make([]string, 0, len(commandDecoders))
	for name := range commandDecoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodePayload(payload json.RawMessage, into any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, into); err != nil {
		return &model.ValidationError{Message: "malformed payload", Err: err}
	}
	return nil
}
