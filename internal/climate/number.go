package climate

import (
	"context"

	"github.com/benvon/cometblue-bridge/internal/core"
	"github.com/benvon/cometblue-bridge/pkg/model"
	"github.com/benvon/cometblue-bridge/pkg/temperature"
)

// NumberDescription describes one writable value of the temperature characteristic
type NumberDescription struct {
	Key         string
	Name        string
	DeviceClass string
	Unit        string
	Min         float64
	Max         float64
	Step        float64

	value func(s model.Snapshot) *float64
	apply func(w *model.TemperatureWrite, v float64)
}

// Numbers lists the number entities of a thermostat
var Numbers = []NumberDescription{
	{
		Key:         "offset",
		Name:        "Temperature Offset",
		DeviceClass: "temperature",
		Unit:        "°C",
		Min:         temperature.MinOffset,
		Max:         temperature.MaxOffset,
		Step:        Step,
		value:       func(s model.Snapshot) *float64 { return s.TempOffset },
		apply:       func(w *model.TemperatureWrite, v float64) { w.TempOffset = model.Ptr(v) },
	},
	{
		Key:         "target_temp_low",
		Name:        "Target Temperature Low",
		DeviceClass: "temperature",
		Unit:        "°C",
		Min:         MinTemp,
		Max:         MaxTemp,
		Step:        Step,
		value:       func(s model.Snapshot) *float64 { return s.TargetTempLow },
		apply:       func(w *model.TemperatureWrite, v float64) { w.TargetTempLow = model.Ptr(v) },
	},
	{
		Key:         "target_temp_high",
		Name:        "Target Temperature High",
		DeviceClass: "temperature",
		Unit:        "°C",
		Min:         MinTemp,
		Max:         MaxTemp,
		Step:        Step,
		value:       func(s model.Snapshot) *float64 { return s.TargetTempHigh },
		apply:       func(w *model.TemperatureWrite, v float64) { w.TargetTempHigh = model.Ptr(v) },
	},
	{
		Key:         "window_open_minutes",
		Name:        "Window Open Minutes",
		DeviceClass: "duration",
		Unit:        "min",
		Min:         5,
		Max:         15,
		Step:        5,
		value: func(s model.Snapshot) *float64 {
			if s.WindowOpenMinutes == nil {
				return nil
			}
			return model.Ptr(float64(*s.WindowOpenMinutes))
		},
		apply: func(w *model.TemperatureWrite, v float64) { w.WindowOpenMinutes = model.Ptr(int(v)) },
	},
}

// NumberByKey returns the description with the given key
func NumberByKey(key string) (NumberDescription, bool) {
	for _, d := range Numbers {
		if d.Key == key {
			return d, true
		}
	}
	return NumberDescription{}, false
}

// Value reads the number from a snapshot
func (d NumberDescription) Value(s model.Snapshot) *float64 {
	return d.value(s)
}

// BuildWrite validates v and returns the write carrying it together with the
// current manual temperature.
func (d NumberDescription) BuildWrite(s model.Snapshot, v float64) (model.TemperatureWrite, error) {
	if err := temperature.ValidateRange(d.Key, v, d.Min, d.Max, d.Step); err != nil {
		return model.TemperatureWrite{}, err
	}
	if s.ManualTemp == nil {
		return model.TemperatureWrite{}, model.NewValidationError("manual temperature is unknown, cannot write %s before the first refresh", d.Key)
	}

	w := model.TemperatureWrite{ManualTemp: *s.ManualTemp}
	d.apply(&w, v)
	return w, nil
}

// Number is a number entity bound to a coordinator
type Number struct {
	NumberDescription
	coordinator Commander
	entityID    string
}

// NewNumber creates a number entity
func NewNumber(coordinator Commander, description NumberDescription, entityID string) *Number {
	return &Number{NumberDescription: description, coordinator: coordinator, entityID: entityID}
}

// EntityID returns the entity id used as caller id for commands
func (n *Number) EntityID() string { return n.entityID }

// NativeValue returns the cached value
func (n *Number) NativeValue() *float64 {
	return n.Value(n.coordinator.Snapshot())
}

// SetValue writes the value and requests a refresh
func (n *Number) SetValue(ctx context.Context, v float64) error {
	values, err := n.BuildWrite(n.coordinator.Snapshot(), v)
	if err != nil {
		return err
	}

	if _, err := n.coordinator.SendCommand(ctx, core.SetTemperatureCommand{Values: values}, n.entityID); err != nil {
		return err
	}
	n.coordinator.RequestRefresh()
	return nil
}
