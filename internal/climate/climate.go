// Package climate derives the climate, number and sensor views of a
// thermostat from the coordinator snapshot and turns user intents into
// device writes.
//
// The thermostat has no on/off switch: the manual temperature set to the
// bottom of the range means off and set to the top means full heat. Every
// write has to resend the manual temperature, otherwise the device turns
// itself off.
package climate

import (
	"context"

	"github.com/benvon/cometblue-bridge/internal/core"
	"github.com/benvon/cometblue-bridge/pkg/model"
	"github.com/benvon/cometblue-bridge/pkg/temperature"
)

// Temperature range of the thermostat. The limits double as mode sentinels.
const (
	MinTemp = temperature.MinTemp
	MaxTemp = temperature.MaxTemp
	Step    = temperature.Step
)

// HVACMode is the operating mode derived from the manual temperature
type HVACMode string

const (
	HVACModeOff  HVACMode = "off"
	HVACModeHeat HVACMode = "heat"
	HVACModeAuto HVACMode = "auto"
)

// HVACModes lists the modes a user can select
var HVACModes = []HVACMode{HVACModeAuto, HVACModeHeat, HVACModeOff}

// HVACAction is an informational heating state
type HVACAction string

const (
	HVACActionOff     HVACAction = "off"
	HVACActionHeating HVACAction = "heating"
	HVACActionIdle    HVACAction = "idle"
)

// Preset names
const (
	PresetNone    = "none"
	PresetEco     = "eco"
	PresetAway    = "away"
	PresetComfort = "comfort"
)

// Commander is the part of a coordinator the presenter writes through
type Commander interface {
	Snapshot() model.Snapshot
	SendCommand(ctx context.Context, cmd core.Command, callerID string) (any, error)
	RequestRefresh()
}

func equal(a, b *float64) bool {
	return a != nil && b != nil && *a == *b
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// ModeOf returns OFF at the minimum, HEAT at the maximum and AUTO otherwise
func ModeOf(s model.Snapshot) HVACMode {
	switch {
	case s.ManualTemp != nil && *s.ManualTemp == MinTemp:
		return HVACModeOff
	case s.ManualTemp != nil && *s.ManualTemp == MaxTemp:
		return HVACModeHeat
	default:
		return HVACModeAuto
	}
}

// ActionOf returns OFF at the minimum, HEATING above the low bound or at
// the maximum and IDLE otherwise. Unknown values count as zero.
func ActionOf(s model.Snapshot) HVACAction {
	if s.ManualTemp != nil && *s.ManualTemp == MinTemp {
		return HVACActionOff
	}
	if valueOr(s.ManualTemp, 0) > valueOr(s.TargetTempLow, 0) || (s.ManualTemp != nil && *s.ManualTemp == MaxTemp) {
		return HVACActionHeating
	}
	return HVACActionIdle
}

// HolidayActive reports whether a holiday window is running: the device
// clears the start of a window once it has begun.
func HolidayActive(s model.Snapshot) bool {
	return s.Holiday != nil && s.Holiday.Start == nil && s.Holiday.End != nil
}

// PresetOf evaluates the presets in the order the thermostat displays them:
// away, comfort, eco, none.
func PresetOf(s model.Snapshot) string {
	switch {
	case HolidayActive(s) && equal(s.ManualTemp, s.Holiday.Temperature):
		return PresetAway
	case equal(s.ManualTemp, s.TargetTempHigh):
		return PresetComfort
	case equal(s.ManualTemp, s.TargetTempLow):
		return PresetEco
	default:
		return PresetNone
	}
}

// PresetModesOf returns comfort and eco plus the current preset
func PresetModesOf(s model.Snapshot) []string {
	modes := []string{PresetComfort, PresetEco}
	if current := PresetOf(s); current != PresetComfort && current != PresetEco {
		modes = append(modes, current)
	}
	return modes
}

// TemperatureRequest is a user request to change setpoints.
// Temperature is the manual temperature; nil keeps the current one.
type TemperatureRequest struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	TargetTempLow  *float64 `json:"target_temp_low,omitempty"`
	TargetTempHigh *float64 `json:"target_temp_high,omitempty"`
}

// Climate is the climate entity of one thermostat
type Climate struct {
	coordinator Commander
	entityID    string
}

// NewClimate creates the climate entity
func NewClimate(coordinator Commander, entityID string) *Climate {
	return &Climate{coordinator: coordinator, entityID: entityID}
}

// EntityID returns the entity id used as caller id for commands
func (c *Climate) EntityID() string { return c.entityID }

func (c *Climate) CurrentTemperature() *float64 { return c.coordinator.Snapshot().CurrentTemp }

func (c *Climate) TargetTemperature() *float64 { return c.coordinator.Snapshot().ManualTemp }

func (c *Climate) TargetTemperatureLow() *float64 { return c.coordinator.Snapshot().TargetTempLow }

func (c *Climate) TargetTemperatureHigh() *float64 { return c.coordinator.Snapshot().TargetTempHigh }

func (c *Climate) HVACMode() HVACMode { return ModeOf(c.coordinator.Snapshot()) }

func (c *Climate) HVACAction() HVACAction { return ActionOf(c.coordinator.Snapshot()) }

func (c *Climate) PresetMode() string { return PresetOf(c.coordinator.Snapshot()) }

func (c *Climate) PresetModes() []string { return PresetModesOf(c.coordinator.Snapshot()) }

// BuildTemperatureWrite turns a request into a device write. The manual
// temperature falls back to the cached one and is never left out.
func BuildTemperatureWrite(s model.Snapshot, req TemperatureRequest) (model.TemperatureWrite, error) {
	if PresetOf(s) == PresetAway {
		return model.TemperatureWrite{}, model.NewValidationError(
			"cannot adjust the thermostat remotely while holiday mode is active, disable it on the device first")
	}

	manual := req.Temperature
	if manual == nil {
		manual = s.ManualTemp
	}
	if manual == nil {
		return model.TemperatureWrite{}, model.NewValidationError("manual temperature is unknown, a temperature is required")
	}

	return model.TemperatureWrite{
		ManualTemp:     *manual,
		TargetTempLow:  req.TargetTempLow,
		TargetTempHigh: req.TargetTempHigh,
	}, nil
}

// SetTemperature writes new setpoints and requests a refresh
func (c *Climate) SetTemperature(ctx context.Context, req TemperatureRequest) error {
	values, err := BuildTemperatureWrite(c.coordinator.Snapshot(), req)
	if err != nil {
		return err
	}

	if _, err := c.coordinator.SendCommand(ctx, core.SetTemperatureCommand{Values: values}, c.entityID); err != nil {
		return err
	}
	c.coordinator.RequestRefresh()
	return nil
}

// SetPresetMode applies eco (low bound) or comfort (high bound).
// none and away are display only.
func (c *Climate) SetPresetMode(ctx context.Context, preset string) error {
	s := c.coordinator.Snapshot()

	supported := false
	for _, mode := range PresetModesOf(s) {
		if mode == preset {
			supported = true
			break
		}
	}
	if !supported {
		return model.NewValidationError("unsupported preset_mode %q", preset)
	}

	switch preset {
	case PresetEco:
		return c.SetTemperature(ctx, TemperatureRequest{Temperature: s.TargetTempLow})
	case PresetComfort:
		return c.SetTemperature(ctx, TemperatureRequest{Temperature: s.TargetTempHigh})
	default:
		return model.NewValidationError("unable to set preset %q, display only", preset)
	}
}

// SetHVACMode sets the manual temperature to the sentinel of mode.
// AUTO returns to the low bound.
func (c *Climate) SetHVACMode(ctx context.Context, mode HVACMode) error {
	switch mode {
	case HVACModeOff:
		return c.SetTemperature(ctx, TemperatureRequest{Temperature: model.Ptr(MinTemp)})
	case HVACModeHeat:
		return c.SetTemperature(ctx, TemperatureRequest{Temperature: model.Ptr(MaxTemp)})
	case HVACModeAuto:
		return c.SetTemperature(ctx, TemperatureRequest{Temperature: c.coordinator.Snapshot().TargetTempLow})
	default:
		return model.NewValidationError("unknown HVAC mode %q", mode)
	}
}

// TurnOn switches to AUTO
func (c *Climate) TurnOn(ctx context.Context) error {
	return c.SetHVACMode(ctx, HVACModeAuto)
}

// TurnOff switches to OFF
func (c *Climate) TurnOff(ctx context.Context) error {
	return c.SetHVACMode(ctx, HVACModeOff)
}

// State is the serializable view of the climate entity
type State struct {
	EntityID              string     `json:"entity_id"`
	CurrentTemperature    *float64   `json:"current_temperature,omitempty"`
	TargetTemperature     *float64   `json:"temperature,omitempty"`
	TargetTemperatureLow  *float64   `json:"target_temp_low,omitempty"`
	TargetTemperatureHigh *float64   `json:"target_temp_high,omitempty"`
	HVACMode              HVACMode   `json:"hvac_mode"`
	HVACModes             []HVACMode `json:"hvac_modes"`
	HVACAction            HVACAction `json:"hvac_action"`
	PresetMode            string     `json:"preset_mode"`
	PresetModes           []string   `json:"preset_modes"`
	MinTemp               float64    `json:"min_temp"`
	MaxTemp               float64    `json:"max_temp"`
	TargetTempStep        float64    `json:"target_temp_step"`
}

// StateOf derives the complete climate view from one snapshot
func StateOf(entityID string, s model.Snapshot) State {
	return State{
		EntityID:              entityID,
		CurrentTemperature:    s.CurrentTemp,
		TargetTemperature:     s.ManualTemp,
		TargetTemperatureLow:  s.TargetTempLow,
		TargetTemperatureHigh: s.TargetTempHigh,
		HVACMode:              ModeOf(s),
		HVACModes:             HVACModes,
		HVACAction:            ActionOf(s),
		PresetMode:            PresetOf(s),
		PresetModes:           PresetModesOf(s),
		MinTemp:               MinTemp,
		MaxTemp:               MaxTemp,
		TargetTempStep:        Step,
	}
}

// State returns the current view
func (c *Climate) State() State {
	return StateOf(c.entityID, c.coordinator.Snapshot())
}
