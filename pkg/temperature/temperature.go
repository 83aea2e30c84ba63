// Package temperature holds the thermostat temperature limits and the
// half-degree byte encoding.
package temperature

import (
	"fmt"
	"math"

	"github.com/benvon/cometblue-bridge/pkg/model"
)

// Device limits
const (
	MinTemp   = 7.5
	MaxTemp   = 28.5
	Step      = 0.5
	MinOffset = -5.0
	MaxOffset = 5.0
)

// scale is the number of device units per degree Celsius
const scale = 2.0

// IsHalfStep reports whether v is a multiple of 0.5
func IsHalfStep(v float64) bool {
	return math.Mod(v, Step) == 0
}

// ValidateRange checks that v lies in [min, max] and is a multiple of step
func ValidateRange(name string, v, min, max, step float64) error {
	if math.IsNaN(v) || v < min || v > max {
		return model.NewValidationError("%s %.1f is outside of the range %.1f-%.1f", name, v, min, max)
	}
	if step > 0 && math.Mod(v-min, step) != 0 {
		return model.NewValidationError("%s %.2f is not a multiple of %.1f", name, v, step)
	}
	return nil
}

// ValidateSetpoint checks a target temperature against the device limits
func ValidateSetpoint(v float64) error {
	if err := ValidateRange("temperature", v, MinTemp, MaxTemp, 0); err != nil {
		return err
	}
	if !IsHalfStep(v) {
		return model.NewValidationError("value %v is not a half precision float, remainder is %v", v, math.Mod(v, Step))
	}
	return nil
}

// Encode converts a temperature to the device byte representation
func Encode(v float64) (byte, error) {
	raw := v * scale
	if raw != math.Trunc(raw) || raw < 0 || raw > 255 {
		return 0, fmt.Errorf("%w: temperature %v cannot be encoded", model.ErrInvalidValue, v)
	}
	return byte(raw), nil
}

// Decode converts a device byte to degrees Celsius
func Decode(b byte) float64 {
	return float64(b) / scale
}

// EncodeOffset converts a signed offset to the device byte representation
func EncodeOffset(v float64) (byte, error) {
	raw := v * scale
	if raw != math.Trunc(raw) || raw < math.MinInt8 || raw > math.MaxInt8 {
		return 0, fmt.Errorf("%w: offset %v cannot be encoded", model.ErrInvalidValue, v)
	}
	return byte(int8(raw)), nil
}

// DecodeOffset converts a device byte to a signed offset in degrees Celsius
func DecodeOffset(b byte) float64 {
	return float64(int8(b)) / scale
}
