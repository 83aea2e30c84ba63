package model

import (
	"fmt"
	"time"
)

// Snapshot is the last known state of one thermostat.
// A nil field means the attribute has never been read successfully.
type Snapshot struct {
	Battery           *int       `json:"battery,omitempty"`
	CurrentTemp       *float64   `json:"current_temp,omitempty"`
	ManualTemp        *float64   `json:"manual_temp,omitempty"`
	TargetTempLow     *float64   `json:"target_temp_low,omitempty"`
	TargetTempHigh    *float64   `json:"target_temp_high,omitempty"`
	TempOffset        *float64   `json:"temp_offset,omitempty"`
	WindowOpen        *bool      `json:"window_open,omitempty"`
	WindowOpenMinutes *int       `json:"window_open_minutes,omitempty"`
	Holiday           *Holiday   `json:"holiday,omitempty"`
	Datetime          *time.Time `json:"datetime,omitempty"`
}

// Temperatures is the mandatory attribute group read from the device
type Temperatures struct {
	CurrentTemp       float64 `json:"current_temp"`
	ManualTemp        float64 `json:"manual_temp"`
	TargetTempLow     float64 `json:"target_temp_low"`
	TargetTempHigh    float64 `json:"target_temp_high"`
	TempOffset        float64 `json:"temp_offset"`
	WindowOpen        bool    `json:"window_open"`
	WindowOpenMinutes int     `json:"window_open_minutes"`
}

// Apply copies the temperature group into the snapshot
func (t Temperatures) Apply(s *Snapshot) {
	s.CurrentTemp = Ptr(t.CurrentTemp)
	s.ManualTemp = Ptr(t.ManualTemp)
	s.TargetTempLow = Ptr(t.TargetTempLow)
	s.TargetTempHigh = Ptr(t.TargetTempHigh)
	s.TempOffset = Ptr(t.TempOffset)
	s.WindowOpen = Ptr(t.WindowOpen)
	s.WindowOpenMinutes = Ptr(t.WindowOpenMinutes)
}

// Holiday is one holiday (away) window stored on the device.
// The device reports Start as unset while the window is running.
type Holiday struct {
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
}

// TemperatureWrite is the payload of a temperature write.
// ManualTemp is not optional: the thermostat switches itself off when a
// write arrives without it.
type TemperatureWrite struct {
	ManualTemp        float64  `json:"manual_temp"`
	TargetTempLow     *float64 `json:"target_temp_low,omitempty"`
	TargetTempHigh    *float64 `json:"target_temp_high,omitempty"`
	TempOffset        *float64 `json:"temp_offset,omitempty"`
	WindowOpenMinutes *int     `json:"window_open_minutes,omitempty"`
}

// TimeOfDay is a wall clock time expressed in minutes after midnight
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// Hour returns the hour component
func (t TimeOfDay) Hour() int { return int(t) / 60 }

// Minute returns the minute component
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// String formats the time as HH:MM
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// MarshalText implements encoding.TextMarshaler
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Period is one heating interval of a day
type Period struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// DaySchedule holds up to MaxPeriodsPerDay periods in chronological order
type DaySchedule []Period

// MaxPeriodsPerDay is the number of periods the device stores per weekday
const MaxPeriodsPerDay = 4

// WeekSchedule maps a weekday to its periods.
// A day present with no periods clears that day; an absent day is left untouched.
type WeekSchedule map[time.Weekday]DaySchedule

// DeviceInfo describes the connected thermostat
type DeviceInfo struct {
	Address      string `json:"address"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SWVersion    string `json:"sw_version"`
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}
