package cometblue

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/benvon/cometblue-bridge/pkg/model"
	"github.com/benvon/cometblue-bridge/pkg/temperature"
)

// ServiceUUID is the vendor service holding every thermostat characteristic
const ServiceUUID = "47e9ee00-47e9-11e4-8939-164230d1df67"

// Characteristic suffixes inside the vendor service
const (
	charDatetime     byte = 0x01
	charFirstWeekday byte = 0x10
	charFirstHoliday byte = 0x20
	charTemperatures byte = 0x2b
	charBattery      byte = 0x2c
	charPIN          byte = 0x30
)

// Standard device information characteristics
const (
	ManufacturerUUID = "2a29"
	ModelUUID        = "2a24"
	FirmwareUUID     = "2a28"
)

// unchanged marks a byte the thermostat must leave as it is
const unchanged byte = 0x80

// Payload sizes
const (
	datetimeSize     = 5
	weekdaySize      = 2 * model.MaxPeriodsPerDay
	holidaySize      = 9
	temperaturesSize = 7
	pinSize          = 4
)

// scheduleResolution is the granularity of schedule times on the device
const scheduleResolution = 10

func characteristicUUID(suffix byte) string {
	return fmt.Sprintf("47e9ee%02x-47e9-11e4-8939-164230d1df67", suffix)
}

// weekdayUUID returns the characteristic of a weekday, Monday first
func weekdayUUID(day time.Weekday) string {
	return characteristicUUID(charFirstWeekday + byte((int(day)+6)%7))
}

func holidayUUID(slot int) string {
	return characteristicUUID(charFirstHoliday + byte(slot-1))
}

func invalid(what string, b []byte) error {
	return fmt.Errorf("%w: %s % x", model.ErrInvalidByteValue, what, b)
}

// DecodeTemperatures parses the temperature characteristic:
// current, manual, low, high (half degrees), offset (signed half degrees),
// window open detection, window open minutes.
func DecodeTemperatures(b []byte) (model.Temperatures, error) {
	if len(b) != temperaturesSize {
		return model.Temperatures{}, invalid("temperatures", b)
	}
	for _, v := range b[:4] {
		if v == unchanged {
			return model.Temperatures{}, invalid("temperatures", b)
		}
	}

	return model.Temperatures{
		CurrentTemp:       temperature.Decode(b[0]),
		ManualTemp:        temperature.Decode(b[1]),
		TargetTempLow:     temperature.Decode(b[2]),
		TargetTempHigh:    temperature.Decode(b[3]),
		TempOffset:        temperature.DecodeOffset(b[4]),
		WindowOpen:        b[5] != 0,
		WindowOpenMinutes: int(b[6]),
	}, nil
}

// EncodeTemperatures builds a temperature write. Fields left nil are sent
// as "unchanged"; the current temperature is read only.
func EncodeTemperatures(w model.TemperatureWrite) ([]byte, error) {
	b := []byte{unchanged, 0, unchanged, unchanged, unchanged, unchanged, unchanged}

	var err error
	if b[1], err = temperature.Encode(w.ManualTemp); err != nil {
		return nil, err
	}
	if w.TargetTempLow != nil {
		if b[2], err = temperature.Encode(*w.TargetTempLow); err != nil {
			return nil, err
		}
	}
	if w.TargetTempHigh != nil {
		if b[3], err = temperature.Encode(*w.TargetTempHigh); err != nil {
			return nil, err
		}
	}
	if w.TempOffset != nil {
		if b[4], err = temperature.EncodeOffset(*w.TempOffset); err != nil {
			return nil, err
		}
	}
	if w.WindowOpenMinutes != nil {
		if *w.WindowOpenMinutes < 0 || *w.WindowOpenMinutes >= int(unchanged) {
			return nil, fmt.Errorf("%w: window open minutes %d", model.ErrInvalidValue, *w.WindowOpenMinutes)
		}
		b[6] = byte(*w.WindowOpenMinutes)
	}
	return b, nil
}

// DecodeBattery parses the battery level in percent
func DecodeBattery(b []byte) (int, error) {
	if len(b) != 1 || b[0] > 100 {
		return 0, invalid("battery", b)
	}
	return int(b[0]), nil
}

// DecodeDatetime parses minute, hour, day, month, year since 2000
func DecodeDatetime(b []byte, loc *time.Location) (time.Time, error) {
	if len(b) != datetimeSize {
		return time.Time{}, invalid("datetime", b)
	}
	t, ok := dateOf(b[2], b[3], b[4], b[1], b[0], loc)
	if !ok {
		return time.Time{}, invalid("datetime", b)
	}
	return t, nil
}

// EncodeDatetime converts t into the device clock layout
func EncodeDatetime(t time.Time, loc *time.Location) ([]byte, error) {
	t = t.In(loc)
	if t.Year() < 2000 || t.Year() > 2255 {
		return nil, fmt.Errorf("%w: year %d", model.ErrInvalidValue, t.Year())
	}
	return []byte{byte(t.Minute()), byte(t.Hour()), byte(t.Day()), byte(t.Month()), byte(t.Year() - 2000)}, nil
}

// dateOf validates the date fields and builds the time
func dateOf(day, month, year, hour, minute byte, loc *time.Location) (time.Time, bool) {
	if day < 1 || day > 31 || month < 1 || month > 12 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	t := time.Date(2000+int(year), time.Month(month), int(day), int(hour), int(minute), 0, 0, loc)
	if t.Day() != int(day) {
		return time.Time{}, false
	}
	return t, true
}

// DecodeHoliday parses a holiday slot: start hour, day, month, year, end
// hour, day, month, year, temperature. A time that does not form a valid
// date is unset; the device clears the start while the window runs.
func DecodeHoliday(b []byte, loc *time.Location) (model.Holiday, error) {
	if len(b) != holidaySize {
		return model.Holiday{}, invalid("holiday", b)
	}

	var h model.Holiday
	if start, ok := dateOf(b[1], b[2], b[3], b[0], 0, loc); ok {
		h.Start = &start
	}
	if end, ok := dateOf(b[5], b[6], b[7], b[4], 0, loc); ok {
		h.End = &end
	}
	if b[8] != 0 && b[8] != unchanged {
		h.Temperature = model.Ptr(temperature.Decode(b[8]))
	}
	return h, nil
}

// EncodeHoliday converts a holiday window; times are stored in whole hours
func EncodeHoliday(h model.Holiday, loc *time.Location) ([]byte, error) {
	b := make([]byte, holidaySize)

	for i, t := range []*time.Time{h.Start, h.End} {
		part := b[i*4 : i*4+4]
		if t == nil {
			part[0] = unchanged
			continue
		}
		local := t.In(loc)
		if local.Year() < 2000 || local.Year() > 2255 {
			return nil, fmt.Errorf("%w: year %d", model.ErrInvalidValue, local.Year())
		}
		part[0], part[1], part[2], part[3] = byte(local.Hour()), byte(local.Day()), byte(local.Month()), byte(local.Year()-2000)
	}

	b[8] = unchanged
	if h.Temperature != nil {
		v, err := temperature.Encode(*h.Temperature)
		if err != nil {
			return nil, err
		}
		b[8] = v
	}
	return b, nil
}

// DecodeDay parses the four start/end pairs of a weekday.
// Pairs that do not describe a period are unused.
func DecodeDay(b []byte) (model.DaySchedule, error) {
	if len(b) != weekdaySize {
		return nil, invalid("weekday", b)
	}

	day := model.DaySchedule{}
	for i := 0; i < len(b); i += 2 {
		start := model.TimeOfDay(int(b[i]) * scheduleResolution)
		end := model.TimeOfDay(int(b[i+1]) * scheduleResolution)
		if start >= end || end > model.EndOfDay {
			continue
		}
		day = append(day, model.Period{Start: start, End: end})
	}
	return day, nil
}

// EncodeDay converts up to four periods; unused pairs are zero
func EncodeDay(d model.DaySchedule) ([]byte, error) {
	if len(d) > model.MaxPeriodsPerDay {
		return nil, fmt.Errorf("%w: %d periods", model.ErrInvalidValue, len(d))
	}

	b := make([]byte, weekdaySize)
	for i, p := range d {
		if p.Start%scheduleResolution != 0 || p.End%scheduleResolution != 0 {
			return nil, fmt.Errorf("%w: %s-%s is not in %d minute steps", model.ErrInvalidValue, p.Start, p.End, scheduleResolution)
		}
		b[2*i] = byte(p.Start / scheduleResolution)
		b[2*i+1] = byte(p.End / scheduleResolution)
	}
	return b, nil
}

// EncodePIN converts the PIN to its little endian wire form
func EncodePIN(pin uint32) []byte {
	b := make([]byte, pinSize)
	binary.LittleEndian.PutUint32(b, pin)
	return b
}
