package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EndOfDay is the largest TimeOfDay a period may end at
const EndOfDay TimeOfDay = 24 * 60

// Validate checks the structural rules of a day: at most MaxPeriodsPerDay
// periods, each starting before it ends, none starting before the previous
// one ended.
func (d DaySchedule) Validate() error {
	if len(d) > MaxPeriodsPerDay {
		return NewValidationError("a day holds at most %d periods, got %d", MaxPeriodsPerDay, len(d))
	}

	for i, p := range d {
		if p.Start < 0 || p.End > EndOfDay {
			return NewValidationError("period %d (%s-%s) is outside of the day", i+1, p.Start, p.End)
		}
		if p.Start >= p.End {
			return NewValidationError("period %d: start %s must be before end %s", i+1, p.Start, p.End)
		}
		if i > 0 && d[i-1].End > p.Start {
			return NewValidationError("period %d: start %s overlaps previous end %s", i+1, p.Start, d[i-1].End)
		}
	}
	return nil
}

// Validate checks every day of the schedule
func (w WeekSchedule) Validate() error {
	for _, day := range w.Days() {
		if err := w[day].Validate(); err != nil {
			return fmt.Errorf("%s: %w", strings.ToLower(day.String()), err)
		}
	}
	return nil
}

// Days returns the weekdays present in the schedule, Monday first
func (w WeekSchedule) Days() []time.Weekday {
	days := make([]time.Weekday, 0, len(w))
	for day := range w {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool {
		return mondayFirst(days[i]) < mondayFirst(days[j])
	})
	return days
}

func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Weekdays lists the days in the order the thermostat stores them
var Weekdays = []time.Weekday{
	time.Monday,
	time.Tuesday,
	time.Wednesday,
	time.Thursday,
	time.Friday,
	time.Saturday,
	time.Sunday,
}

// ParseWeekday accepts full or three-letter English day names in any case
func ParseWeekday(name string) (time.Weekday, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, day := range Weekdays {
		full := strings.ToLower(day.String())
		if name == full || name == full[:3] {
			return day, nil
		}
	}
	return 0, NewValidationError("unknown weekday %q", name)
}

// WeekdayName returns the lower case name used in payloads
func WeekdayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}
