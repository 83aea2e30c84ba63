package model

import (
	"errors"
	"testing"
	"time"
)

func period(start, end string) Period {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		panic(err)
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		panic(err)
	}
	return Period{Start: s, End: e}
}

func TestDayScheduleValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		day     DaySchedule
		wantErr bool
	}{
		{"empty", DaySchedule{}, false},
		{"single", DaySchedule{period("06:00", "08:00")}, false},
		{"adjacent periods", DaySchedule{period("06:00", "08:00"), period("08:00", "09:00")}, false},
		{"overlap", DaySchedule{period("08:00", "09:00"), period("08:30", "10:00")}, true},
		{"no overlap", DaySchedule{period("08:00", "09:00"), period("09:30", "10:00")}, false},
		{"start equals end", DaySchedule{period("08:00", "08:00")}, true},
		{"reversed", DaySchedule{period("09:00", "08:00")}, true},
		{"too many", DaySchedule{
			period("01:00", "02:00"),
			period("03:00", "04:00"),
			period("05:00", "06:00"),
			period("07:00", "08:00"),
			period("09:00", "10:00"),
		}, true},
		{"ends at midnight", DaySchedule{{Start: 22 * 60, End: EndOfDay}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.day.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestWeekScheduleDaysOrder(t *testing.T) {
	t.Parallel()

	w := WeekSchedule{
		time.Sunday:    nil,
		time.Wednesday: nil,
		time.Monday:    nil,
	}
	days := w.Days()
	want := []time.Weekday{time.Monday, time.Wednesday, time.Sunday}
	if len(days) != len(want) {
		t.Fatalf("Expected %d days, got %d", len(want), len(days))
	}
	for i := range want {
		if days[i] != want[i] {
			t.Errorf("Day %d: expected %v, got %v", i, want[i], days[i])
		}
	}

	bad := WeekSchedule{time.Friday: {period("10:00", "09:00")}}
	if err := bad.Validate(); err == nil {
		t.Error("Expected invalid friday to fail")
	}
}

func TestParseWeekday(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]time.Weekday{
		"monday": time.Monday,
		"Tue":    time.Tuesday,
		"SUNDAY": time.Sunday,
	} {
		got, err := ParseWeekday(input)
		if err != nil {
			t.Errorf("ParseWeekday(%q) unexpected error: %v", input, err)
		}
		if got != want {
			t.Errorf("ParseWeekday(%q) = %v, want %v", input, got, want)
		}
	}

	if _, err := ParseWeekday("someday"); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
	if WeekdayName(time.Thursday) != "thursday" {
		t.Error("Unexpected weekday name")
	}
}
