package climate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/benvon/cometblue-bridge/pkg/model"
)

const deleteKey = "delete"

// DayPayload is the schedule of one day as entered by a user: either
// {"delete": true} or up to four start<n>/end<n> pairs as HH:MM.
type DayPayload struct {
	Delete bool
	Times  map[string]model.TimeOfDay
}

// UnmarshalJSON accepts "delete" and start1..end4 and rejects anything else
func (p *DayPayload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := DayPayload{Times: make(map[string]model.TimeOfDay)}
	for key, value := range raw {
		if key == deleteKey {
			if err := json.Unmarshal(value, &out.Delete); err != nil {
				return model.NewValidationError("delete must be a boolean")
			}
			continue
		}
		if !isScheduleKey(key) {
			return model.NewValidationError("unknown schedule key %q, must be one of: %s", key, strings.Join(ScheduleKeys(), ", "))
		}

		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return model.NewValidationError("%s must be a time string", key)
		}
		t, err := model.ParseTimeOfDay(s)
		if err != nil {
			return &model.ValidationError{Message: key, Err: err}
		}
		out.Times[key] = t
	}

	*p = out
	return nil
}

// ScheduleKeys returns the accepted time keys in order
func ScheduleKeys() []string {
	keys := make([]string, 0, 2*model.MaxPeriodsPerDay)
	for i := 1; i <= model.MaxPeriodsPerDay; i++ {
		keys = append(keys, fmt.Sprintf("start%d", i), fmt.Sprintf("end%d", i))
	}
	return keys
}

func isScheduleKey(key string) bool {
	for _, k := range ScheduleKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// ValidateDay turns a day payload into periods.
// It returns an empty schedule for delete and nil when the payload holds
// nothing, in which case the day is left untouched.
func ValidateDay(p DayPayload) (model.DaySchedule, error) {
	if p.Delete {
		return model.DaySchedule{}, nil
	}
	if len(p.Times) == 0 {
		return nil, nil
	}

	var (
		periods    model.DaySchedule
		previousTo *model.TimeOfDay
	)
	for i := 1; i <= model.MaxPeriodsPerDay; i++ {
		startKey, endKey := fmt.Sprintf("start%d", i), fmt.Sprintf("end%d", i)
		start, hasStart := p.Times[startKey]
		end, hasEnd := p.Times[endKey]

		switch {
		case !hasStart && !hasEnd:
			continue
		case !hasStart:
			return nil, model.NewValidationError("missing %s for %s", startKey, endKey)
		case !hasEnd:
			return nil, model.NewValidationError("missing %s for %s", endKey, startKey)
		}

		if start >= end {
			return nil, model.NewValidationError("invalid time range %d, %s is not before %s", i, start, end)
		}
		if previousTo != nil && *previousTo > start {
			return nil, model.NewValidationError("overlapping times, %s %s is before the previous end %s", startKey, start, *previousTo)
		}

		periods = append(periods, model.Period{Start: start, End: end})
		previousTo = &end
	}
	return periods, nil
}

// SchedulePayload maps day names to their payload
type SchedulePayload map[string]DayPayload

// ParseSchedule validates every day and drops the days that change nothing
func ParseSchedule(p SchedulePayload) (model.WeekSchedule, error) {
	schedule := make(model.WeekSchedule, len(p))
	for name, payload := range p {
		day, err := model.ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		periods, err := ValidateDay(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", model.WeekdayName(day), err)
		}
		if periods == nil {
			continue
		}
		schedule[day] = periods
	}
	return schedule, nil
}
