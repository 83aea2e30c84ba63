package climate

import (
	"time"

	"github.com/benvon/cometblue-bridge/pkg/model"
	"github.com/benvon/cometblue-bridge/pkg/temperature"
)

// HolidayPayload is a holiday window as entered by a user
type HolidayPayload struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Temperature float64   `json:"temperature"`
}

// ValidateHoliday checks a holiday request against now. The device stores
// whole hours only, so the start is truncated to the hour before it is
// compared.
func ValidateHoliday(p HolidayPayload, now time.Time) (model.Holiday, error) {
	if p.Start.IsZero() || p.End.IsZero() {
		return model.Holiday{}, model.NewValidationError("holiday requires start and end")
	}

	start := time.Date(p.Start.Year(), p.Start.Month(), p.Start.Day(), p.Start.Hour(), 0, 0, 0, p.Start.Location())
	if !start.After(now) {
		return model.Holiday{}, model.NewValidationError("start %s (truncated to the hour) must be in the future", start.Format(time.RFC3339))
	}
	if !p.End.After(p.Start) {
		return model.Holiday{}, model.NewValidationError("end %s must be after start %s", p.End.Format(time.RFC3339), p.Start.Format(time.RFC3339))
	}
	if err := temperature.ValidateRange("temperature", p.Temperature, MinTemp, MaxTemp, Step); err != nil {
		return model.Holiday{}, err
	}

	return model.Holiday{
		Start:       model.Ptr(p.Start),
		End:         model.Ptr(p.End),
		Temperature: model.Ptr(p.Temperature),
	}, nil
}
