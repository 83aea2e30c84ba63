// Package services implements the device-level operations that are not
// tied to a single entity: clock, weekly schedule and holiday.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/benvon/cometblue-bridge/internal/climate"
	"github.com/benvon/cometblue-bridge/internal/core"
	"github.com/benvon/cometblue-bridge/pkg/model"
)

// Service names
const (
	SetDatetimeService = "set_datetime"
	GetScheduleService = "get_schedule"
	SetScheduleService = "set_schedule"
	SetHolidayService  = "set_holiday"
)

// Names lists the services accepted by Call
var Names = []string{GetScheduleService, SetDatetimeService, SetHolidayService, SetScheduleService}

// Services runs service calls against registered thermostats
type Services struct {
	registry *Registry
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// New creates the service layer
func New(registry *Registry, logger *zap.SugaredLogger) *Services {
	return &Services{
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// callerID identifies one service invocation in device logs
func callerID(service string) string {
	return service + "/" + uuid.NewString()
}

// resolve looks up every entity before anything is written
func (s *Services) resolve(entityIDs []string) ([]*Entry, error) {
	if len(entityIDs) == 0 {
		return nil, model.NewValidationError("entity_id is required")
	}

	entries := make([]*Entry, 0, len(entityIDs))
	for _, id := range entityIDs {
		entry, err := s.registry.Lookup(id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SetDatetime sets the clock of every device, to now when at is nil
func (s *Services) SetDatetime(ctx context.Context, entityIDs []string, at *time.Time) error {
	entries, err := s.resolve(entityIDs)
	if err != nil {
		return err
	}

	target := s.now()
	if at != nil {
		target = *at
	}

	caller := callerID(SetDatetimeService)
	for _, entry := range entries {
		s.logger.Infow("Setting datetime",
			"entity_id", entry.EntityID(),
			"address", entry.Thermostat.Address(),
			"datetime", target)
		if _, err := entry.Thermostat.SendCommand(ctx, core.SetDatetimeCommand{Time: target}, caller); err != nil {
			return err
		}
	}
	return nil
}

// GetSchedule reads the weekly schedule of one device
func (s *Services) GetSchedule(ctx context.Context, entityID string) (model.WeekSchedule, error) {
	entry, err := s.registry.Lookup(entityID)
	if err != nil {
		return nil, err
	}

	result, err := entry.Thermostat.SendCommand(ctx, core.GetWeekdaysCommand{}, callerID(GetScheduleService))
	if err != nil {
		return nil, err
	}
	schedule, ok := result.(model.WeekSchedule)
	if !ok {
		return nil, fmt.Errorf("unexpected schedule result %T", result)
	}
	return schedule, nil
}

// SetSchedule validates payload and writes the days it changes. Days left
// empty in the payload are not touched.
func (s *Services) SetSchedule(ctx context.Context, entityIDs []string, payload climate.SchedulePayload) error {
	schedule, err := climate.ParseSchedule(payload)
	if err != nil {
		return err
	}
	entries, err := s.resolve(entityIDs)
	if err != nil {
		return err
	}
	if len(schedule) == 0 {
		s.logger.Infow("Schedule changes nothing, not writing", "entity_ids", entityIDs)
		return nil
	}

	caller := callerID(SetScheduleService)
	for _, entry := range entries {
		s.logger.Infow("Setting schedule", "entity_id", entry.EntityID(), "address", entry.Thermostat.Address())
		for _, day := range schedule.Days() {
			s.logger.Infow("Schedule day", "day", model.WeekdayName(day), "periods", schedule[day])
		}
		if _, err := entry.Thermostat.SendCommand(ctx, core.SetWeekdaysCommand{Schedule: schedule}, caller); err != nil {
			return err
		}
	}
	return nil
}

// SetHoliday validates the window and writes it into the holiday slot that
// the coordinator reads back.
func (s *Services) SetHoliday(ctx context.Context, entityIDs []string, payload climate.HolidayPayload) error {
	holiday, err := climate.ValidateHoliday(payload, s.now())
	if err != nil {
		return err
	}
	entries, err := s.resolve(entityIDs)
	if err != nil {
		return err
	}

	caller := callerID(SetHolidayService)
	for _, entry := range entries {
		s.logger.Infow("Setting holiday", "entity_id", entry.EntityID(), "address", entry.Thermostat.Address())
		cmd := core.SetHolidayCommand{Slot: core.HolidaySlot, Holiday: holiday}
		if _, err := entry.Thermostat.SendCommand(ctx, cmd, caller); err != nil {
			return err
		}
		entry.Thermostat.RequestRefresh()
	}
	return nil
}

// EntityIDs accepts a single id or a list of ids
type EntityIDs []string

// UnmarshalJSON implements json.Unmarshaler
func (e *EntityIDs) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*e = EntityIDs{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return model.NewValidationError("entity_id must be a string or a list of strings")
	}
	*e = list
	return nil
}

// Call runs a service from its JSON payload. The payload carries entity_id
// next to the service fields. Only get_schedule returns a result.
func (s *Services) Call(ctx context.Context, service string, payload json.RawMessage) (any, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	var target struct {
		EntityID EntityIDs `json:"entity_id"`
	}
	if err := decode(payload, &target); err != nil {
		return nil, err
	}

	switch service {
	case SetDatetimeService:
		var req struct {
			Datetime *time.Time `json:"datetime"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return nil, s.SetDatetime(ctx, target.EntityID, req.Datetime)

	case GetScheduleService:
		if len(target.EntityID) != 1 {
			return nil, model.NewValidationError("get_schedule takes exactly one entity_id")
		}
		schedule, err := s.GetSchedule(ctx, target.EntityID[0])
		if err != nil {
			return nil, err
		}
		return ScheduleResponse(schedule), nil

	case SetScheduleService:
		var days map[string]json.RawMessage
		if err := decode(payload, &days); err != nil {
			return nil, err
		}
		delete(days, "entity_id")

		schedule := make(climate.SchedulePayload, len(days))
		for name, raw := range days {
			var day climate.DayPayload
			if err := decode(raw, &day); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			schedule[name] = day
		}
		return nil, s.SetSchedule(ctx, target.EntityID, schedule)

	case SetHolidayService:
		var req climate.HolidayPayload
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return nil, s.SetHoliday(ctx, target.EntityID, req)

	default:
		return nil, model.NewValidationError("unknown service %q, must be one of: %v", service, Names)
	}
}

// ScheduleResponse renders a schedule keyed by lower case day name
func ScheduleResponse(schedule model.WeekSchedule) map[string]model.DaySchedule {
	out := make(map[string]model.DaySchedule, len(schedule))
	for day, periods := range schedule {
		out[model.WeekdayName(day)] = periods
	}
	return out
}

func decode(payload json.RawMessage, into any) error {
	if err := json.Unmarshal(payload, into); err != nil {
		var validationErr *model.ValidationError
		if errors.As(err, &validationErr) {
			return err
		}
		return &model.ValidationError{Message: "malformed payload", Err: err}
	}
	return nil
}
