// Package handlers exposes the thermostats over a JSON HTTP API
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/benvon/cometblue-bridge/internal/climate"
	"github.com/benvon/cometblue-bridge/internal/core"
	"github.com/benvon/cometblue-bridge/internal/services"
	"github.com/benvon/cometblue-bridge/pkg/model"
)

// maxBodySize bounds request payloads
const maxBodySize = 1 << 16

// Response represents a standard API response
type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Path      string      `json:"path"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	RequestID string    `json:"request_id,omitempty"`
}

// Handler serves the HTTP API
type Handler struct {
	registry *services.Registry
	services *services.Services
	health   *core.HealthChecker
	metrics  *core.MetricsCollector
	log      *zap.SugaredLogger
}

// NewHandler creates the API handler
func NewHandler(registry *services.Registry, svc *services.Services, health *core.HealthChecker, metrics *core.MetricsCollector, log *zap.SugaredLogger) *Handler {
	return &Handler{
		registry: registry,
		services: svc,
		health:   health,
		metrics:  metrics,
		log:      log,
	}
}

// Router registers all HTTP routes
func (h *Handler) Router() http.Handler {
	router := httprouter.New()

	router.Handler(http.MethodGet, "/healthz", h.health.ServeHealth())
	router.Handler(http.MethodGet, "/metrics", h.metrics.ServeMetrics())

	router.GET("/api/v1/devices", h.listDevices)
	router.GET("/api/v1/devices/:address", h.getDevice)
	router.POST("/api/v1/devices/:address/climate", h.setClimate)
	router.POST("/api/v1/devices/:address/numbers/:key", h.setNumber)
	router.POST("/api/v1/devices/:address/commands/:name", h.sendCommand)
	router.POST("/api/v1/services/:service", h.callService)
	router.GET("/api/v1/ws", h.wsConnect)

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendErrorResponse(w, r, http.StatusNotFound, "Endpoint not found")
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendErrorResponse(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return h.withRequestID(router)
}

// DeviceView is the API representation of one thermostat
type DeviceView struct {
	EntityID     string             `json:"entity_id"`
	Name         string             `json:"name"`
	Address      string             `json:"address"`
	Available    bool               `json:"available"`
	FailureCount int                `json:"failure_count"`
	LastUpdate   *time.Time         `json:"last_update,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	DeviceInfo   model.DeviceInfo   `json:"device_info"`
	Climate      climate.State      `json:"climate"`
	Numbers      map[string]float64 `json:"numbers"`
	Sensors      map[string]float64 `json:"sensors"`
	Snapshot     model.Snapshot     `json:"snapshot"`
}

// NewDeviceView derives the view of entry from one snapshot
func NewDeviceView(entry *services.Entry) DeviceView {
	t := entry.Thermostat
	s := t.Snapshot()

	view := DeviceView{
		EntityID:     entry.EntityID(),
		Name:         t.Name(),
		Address:      t.Address(),
		Available:    t.Available(),
		FailureCount: t.FailureCount(),
		DeviceInfo:   t.DeviceInfo(),
		Climate:      climate.StateOf(entry.EntityID(), s),
		Numbers:      make(map[string]float64),
		Sensors:      make(map[string]float64),
		Snapshot:     s,
	}
	if last := t.LastUpdate(); !last.IsZero() {
		view.LastUpdate = &last
	}
	if err := t.LastError(); err != nil {
		view.LastError = err.Error()
	}
	for _, desc := range climate.Numbers {
		if v := desc.Value(s); v != nil {
			view.Numbers[desc.Key] = *v
		}
	}
	for _, desc := range climate.Sensors {
		if v := desc.Value(s); v != nil {
			view.Sensors[desc.Key] = *v
		}
	}
	return view
}

func (h *Handler) deviceViews() []DeviceView {
	entries := h.registry.Entries()
	views := make([]DeviceView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, NewDeviceView(entry))
	}
	return views
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sendData(w, r, http.StatusOK, "", h.deviceViews())
}

// entry resolves the :address parameter and answers 404 when it is unknown
func (h *Handler) entry(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (*services.Entry, bool) {
	entry, ok := h.registry.ByAddress(ps.ByName("address"))
	if !ok {
		sendErrorResponse(w, r, http.StatusNotFound, "Device not found")
	}
	return entry, ok
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	entry, ok := h.entry(w, r, ps)
	if !ok {
		return
	}
	sendData(w, r, http.StatusOK, "", NewDeviceView(entry))
}

// ClimateRequest changes exactly one aspect of the climate entity
type ClimateRequest struct {
	HVACMode   *climate.HVACMode `json:"hvac_mode,omitempty"`
	PresetMode *string           `json:"preset_mode,omitempty"`
	climate.TemperatureRequest
}

func (h *Handler) setClimate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	entry, ok := h.entry(w, r, ps)
	if !ok {
		return
	}

	var req ClimateRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendError(w, r, err)
		return
	}

	hasTemperature := req.Temperature != nil || req.TargetTempLow != nil || req.TargetTempHigh != nil
	var err error
	switch {
	case req.HVACMode != nil && req.PresetMode == nil && !hasTemperature:
		err = entry.Climate.SetHVACMode(r.Context(), *req.HVACMode)
	case req.PresetMode != nil && req.HVACMode == nil && !hasTemperature:
		err = entry.Climate.SetPresetMode(r.Context(), *req.PresetMode)
	case hasTemperature && req.HVACMode == nil && req.PresetMode == nil:
		err = entry.Climate.SetTemperature(r.Context(), req.TemperatureRequest)
	default:
		err = model.NewValidationError("set exactly one of hvac_mode, preset_mode or temperatures")
	}
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	sendData(w, r, http.StatusAccepted, "Command sent, refresh requested", NewDeviceView(entry))
}

func (h *Handler) setNumber(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	entry, ok := h.entry(w, r, ps)
	if !ok {
		return
	}
	number, ok := entry.Numbers[ps.ByName("key")]
	if !ok {
		sendErrorResponse(w, r, http.StatusNotFound, "Number not found")
		return
	}

	var req struct {
		Value *float64 `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.sendError(w, r, err)
		return
	}
	if req.Value == nil {
		h.sendError(w, r, model.NewValidationError("value is required"))
		return
	}

	if err := number.SetValue(r.Context(), *req.Value); err != nil {
		h.sendError(w, r, err)
		return
	}
	sendData(w, r, http.StatusAccepted, "Command sent, refresh requested", nil)
}

func (h *Handler) sendCommand(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	entry, ok := h.entry(w, r, ps)
	if !ok {
		return
	}

	payload, err := readBody(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	cmd, err := core.CommandByName(ps.ByName("name"), payload)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	result, err := entry.Thermostat.SendCommand(r.Context(), cmd, "http/"+RequestID(r.Context()))
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	if schedule, ok := result.(model.WeekSchedule); ok {
		sendData(w, r, http.StatusOK, "", services.ScheduleResponse(schedule))
		return
	}
	entry.Thermostat.RequestRefresh()
	sendData(w, r, http.StatusAccepted, "Command sent, refresh requested", result)
}

func (h *Handler) callService(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	payload, err := readBody(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	result, err := h.services.Call(r.Context(), ps.ByName("service"), payload)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendData(w, r, http.StatusOK, "", result)
}

func readBody(r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, &model.ValidationError{Message: "reading body", Err: err}
	}
	return body, nil
}

func decodeBody(r *http.Request, into any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return model.NewValidationError("request body is required")
	}
	if err := json.Unmarshal(body, into); err != nil {
		return &model.ValidationError{Message: "malformed payload", Err: err}
	}
	return nil
}

// statusOf maps the error taxonomy onto HTTP status codes
func statusOf(err error) int {
	var (
		commandFailed *model.CommandFailedError
		updateFailed  *model.UpdateFailedError
	)
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.As(err, &commandFailed), errors.As(err, &updateFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.Errorw("Request failed", "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
	} else {
		h.log.Infow("Request rejected", "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
	}
	sendErrorResponse(w, r, status, err.Error())
}

// sendJSONResponse sends a JSON response with the given status code and data
func sendJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func sendData(w http.ResponseWriter, r *http.Request, statusCode int, message string, data interface{}) {
	sendJSONResponse(w, statusCode, Response{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		Path:      r.URL.Path,
		RequestID: RequestID(r.Context()),
	})
}

// sendErrorResponse sends an error response with the given status code and message
func sendErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	sendJSONResponse(w, statusCode, ErrorResponse{
		Success:   false,
		Error:     http.StatusText(statusCode),
		Message:   message,
		Timestamp: time.Now(),
		Path:      r.URL.Path,
		RequestID: RequestID(r.Context()),
	})
}
