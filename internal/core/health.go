package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Monitored is the view of a coordinator the health checker needs
type Monitored interface {
	Name() string
	Address() string
	Available() bool
	FailureCount() int
	LastUpdate() time.Time
	LastError() error
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	devices []Monitored
	mu      sync.RWMutex
	status  HealthStatus
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Status       string     `json:"status"` // "pass", "fail", "warn"
	Message      string     `json:"message,omitempty"`
	FailureCount int        `json:"failure_count"`
	LastUpdate   *time.Time `json:"last_update,omitempty"`
	LastChecked  time.Time  `json:"last_checked"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(devices ...Monitored) *HealthChecker {
	return &HealthChecker{
		devices: devices,
		status: HealthStatus{
			Status: "healthy",
			Checks: make(map[string]CheckResult),
		},
	}
}

// Add registers another device
func (h *HealthChecker) Add(device Monitored) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices = append(h.devices, device)
}

// CheckHealth performs all health checks.
// Any unavailable device makes the service degraded; it is unhealthy when
// no device is available at all.
func (h *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	checks := make(map[string]CheckResult, len(h.devices))
	available := 0
	for _, device := range h.devices {
		check := h.checkDevice(device)
		if check.Status != "fail" {
			available++
		}
		checks[fmt.Sprintf("device_%s", device.Address())] = check
	}

	overallStatus := "healthy"
	for _, check := range checks {
		if check.Status != "pass" {
			overallStatus = "degraded"
		}
	}
	if len(h.devices) > 0 && available == 0 {
		overallStatus = "unhealthy"
	}

	h.status = HealthStatus{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Checks:    checks,
	}

	return h.status
}

// GetStatus returns the last computed health status
func (h *HealthChecker) GetStatus() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// checkDevice derives the check result from the coordinator state
func (h *HealthChecker) checkDevice(device Monitored) CheckResult {
	result := CheckResult{
		Status:       "pass",
		Message:      fmt.Sprintf("%s is available", device.Name()),
		FailureCount: device.FailureCount(),
		LastChecked:  time.Now(),
	}
	if last := device.LastUpdate(); !last.IsZero() {
		result.LastUpdate = &last
	}

	switch {
	case !device.Available():
		result.Status = "fail"
		result.Message = fmt.Sprintf("%s is unavailable", device.Name())
		if err := device.LastError(); err != nil {
			result.Message = fmt.Sprintf("%s is unavailable: %v", device.Name(), err)
		}
	case device.FailureCount() > 0:
		result.Status = "warn"
		result.Message = fmt.Sprintf("%s failed %d refresh(es)", device.Name(), device.FailureCount())
	}

	return result
}

// ServeHealth provides an HTTP handler for health checks
func (h *HealthChecker) ServeHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := h.CheckHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")

		switch status.Status {
		case "unhealthy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK) // degraded is still 200
		}

		_ = json.NewEncoder(w).Encode(status)
	})
}

// MetricsCollector provides basic metrics collection
type MetricsCollector struct {
	mu sync.RWMutex

	refreshes       map[string]int64
	refreshErrors   map[string]int64
	lastRefresh     map[string]time.Time
	commands        map[string]map[string]int64
	commandErrors   map[string]map[string]int64
	lastCommandTime map[string]time.Time

	startTime time.Time
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		refreshes:       make(map[string]int64),
		refreshErrors:   make(map[string]int64),
		lastRefresh:     make(map[string]time.Time),
		commands:        make(map[string]map[string]int64),
		commandErrors:   make(map[string]map[string]int64),
		lastCommandTime: make(map[string]time.Time),
		startTime:       time.Now(),
	}
}

// RecordRefresh records a successful refresh
func (m *MetricsCollector) RecordRefresh(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshes[device]++
	m.lastRefresh[device] = time.Now()
}

// RecordRefreshError records a failed refresh
func (m *MetricsCollector) RecordRefreshError(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshErrors[device]++
}

// RecordCommand records a command sent to a device
func (m *MetricsCollector) RecordCommand(device, operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	increment(m.commands, device, operation)
	m.lastCommandTime[device] = time.Now()
}

// RecordCommandError records a failed command
func (m *MetricsCollector) RecordCommandError(device, operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	increment(m.commandErrors, device, operation)
}

func increment(counters map[string]map[string]int64, device, operation string) {
	if counters[device] == nil {
		counters[device] = make(map[string]int64)
	}
	counters[device][operation]++
}

// GetMetrics returns current metrics
func (m *MetricsCollector) GetMetrics() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := make(map[string]any)
	names := make(map[string]bool)
	for name := range m.refreshes {
		names[name] = true
	}
	for name := range m.refreshErrors {
		names[name] = true
	}
	for name := range m.commands {
		names[name] = true
	}

	for name := range names {
		device := map[string]any{
			"refreshes_total":      m.refreshes[name],
			"refresh_errors_total": m.refreshErrors[name],
			"commands":             copyCounters(m.commands[name]),
			"command_errors":       copyCounters(m.commandErrors[name]),
		}
		if last, ok := m.lastRefresh[name]; ok {
			device["last_refresh_time"] = last.Format(time.RFC3339)
		}
		if last, ok := m.lastCommandTime[name]; ok {
			device["last_command_time"] = last.Format(time.RFC3339)
		}
		devices[name] = device
	}

	return map[string]any{
		"uptime_seconds": time.Since(m.startTime).Seconds(),
		"devices":        devices,
	}
}

func copyCounters(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// ServeMetrics provides an HTTP handler for metrics
func (m *MetricsCollector) ServeMetrics() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(m.GetMetrics())
	})
}
