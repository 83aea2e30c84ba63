package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeDevice struct {
	name       string
	address    string
	available  bool
	failures   int
	lastUpdate time.Time
	lastErr    error
}

func (f *fakeDevice) Name() string          { return f.name }
func (f *fakeDevice) Address() string       { return f.address }
func (f *fakeDevice) Available() bool       { return f.available }
func (f *fakeDevice) FailureCount() int     { return f.failures }
func (f *fakeDevice) LastUpdate() time.Time { return f.lastUpdate }
func (f *fakeDevice) LastError() error      { return f.lastErr }

func TestMetricsCollector(t *testing.T) {
	t.Run("refresh metrics", func(t *testing.T) {
		metrics := NewMetricsCollector()

		// Initially should have no metrics
		devices := metrics.GetMetrics()["devices"].(map[string]any)
		if len(devices) != 0 {
			t.Errorf("Expected no devices initially, got %d", len(devices))
		}

		metrics.RecordRefresh("living_room")
		metrics.RecordRefresh("living_room")
		metrics.RecordRefresh("office")
		metrics.RecordRefreshError("office")

		devices = metrics.GetMetrics()["devices"].(map[string]any)
		if len(devices) != 2 {
			t.Errorf("Expected 2 devices, got %d", len(devices))
		}

		living := devices["living_room"].(map[string]any)
		if living["refreshes_total"] != int64(2) {
			t.Errorf("Expected 2 refreshes, got %v", living["refreshes_total"])
		}
		if _, ok := living["last_refresh_time"]; !ok {
			t.Error("Expected last_refresh_time to be set")
		}

		office := devices["office"].(map[string]any)
		if office["refresh_errors_total"] != int64(1) {
			t.Errorf("Expected 1 refresh error, got %v", office["refresh_errors_total"])
		}
	})

	t.Run("command metrics", func(t *testing.T) {
		metrics := NewMetricsCollector()

		metrics.RecordCommand("living_room", OpSetTemperature)
		metrics.RecordCommand("living_room", OpSetTemperature)
		metrics.RecordCommand("living_room", OpSetHoliday)
		metrics.RecordCommandError("living_room", OpSetHoliday)

		living := metrics.GetMetrics()["devices"].(map[string]any)["living_room"].(map[string]any)
		commands := living["commands"].(map[string]int64)
		if commands[OpSetTemperature] != 2 || commands[OpSetHoliday] != 1 {
			t.Errorf("Unexpected command counts %v", commands)
		}
		errs := living["command_errors"].(map[string]int64)
		if errs[OpSetHoliday] != 1 {
			t.Errorf("Unexpected command errors %v", errs)
		}
	})

	t.Run("serve metrics", func(t *testing.T) {
		metrics := NewMetricsCollector()
		metrics.RecordRefresh("living_room")

		rec := httptest.NewRecorder()
		metrics.ServeMetrics().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", rec.Code)
		}

		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("Metrics output is not JSON: %v", err)
		}
		if _, ok := body["uptime_seconds"]; !ok {
			t.Error("Expected uptime_seconds in output")
		}
	})
}

func TestHealthChecker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		devices    []Monitored
		wantStatus string
		wantCode   int
	}{
		{
			name: "all devices available",
			devices: []Monitored{
				&fakeDevice{name: "Living Room", address: "AA:00:00:00:00:01", available: true, lastUpdate: time.Now()},
				&fakeDevice{name: "Office", address: "AA:00:00:00:00:02", available: true},
			},
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
		},
		{
			name: "one device failing",
			devices: []Monitored{
				&fakeDevice{name: "Living Room", address: "AA:00:00:00:00:01", available: true, failures: 1},
				&fakeDevice{name: "Office", address: "AA:00:00:00:00:02", available: true},
			},
			wantStatus: "degraded",
			wantCode:   http.StatusOK,
		},
		{
			name: "one device unavailable",
			devices: []Monitored{
				&fakeDevice{name: "Living Room", address: "AA:00:00:00:00:01", available: false, failures: 3, lastErr: errors.New("timeout")},
				&fakeDevice{name: "Office", address: "AA:00:00:00:00:02", available: true},
			},
			wantStatus: "degraded",
			wantCode:   http.StatusOK,
		},
		{
			name: "every device unavailable",
			devices: []Monitored{
				&fakeDevice{name: "Living Room", address: "AA:00:00:00:00:01", available: false},
			},
			wantStatus: "unhealthy",
			wantCode:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewHealthChecker(tt.devices...)

			status := checker.CheckHealth(context.Background())
			if status.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, status.Status)
			}
			if len(status.Checks) != len(tt.devices) {
				t.Errorf("Expected %d checks, got %d", len(tt.devices), len(status.Checks))
			}
			if checker.GetStatus().Status != tt.wantStatus {
				t.Error("GetStatus should return the last computed status")
			}

			rec := httptest.NewRecorder()
			checker.ServeHealth().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("Expected HTTP %d, got %d", tt.wantCode, rec.Code)
			}

			var decoded HealthStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
				t.Fatalf("Health output is not JSON: %v", err)
			}
			if decoded.Status != tt.wantStatus {
				t.Errorf("Expected JSON status %s, got %s", tt.wantStatus, decoded.Status)
			}
		})
	}
}

func TestHealthChecker_FailMessage(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{name: "Office", address: "AA:00:00:00:00:02", failures: 3, lastErr: errors.New("timeout")}
	checker := NewHealthChecker()
	checker.Add(device)

	check := checker.CheckHealth(context.Background()).Checks["device_AA:00:00:00:00:02"]
	if check.Status != "fail" {
		t.Errorf("Expected fail, got %s", check.Status)
	}
	if check.Message != "Office is unavailable: timeout" {
		t.Errorf("Unexpected message %q", check.Message)
	}
	if check.FailureCount != 3 {
		t.Errorf("Expected failure count 3, got %d", check.FailureCount)
	}
}
