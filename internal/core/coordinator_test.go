package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benvon/cometblue-bridge/internal/devices/simulated"
	"github.com/benvon/cometblue-bridge/pkg/model"
	"github.com/benvon/cometblue-bridge/pkg/retry"
)

const testAddress = "E0:E5:CF:00:00:01"

func testOptions() Options {
	policy := retry.DefaultConfig()
	policy.Delay = time.Millisecond
	return Options{
		Retry:   policy,
		Timeout: time.Second,
	}
}

func newTestCoordinator(t *testing.T, opts Options) (*Coordinator[model.Snapshot], *simulated.Device) {
	t.Helper()
	device := simulated.NewDevice(testAddress)
	return NewCoordinator[model.Snapshot](device, SnapshotStrategy{}, NewMemoryStore[model.Snapshot](), opts), device
}

func TestMergeSnapshot(t *testing.T) {
	t.Parallel()

	holiday := &model.Holiday{End: model.Ptr(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)), Temperature: model.Ptr(16.0)}
	prev := model.Snapshot{
		Battery:     model.Ptr(80),
		CurrentTemp: model.Ptr(19.5),
		ManualTemp:  model.Ptr(21.0),
		Holiday:     holiday,
	}

	tests := []struct {
		name    string
		fetched model.Snapshot
		check   func(t *testing.T, merged model.Snapshot)
	}{
		{
			name:    "empty fetch keeps everything",
			fetched: model.Snapshot{},
			check: func(t *testing.T, merged model.Snapshot) {
				assert.Equal(t, prev, merged)
			},
		},
		{
			name:    "fetched values win",
			fetched: model.Snapshot{CurrentTemp: model.Ptr(20.0), Battery: model.Ptr(75)},
			check: func(t *testing.T, merged model.Snapshot) {
				assert.Equal(t, 20.0, *merged.CurrentTemp)
				assert.Equal(t, 75, *merged.Battery)
				assert.Equal(t, 21.0, *merged.ManualTemp)
				assert.Same(t, holiday, merged.Holiday)
			},
		},
		{
			name:    "new attribute appears",
			fetched: model.Snapshot{TempOffset: model.Ptr(-1.0)},
			check: func(t *testing.T, merged model.Snapshot) {
				assert.Equal(t, -1.0, *merged.TempOffset)
				assert.Equal(t, 80, *merged.Battery)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, MergeSnapshot(prev, tt.fetched))
		})
	}
}

func TestCoordinator_RefreshSuccess(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	device.SetHolidayState(1, model.Holiday{Temperature: model.Ptr(15.0)})

	var notified []model.Snapshot
	cancel := c.Subscribe(func(s model.Snapshot) { notified = append(notified, s) })
	defer cancel()

	snapshot, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, simulated.DefaultManualTemp, *snapshot.ManualTemp)
	assert.Equal(t, simulated.DefaultCurrentTemp, *snapshot.CurrentTemp)
	assert.Equal(t, simulated.DefaultBattery, *snapshot.Battery)
	assert.Equal(t, 15.0, *snapshot.Holiday.Temperature)
	require.NotNil(t, snapshot.Datetime)

	assert.Equal(t, 0, c.FailureCount())
	assert.NoError(t, c.LastError())
	assert.False(t, c.LastUpdate().IsZero())
	assert.True(t, c.Available())
	assert.False(t, device.Connected(), "session must be released after refresh")

	require.Len(t, notified, 1)
	assert.Equal(t, snapshot, notified[0])
	assert.Equal(t, snapshot, c.Snapshot())

	stored, found, err := c.store.Load(context.Background(), testAddress)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, snapshot, stored)
}

func TestCoordinator_RefreshRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	device.FailNext(simulated.OpGetTemperatures, model.ErrTimeout, model.ErrInvalidByteValue)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, device.Calls(simulated.OpGetTemperatures))
	assert.Equal(t, 3, device.Calls(simulated.OpConnect))
	assert.Equal(t, 0, c.FailureCount())
}

func TestCoordinator_RefreshRetriesConnectFailure(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	device.FailNext(simulated.OpConnect, errors.New("le-connection-abort-by-local"))

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, device.Calls(simulated.OpConnect))
	assert.Equal(t, 1, device.Calls(simulated.OpGetTemperatures))
}

func TestCoordinator_RefreshFailurePreservesSnapshot(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	ctx := context.Background()

	before, err := c.Refresh(ctx)
	require.NoError(t, err)

	device.FailAlways(simulated.OpGetTemperatures, model.ErrTimeout)

	for i := 1; i <= 3; i++ {
		after, err := c.Refresh(ctx)
		require.Error(t, err)

		var updateErr *model.UpdateFailedError
		require.ErrorAs(t, err, &updateErr)
		assert.Equal(t, 3, updateErr.Attempts)
		assert.ErrorIs(t, err, model.ErrTimeout)

		assert.Equal(t, before, after)
		assert.Equal(t, before, c.Snapshot())
		assert.Equal(t, i, c.FailureCount(), "failure counter increments on every failed cycle")
	}

	// Three attempts per cycle, three cycles, plus the first success
	assert.Equal(t, 10, device.Calls(simulated.OpGetTemperatures))
	assert.False(t, c.Available(), "device is unavailable once failures reach the retry budget")
	assert.Error(t, c.LastError())

	device.Clear()
	_, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, c.FailureCount())
	assert.True(t, c.Available())
}

func TestCoordinator_FailureCounterResetsOnlyOnMandatorySuccess(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	ctx := context.Background()

	device.FailAlways(simulated.OpGetTemperatures, model.ErrTransport)
	_, err := c.Refresh(ctx)
	require.Error(t, err)
	require.Equal(t, 1, c.FailureCount())

	// Optional groups failing while temperatures succeed still resets
	device.Clear()
	device.FailAlways(simulated.OpGetBattery, model.ErrInvalidByteValue)
	device.FailAlways(simulated.OpGetHoliday, model.ErrTimeout)
	snapshot, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, c.FailureCount())
	assert.Nil(t, snapshot.Battery)
	assert.Equal(t, 1, device.Calls(simulated.OpGetBattery), "optional groups are not retried")
}

func TestCoordinator_OptionalFailureKeepsPreviousValues(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	ctx := context.Background()

	_, err := c.Refresh(ctx)
	require.NoError(t, err)

	device.SetBatteryState(40)
	device.FailNext(simulated.OpGetBattery, model.ErrInvalidByteValue)
	device.SetTemperaturesState(model.Temperatures{CurrentTemp: 18, ManualTemp: 7.5, TargetTempLow: 16, TargetTempHigh: 22})

	snapshot, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, simulated.DefaultBattery, *snapshot.Battery, "battery keeps its stale value")
	assert.Equal(t, 7.5, *snapshot.ManualTemp)

	snapshot, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, *snapshot.Battery)
}

func TestCoordinator_NonTransientErrorStopsRefresh(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	device.FailAlways(simulated.OpGetTemperatures, errors.New("unexpected characteristic layout"))

	_, err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, device.Calls(simulated.OpGetTemperatures))
	assert.Equal(t, 1, c.FailureCount())
}

func TestCoordinator_RefreshIsIdempotent(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, testOptions())
	ctx := context.Background()

	first, err := c.Refresh(ctx)
	require.NoError(t, err)
	second, err := c.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCoordinator_SendCommandRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	device.FailAlways(simulated.OpSetTemperatures, model.ErrTimeout)

	_, err := c.SendCommand(context.Background(), SetTemperatureCommand{Values: model.TemperatureWrite{ManualTemp: 20}}, "climate.living_room")
	require.Error(t, err)

	var cmdErr *model.CommandFailedError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, OpSetTemperature, cmdErr.Operation)
	assert.Equal(t, "climate.living_room", cmdErr.Caller)
	assert.ErrorIs(t, err, model.ErrTimeout)
	assert.False(t, errors.Is(err, model.ErrValidation))

	assert.Equal(t, 3, device.Calls(simulated.OpSetTemperatures))
}

func TestCoordinator_SendCommandValidationIsNotRetried(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	ctx := context.Background()

	_, err := c.SendCommand(ctx, SetTemperatureCommand{Values: model.TemperatureWrite{ManualTemp: 35}}, "climate.living_room")
	require.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, 0, device.Calls(simulated.OpConnect))

	// A value the driver refuses to encode is a caller error too
	bad := SetWeekdaysCommand{Schedule: model.WeekSchedule{time.Monday: {{Start: 6*60 + 5, End: 7 * 60}}}}
	_, err = c.SendCommand(ctx, bad, "climate.living_room")
	require.ErrorIs(t, err, model.ErrValidation)
	assert.ErrorIs(t, err, model.ErrInvalidValue)
	assert.Equal(t, 1, device.Calls(simulated.OpSetWeekdays))
}

func TestCoordinator_SendCommandDoesNotTouchSnapshot(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	ctx := context.Background()

	before, err := c.Refresh(ctx)
	require.NoError(t, err)

	_, err = c.SendCommand(ctx, SetTemperatureCommand{Values: model.TemperatureWrite{ManualTemp: 25}}, "number.offset")
	require.NoError(t, err)
	assert.Equal(t, before, c.Snapshot())
	assert.Len(t, device.Writes(), 1)

	after, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25.0, *after.ManualTemp)
}

func TestCoordinator_SendCommandReturnsResult(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, testOptions())
	ctx := context.Background()

	schedule := model.WeekSchedule{time.Tuesday: {{Start: 6 * 60, End: 8 * 60}}}
	_, err := c.SendCommand(ctx, SetWeekdaysCommand{Schedule: schedule}, "climate.office")
	require.NoError(t, err)

	result, err := c.SendCommand(ctx, GetWeekdaysCommand{}, "climate.office")
	require.NoError(t, err)
	week, ok := result.(model.WeekSchedule)
	require.True(t, ok)
	assert.Equal(t, schedule[time.Tuesday], week[time.Tuesday])
}

func TestCoordinator_SessionsAreSerialized(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.Refresh(ctx)
		}()
		go func() {
			defer wg.Done()
			_, _ = c.SendCommand(ctx, SetTemperatureCommand{Values: model.TemperatureWrite{ManualTemp: 21}}, "climate.test")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, device.MaxConcurrentSessions())
	assert.Equal(t, 20, device.Calls(simulated.OpConnect))
}

func TestCoordinator_AvailabilityRequiresPresence(t *testing.T) {
	t.Parallel()

	present := true
	opts := testOptions()
	opts.Presence = model.PresenceFunc(func(string) bool { return present })
	c, _ := newTestCoordinator(t, opts)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, c.Available())

	present = false
	assert.False(t, c.Available())

	err = c.FirstRefresh(context.Background())
	assert.ErrorIs(t, err, model.ErrDeviceNotFound)
}

func TestCoordinator_FirstRefresh(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	device.FailAlways(simulated.OpConnect, model.ErrTimeout)

	err := c.FirstRefresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTimeout)

	device.Clear()
	require.NoError(t, c.FirstRefresh(context.Background()))
}

func TestCoordinator_Restore(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore[model.Snapshot]()
	stored := model.Snapshot{ManualTemp: model.Ptr(19.0), Battery: model.Ptr(12)}
	require.NoError(t, store.Save(context.Background(), testAddress, stored))

	device := simulated.NewDevice(testAddress)
	c := NewCoordinator[model.Snapshot](device, SnapshotStrategy{}, store, testOptions())
	require.NoError(t, c.Restore(context.Background()))
	assert.Equal(t, stored, c.Snapshot())

	// The device does not report a battery level; the restored one stays
	device.FailAlways(simulated.OpGetBattery, model.ErrTimeout)
	snapshot, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, *snapshot.Battery)
	assert.Equal(t, simulated.DefaultManualTemp, *snapshot.ManualTemp)
}

func TestCoordinator_RunServesRefreshRequests(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.PollInterval = time.Hour
	c, _ := newTestCoordinator(t, opts)

	refreshed := make(chan model.Snapshot, 4)
	defer c.Subscribe(func(s model.Snapshot) { refreshed <- s })()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.RequestRefresh()
	c.RequestRefresh()

	select {
	case s := <-refreshed:
		assert.NotNil(t, s.ManualTemp)
	case <-time.After(2 * time.Second):
		t.Fatal("Refresh request was not served")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestCoordinator_SubscribeCancel(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, testOptions())

	calls := 0
	cancel := c.Subscribe(func(model.Snapshot) { calls++ })
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	cancel()
	_, err = c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestCoordinator_SubscribersNotifiedOnFailure(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	var available []bool
	cancel := c.Subscribe(func(model.Snapshot) { available = append(available, c.Available()) })
	defer cancel()

	device.FailAlways(simulated.OpGetTemperatures, model.ErrTimeout)
	for i := 0; i < c.opts.Retry.Attempts; i++ {
		_, err := c.Refresh(context.Background())
		require.Error(t, err)
	}

	require.Len(t, available, c.opts.Retry.Attempts)
	assert.True(t, available[0])
	assert.False(t, available[len(available)-1])
}

func TestCoordinator_DeviceInfo(t *testing.T) {
	t.Parallel()

	c, device := newTestCoordinator(t, testOptions())
	assert.Equal(t, model.DeviceInfo{Address: testAddress}, c.DeviceInfo())

	device.FailAlways(simulated.OpGetTemperatures, model.ErrTimeout)
	_, err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.Empty(t, c.DeviceInfo().Model)

	device.Clear()
	_, err = c.Refresh(context.Background())
	require.NoError(t, err)

	info := c.DeviceInfo()
	assert.Equal(t, "EUROtronic GmbH", info.Manufacturer)
	assert.Equal(t, "Comet Blue (simulated)", info.Model)
	assert.Equal(t, "0.0.10", info.SWVersion)
}

func TestCoordinator_MetricsRecorded(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.Metrics = NewMetricsCollector()
	opts.Name = "Living Room"
	c, device := newTestCoordinator(t, opts)
	ctx := context.Background()

	_, _ = c.Refresh(ctx)
	device.FailAlways(simulated.OpGetTemperatures, model.ErrTimeout)
	_, _ = c.Refresh(ctx)
	_, _ = c.SendCommand(ctx, SetDatetimeCommand{Time: time.Now()}, "climate.living_room")

	devices := opts.Metrics.GetMetrics()["devices"].(map[string]any)
	living := devices["Living Room"].(map[string]any)
	assert.Equal(t, int64(1), living["refreshes_total"])
	assert.Equal(t, int64(1), living["refresh_errors_total"])
	assert.Equal(t, int64(1), living["commands"].(map[string]int64)[OpSetDatetime])
}
