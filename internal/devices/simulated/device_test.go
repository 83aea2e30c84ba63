package simulated

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benvon/cometblue-bridge/pkg/model"
)

func TestDevice_RequiresConnection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewDevice("AA:BB:CC:DD:EE:01")

	_, err := d.GetTemperatures(ctx)
	require.ErrorIs(t, err, model.ErrNotConnected)

	require.NoError(t, d.Connect(ctx))
	assert.True(t, d.Connected())

	temps, err := d.GetTemperatures(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultManualTemp, temps.ManualTemp)

	require.NoError(t, d.Disconnect())
	assert.False(t, d.Connected())
	assert.Equal(t, 1, d.MaxConcurrentSessions())
}

func TestDevice_FaultInjection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewDevice("AA:BB:CC:DD:EE:02")
	require.NoError(t, d.Connect(ctx))

	d.FailNext(OpGetBattery, model.ErrTimeout, model.ErrInvalidByteValue)
	_, err := d.GetBattery(ctx)
	assert.ErrorIs(t, err, model.ErrTimeout)
	_, err = d.GetBattery(ctx)
	assert.ErrorIs(t, err, model.ErrInvalidByteValue)
	battery, err := d.GetBattery(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultBattery, battery)
	assert.Equal(t, 3, d.Calls(OpGetBattery))

	d.FailAlways(OpGetHoliday, model.ErrTransport)
	for i := 0; i < 3; i++ {
		_, err := d.GetHoliday(ctx, 1)
		assert.True(t, errors.Is(err, model.ErrTransport))
	}
	d.Clear()
	_, err = d.GetHoliday(ctx, 1)
	assert.NoError(t, err)
}

func TestDevice_Writes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewDevice("AA:BB:CC:DD:EE:03")
	require.NoError(t, d.Connect(ctx))

	require.NoError(t, d.SetTemperatures(ctx, model.TemperatureWrite{
		ManualTemp:    19,
		TargetTempLow: model.Ptr(16.5),
	}))
	temps, err := d.GetTemperatures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 19.0, temps.ManualTemp)
	assert.Equal(t, 16.5, temps.TargetTempLow)
	assert.Equal(t, DefaultTargetTempHigh, temps.TargetTempHigh)
	assert.Len(t, d.Writes(), 1)

	err = d.SetTemperatures(ctx, model.TemperatureWrite{ManualTemp: 19.2})
	assert.ErrorIs(t, err, model.ErrInvalidValue)

	err = d.SetWeekdays(ctx, model.WeekSchedule{time.Monday: {{Start: 6*60 + 5, End: 8 * 60}}})
	assert.ErrorIs(t, err, model.ErrInvalidValue)

	require.NoError(t, d.SetWeekdays(ctx, model.WeekSchedule{time.Monday: {{Start: 6 * 60, End: 8 * 60}}}))
	schedule, err := d.GetWeekdays(ctx)
	require.NoError(t, err)
	assert.Len(t, schedule, 7)
	assert.Equal(t, model.DaySchedule{{Start: 6 * 60, End: 8 * 60}}, schedule[time.Monday])
	assert.Empty(t, schedule[time.Tuesday])

	when := time.Date(2026, time.March, 2, 9, 41, 30, 0, time.UTC)
	require.NoError(t, d.SetDatetime(ctx, when))
	clock, err := d.GetDatetime(ctx)
	require.NoError(t, err)
	assert.Equal(t, when.Truncate(time.Minute), clock)
}
