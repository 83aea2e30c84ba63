// Package cometblue drives Eurotronic Comet Blue thermostats over BLE GATT.
package cometblue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"go.uber.org/zap"

	"github.com/benvon/cometblue-bridge/pkg/model"
)

// gattClient is the part of ble.Client the driver needs
type gattClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
}

// DeviceFactory creates the host adapter (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

// Dial connects to a peripheral through the default adapter (can be
// overridden in tests)
var Dial = func(ctx context.Context, address string) (gattClient, error) {
	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return client, nil
}

var (
	adapterOnce sync.Once
	adapterErr  error
)

// InitAdapter opens the host Bluetooth adapter once per process
func InitAdapter() error {
	adapterOnce.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			adapterErr = fmt.Errorf("opening bluetooth adapter: %w", NormalizeError(err))
			return
		}
		ble.SetDefaultDevice(dev)
	})
	return adapterErr
}

// NormalizeError maps go-ble errors onto the model error taxonomy.
// Everything the radio reports is transient.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", model.ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return fmt.Errorf("%w: %v", model.ErrTimeout, err)
	case strings.Contains(msg, "not connected") || strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", model.ErrNotConnected, err)
	default:
		return fmt.Errorf("%w: %v", model.ErrTransport, err)
	}
}

// Device is a Comet Blue thermostat reached over BLE. It implements
// model.Device. Callers serialize access; the coordinator does.
type Device struct {
	address  string
	pin      uint32
	location *time.Location
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	client  gattClient
	profile *ble.Profile
}

// NewDevice creates a driver for the thermostat at address
func NewDevice(address string, pin uint32, logger *zap.SugaredLogger) *Device {
	return &Device{
		address:  strings.ToUpper(address),
		pin:      pin,
		location: time.Local,
		logger:   logger.With("address", strings.ToUpper(address)),
	}
}

// Address implements model.Device
func (d *Device) Address() string { return d.address }

// Connect dials the thermostat, discovers its characteristics and
// authenticates with the PIN.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return nil
	}

	d.logger.Debug("Connecting")
	client, err := Dial(ctx, d.address)
	if err != nil {
		return NormalizeError(err)
	}

	profile, err := call(ctx, func() (*ble.Profile, error) { return client.DiscoverProfile(true) })
	if err != nil {
		_ = client.CancelConnection()
		return fmt.Errorf("discovering services: %w", err)
	}

	d.client = client
	d.profile = profile

	if err := d.write(ctx, characteristicUUID(charPIN), EncodePIN(d.pin)); err != nil {
		_ = d.closeLocked()
		return fmt.Errorf("sending pin: %w", err)
	}
	return nil
}

// Disconnect implements model.Device
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked()
}

func (d *Device) closeLocked() error {
	if d.client == nil {
		return nil
	}
	err := d.client.CancelConnection()
	d.client = nil
	d.profile = nil
	return NormalizeError(err)
}

// Connected implements model.Device
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client != nil
}

// call runs a blocking GATT operation and gives up when ctx is done.
// go-ble has no cancellation for single requests; the connection is
// cancelled on Disconnect which unblocks the request.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.value, NormalizeError(r.err)
	case <-ctx.Done():
		var zero T
		return zero, NormalizeError(ctx.Err())
	}
}

func (d *Device) characteristic(uuid string) (*ble.Characteristic, error) {
	if d.client == nil || d.profile == nil {
		return nil, model.ErrNotConnected
	}
	c := d.profile.FindCharacteristic(ble.NewCharacteristic(ble.MustParse(uuid)))
	if c == nil {
		return nil, fmt.Errorf("%w: characteristic %s not found", model.ErrTransport, uuid)
	}
	return c, nil
}

func (d *Device) read(ctx context.Context, uuid string) ([]byte, error) {
	c, err := d.characteristic(uuid)
	if err != nil {
		return nil, err
	}
	client := d.client
	return call(ctx, func() ([]byte, error) { return client.ReadCharacteristic(c) })
}

func (d *Device) write(ctx context.Context, uuid string, value []byte) error {
	c, err := d.characteristic(uuid)
	if err != nil {
		return err
	}
	client := d.client
	_, err = call(ctx, func() (struct{}, error) { return struct{}{}, client.WriteCharacteristic(c, value, false) })
	return err
}

func (d *Device) readLocked(ctx context.Context, uuid string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read(ctx, uuid)
}

func (d *Device) writeLocked(ctx context.Context, uuid string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(ctx, uuid, value)
}

// DeviceInfo implements model.Device. Strings that cannot be read are left empty.
func (d *Device) DeviceInfo(ctx context.Context) (model.DeviceInfo, error) {
	info := model.DeviceInfo{Address: d.address, Name: "Comet Blue"}
	for uuid, field := range map[string]*string{
		ManufacturerUUID: &info.Manufacturer,
		ModelUUID:        &info.Model,
		FirmwareUUID:     &info.SWVersion,
	} {
		b, err := d.readLocked(ctx, uuid)
		if err != nil {
			d.logger.Debugw("Failed to read device information", "uuid", uuid, "error", err)
			continue
		}
		*field = strings.TrimRight(string(b), "\x00")
	}
	return info, nil
}

// GetTemperatures implements model.Device
func (d *Device) GetTemperatures(ctx context.Context) (model.Temperatures, error) {
	b, err := d.readLocked(ctx, characteristicUUID(charTemperatures))
	if err != nil {
		return model.Temperatures{}, err
	}
	return DecodeTemperatures(b)
}

// GetBattery implements model.Device
func (d *Device) GetBattery(ctx context.Context) (int, error) {
	b, err := d.readLocked(ctx, characteristicUUID(charBattery))
	if err != nil {
		return 0, err
	}
	return DecodeBattery(b)
}

// GetHoliday implements model.Device
func (d *Device) GetHoliday(ctx context.Context, slot int) (model.Holiday, error) {
	if slot < 1 || slot > 8 {
		return model.Holiday{}, fmt.Errorf("%w: holiday slot %d", model.ErrInvalidValue, slot)
	}
	b, err := d.readLocked(ctx, holidayUUID(slot))
	if err != nil {
		return model.Holiday{}, err
	}
	return DecodeHoliday(b, d.location)
}

// GetDatetime implements model.Device
func (d *Device) GetDatetime(ctx context.Context) (time.Time, error) {
	b, err := d.readLocked(ctx, characteristicUUID(charDatetime))
	if err != nil {
		return time.Time{}, err
	}
	return DecodeDatetime(b, d.location)
}

// GetWeekdays implements model.Device
func (d *Device) GetWeekdays(ctx context.Context) (model.WeekSchedule, error) {
	schedule := make(model.WeekSchedule, len(model.Weekdays))
	for _, day := range model.Weekdays {
		b, err := d.readLocked(ctx, weekdayUUID(day))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", model.WeekdayName(day), err)
		}
		periods, err := DecodeDay(b)
		if err != nil {
			return nil, err
		}
		schedule[day] = periods
	}
	return schedule, nil
}

// SetTemperatures implements model.Device
func (d *Device) SetTemperatures(ctx context.Context, values model.TemperatureWrite) error {
	b, err := EncodeTemperatures(values)
	if err != nil {
		return err
	}
	return d.writeLocked(ctx, characteristicUUID(charTemperatures), b)
}

// SetDatetime implements model.Device
func (d *Device) SetDatetime(ctx context.Context, t time.Time) error {
	b, err := EncodeDatetime(t, d.location)
	if err != nil {
		return err
	}
	return d.writeLocked(ctx, characteristicUUID(charDatetime), b)
}

// SetWeekdays implements model.Device. Every day is encoded before the
// first write so a bad day leaves the device untouched.
func (d *Device) SetWeekdays(ctx context.Context, values model.WeekSchedule) error {
	days := values.Days()
	payloads := make([][]byte, len(days))
	for i, day := range days {
		b, err := EncodeDay(values[day])
		if err != nil {
			return fmt.Errorf("%s: %w", model.WeekdayName(day), err)
		}
		payloads[i] = b
	}

	for i, day := range days {
		if err := d.writeLocked(ctx, weekdayUUID(day), payloads[i]); err != nil {
			return fmt.Errorf("writing %s: %w", model.WeekdayName(day), err)
		}
	}
	return nil
}

// SetHoliday implements model.Device
func (d *Device) SetHoliday(ctx context.Context, slot int, values model.Holiday) error {
	if slot < 1 || slot > 8 {
		return fmt.Errorf("%w: holiday slot %d", model.ErrInvalidValue, slot)
	}
	b, err := EncodeHoliday(values, d.location)
	if err != nil {
		return err
	}
	return d.writeLocked(ctx, holidayUUID(slot), b)
}
