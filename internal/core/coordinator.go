package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/benvon/cometblue-bridge/pkg/model"
	"github.com/benvon/cometblue-bridge/pkg/retry"
)

// DefaultPollInterval is the refresh period of a device
const DefaultPollInterval = 5 * time.Minute

// Options configures a Coordinator
type Options struct {
	// Name is used in logs and metrics. Defaults to the device address.
	Name string
	// Retry is the attempt budget shared by refreshes and commands
	Retry retry.Config
	// Timeout bounds a single attempt, connect included. Zero disables it.
	Timeout time.Duration
	// PollInterval is the period of the Run loop
	PollInterval time.Duration
	// Presence reports whether the device is visible on the radio
	Presence model.PresenceChecker
	// Metrics is optional
	Metrics *MetricsCollector
	Logger  *zap.SugaredLogger
}

// Coordinator owns the connection to one device. It refreshes a cached value
// of type T on a schedule, mediates writes and tracks consecutive failures.
type Coordinator[T any] struct {
	device   model.Device
	strategy Strategy[T]
	store    Store[T]
	opts     Options
	logger   *zap.SugaredLogger

	// session serializes every connection to the device
	session sync.Mutex

	mu          sync.RWMutex
	value       T
	failures    int
	lastUpdate  time.Time
	lastErr     error
	info        *model.DeviceInfo
	subscribers map[int]func(T)
	nextSubID   int

	refreshRequests chan struct{}
}

// NewCoordinator creates a coordinator for device.
// store may be nil when nothing needs to survive a restart.
func NewCoordinator[T any](device model.Device, strategy Strategy[T], store Store[T], opts Options) *Coordinator[T] {
	if opts.Name == "" {
		opts.Name = device.Address()
	}
	if opts.Retry.Attempts < 1 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Presence == nil {
		opts.Presence = model.AlwaysPresent
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	return &Coordinator[T]{
		device:          device,
		strategy:        strategy,
		store:           store,
		opts:            opts,
		logger:          opts.Logger.With("device", opts.Name, "address", device.Address()),
		subscribers:     make(map[int]func(T)),
		refreshRequests: make(chan struct{}, 1),
	}
}

// Restore seeds the cached value from the store
func (c *Coordinator[T]) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	value, found, err := c.store.Load(ctx, c.device.Address())
	if err != nil {
		return fmt.Errorf("loading stored snapshot: %w", err)
	}
	if !found {
		return nil
	}

	c.mu.Lock()
	c.value = value
	c.mu.Unlock()

	c.logger.Debug("Restored stored snapshot")
	return nil
}

// Address returns the device address
func (c *Coordinator[T]) Address() string {
	return c.device.Address()
}

// Name returns the display name of the device
func (c *Coordinator[T]) Name() string {
	return c.opts.Name
}

// Device returns the underlying driver
func (c *Coordinator[T]) Device() model.Device {
	return c.device
}

// withSession connects, runs fn and disconnects. Only one session is open
// at a time; the attempt timeout covers connect and fn.
func (c *Coordinator[T]) withSession(ctx context.Context, fn func(ctx context.Context) error) error {
	c.session.Lock()
	defer c.session.Unlock()

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	if err := c.device.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		// Any connect failure is worth another attempt
		return fmt.Errorf("connecting to %s: %w (%w)", c.device.Address(), model.ErrNotConnected, err)
	}
	defer func() {
		if err := c.device.Disconnect(); err != nil {
			c.logger.Debugw("Disconnect failed", "error", err)
		}
	}()

	return fn(ctx)
}

// retryPolicy returns the configured policy with retry logging attached
func (c *Coordinator[T]) retryPolicy(operation string) retry.Config {
	policy := c.opts.Retry
	policy.OnRetry = func(attempt int, err error) {
		c.logger.Infow("Retrying after error",
			"operation", operation,
			"attempt", attempt+1,
			"attempts", policy.Attempts,
			"error", err)
	}
	return policy
}

// Refresh reads the device and merges the result into the cached value.
// The whole cycle is retried on transient errors; on exhaustion the failure
// counter is incremented and the cached value is left untouched.
// Non-transient errors end the cycle early and count toward availability too.
func (c *Coordinator[T]) Refresh(ctx context.Context) (T, error) {
	var fetched T
	attempts := 0

	err := retry.Do(ctx, c.retryPolicy("refresh"), func() error {
		attempts++

		var data T
		err := c.withSession(ctx, func(ctx context.Context) error {
			if err := c.strategy.Mandatory(ctx, c.device, &data); err != nil {
				return err
			}
			for _, optErr := range c.strategy.Optional(ctx, c.device, &data) {
				c.logger.Warnw("Failed to retrieve optional data", "error", optErr)
			}
			c.loadDeviceInfo(ctx)
			return nil
		})
		if err == nil {
			fetched = data
		}
		return err
	})

	if err != nil {
		return c.refreshFailed(attempts, err)
	}

	return c.refreshSucceeded(ctx, fetched), nil
}

func (c *Coordinator[T]) refreshSucceeded(ctx context.Context, fetched T) T {
	c.mu.Lock()
	c.value = c.strategy.Merge(c.value, fetched)
	c.failures = 0
	c.lastUpdate = time.Now()
	c.lastErr = nil
	value := c.value
	subscribers := c.subscribersLocked()
	c.mu.Unlock()

	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordRefresh(c.opts.Name)
	}

	if c.store != nil {
		if err := c.store.Save(ctx, c.device.Address(), value); err != nil {
			c.logger.Warnw("Failed to persist snapshot", "error", err)
		}
	}

	c.logger.Debugw("Received data", "snapshot", value)

	for _, fn := range subscribers {
		fn(value)
	}

	return value
}

func (c *Coordinator[T]) refreshFailed(attempts int, err error) (T, error) {
	last := err
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		last = exhausted.Err
	}
	updateErr := &model.UpdateFailedError{
		Address:  c.device.Address(),
		Attempts: attempts,
		Err:      last,
	}

	c.mu.Lock()
	c.failures++
	c.lastErr = updateErr
	failures := c.failures
	value := c.value
	subscribers := c.subscribersLocked()
	c.mu.Unlock()

	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordRefreshError(c.opts.Name)
	}

	c.logger.Warnw("Refresh failed", "failures", failures, "error", updateErr)

	// Subscribers re-read availability, which may have just changed
	for _, fn := range subscribers {
		fn(value)
	}
	return value, updateErr
}

// loadDeviceInfo reads the device information once, in the first session
// whose mandatory group succeeded. Must be called inside a session.
func (c *Coordinator[T]) loadDeviceInfo(ctx context.Context) {
	c.mu.RLock()
	loaded := c.info != nil
	c.mu.RUnlock()
	if loaded {
		return
	}

	info, err := c.device.DeviceInfo(ctx)
	if err != nil {
		c.logger.Warnw("Failed to read device information", "error", err)
		return
	}

	c.mu.Lock()
	c.info = &info
	c.mu.Unlock()
	c.logger.Infow("Read device information", "manufacturer", info.Manufacturer, "model", info.Model, "sw_version", info.SWVersion)
}

// DeviceInfo returns the device information read in the first successful
// refresh, or only the address before that
func (c *Coordinator[T]) DeviceInfo() model.DeviceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.info == nil {
		return model.DeviceInfo{Address: c.device.Address()}
	}
	return *c.info
}

// subscribersLocked copies the subscriber list. Must be called with c.mu held.
func (c *Coordinator[T]) subscribersLocked() []func(T) {
	subscribers := make([]func(T), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subscribers = append(subscribers, fn)
	}
	return subscribers
}

// FirstRefresh performs the refresh done while setting a device up.
// A failure means the device is not ready yet.
func (c *Coordinator[T]) FirstRefresh(ctx context.Context) error {
	if !c.opts.Presence.Present(c.device.Address()) {
		return fmt.Errorf("%w: %s is not advertising", model.ErrDeviceNotFound, c.device.Address())
	}
	if _, err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("device %s not ready: %w", c.device.Address(), err)
	}
	return nil
}

// SendCommand validates cmd and executes it in a session, retrying transient
// errors. Caller errors are returned at once without touching the device.
// The cached value is not updated; callers request a refresh afterwards.
func (c *Coordinator[T]) SendCommand(ctx context.Context, cmd Command, callerID string) (any, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	c.logger.Debugw("Sending command", "operation", cmd.Name(), "caller", callerID)

	var result any
	err := retry.Do(ctx, c.retryPolicy(cmd.Name()), func() error {
		return c.withSession(ctx, func(ctx context.Context) error {
			r, err := cmd.Execute(ctx, c.device)
			if err != nil {
				if errors.Is(err, model.ErrInvalidValue) {
					return &model.ValidationError{
						Message: fmt.Sprintf("invalid payload for %s from %s", cmd.Name(), callerID),
						Err:     err,
					}
				}
				return err
			}
			result = r
			return nil
		})
	})

	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordCommand(c.opts.Name, cmd.Name())
	}

	if err != nil {
		if c.opts.Metrics != nil {
			c.opts.Metrics.RecordCommandError(c.opts.Name, cmd.Name())
		}
		if errors.Is(err, model.ErrValidation) {
			return nil, err
		}

		last := err
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			last = exhausted.Err
		}
		return nil, &model.CommandFailedError{Operation: cmd.Name(), Caller: callerID, Err: last}
	}

	return result, nil
}

// RequestRefresh asks the Run loop for a refresh without waiting for it.
// Requests made while one is pending are coalesced.
func (c *Coordinator[T]) RequestRefresh() {
	select {
	case c.refreshRequests <- struct{}{}:
	default:
	}
}

// Run refreshes the device every poll interval and whenever a refresh is
// requested, until ctx is cancelled.
func (c *Coordinator[T]) Run(ctx context.Context) error {
	c.logger.Infow("Starting coordinator", "poll_interval", c.opts.PollInterval)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Coordinator stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
		case <-c.refreshRequests:
		}

		// Failures are logged by Refresh; polling continues
		_, _ = c.Refresh(ctx)
	}
}

// Available reports whether consumers should trust the cached value: the
// device must be present and must not have failed Attempts refreshes in a row.
func (c *Coordinator[T]) Available() bool {
	c.mu.RLock()
	failures := c.failures
	c.mu.RUnlock()

	return failures < c.opts.Retry.Attempts && c.opts.Presence.Present(c.device.Address())
}

// Snapshot returns the cached value
func (c *Coordinator[T]) Snapshot() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// FailureCount returns the number of consecutive failed refreshes
func (c *Coordinator[T]) FailureCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failures
}

// LastUpdate returns the time of the last successful refresh
func (c *Coordinator[T]) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// LastError returns the error of the last refresh, nil after a success
func (c *Coordinator[T]) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Subscribe registers fn to be called with the cached value after every
// refresh cycle, failed ones included so availability changes are seen.
// The returned function removes the subscription.
func (c *Coordinator[T]) Subscribe(fn func(T)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}
