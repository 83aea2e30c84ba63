// Package homeassistant publishes thermostats to Home Assistant through MQTT
// discovery and turns command topics into entity writes.
package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/benvon/cometblue-bridge/internal/climate"
	"github.com/benvon/cometblue-bridge/internal/services"
	"github.com/benvon/cometblue-bridge/pkg/model"
)

// Availability payloads
const (
	Online  = "online"
	Offline = "offline"
)

// DefaultCommandTimeout bounds a write triggered by a command topic
const DefaultCommandTimeout = 2 * time.Minute

// Client is the part of mqtt.Client the bridge uses
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnectionOpen() bool
}

// Bridge connects the registry to an MQTT broker
type Bridge struct {
	client          Client
	registry        *services.Registry
	services        *services.Services
	discoveryPrefix string
	topicPrefix     string
	commandTimeout  time.Duration
	logger          *zap.SugaredLogger

	// run executes command handlers off the paho callback goroutine
	run func(func())

	mu sync.Mutex
	// announced is the device information each entity was last announced with
	announced map[string]model.DeviceInfo
}

// New creates a bridge
func New(client Client, registry *services.Registry, svc *services.Services, discoveryPrefix, topicPrefix string, logger *zap.SugaredLogger) *Bridge {
	return &Bridge{
		client:          client,
		registry:        registry,
		services:        svc,
		discoveryPrefix: discoveryPrefix,
		topicPrefix:     topicPrefix,
		commandTimeout:  DefaultCommandTimeout,
		logger:          logger,
		run:             func(f func()) { go f() },
		announced:       make(map[string]model.DeviceInfo),
	}
}

func (b *Bridge) publish(topic string, retained bool, payload interface{}) error {
	if t := b.client.Publish(topic, 0, retained, payload); t.Wait() && t.Error() != nil {
		return fmt.Errorf("publishing %s: %w", topic, t.Error())
	}
	return nil
}

func (b *Bridge) publishJSON(topic string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", topic, err)
	}
	return b.publish(topic, true, body)
}

func (b *Bridge) slug(entry *services.Entry) string {
	return climate.Slugify(entry.Thermostat.Name())
}

func (b *Bridge) baseTopic(entry *services.Entry) string {
	return fmt.Sprintf("%s/%s", b.topicPrefix, b.slug(entry))
}

func (b *Bridge) stateTopic(entry *services.Entry) string {
	return b.baseTopic(entry) + "/state"
}

func (b *Bridge) availabilityTopic(entry *services.Entry) string {
	return b.baseTopic(entry) + "/availability"
}

func (b *Bridge) commandTopic(entry *services.Entry, command string) string {
	return fmt.Sprintf("%s/%s/set", b.baseTopic(entry), command)
}

// Fallbacks used until the device information has been read
const (
	defaultManufacturer = "EUROtronic GmbH"
	defaultModel        = "Comet Blue"
)

func (b *Bridge) device(entry *services.Entry) deviceConfiguration {
	address := entry.Thermostat.Address()
	info := entry.Thermostat.DeviceInfo()

	device := deviceConfiguration{
		Identifiers:  []string{"cometblue_" + climate.Slugify(address)},
		Connections:  [][]string{{"bluetooth", address}},
		Name:         entry.Thermostat.Name(),
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		SWVersion:    info.SWVersion,
	}
	if device.Manufacturer == "" {
		device.Manufacturer = defaultManufacturer
	}
	if device.Model == "" {
		device.Model = defaultModel
	}
	return device
}

func stateTemplate(field string) string {
	return fmt.Sprintf("{{ value_json.%s }}", field)
}

// Register publishes the discovery configuration of every entity of entry
func (b *Bridge) Register(entry *services.Entry) error {
	slug := b.slug(entry)
	state := b.stateTopic(entry)
	availability := b.availabilityTopic(entry)
	device := b.device(entry)

	modes := make([]string, len(climate.HVACModes))
	for i, m := range climate.HVACModes {
		modes[i] = string(m)
	}

	climateConfig := climateConfiguration{
		UniqueId:                    "cometblue_" + slug,
		Name:                        entry.Thermostat.Name(),
		Device:                      device,
		AvailabilityTopic:           availability,
		CurrentTemperatureTopic:     state,
		CurrentTemperatureTemplate:  stateTemplate("current_temperature"),
		TemperatureStateTopic:       state,
		TemperatureStateTemplate:    stateTemplate("temperature"),
		TemperatureCommandTopic:     b.commandTopic(entry, "temperature"),
		TemperatureLowStateTopic:    state,
		TemperatureLowStateTemplate: stateTemplate("target_temp_low"),
		TemperatureLowCommandTopic:  b.commandTopic(entry, "target_temp_low"),
		TemperatureHighStateTopic:   state,
		TemperatureHighTemplate:     stateTemplate("target_temp_high"),
		TemperatureHighCommandTopic: b.commandTopic(entry, "target_temp_high"),
		ModeStateTopic:              state,
		ModeStateTemplate:           stateTemplate("hvac_mode"),
		ModeCommandTopic:            b.commandTopic(entry, "mode"),
		Modes:                       modes,
		ActionTopic:                 state,
		ActionTemplate:              stateTemplate("hvac_action"),
		PresetModeStateTopic:        state,
		PresetModeValueTemplate:     stateTemplate("preset_mode"),
		PresetModeCommandTopic:      b.commandTopic(entry, "preset"),
		PresetModes:                 []string{climate.PresetComfort, climate.PresetEco},
		PowerCommandTopic:           b.commandTopic(entry, "power"),
		MinTemp:                     climate.MinTemp,
		MaxTemp:                     climate.MaxTemp,
		TempStep:                    climate.Step,
		TemperatureUnit:             "C",
	}
	if err := b.publishJSON(fmt.Sprintf("%s/climate/%s/config", b.discoveryPrefix, slug), climateConfig); err != nil {
		return err
	}

	for _, desc := range climate.Numbers {
		numberConfig := numberConfiguration{
			UniqueId:          fmt.Sprintf("cometblue_%s_%s", slug, desc.Key),
			Name:              desc.Name,
			Device:            device,
			AvailabilityTopic: availability,
			DeviceClass:       desc.DeviceClass,
			StateTopic:        state,
			ValueTemplate:     stateTemplate(desc.Key),
			CommandTopic:      b.commandTopic(entry, "number/"+desc.Key),
			Min:               desc.Min,
			Max:               desc.Max,
			Step:              desc.Step,
			UnitOfMeasurement: desc.Unit,
			EntityCategory:    "config",
		}
		if err := b.publishJSON(fmt.Sprintf("%s/number/%s_%s/config", b.discoveryPrefix, slug, desc.Key), numberConfig); err != nil {
			return err
		}
	}

	for _, desc := range climate.Sensors {
		sensorConfig := sensorConfiguration{
			UniqueId:          fmt.Sprintf("cometblue_%s_%s", slug, desc.Key),
			Name:              desc.Name,
			Device:            device,
			AvailabilityTopic: availability,
			DeviceClass:       desc.DeviceClass,
			StateTopic:        state,
			ValueTemplate:     stateTemplate(desc.Key),
			UnitOfMeasurement: desc.Unit,
			EntityCategory:    "diagnostic",
		}
		if err := b.publishJSON(fmt.Sprintf("%s/sensor/%s_%s/config", b.discoveryPrefix, slug, desc.Key), sensorConfig); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.announced[entry.EntityID()] = entry.Thermostat.DeviceInfo()
	b.mu.Unlock()

	b.logger.Infow("Registered entities", "entity_id", entry.EntityID(), "slug", slug)
	return nil
}

// announcedWith reports whether entry was registered with info
func (b *Bridge) announcedWith(entry *services.Entry, info model.DeviceInfo) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	announced, ok := b.announced[entry.EntityID()]
	return ok && announced == info
}

// StatePayload is the JSON document published on the state topic: the
// climate view plus every number and sensor keyed by its key.
func StatePayload(entry *services.Entry) map[string]any {
	s := entry.Thermostat.Snapshot()

	payload := make(map[string]any)
	body, _ := json.Marshal(climate.StateOf(entry.EntityID(), s))
	_ = json.Unmarshal(body, &payload)

	for _, desc := range climate.Numbers {
		if v := desc.Value(s); v != nil {
			payload[desc.Key] = *v
		}
	}
	for _, desc := range climate.Sensors {
		if v := desc.Value(s); v != nil {
			payload[desc.Key] = *v
		}
	}
	return payload
}

// PublishState publishes availability and the current state of entry
func (b *Bridge) PublishState(entry *services.Entry) error {
	availability := Offline
	if entry.Thermostat.Available() {
		availability = Online
	}
	if err := b.publish(b.availabilityTopic(entry), true, availability); err != nil {
		return err
	}
	return b.publishJSON(b.stateTopic(entry), StatePayload(entry))
}

// Watch republishes availability and state of entry after every refresh
// cycle while the broker is connected, so a device that keeps failing goes
// offline. The returned function stops watching.
func (b *Bridge) Watch(entry *services.Entry) func() {
	return entry.Thermostat.Subscribe(func(model.Snapshot) {
		if !b.client.IsConnectionOpen() {
			return
		}
		// The device information arrives with the first successful refresh
		if !b.announcedWith(entry, entry.Thermostat.DeviceInfo()) {
			if err := b.Register(entry); err != nil {
				b.logger.Warnw("Failed to publish discovery", "entity_id", entry.EntityID(), "error", err)
			}
		}
		if err := b.PublishState(entry); err != nil {
			b.logger.Warnw("Failed to publish state", "entity_id", entry.EntityID(), "error", err)
		}
	})
}

// PublishOffline marks entry unavailable, used on shutdown
func (b *Bridge) PublishOffline(entry *services.Entry) {
	if err := b.publish(b.availabilityTopic(entry), true, Offline); err != nil {
		b.logger.Warnw("Failed to publish availability", "entity_id", entry.EntityID(), "error", err)
	}
}

// serviceTopic carries service calls with a JSON payload
func (b *Bridge) serviceTopic(service string) string {
	return fmt.Sprintf("%s/service/%s", b.topicPrefix, service)
}

// Subscribe registers the command handlers of every entry and the service
// topics. Call it from the connect handler so it survives reconnects.
func (b *Bridge) Subscribe() error {
	for _, entry := range b.registry.Entries() {
		entry := entry
		for _, topic := range []string{b.baseTopic(entry) + "/+/set", b.baseTopic(entry) + "/number/+/set"} {
			if t := b.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
				b.dispatch(func(ctx context.Context) error {
					return b.HandleCommand(ctx, entry, msg.Topic(), msg.Payload())
				}, msg.Topic())
			}); t.Wait() && t.Error() != nil {
				return fmt.Errorf("subscribing to %s: %w", topic, t.Error())
			}
		}
	}

	for _, service := range services.Names {
		service := service
		topic := b.serviceTopic(service)
		if t := b.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			b.dispatch(func(ctx context.Context) error {
				result, err := b.services.Call(ctx, service, msg.Payload())
				if err != nil || result == nil {
					return err
				}
				return b.publishJSON(topic+"/response", result)
			}, msg.Topic())
		}); t.Wait() && t.Error() != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, t.Error())
		}
	}
	return nil
}

func (b *Bridge) dispatch(fn func(ctx context.Context) error, topic string) {
	b.run(func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.commandTimeout)
		defer cancel()

		err := fn(ctx)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrValidation):
			b.logger.Warnw("Rejected command", "topic", topic, "error", err)
		default:
			b.logger.Errorw("Command failed", "topic", topic, "error", err)
		}
	})
}

// HandleCommand applies a message received on one of the command topics of entry
func (b *Bridge) HandleCommand(ctx context.Context, entry *services.Entry, topic string, payload []byte) error {
	command, ok := strings.CutPrefix(topic, b.baseTopic(entry)+"/")
	if !ok || !strings.HasSuffix(command, "/set") {
		return nil
	}
	command = strings.TrimSuffix(command, "/set")
	value := strings.TrimSpace(string(payload))

	if key, isNumber := strings.CutPrefix(command, "number/"); isNumber {
		number, ok := entry.Numbers[key]
		if !ok {
			return model.NewValidationError("unknown number %q", key)
		}
		v, err := parseFloat(value)
		if err != nil {
			return err
		}
		return number.SetValue(ctx, v)
	}

	c := entry.Climate
	switch command {
	case "mode":
		return c.SetHVACMode(ctx, climate.HVACMode(strings.ToLower(value)))
	case "preset":
		return c.SetPresetMode(ctx, strings.ToLower(value))
	case "power":
		if strings.EqualFold(value, "OFF") {
			return c.TurnOff(ctx)
		}
		return c.TurnOn(ctx)
	case "temperature", "target_temp_low", "target_temp_high":
		v, err := parseFloat(value)
		if err != nil {
			return err
		}
		req := climate.TemperatureRequest{}
		switch command {
		case "temperature":
			req.Temperature = &v
		case "target_temp_low":
			req.TargetTempLow = &v
		default:
			req.TargetTempHigh = &v
		}
		return c.SetTemperature(ctx, req)
	default:
		return model.NewValidationError("unknown command %q", command)
	}
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &model.ValidationError{Message: fmt.Sprintf("invalid number %q", s), Err: err}
	}
	return v, nil
}
