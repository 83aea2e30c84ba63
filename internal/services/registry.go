package services

import (
	"sort"
	"strings"
	"sync"

	"github.com/benvon/cometblue-bridge/internal/climate"
	"github.com/benvon/cometblue-bridge/internal/core"
	"github.com/benvon/cometblue-bridge/pkg/model"
)

// Thermostat is the coordinator of one device as seen by the services
type Thermostat interface {
	climate.Commander
	core.Monitored
	DeviceInfo() model.DeviceInfo
	Subscribe(fn func(model.Snapshot)) func()
}

// Entry holds the entities of one thermostat
type Entry struct {
	Thermostat Thermostat
	Climate    *climate.Climate
	Numbers    map[string]*climate.Number
}

// EntityID returns the climate entity id
func (e *Entry) EntityID() string {
	return e.Climate.EntityID()
}

// Registry resolves entity ids and addresses to thermostats
type Registry struct {
	mu        sync.RWMutex
	byEntity  map[string]*Entry
	byAddress map[string]*Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byEntity:  make(map[string]*Entry),
		byAddress: make(map[string]*Entry),
	}
}

// Register creates the entities of t and indexes them
func (r *Registry) Register(t Thermostat) *Entry {
	entry := &Entry{
		Thermostat: t,
		Climate:    climate.NewClimate(t, climate.ClimateEntityID(t.Name())),
		Numbers:    make(map[string]*climate.Number, len(climate.Numbers)),
	}
	for _, desc := range climate.Numbers {
		entry.Numbers[desc.Key] = climate.NewNumber(t, desc, climate.NumberEntityID(t.Name(), desc.Key))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byEntity[entry.EntityID()] = entry
	r.byAddress[strings.ToUpper(t.Address())] = entry
	return entry
}

// Lookup returns the entry of a climate entity id
func (r *Registry) Lookup(entityID string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byEntity[entityID]
	if !ok {
		return nil, model.NewValidationError("entity %q not found", entityID)
	}
	return entry, nil
}

// ByAddress returns the entry of a device address, case-insensitively
func (r *Registry) ByAddress(address string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byAddress[strings.ToUpper(address)]
	return entry, ok
}

// Entries returns all entries ordered by entity id
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*Entry, 0, len(r.byEntity))
	for _, entry := range r.byEntity {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EntityID() < entries[j].EntityID()
	})
	return entries
}
