// Package host manages config entries, the device and entity registries, and
// the state machine that entities publish into.
package host

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/camarigor/ocean-hq/internal/entity"
	"github.com/camarigor/ocean-hq/internal/storage"
)

var (
	ErrAlreadyConfigured = errors.New("already configured")
	ErrEntryNotFound     = errors.New("config entry not found")
)

// Integration sets up and tears down the entities of one config entry
type Integration interface {
	Domain() string
	SetupEntry(ctx context.Context, h *Host, entry *ConfigEntry) error
	UnloadEntry(ctx context.Context, h *Host, entry *ConfigEntry) error
}

// Refresher is implemented by runtime data that can be refreshed on demand
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Diagnoser is implemented by runtime data that reports its health
type Diagnoser interface {
	Diagnostics() any
}

type registeredEntity struct {
	entity      entity.Entity
	entryID     string
	unsubscribe func()
}

// Host owns the config entries and writes entity states
type Host struct {
	store       *storage.StateStore
	integration Integration
	log         *zap.Logger

	// StateChan receives every state change. Sends never block; changes are
	// dropped when nobody drains the channel.
	StateChan chan *storage.StateChange

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	entries  map[string]*ConfigEntry
	entities map[string]*registeredEntity
}

// New creates a Host writing into store
func New(log *zap.Logger, store *storage.StateStore, integration Integration) *Host {
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		store:       store,
		integration: integration,
		log:         log.Named("host"),
		StateChan:   make(chan *storage.StateChange, 256),
		ctx:         ctx,
		cancel:      cancel,
		entries:     make(map[string]*ConfigEntry),
		entities:    make(map[string]*registeredEntity),
	}
}

// Store returns the state machine
func (h *Host) Store() *storage.StateStore {
	return h.store
}

// AddEntry creates a config entry and runs the integration's setup. A failed
// setup discards the entry and returns the error.
func (h *Host) AddEntry(ctx context.Context, title, uniqueID string, data EntryData) (*ConfigEntry, error) {
	h.mu.Lock()
	for _, e := range h.entries {
		if uniqueID != "" && e.UniqueID == uniqueID {
			h.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyConfigured, uniqueID)
		}
	}
	entry := newConfigEntry(h.ctx, newEntryID(), h.integration.Domain(), title, uniqueID, data)
	h.entries[entry.ID] = entry
	h.mu.Unlock()

	log := h.log.With(zap.String("entry", entry.ID), zap.String("title", title))
	log.Info("Setting up config entry")

	if err := h.integration.SetupEntry(ctx, h, entry); err != nil {
		log.Error("Config entry setup failed", zap.Error(err))
		h.teardown(entry)
		return nil, err
	}

	log.Info("Config entry loaded")
	return entry, nil
}

// UnloadEntry stops everything the entry started and drops its entities,
// devices and states.
func (h *Host) UnloadEntry(ctx context.Context, entryID string) error {
	h.mu.Lock()
	entry, ok := h.entries[entryID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}

	var unloadErr error
	if err := h.integration.UnloadEntry(ctx, h, entry); err != nil {
		h.log.Warn("Integration unload failed", zap.String("entry", entryID), zap.Error(err))
		unloadErr = err
	}

	h.teardown(entry)
	h.log.Info("Config entry unloaded", zap.String("entry", entryID))
	return unloadErr
}

func (h *Host) teardown(entry *ConfigEntry) {
	entry.unload()

	h.mu.Lock()
	delete(h.entries, entry.ID)
	var unsubs []func()
	for id, reg := range h.entities {
		if reg.entryID != entry.ID {
			continue
		}
		if reg.unsubscribe != nil {
			unsubs = append(unsubs, reg.unsubscribe)
		}
		delete(h.entities, id)
	}
	h.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	changes, err := h.store.RemoveEntry(entry.ID)
	if err != nil {
		h.log.Error("Failed to remove entry from state machine", zap.String("entry", entry.ID), zap.Error(err))
	}
	for _, change := range changes {
		h.publish(change)
	}
}

// Entries returns the loaded config entries ordered by title
func (h *Host) Entries() []*ConfigEntry {
	h.mu.Lock()
	entries := make([]*ConfigEntry, 0, len(h.entries))
	for _, e := range h.entries {
		entries = append(entries, e)
	}
	h.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Title == entries[j].Title {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Title < entries[j].Title
	})
	return entries
}

// Entry returns the config entry with the given id
func (h *Host) Entry(entryID string) (*ConfigEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return entry, nil
}

// AddEntities registers entities under entry, writes their initial state and
// starts listening for their updates. It returns the assigned entity ids.
func (h *Host) AddEntities(entry *ConfigEntry, entities []entity.Entity) ([]string, error) {
	if entry.Context().Err() != nil {
		return nil, fmt.Errorf("config entry %s is unloaded", entry.ID)
	}

	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		entityID, err := h.register(entry, e)
		if err != nil {
			return ids, err
		}
		if entityID == "" {
			continue
		}
		ids = append(ids, entityID)

		h.writeState(entityID, e)

		onChange := func() { h.writeState(entityID, e) }
		if s, ok := e.(entity.Subscriber); ok {
			unsub := s.Subscribe(onChange)
			h.mu.Lock()
			if reg, ok := h.entities[entityID]; ok {
				reg.unsubscribe = unsub
			} else {
				unsub()
			}
			h.mu.Unlock()
		}
		if r, ok := e.(entity.Runner); ok {
			entry.goRun(func(ctx context.Context) { r.Run(ctx, onChange) })
		}
	}

	if len(ids) > 0 {
		h.log.Debug("Added entities", zap.String("entry", entry.ID), zap.Int("count", len(ids)))
	}
	return ids, nil
}

// register adds e to the registries. An entity whose unique id is already
// registered is skipped and "" returned.
func (h *Host) register(entry *ConfigEntry, e entity.Entity) (string, error) {
	existing, err := h.store.FindEntity(string(e.Platform()), e.UniqueID())
	if err != nil {
		return "", err
	}
	if existing != nil {
		h.log.Warn("Entity unique id already registered",
			zap.String("unique_id", e.UniqueID()),
			zap.String("entity_id", existing.EntityID))
		return "", nil
	}

	dev := e.Device()
	if dev.Identifier != "" {
		err := h.store.UpsertDevice(&storage.Device{
			ID:               dev.Identifier,
			EntryID:          entry.ID,
			Name:             dev.Name,
			Manufacturer:     dev.Manufacturer,
			Model:            dev.Model,
			ConfigurationURL: dev.ConfigurationURL,
			ViaDevice:        dev.ViaDevice,
		})
		if err != nil {
			return "", fmt.Errorf("failed to register device %s: %w", dev.Identifier, err)
		}
	}

	entityID, err := h.freeEntityID(entity.EntityID(e.Platform(), e.Name()))
	if err != nil {
		return "", err
	}

	err = h.store.InsertEntity(&storage.EntityRecord{
		EntityID: entityID,
		UniqueID: e.UniqueID(),
		Platform: string(e.Platform()),
		EntryID:  entry.ID,
		DeviceID: dev.Identifier,
		Name:     e.Name(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to register entity %s: %w", entityID, err)
	}

	h.mu.Lock()
	h.entities[entityID] = &registeredEntity{entity: e, entryID: entry.ID}
	h.mu.Unlock()

	return entityID, nil
}

// freeEntityID appends _2, _3, ... to base until the id is unused
func (h *Host) freeEntityID(base string) (string, error) {
	candidate := base
	for n := 2; ; n++ {
		existing, err := h.store.GetEntity(candidate)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", base, n)
	}
}

func (h *Host) writeState(entityID string, e entity.Entity) {
	h.mu.Lock()
	_, registered := h.entities[entityID]
	h.mu.Unlock()
	if !registered {
		return
	}

	change, err := h.store.SetState(entityID, entity.StateOf(e), entity.StateAttributes(e))
	if err != nil {
		h.log.Error("Failed to write state", zap.String("entity_id", entityID), zap.Error(err))
		return
	}
	h.publish(change)
}

// SetState writes a state that no registered entity owns, such as the
// exchange rate.
func (h *Host) SetState(entityID, state string, attrs map[string]any) error {
	change, err := h.store.SetState(entityID, state, attrs)
	if err != nil {
		return err
	}
	h.publish(change)
	return nil
}

// State returns the current state of entityID, or nil
func (h *Host) State(entityID string) (*storage.State, error) {
	return h.store.GetState(entityID)
}

func (h *Host) publish(change *storage.StateChange) {
	if change == nil {
		return
	}
	select {
	case h.StateChan <- change:
	default:
		h.log.Debug("State channel full, dropping change", zap.String("entity_id", change.EntityID))
	}
}

// Stop unloads every entry
func (h *Host) Stop(ctx context.Context) {
	for _, entry := range h.Entries() {
		if err := h.UnloadEntry(ctx, entry.ID); err != nil && !errors.Is(err, ErrEntryNotFound) {
			h.log.Warn("Failed to unload entry on stop", zap.String("entry", entry.ID), zap.Error(err))
		}
	}
	h.cancel()
}

func newEntryID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(buf)
}
