package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"
)

// MemoryDSN keeps the state machine in memory for the life of the process.
const MemoryDSN = "file:oceanhq?mode=memory&cache=shared"

const timeLayout = time.RFC3339Nano

// StateStore holds the current entity states and the device and entity
// registries in SQLite. Nothing survives a restart when opened on MemoryDSN.
type StateStore struct {
	db *sql.DB
	mu sync.Mutex // serializes read-modify-write in SetState
}

// parseTimestamp parses a timestamp string written by this package.
// All timestamps are stored in UTC.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// NewStateStore opens the database at dsn and creates the tables
func NewStateStore(dsn string) (*StateStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps an in-memory database alive and avoids locking
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &StateStore{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate creates the necessary tables and indexes
func (s *StateStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		manufacturer TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		configuration_url TEXT NOT NULL DEFAULT '',
		via_device TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_devices_entry_id ON devices(entry_id);

	CREATE TABLE IF NOT EXISTS entities (
		entity_id TEXT PRIMARY KEY,
		unique_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		entry_id TEXT NOT NULL,
		device_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		UNIQUE(platform, unique_id)
	);

	CREATE INDEX IF NOT EXISTS idx_entities_entry_id ON entities(entry_id);

	CREATE TABLE IF NOT EXISTS states (
		entity_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		attributes TEXT NOT NULL DEFAULT '{}',
		last_changed TEXT NOT NULL,
		last_updated TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *StateStore) Close() error {
	return s.db.Close()
}

// SetState writes the state of entityID. It returns nil when neither the state
// nor the attributes changed. LastChanged only moves when the state string
// changes.
func (s *StateStore) SetState(entityID, state string, attrs map[string]any) (*StateChange, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	encoded, err := sonic.ConfigStd.MarshalToString(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes for %s: %w", entityID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, oldRaw, err := s.getState(entityID)
	if err != nil {
		return nil, err
	}
	if old != nil && old.State == state && oldRaw == encoded {
		return nil, nil
	}

	now := time.Now().UTC()
	lastChanged := now
	if old != nil && old.State == state {
		lastChanged = old.LastChanged
	}

	query := `
	INSERT INTO states (entity_id, state, attributes, last_changed, last_updated)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(entity_id) DO UPDATE SET
		state = excluded.state,
		attributes = excluded.attributes,
		last_changed = excluded.last_changed,
		last_updated = excluded.last_updated
	`
	if _, err := s.db.Exec(query, entityID, state, encoded, formatTimestamp(lastChanged), formatTimestamp(now)); err != nil {
		return nil, err
	}

	cur, err := decodeState(entityID, state, encoded, formatTimestamp(lastChanged), formatTimestamp(now))
	if err != nil {
		return nil, err
	}
	return &StateChange{EntityID: entityID, Old: old, New: cur}, nil
}

// GetState returns the state of entityID, or nil if it has none
func (s *StateStore) GetState(entityID string) (*State, error) {
	st, _, err := s.getState(entityID)
	return st, err
}

func (s *StateStore) getState(entityID string) (*State, string, error) {
	query := `
	SELECT state, attributes, last_changed, last_updated
	FROM states
	WHERE entity_id = ?
	`

	var state, attrs, lastChanged, lastUpdated string
	err := s.db.QueryRow(query, entityID).Scan(&state, &attrs, &lastChanged, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	st, err := decodeState(entityID, state, attrs, lastChanged, lastUpdated)
	if err != nil {
		return nil, "", err
	}
	return st, attrs, nil
}

// ListStates returns every state ordered by entity id
func (s *StateStore) ListStates() ([]*State, error) {
	query := `
	SELECT entity_id, state, attributes, last_changed, last_updated
	FROM states
	ORDER BY entity_id
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*State
	for rows.Next() {
		var entityID, state, attrs, lastChanged, lastUpdated string
		if err := rows.Scan(&entityID, &state, &attrs, &lastChanged, &lastUpdated); err != nil {
			return nil, err
		}
		st, err := decodeState(entityID, state, attrs, lastChanged, lastUpdated)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}

	return states, rows.Err()
}

// DeleteState removes the state of entityID and returns what was removed
func (s *StateStore) DeleteState(entityID string) (*StateChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, _, err := s.getState(entityID)
	if err != nil || old == nil {
		return nil, err
	}
	if _, err := s.db.Exec(`DELETE FROM states WHERE entity_id = ?`, entityID); err != nil {
		return nil, err
	}
	return &StateChange{EntityID: entityID, Old: old}, nil
}

func decodeState(entityID, state, attrs, lastChanged, lastUpdated string) (*State, error) {
	st := &State{
		EntityID:    entityID,
		State:       state,
		LastChanged: parseTimestamp(lastChanged),
		LastUpdated: parseTimestamp(lastUpdated),
	}
	if err := sonic.ConfigStd.UnmarshalFromString(attrs, &st.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode attributes for %s: %w", entityID, err)
	}
	return st, nil
}

// UpsertDevice inserts or updates a device record
func (s *StateStore) UpsertDevice(d *Device) error {
	query := `
	INSERT INTO devices (id, entry_id, name, manufacturer, model, configuration_url, via_device)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		entry_id = excluded.entry_id,
		name = excluded.name,
		manufacturer = excluded.manufacturer,
		model = excluded.model,
		configuration_url = excluded.configuration_url,
		via_device = excluded.via_device
	`

	_, err := s.db.Exec(query, d.ID, d.EntryID, d.Name, d.Manufacturer, d.Model, d.ConfigurationURL, d.ViaDevice)
	return err
}

// GetDevices returns the devices of entryID, or all devices when entryID is empty
func (s *StateStore) GetDevices(entryID string) ([]*Device, error) {
	query := `
	SELECT id, entry_id, name, manufacturer, model, configuration_url, via_device
	FROM devices
	WHERE ? = '' OR entry_id = ?
	ORDER BY id
	`

	rows, err := s.db.Query(query, entryID, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d := &Device{}
		if err := rows.Scan(&d.ID, &d.EntryID, &d.Name, &d.Manufacturer, &d.Model, &d.ConfigurationURL, &d.ViaDevice); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}

	return devices, rows.Err()
}

// InsertEntity registers an entity. The entity id must be free.
func (s *StateStore) InsertEntity(e *EntityRecord) error {
	query := `
	INSERT INTO entities (entity_id, unique_id, platform, entry_id, device_id, name)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, e.EntityID, e.UniqueID, e.Platform, e.EntryID, e.DeviceID, e.Name)
	return err
}

// GetEntity returns the entity registered under entityID, or nil
func (s *StateStore) GetEntity(entityID string) (*EntityRecord, error) {
	query := `
	SELECT entity_id, unique_id, platform, entry_id, device_id, name
	FROM entities
	WHERE entity_id = ?
	`

	e := &EntityRecord{}
	err := s.db.QueryRow(query, entityID).Scan(&e.EntityID, &e.UniqueID, &e.Platform, &e.EntryID, &e.DeviceID, &e.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FindEntity returns the entity with the given platform and unique id, or nil
func (s *StateStore) FindEntity(platform, uniqueID string) (*EntityRecord, error) {
	query := `
	SELECT entity_id, unique_id, platform, entry_id, device_id, name
	FROM entities
	WHERE platform = ? AND unique_id = ?
	`

	e := &EntityRecord{}
	err := s.db.QueryRow(query, platform, uniqueID).Scan(&e.EntityID, &e.UniqueID, &e.Platform, &e.EntryID, &e.DeviceID, &e.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetEntities returns the entities of entryID, or all entities when entryID is empty
func (s *StateStore) GetEntities(entryID string) ([]*EntityRecord, error) {
	query := `
	SELECT entity_id, unique_id, platform, entry_id, device_id, name
	FROM entities
	WHERE ? = '' OR entry_id = ?
	ORDER BY entity_id
	`

	rows, err := s.db.Query(query, entryID, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*EntityRecord
	for rows.Next() {
		e := &EntityRecord{}
		if err := rows.Scan(&e.EntityID, &e.UniqueID, &e.Platform, &e.EntryID, &e.DeviceID, &e.Name); err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}

	return entities, rows.Err()
}

// RemoveEntry drops the entities, states and devices of entryID and returns
// the removed states.
func (s *StateStore) RemoveEntry(entryID string) ([]*StateChange, error) {
	entities, err := s.GetEntities(entryID)
	if err != nil {
		return nil, err
	}

	var changes []*StateChange
	for _, e := range entities {
		change, err := s.DeleteState(e.EntityID)
		if err != nil {
			return changes, err
		}
		if change != nil {
			changes = append(changes, change)
		}
	}

	if _, err := s.db.Exec(`DELETE FROM entities WHERE entry_id = ?`, entryID); err != nil {
		return changes, err
	}
	if _, err := s.db.Exec(`DELETE FROM devices WHERE entry_id = ?`, entryID); err != nil {
		return changes, err
	}
	return changes, nil
}
