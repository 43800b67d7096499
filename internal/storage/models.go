package storage

import "time"

// State is the current state of one entity
type State struct {
	EntityID    string         `json:"entityId"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"lastChanged"` // last time State changed
	LastUpdated time.Time      `json:"lastUpdated"` // last time State or Attributes changed
}

// StateChange is emitted for every write that changed something. Old is nil
// for a new entity; New is nil for a removed one.
type StateChange struct {
	EntityID string `json:"entityId"`
	Old      *State `json:"oldState"`
	New      *State `json:"newState"`
}

// Device is a registered device
type Device struct {
	ID               string `json:"id"`
	EntryID          string `json:"entryId"`
	Name             string `json:"name"`
	Manufacturer     string `json:"manufacturer"`
	Model            string `json:"model"`
	ConfigurationURL string `json:"configurationUrl,omitempty"`
	ViaDevice        string `json:"viaDevice,omitempty"`
}

// EntityRecord is a registered entity
type EntityRecord struct {
	EntityID string `json:"entityId"`
	UniqueID string `json:"uniqueId"`
	Platform string `json:"platform"`
	EntryID  string `json:"entryId"`
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
}
