// Package entity defines the observable values the host publishes: their
// static description, device grouping and current value.
package entity

import "context"

// Platform is a family of entities
type Platform string

const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
)

// Reserved state strings
const (
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
	StateOn          = "on"
	StateOff         = "off"
)

// Device classes
const (
	DeviceClassTimestamp    = "timestamp"
	DeviceClassMonetary     = "monetary"
	DeviceClassConnectivity = "connectivity"
)

// State classes
const (
	StateClassMeasurement     = "measurement"
	StateClassTotal           = "total"
	StateClassTotalIncreasing = "total_increasing"
)

// Description is the static metadata of an entity
type Description struct {
	Key         string
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
	Icon        string
	// Precision is the suggested number of decimals when displayed; 0 leaves
	// the value as is.
	Precision int
}

// DeviceInfo identifies the device an entity belongs to
type DeviceInfo struct {
	Identifier       string `json:"identifier"`
	Name             string `json:"name"`
	Manufacturer     string `json:"manufacturer"`
	Model            string `json:"model"`
	ConfigurationURL string `json:"configuration_url,omitempty"`
	ViaDevice        string `json:"via_device,omitempty"`
}

// Entity is a single published value
type Entity interface {
	UniqueID() string
	Name() string
	Platform() Platform
	Description() Description
	Device() DeviceInfo
	Available() bool
	// Value returns the native value; nil means unknown.
	Value() any
	// Attributes returns extra state attributes, or nil.
	Attributes() map[string]any
}

// Subscriber is implemented by entities that are pushed updates by a shared
// coordinator.
type Subscriber interface {
	Subscribe(onChange func()) (unsubscribe func())
}

// Runner is implemented by entities that poll on their own schedule. Run
// blocks until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, onChange func())
}
