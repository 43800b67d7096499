package entity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubEntity struct {
	available bool
	value     any
	attrs     map[string]any
}

func (s stubEntity) UniqueID() string   { return "stub" }
func (s stubEntity) Name() string       { return "Stub Sensor" }
func (s stubEntity) Platform() Platform { return PlatformSensor }
func (s stubEntity) Description() Description {
	return Description{Key: "stub", Name: "Stub", Unit: "BTC", Icon: "mdi:bitcoin", StateClass: StateClassMeasurement, Precision: 8}
}
func (s stubEntity) Device() DeviceInfo         { return DeviceInfo{Identifier: "dev"} }
func (s stubEntity) Available() bool            { return s.available }
func (s stubEntity) Value() any                 { return s.value }
func (s stubEntity) Attributes() map[string]any { return s.attrs }

func TestFormatState(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("X", 3600))
	f := 1.5
	var nilFloat *float64
	var nilTime *time.Time

	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: StateUnknown},
		{name: "true", in: true, want: StateOn},
		{name: "false", in: false, want: StateOff},
		{name: "empty string", in: "", want: StateUnknown},
		{name: "time in utc", in: ts, want: "2024-03-01T11:30:00Z"},
		{name: "zero time", in: time.Time{}, want: StateUnknown},
		{name: "nil time pointer", in: nilTime, want: StateUnknown},
		{name: "decimal", in: decimal.RequireFromString("0.00012345"), want: "0.00012345"},
		{name: "float", in: 5.0, want: "5"},
		{name: "fraction", in: 2.25, want: "2.25"},
		{name: "float pointer", in: &f, want: "1.5"},
		{name: "nil float pointer", in: nilFloat, want: StateUnknown},
		{name: "int", in: 3, want: "3"},
		{name: "int64", in: int64(42), want: "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatState(tt.in); got != tt.want {
				t.Errorf("FormatState(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStateOf(t *testing.T) {
	if got := StateOf(stubEntity{available: false, value: 1}); got != StateUnavailable {
		t.Errorf("expected unavailable, got %q", got)
	}
	if got := StateOf(stubEntity{available: true, value: nil}); got != StateUnknown {
		t.Errorf("expected unknown, got %q", got)
	}
	if got := StateOf(stubEntity{available: true, value: int64(7)}); got != "7" {
		t.Errorf("expected 7, got %q", got)
	}
}

func TestStateAttributes(t *testing.T) {
	attrs := StateAttributes(stubEntity{available: true, attrs: map[string]any{"is_active": true}})

	want := map[string]any{
		"friendly_name":               "Stub Sensor",
		"unit_of_measurement":         "BTC",
		"icon":                        "mdi:bitcoin",
		"state_class":                 StateClassMeasurement,
		"suggested_display_precision": 8,
		"is_active":                   true,
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attribute %s: expected %v, got %v", k, v, attrs[k])
		}
	}
	if _, ok := attrs["device_class"]; ok {
		t.Error("empty device class should be omitted")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Mining Account Hashrate (60s)", "mining_account_hashrate_60s"},
		{"rig-01 Last Share", "rig_01_last_share"},
		{"  spaced   out  ", "spaced_out"},
		{"Already_slugged", "already_slugged"},
		{"---", "unnamed"},
		{"Café 2", "caf_2"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEntityID(t *testing.T) {
	if got := EntityID(PlatformBinarySensor, "rig-1 Status"); got != "binary_sensor.rig_1_status" {
		t.Errorf("unexpected entity id %q", got)
	}
}
