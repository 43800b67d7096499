package alerts

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap/zaptest"

	"github.com/camarigor/ocean-hq/internal/config"
	"github.com/camarigor/ocean-hq/internal/entity"
	"github.com/camarigor/ocean-hq/internal/storage"
)

func change(entityID, old, cur string) *storage.StateChange {
	attrs := map[string]any{
		"friendly_name": "rig-1 Status",
		"device_class":  entity.DeviceClassConnectivity,
	}
	return &storage.StateChange{
		EntityID: entityID,
		Old:      &storage.State{EntityID: entityID, State: old, Attributes: attrs},
		New:      &storage.State{EntityID: entityID, State: cur, Attributes: attrs, LastUpdated: time.Now()},
	}
}

func allEnabled() *AlertConfig {
	return &AlertConfig{OnWorkerOffline: true, OnWorkerOnline: true, OnWorkerMissing: true, Cooldown: 5 * time.Minute}
}

func TestCheckState_Transitions(t *testing.T) {
	tests := []struct {
		name string
		old  string
		cur  string
		want AlertType
	}{
		{name: "offline", old: "on", cur: "off", want: AlertWorkerOffline},
		{name: "online", old: "off", cur: "on", want: AlertWorkerOnline},
		{name: "missing from on", old: "on", cur: "unavailable", want: AlertWorkerMissing},
		{name: "missing from off", old: "off", cur: "unavailable", want: AlertWorkerMissing},
		{name: "back from unavailable", old: "unavailable", cur: "on"},
		{name: "no change", old: "on", cur: "on"},
		{name: "first value", old: "unknown", cur: "on"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewAlertEngine(zaptest.NewLogger(t), allEnabled())
			alert := e.CheckState(change("binary_sensor.rig_1_status", tt.old, tt.cur))

			if tt.want == "" {
				if alert != nil {
					t.Errorf("expected no alert, got %+v", alert)
				}
				return
			}
			if alert == nil || alert.Type != tt.want {
				t.Fatalf("expected %s alert, got %+v", tt.want, alert)
			}
			if alert.WorkerName != "rig-1 Status" || alert.EntityID != "binary_sensor.rig_1_status" {
				t.Errorf("unexpected alert %+v", alert)
			}
		})
	}
}

func TestCheckState_IgnoresOtherEntities(t *testing.T) {
	e := NewAlertEngine(zaptest.NewLogger(t), allEnabled())

	c := change("sensor.rig_1_hashrate_60s", "on", "off")
	c.New.Attributes = map[string]any{"unit_of_measurement": "TH/s"}
	if alert := e.CheckState(c); alert != nil {
		t.Errorf("expected no alert for non-connectivity entity, got %+v", alert)
	}

	removed := change("binary_sensor.rig_1_status", "on", "off")
	removed.New = nil
	if alert := e.CheckState(removed); alert != nil {
		t.Errorf("expected no alert for removal, got %+v", alert)
	}
}

func TestCheckState_Disabled(t *testing.T) {
	e := NewAlertEngine(zaptest.NewLogger(t), &AlertConfig{OnWorkerOffline: true})

	if alert := e.CheckState(change("binary_sensor.a", "off", "on")); alert != nil {
		t.Errorf("online alerts are disabled, got %+v", alert)
	}
	if alert := e.CheckState(change("binary_sensor.a", "on", "off")); alert == nil {
		t.Error("expected offline alert")
	}
}

func TestCheckState_Cooldown(t *testing.T) {
	e := NewAlertEngine(zaptest.NewLogger(t), allEnabled())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	if e.CheckState(change("binary_sensor.a", "on", "off")) == nil {
		t.Fatal("expected first alert")
	}
	if e.CheckState(change("binary_sensor.a", "on", "off")) != nil {
		t.Error("expected second alert suppressed by cooldown")
	}
	if e.CheckState(change("binary_sensor.b", "on", "off")) == nil {
		t.Error("cooldown is per entity")
	}
	if e.CheckState(change("binary_sensor.a", "off", "on")) == nil {
		t.Error("cooldown is per alert type")
	}

	now = now.Add(6 * time.Minute)
	if e.CheckState(change("binary_sensor.a", "on", "off")) == nil {
		t.Error("expected alert after cooldown")
	}
}

func TestCheckState_Webhook(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cfg := allEnabled()
	cfg.WebhookURL = server.URL
	e := NewAlertEngine(zaptest.NewLogger(t), cfg)

	if e.CheckState(change("binary_sensor.rig_1_status", "on", "off")) == nil {
		t.Fatal("expected alert")
	}
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("expected 1 webhook, got %d", len(bodies))
	}

	var payload struct {
		Embeds []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Color       int    `json:"color"`
		} `json:"embeds"`
	}
	if err := sonic.UnmarshalString(bodies[0], &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if len(payload.Embeds) != 1 || !strings.Contains(payload.Embeds[0].Title, "Worker Offline") {
		t.Errorf("unexpected payload %s", bodies[0])
	}
	if payload.Embeds[0].Color != 0xFF4444 {
		t.Errorf("unexpected color %x", payload.Embeds[0].Color)
	}
}

func TestSendTestAlert(t *testing.T) {
	e := NewAlertEngine(zaptest.NewLogger(t), &AlertConfig{})
	if err := e.SendTestAlert(); err == nil {
		t.Error("expected error without webhook URL")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	e.UpdateConfig(&AlertConfig{WebhookURL: server.URL})
	if err := e.SendTestAlert(); err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestConfigFrom(t *testing.T) {
	got := ConfigFrom(config.AlertConfig{
		Enabled:         true,
		WebhookURL:      "https://discord.example/hook",
		OnWorkerOffline: true,
		OnWorkerMissing: true,
		CooldownMinutes: 15,
	})

	if got.WebhookURL != "https://discord.example/hook" {
		t.Errorf("WebhookURL = %q", got.WebhookURL)
	}
	if got.Cooldown != 15*time.Minute {
		t.Errorf("Cooldown = %v, want 15m", got.Cooldown)
	}
	if !got.enabled(AlertWorkerOffline) || got.enabled(AlertWorkerOnline) || !got.enabled(AlertWorkerMissing) {
		t.Errorf("unexpected enabled flags %+v", got)
	}
}
