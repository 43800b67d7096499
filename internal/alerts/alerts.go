// Package alerts sends notifications when worker connectivity changes.
package alerts

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/camarigor/ocean-hq/internal/config"
	"github.com/camarigor/ocean-hq/internal/entity"
	"github.com/camarigor/ocean-hq/internal/storage"
)

// AlertType represents the type of alert
type AlertType string

const (
	AlertWorkerOffline AlertType = "worker_offline"
	AlertWorkerOnline  AlertType = "worker_online"
	AlertWorkerMissing AlertType = "worker_missing"
)

// alertDisplay holds the visual representation for each alert type
type alertDisplay struct {
	Emoji string
	Title string
	Color int
}

var alertDisplayMap = map[AlertType]alertDisplay{
	AlertWorkerOffline: {Emoji: "🔴", Title: "Worker Offline", Color: 0xFF4444},
	AlertWorkerOnline:  {Emoji: "🟢", Title: "Worker Online", Color: 0x00FF88},
	AlertWorkerMissing: {Emoji: "❓", Title: "Worker Missing", Color: 0xFFAA00},
}

func getAlertDisplay(t AlertType) alertDisplay {
	if d, ok := alertDisplayMap[t]; ok {
		return d
	}
	return alertDisplay{Emoji: "⚠️", Title: string(t), Color: 0x00D4FF}
}

// AlertConfig holds alert configuration
type AlertConfig struct {
	WebhookURL      string        `json:"webhookUrl"`
	OnWorkerOffline bool          `json:"onWorkerOffline"`
	OnWorkerOnline  bool          `json:"onWorkerOnline"`
	OnWorkerMissing bool          `json:"onWorkerMissing"`
	Cooldown        time.Duration `json:"cooldown"`
}

func (c *AlertConfig) enabled(t AlertType) bool {
	switch t {
	case AlertWorkerOffline:
		return c.OnWorkerOffline
	case AlertWorkerOnline:
		return c.OnWorkerOnline
	case AlertWorkerMissing:
		return c.OnWorkerMissing
	}
	return false
}

// Alert represents a triggered alert
type Alert struct {
	Type       AlertType `json:"type"`
	EntityID   string    `json:"entityId"`
	WorkerName string    `json:"workerName"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// AlertEngine watches connectivity states and sends alerts
type AlertEngine struct {
	config        *AlertConfig
	client        *http.Client
	log           *zap.Logger
	alertCooldown map[string]time.Time
	now           func() time.Time
	mu            sync.RWMutex
	wg            sync.WaitGroup
}

// NewAlertEngine creates a new alert engine
func NewAlertEngine(log *zap.Logger, cfg *AlertConfig) *AlertEngine {
	return &AlertEngine{
		config:        cfg,
		client:        &http.Client{Timeout: 10 * time.Second},
		log:           log.Named("alerts"),
		alertCooldown: make(map[string]time.Time),
		now:           time.Now,
	}
}

// ConfigFrom converts the file configuration into an engine configuration
func ConfigFrom(c config.AlertConfig) *AlertConfig {
	return &AlertConfig{
		WebhookURL:      c.WebhookURL,
		OnWorkerOffline: c.OnWorkerOffline,
		OnWorkerOnline:  c.OnWorkerOnline,
		OnWorkerMissing: c.OnWorkerMissing,
		Cooldown:        time.Duration(c.CooldownMinutes) * time.Minute,
	}
}

// UpdateConfig updates the alert configuration
func (e *AlertEngine) UpdateConfig(cfg *AlertConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cfg
}

// CheckState evaluates a state change of a connectivity entity and returns
// the alert it triggered, if any.
func (e *AlertEngine) CheckState(change *storage.StateChange) *Alert {
	if change == nil || change.Old == nil || change.New == nil {
		return nil
	}
	if change.New.Attributes["device_class"] != entity.DeviceClassConnectivity {
		return nil
	}

	old, cur := change.Old.State, change.New.State
	var t AlertType
	switch {
	case old == entity.StateOn && cur == entity.StateOff:
		t = AlertWorkerOffline
	case old == entity.StateOff && cur == entity.StateOn:
		t = AlertWorkerOnline
	case old != entity.StateUnavailable && cur == entity.StateUnavailable:
		t = AlertWorkerMissing
	default:
		return nil
	}

	name, _ := change.New.Attributes["friendly_name"].(string)
	if name == "" {
		name = change.EntityID
	}

	alert := Alert{
		Type:       t,
		EntityID:   change.EntityID,
		WorkerName: name,
		Message:    alertMessage(t, name),
		Timestamp:  change.New.LastUpdated,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.config.enabled(t) {
		return nil
	}
	if !e.sendAlert(alert) {
		return nil
	}
	return &alert
}

func alertMessage(t AlertType, name string) string {
	switch t {
	case AlertWorkerOffline:
		return fmt.Sprintf("%s stopped submitting shares", name)
	case AlertWorkerOnline:
		return fmt.Sprintf("%s is submitting shares again", name)
	default:
		return fmt.Sprintf("%s is no longer reported by the pool", name)
	}
}

// SendTestAlert sends a test message to the configured webhook. It bypasses
// the cooldown and runs synchronously.
func (e *AlertEngine) SendTestAlert() error {
	e.mu.RLock()
	webhookURL := e.config.WebhookURL
	e.mu.RUnlock()

	if webhookURL == "" {
		return fmt.Errorf("webhook URL is not configured")
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       "✅ Test Alert",
				"description": "This is a test alert from OceanHQ. If you see this message, your webhook is configured correctly!",
				"color":       0x00FF88,
				"timestamp":   e.now().Format(time.RFC3339),
				"footer": map[string]string{
					"text": "OceanHQ Alert System",
				},
			},
		},
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return e.post(webhookURL, body)
}

// buildDiscordPayload builds the JSON body for a Discord webhook embed.
func buildDiscordPayload(alert Alert) ([]byte, error) {
	d := getAlertDisplay(alert.Type)

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       fmt.Sprintf("%s %s", d.Emoji, d.Title),
				"description": alert.Message,
				"color":       d.Color,
				"fields": []map[string]interface{}{
					{"name": "Worker", "value": alert.WorkerName, "inline": true},
					{"name": "Entity", "value": alert.EntityID, "inline": true},
				},
				"timestamp": alert.Timestamp.Format(time.RFC3339),
				"footer": map[string]string{
					"text": "OceanHQ Alert System",
				},
			},
		},
	}

	return sonic.Marshal(payload)
}

// sendAlert applies the cooldown and dispatches the alert. Callers hold e.mu.
func (e *AlertEngine) sendAlert(alert Alert) bool {
	cooldownKey := alert.EntityID + ":" + string(alert.Type)
	now := e.now()
	if lastAlert, ok := e.alertCooldown[cooldownKey]; ok && now.Sub(lastAlert) < e.config.Cooldown {
		e.log.Debug("Alert suppressed by cooldown", zap.String("key", cooldownKey))
		return false
	}
	e.alertCooldown[cooldownKey] = now

	if e.config.WebhookURL == "" {
		e.log.Info("Alert",
			zap.String("type", string(alert.Type)),
			zap.String("worker", alert.WorkerName),
			zap.String("message", alert.Message))
		return true
	}

	body, err := buildDiscordPayload(alert)
	if err != nil {
		e.log.Error("Failed to marshal webhook payload", zap.Error(err))
		return false
	}

	url := e.config.WebhookURL
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.post(url, body); err != nil {
			e.log.Warn("Failed to send webhook", zap.String("type", string(alert.Type)), zap.Error(err))
		}
	}()
	return true
}

// Wait blocks until in-flight webhooks have been posted
func (e *AlertEngine) Wait() {
	e.wg.Wait()
}

func (e *AlertEngine) post(url string, body []byte) error {
	resp, err := e.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
