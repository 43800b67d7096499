package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/camarigor/ocean-hq/internal/alerts"
	"github.com/camarigor/ocean-hq/internal/config"
	"github.com/camarigor/ocean-hq/internal/coordinator"
	"github.com/camarigor/ocean-hq/internal/host"
	"github.com/camarigor/ocean-hq/internal/storage"
)

// EntryResponse is a config entry with its runtime diagnostics
type EntryResponse struct {
	ID          string         `json:"id"`
	Domain      string         `json:"domain"`
	Title       string         `json:"title"`
	UniqueID    string         `json:"uniqueId"`
	Data        host.EntryData `json:"data"`
	Diagnostics any            `json:"diagnostics,omitempty"`
}

func newEntryResponse(e *host.ConfigEntry) EntryResponse {
	resp := EntryResponse{
		ID:       e.ID,
		Domain:   e.Domain,
		Title:    e.Title,
		UniqueID: e.UniqueID,
		Data:     e.Data,
	}
	if d, ok := e.RuntimeData.(host.Diagnoser); ok {
		resp.Diagnostics = d.Diagnostics()
	}
	return resp
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status       string `json:"status"`
	Entries      int    `json:"entries"`
	Uptime       string `json:"uptime"`
	ExchangeRate string `json:"exchangeRate,omitempty"`
}

// handleHealth reports liveness
// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Entries: len(s.host.Entries()),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if s.rates != nil {
		if rate, ok := s.rates.Rate(); ok {
			resp.ExchangeRate = rate.String()
		}
	}
	s.jsonResponse(w, resp)
}

// handleGetEntries returns all config entries
// GET /api/entries
func (s *Server) handleGetEntries(w http.ResponseWriter, r *http.Request) {
	entries := s.host.Entries()
	result := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		result = append(result, newEntryResponse(e))
	}
	s.jsonResponse(w, result)
}

// handleGetEntry returns a single config entry
// GET /api/entries/{id}
func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.host.Entry(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.jsonResponse(w, newEntryResponse(entry))
}

// AddEntryRequest represents a request to monitor an account
type AddEntryRequest struct {
	Username     string `json:"username"`
	ScanInterval int    `json:"scanInterval"`
}

// handleAddEntry validates the username and sets up a new entry
// POST /api/entries
func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	var req AddEntryRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	req.Username = strings.TrimSpace(req.Username)
	if req.ScanInterval < 0 {
		http.Error(w, "scan interval must not be negative", http.StatusBadRequest)
		return
	}
	if req.ScanInterval == 0 {
		req.ScanInterval = config.DefaultScanInterval
	}

	title, err := s.validate(r.Context(), req.Username)
	if err != nil {
		s.log.Info("Rejected account", zap.String("username", req.Username), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := s.host.AddEntry(r.Context(), title, req.Username, host.EntryData{
		Username:     req.Username,
		ScanInterval: req.ScanInterval,
	})
	switch {
	case errors.Is(err, host.ErrAlreadyConfigured):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, coordinator.ErrNotReady):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.persistAccounts()

	s.writeJSON(w, http.StatusCreated, newEntryResponse(entry))
}

// handleRemoveEntry unloads a config entry
// DELETE /api/entries/{id}
func (s *Server) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	err := s.host.UnloadEntry(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, host.ErrEntryNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Warn("Entry unloaded with errors", zap.Error(err))
	}

	s.persistAccounts()
	s.jsonResponse(w, map[string]bool{"success": true})
}

// handleRefreshEntry polls an entry now and returns its diagnostics
// POST /api/entries/{id}/refresh
func (s *Server) handleRefreshEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.host.Entry(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	refresher, ok := entry.RuntimeData.(host.Refresher)
	if !ok {
		http.Error(w, "entry cannot be refreshed", http.StatusConflict)
		return
	}
	if err := refresher.Refresh(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	s.jsonResponse(w, newEntryResponse(entry))
}

// handleGetDevices returns registered devices, optionally for one entry
// GET /api/devices?entry={id}
func (s *Server) handleGetDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.host.Store().GetDevices(r.URL.Query().Get("entry"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []*storage.Device{}
	}
	s.jsonResponse(w, devices)
}

// handleGetEntities returns registered entities, optionally for one entry
// GET /api/entities?entry={id}
func (s *Server) handleGetEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.host.Store().GetEntities(r.URL.Query().Get("entry"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entities == nil {
		entities = []*storage.EntityRecord{}
	}
	s.jsonResponse(w, entities)
}

// handleGetStates returns every current state
// GET /api/states
func (s *Server) handleGetStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.host.Store().ListStates()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if states == nil {
		states = []*storage.State{}
	}
	s.jsonResponse(w, states)
}

// handleGetState returns one state
// GET /api/states/{entityID}
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	st, err := s.host.State(chi.URLParam(r, "entityID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if st == nil {
		http.Error(w, "entity not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, st)
}

// handleTestAlert sends a test alert to the configured webhook
// POST /api/alerts/test
func (s *Server) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		http.Error(w, "alerts are disabled", http.StatusBadRequest)
		return
	}
	if err := s.alerts.SendTestAlert(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, map[string]bool{"success": true})
}

// handleGetAlertConfig returns the alert settings
// GET /api/alerts/config
func (s *Server) handleGetAlertConfig(w http.ResponseWriter, r *http.Request) {
	s.cfgMu.Lock()
	cfg := s.cfg.Alerts
	s.cfgMu.Unlock()
	s.jsonResponse(w, cfg)
}

// handleSaveAlertConfig replaces the alert settings, saves them and pushes
// them to the running engine
// PUT /api/alerts/config
func (s *Server) handleSaveAlertConfig(w http.ResponseWriter, r *http.Request) {
	var req config.AlertConfig
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.CooldownMinutes < 0 {
		http.Error(w, "cooldown_minutes must not be negative", http.StatusBadRequest)
		return
	}

	s.cfgMu.Lock()
	s.cfg.Alerts = req
	var saveErr error
	if s.configPath != "" {
		saveErr = s.cfg.Save(s.configPath)
	}
	s.cfgMu.Unlock()

	if saveErr != nil {
		http.Error(w, saveErr.Error(), http.StatusInternalServerError)
		return
	}

	// Propagate alert config to the running engine
	if s.alerts != nil {
		s.alerts.UpdateConfig(alerts.ConfigFrom(req))
	}

	s.jsonResponse(w, req)
}

// persistAccounts writes the loaded entries back to the config file
func (s *Server) persistAccounts() {
	if s.configPath == "" {
		return
	}

	entries := s.host.Entries()
	accounts := make([]config.AccountConfig, 0, len(entries))
	for _, e := range entries {
		accounts = append(accounts, config.AccountConfig{Username: e.Data.Username, ScanInterval: e.Data.ScanInterval})
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg.Accounts = accounts
	if err := s.cfg.Save(s.configPath); err != nil {
		s.log.Error("Failed to save config", zap.String("path", s.configPath), zap.Error(err))
	}
}

// jsonResponse sends a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, data)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", zap.Error(err))
	}
}
