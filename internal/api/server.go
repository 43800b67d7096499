package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/camarigor/ocean-hq/internal/alerts"
	"github.com/camarigor/ocean-hq/internal/config"
	"github.com/camarigor/ocean-hq/internal/host"
)

// ValidateFunc checks a username before an entry is created and returns the
// entry title.
type ValidateFunc func(ctx context.Context, username string) (string, error)

// RateSource reports the latest BTC exchange rate
type RateSource interface {
	Rate() (decimal.Decimal, bool)
}

// Server represents the HTTP API server
type Server struct {
	cfg        *config.Config
	configPath string
	cfgMu      sync.Mutex

	host     *host.Host
	validate ValidateFunc
	alerts   *alerts.AlertEngine
	rates    RateSource
	hub      *WebSocketHub
	server   *http.Server
	log      *zap.Logger
	started  time.Time

	stopEvents chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server. alertEngine may be nil. Entries added or
// removed over the API are written back to configPath when it is set.
func NewServer(log *zap.Logger, cfg *config.Config, configPath string, h *host.Host, validate ValidateFunc, alertEngine *alerts.AlertEngine) *Server {
	log = log.Named("api")
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		host:       h,
		validate:   validate,
		alerts:     alertEngine,
		hub:        NewWebSocketHub(log),
		log:        log,
		started:    time.Now(),
		stopEvents: make(chan struct{}),
	}
}

// SetExchangeRate makes the health endpoint report the current BTC rate
func (s *Server) SetExchangeRate(rates RateSource) {
	s.rates = rates
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Config entries
		r.Get("/entries", s.handleGetEntries)
		r.Post("/entries", s.handleAddEntry)
		r.Get("/entries/{id}", s.handleGetEntry)
		r.Delete("/entries/{id}", s.handleRemoveEntry)
		r.Post("/entries/{id}/refresh", s.handleRefreshEntry)

		// Registries
		r.Get("/devices", s.handleGetDevices)
		r.Get("/entities", s.handleGetEntities)

		// State machine
		r.Get("/states", s.handleGetStates)
		r.Get("/states/{entityID}", s.handleGetState)

		// Alerts
		r.Get("/alerts/config", s.handleGetAlertConfig)
		r.Put("/alerts/config", s.handleSaveAlertConfig)
		r.Post("/alerts/test", s.handleTestAlert)

		// WebSocket
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	go s.hub.Run()
	go s.forwardEvents()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.log.Info("Starting HTTP server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopEvents) })
	s.hub.Stop()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// forwardEvents forwards host state changes to the WebSocket hub and the
// alert engine
func (s *Server) forwardEvents() {
	for {
		select {
		case <-s.stopEvents:
			return

		case change, ok := <-s.host.StateChan:
			if !ok {
				return
			}
			s.hub.PublishStateChange(change)

			if s.alerts == nil {
				continue
			}
			if alert := s.alerts.CheckState(change); alert != nil {
				s.hub.PublishAlert(alert)
			}
		}
	}
}
