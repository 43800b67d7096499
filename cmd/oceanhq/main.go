package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"

	"github.com/camarigor/ocean-hq/internal/alerts"
	"github.com/camarigor/ocean-hq/internal/api"
	"github.com/camarigor/ocean-hq/internal/collector"
	"github.com/camarigor/ocean-hq/internal/config"
	"github.com/camarigor/ocean-hq/internal/host"
	"github.com/camarigor/ocean-hq/internal/logger"
	"github.com/camarigor/ocean-hq/internal/ocean"
	"github.com/camarigor/ocean-hq/internal/pricing"
	"github.com/camarigor/ocean-hq/internal/storage"
)

// maxConcurrentSetups bounds how many accounts are polled at once on startup
const maxConcurrentSetups = 4

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	// Load config (defaults plus environment if file doesn't exist)
	cfg, err := config.Load(*configPath)
	fresh := errors.Is(err, config.ErrNotFound)
	if err != nil && !fresh {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("OceanHQ starting...", zap.String("config", *configPath))
	if fresh {
		log.Info("Config file not found, using defaults", zap.String("path", *configPath))
		// Save default config so it persists
		if err := cfg.Save(*configPath); err != nil {
			log.Warn("Could not save default config", zap.Error(err))
		}
	}

	store, err := storage.NewStateStore(storage.MemoryDSN)
	if err != nil {
		log.Fatal("Failed to initialize state machine", zap.Error(err))
	}
	defer store.Close()

	client := collector.NewClient(cfg.Ocean.APIBaseURL, cfg.Ocean.RequestTimeout, log)
	scraper := collector.NewLifetimeScraper(cfg.Ocean.PoolURL, cfg.Ocean.ScrapeTimeout, log)
	h := host.New(log, store, ocean.NewIntegration(log, client, scraper))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rates *pricing.ExchangeRateService
	if cfg.Pricing.Enabled {
		rates = pricing.NewExchangeRateService(log, h, pricing.Options{
			EntityID: ocean.ExchangeRateEntity,
			Currency: cfg.Pricing.FiatCurrency,
			Interval: cfg.Pricing.UpdateInterval,
		})
		// The first rate is fetched before accounts so the USD sensor starts available.
		if err := rates.FirstRefresh(ctx); err != nil {
			log.Warn("Exchange rate not available yet", zap.Error(err))
		}
		go rates.Run(ctx, false)
		log.Info("Pricing service started", zap.Duration("interval", cfg.Pricing.UpdateInterval))
	}

	var alertEngine *alerts.AlertEngine
	if cfg.Alerts.Enabled {
		alertEngine = alerts.NewAlertEngine(log, alerts.ConfigFrom(cfg.Alerts))
		log.Info("Alert engine initialized", zap.Bool("webhook", cfg.Alerts.WebhookURL != ""))
	}

	setupAccounts(ctx, log, h, cfg.Accounts)

	validate := func(ctx context.Context, username string) (string, error) {
		return ocean.ValidateInput(ctx, client, username)
	}
	server := api.NewServer(log, cfg, *configPath, h, validate, alertEngine)
	if rates != nil {
		server.SetExchangeRate(rates)
	}
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	log.Info("OceanHQ is running. Press Ctrl+C to stop.")

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("OceanHQ shutting down...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn("Server shutdown error", zap.Error(err))
	}
	cancel()
	h.Stop(shutdownCtx)
	if alertEngine != nil {
		alertEngine.Wait()
	}

	log.Info("OceanHQ stopped")
}

// setupAccounts loads the configured accounts concurrently. Accounts that
// fail are logged and skipped.
func setupAccounts(ctx context.Context, log *zap.Logger, h *host.Host, accounts []config.AccountConfig) {
	swg := sizedwaitgroup.New(maxConcurrentSetups)
	for _, acct := range accounts {
		swg.Add()
		go func() {
			defer swg.Done()

			alog := log.With(zap.String("username", acct.Username))
			if err := ocean.ValidateUsername(acct.Username); err != nil {
				alog.Error("Skipping account", zap.Error(err))
				return
			}
			_, err := h.AddEntry(ctx, ocean.Title(acct.Username), acct.Username, host.EntryData{
				Username:     acct.Username,
				ScanInterval: int(acct.Interval() / time.Second),
			})
			if err != nil {
				alog.Error("Failed to set up account", zap.Error(err))
			}
		}()
	}
	swg.Wait()

	log.Info("Accounts loaded", zap.Int("configured", len(accounts)), zap.Int("loaded", len(h.Entries())))
}
