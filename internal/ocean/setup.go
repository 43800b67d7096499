package ocean

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/camarigor/ocean-hq/internal/collector"
	"github.com/camarigor/ocean-hq/internal/entity"
	"github.com/camarigor/ocean-hq/internal/host"
)

// DefaultScanInterval is used when an entry has no scan interval
const DefaultScanInterval = 60 * time.Second

// RuntimeData is stored on the config entry after setup
type RuntimeData struct {
	Collector *collector.Collector
}

// Refresh polls the account now
func (r *RuntimeData) Refresh(ctx context.Context) error {
	return r.Collector.Refresh(ctx)
}

// Diagnostics returns the collector summary
func (r *RuntimeData) Diagnostics() any {
	return r.Collector.Diagnostics()
}

// Integration wires OCEAN accounts into the host
type Integration struct {
	fetcher collector.Fetcher
	scraper LifetimeFetcher
	log     *zap.Logger
}

// NewIntegration creates the OCEAN integration
func NewIntegration(log *zap.Logger, fetcher collector.Fetcher, scraper LifetimeFetcher) *Integration {
	return &Integration{
		fetcher: fetcher,
		scraper: scraper,
		log:     log.Named("ocean"),
	}
}

func (i *Integration) Domain() string { return Domain }

// SetupEntry polls the account once, registers the account and worker
// entities and starts polling. Workers that show up later get their entities
// from a listener on the collector.
func (i *Integration) SetupEntry(ctx context.Context, h *host.Host, entry *host.ConfigEntry) error {
	username := entry.Data.Username
	interval := DefaultScanInterval
	if entry.Data.ScanInterval > 0 {
		interval = time.Duration(entry.Data.ScanInterval) * time.Second
	}

	coll := collector.New(i.log, username, interval, i.fetcher)
	if err := coll.FirstRefresh(ctx); err != nil {
		return err
	}
	entry.RuntimeData = &RuntimeData{Collector: coll}

	account := make([]entity.Entity, 0, len(AccountSensors)+2)
	for _, desc := range AccountSensors {
		account = append(account, NewAccountSensor(coll, desc))
	}
	account = append(account,
		NewUnpaidUSDSensor(i.log, coll, h),
		NewLifetimeSensor(i.log, i.scraper, username, "", interval),
	)
	if _, err := h.AddEntities(entry, account); err != nil {
		return fmt.Errorf("failed to add account entities: %w", err)
	}

	platforms := []*workerTracker{
		newWorkerTracker(func(worker string) []entity.Entity {
			entities := make([]entity.Entity, 0, len(WorkerSensors)+1)
			for _, desc := range WorkerSensors {
				entities = append(entities, NewWorkerSensor(coll, worker, desc))
			}
			return append(entities, NewLifetimeSensor(i.log, i.scraper, username, worker, interval))
		}),
		newWorkerTracker(func(worker string) []entity.Entity {
			return []entity.Entity{NewWorkerStatusSensor(coll, worker)}
		}),
	}

	for _, tracker := range platforms {
		if _, err := h.AddEntities(entry, tracker.diff(coll.Data().WorkerNames())); err != nil {
			return fmt.Errorf("failed to add worker entities: %w", err)
		}

		entry.OnUnload(coll.AddListener(func() {
			added := tracker.diff(coll.Data().WorkerNames())
			if len(added) == 0 {
				return
			}
			if _, err := h.AddEntities(entry, added); err != nil {
				i.log.Error("Failed to add entities for new workers",
					zap.String("username", username), zap.Error(err))
			}
		}))
	}

	entry.Go(func(ctx context.Context) { coll.Run(ctx, false) })

	i.log.Info("Set up OCEAN account",
		zap.String("username", username),
		zap.Duration("interval", interval),
		zap.Int("workers", len(coll.Data().Workers)))
	return nil
}

func (i *Integration) UnloadEntry(ctx context.Context, h *host.Host, entry *host.ConfigEntry) error {
	i.log.Info("Unloading OCEAN account", zap.String("username", entry.Data.Username))
	return nil
}

// workerTracker remembers which workers already have entities on one platform
type workerTracker struct {
	build func(worker string) []entity.Entity

	mu    sync.Mutex
	known map[string]struct{}
}

func newWorkerTracker(build func(worker string) []entity.Entity) *workerTracker {
	return &workerTracker{build: build, known: make(map[string]struct{})}
}

// diff returns entities for the workers not seen before and marks them known
func (t *workerTracker) diff(workers []string) []entity.Entity {
	t.mu.Lock()
	defer t.mu.Unlock()

	var added []entity.Entity
	for _, w := range workers {
		if _, ok := t.known[w]; ok {
			continue
		}
		t.known[w] = struct{}{}
		added = append(added, t.build(w)...)
	}
	return added
}
