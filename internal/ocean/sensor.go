package ocean

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/camarigor/ocean-hq/internal/collector"
	"github.com/camarigor/ocean-hq/internal/coordinator"
	"github.com/camarigor/ocean-hq/internal/entity"
	"github.com/camarigor/ocean-hq/internal/storage"
)

// StateReader reads entity states from the host
type StateReader interface {
	State(entityID string) (*storage.State, error)
}

// safeWorkerName replaces spaces and dashes for use in unique ids
func safeWorkerName(worker string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(worker)
}

func accountDevice(username string) entity.DeviceInfo {
	return entity.DeviceInfo{
		Identifier:       username,
		Name:             AccountModel,
		Manufacturer:     Manufacturer,
		Model:            AccountModel,
		ConfigurationURL: ConfigurationURL,
	}
}

func workerDevice(username, worker string) entity.DeviceInfo {
	return entity.DeviceInfo{
		Identifier:       username + "_" + worker,
		Name:             worker,
		Manufacturer:     Manufacturer,
		Model:            WorkerModel,
		ConfigurationURL: ConfigurationURL,
		ViaDevice:        username,
	}
}

// coordinatorEntity is the shared part of entities fed by the account collector
type coordinatorEntity struct {
	coll *collector.Collector
}

func (c coordinatorEntity) Subscribe(onChange func()) func() {
	return c.coll.AddListener(onChange)
}

func (c coordinatorEntity) collectorAvailable() bool {
	return c.coll.Available() && c.coll.LastUpdateSuccess()
}

// AccountSensor publishes one account-level field
type AccountSensor struct {
	coordinatorEntity
	desc AccountDescription
}

// NewAccountSensor creates an account sensor for desc
func NewAccountSensor(coll *collector.Collector, desc AccountDescription) *AccountSensor {
	return &AccountSensor{coordinatorEntity: coordinatorEntity{coll: coll}, desc: desc}
}

func (s *AccountSensor) UniqueID() string                { return s.coll.Username() + "_" + s.desc.Key }
func (s *AccountSensor) Name() string                    { return "Mining Account " + s.desc.Name }
func (s *AccountSensor) Platform() entity.Platform       { return entity.PlatformSensor }
func (s *AccountSensor) Description() entity.Description { return s.desc.Description }
func (s *AccountSensor) Device() entity.DeviceInfo       { return accountDevice(s.coll.Username()) }
func (s *AccountSensor) Available() bool                 { return s.collectorAvailable() }
func (s *AccountSensor) Attributes() map[string]any      { return nil }
func (s *AccountSensor) Value() any                      { return s.desc.Value(s.coll.Data().Account) }

// UnpaidUSDSensor converts the unpaid balance with the exchange rate entity
type UnpaidUSDSensor struct {
	coordinatorEntity
	rates StateReader
	log   *zap.Logger
}

// NewUnpaidUSDSensor creates the unpaid balance USD sensor
func NewUnpaidUSDSensor(log *zap.Logger, coll *collector.Collector, rates StateReader) *UnpaidUSDSensor {
	return &UnpaidUSDSensor{coordinatorEntity: coordinatorEntity{coll: coll}, rates: rates, log: log}
}

func (s *UnpaidUSDSensor) UniqueID() string {
	return s.coll.Username() + "_" + unpaidUSDDescription.Key
}

func (s *UnpaidUSDSensor) Name() string {
	return "Mining Account " + unpaidUSDDescription.Name
}

func (s *UnpaidUSDSensor) Platform() entity.Platform       { return entity.PlatformSensor }
func (s *UnpaidUSDSensor) Description() entity.Description { return unpaidUSDDescription }
func (s *UnpaidUSDSensor) Device() entity.DeviceInfo       { return accountDevice(s.coll.Username()) }
func (s *UnpaidUSDSensor) Attributes() map[string]any      { return nil }

func (s *UnpaidUSDSensor) rate() *storage.State {
	st, err := s.rates.State(ExchangeRateEntity)
	if err != nil {
		s.log.Error("Failed to read exchange rate", zap.Error(err))
		return nil
	}
	return st
}

func (s *UnpaidUSDSensor) Available() bool {
	return s.collectorAvailable() && s.rate() != nil
}

func (s *UnpaidUSDSensor) Value() any {
	st := s.rate()
	if st == nil {
		s.log.Debug("Exchange rate sensor not found", zap.String("entity_id", ExchangeRateEntity))
		return nil
	}
	rate, err := decimal.NewFromString(st.State)
	if err != nil {
		s.log.Error("Invalid exchange rate", zap.String("state", st.State))
		return nil
	}
	return s.coll.Data().Account.Unpaid.Mul(rate)
}

// WorkerSensor publishes one field of one worker
type WorkerSensor struct {
	coordinatorEntity
	worker string
	desc   WorkerDescription
}

// NewWorkerSensor creates a worker sensor for desc
func NewWorkerSensor(coll *collector.Collector, worker string, desc WorkerDescription) *WorkerSensor {
	return &WorkerSensor{coordinatorEntity: coordinatorEntity{coll: coll}, worker: worker, desc: desc}
}

// Worker returns the worker name
func (s *WorkerSensor) Worker() string { return s.worker }

func (s *WorkerSensor) UniqueID() string {
	return s.coll.Username() + "_" + safeWorkerName(s.worker) + "_" + s.desc.Key
}

func (s *WorkerSensor) Name() string                    { return s.worker + " " + s.desc.Name }
func (s *WorkerSensor) Platform() entity.Platform       { return entity.PlatformSensor }
func (s *WorkerSensor) Description() entity.Description { return s.desc.Description }
func (s *WorkerSensor) Device() entity.DeviceInfo       { return workerDevice(s.coll.Username(), s.worker) }

func (s *WorkerSensor) Available() bool {
	if !s.collectorAvailable() {
		return false
	}
	_, ok := s.coll.Data().Worker(s.worker)
	return ok
}

func (s *WorkerSensor) Value() any {
	w, ok := s.coll.Data().Worker(s.worker)
	if !ok {
		return nil
	}
	return s.desc.Value(w)
}

func (s *WorkerSensor) Attributes() map[string]any {
	w, _ := s.coll.Data().Worker(s.worker)
	return map[string]any{
		"shares_60s":      w.Shares60s,
		"shares_300s":     w.Shares300s,
		"shares_in_tides": w.SharesInTides,
		"is_active":       w.Active,
	}
}

// LifetimeFetcher scrapes lifetime earnings
type LifetimeFetcher interface {
	Fetch(ctx context.Context, username, worker string) (float64, error)
}

// LifetimeSensor scrapes lifetime earnings on its own schedule. Failed scrapes
// are logged and keep the last value.
type LifetimeSensor struct {
	username string
	worker   string
	scraper  LifetimeFetcher
	log      *zap.Logger
	coord    *coordinator.Coordinator[*float64]

	mu    sync.Mutex
	value *float64
}

// NewLifetimeSensor creates a lifetime earnings sensor for the account, or
// for worker when it is not empty.
func NewLifetimeSensor(log *zap.Logger, scraper LifetimeFetcher, username, worker string, interval time.Duration) *LifetimeSensor {
	s := &LifetimeSensor{
		username: username,
		worker:   worker,
		scraper:  scraper,
	}
	name := "OCEAN Account Lifetime Earnings"
	if worker != "" {
		name = "OCEAN Lifetime Earnings " + worker
	}
	s.log = log.Named("lifetime").With(zap.String("username", username), zap.String("worker", worker))
	s.coord = coordinator.New(log, name, interval, s.update)
	s.coord.AddListener(s.keepValue)
	return s
}

func (s *LifetimeSensor) update(ctx context.Context) (*float64, error) {
	value, err := s.scraper.Fetch(ctx, s.username, s.worker)
	if err != nil {
		s.log.Warn("Could not read lifetime earnings", zap.Error(err))
		return nil, nil
	}
	return &value, nil
}

// Worker returns the worker name, empty for the account sensor
func (s *LifetimeSensor) Worker() string { return s.worker }

func (s *LifetimeSensor) UniqueID() string {
	if s.worker == "" {
		return s.username + "_" + lifetimeDescription.Key
	}
	return s.username + "_" + safeWorkerName(s.worker) + "_" + lifetimeDescription.Key
}

func (s *LifetimeSensor) Name() string {
	if s.worker == "" {
		return "Mining Account " + lifetimeDescription.Name
	}
	return s.worker + " " + lifetimeDescription.Name
}

func (s *LifetimeSensor) Device() entity.DeviceInfo {
	if s.worker == "" {
		return accountDevice(s.username)
	}
	return workerDevice(s.username, s.worker)
}

func (s *LifetimeSensor) Platform() entity.Platform       { return entity.PlatformSensor }
func (s *LifetimeSensor) Description() entity.Description { return lifetimeDescription }
func (s *LifetimeSensor) Attributes() map[string]any      { return nil }
func (s *LifetimeSensor) Available() bool                 { return s.coord.LastUpdateSuccess() }

func (s *LifetimeSensor) Value() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Refresh scrapes once and keeps the value if one was found
func (s *LifetimeSensor) Refresh(ctx context.Context) error {
	return s.coord.Refresh(ctx)
}

func (s *LifetimeSensor) keepValue() {
	if v := s.coord.Data(); v != nil {
		s.mu.Lock()
		s.value = v
		s.mu.Unlock()
	}
}

// Run scrapes immediately and then on every interval until ctx is done
func (s *LifetimeSensor) Run(ctx context.Context, onChange func()) {
	defer s.coord.AddListener(onChange)()

	s.coord.Run(ctx, true)
}
