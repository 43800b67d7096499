package ocean

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/camarigor/ocean-hq/internal/collector"
	"github.com/camarigor/ocean-hq/internal/entity"
	"github.com/camarigor/ocean-hq/internal/storage"
)

const testUser = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

type fakeFetcher struct {
	mu       sync.Mutex
	userinfo map[string]any
	err      error
}

func (f *fakeFetcher) FetchUserInfoFull(ctx context.Context, username string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userinfo, f.err
}

func (f *fakeFetcher) FetchStatsnap(ctx context.Context, username string) (map[string]any, error) {
	return nil, errors.New("statsnap not available")
}

func (f *fakeFetcher) set(userinfo map[string]any, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userinfo, f.err = userinfo, err
}

var errDown = &collector.Error{Kind: collector.KindTransport, Op: "userinfo_full", Err: errors.New("connection refused")}

func userInfo(workers ...string) map[string]any {
	list := make([]any, 0, len(workers))
	for _, w := range workers {
		list = append(list, map[string]any{w: map[string]any{
			"hashrate_60s":              "2000000000000",
			"hashrate_300s":             "1500000000000",
			"shares_60s":                "10",
			"lastest_share_ts":          "1700000000",
			"estimated_earn_next_block": "0.00001",
		}})
	}
	return map[string]any{
		"user_full": map[string]any{
			"hashrate_60s":     "5000000000000",
			"unpaid":           "0.5",
			"lastest_share_ts": "1700000000",
		},
		"workers": list,
	}
}

func newTestCollector(t *testing.T, f *fakeFetcher) *collector.Collector {
	t.Helper()
	c := collector.New(zaptest.NewLogger(t), testUser, time.Minute, f)
	if err := c.FirstRefresh(context.Background()); err != nil {
		t.Fatalf("FirstRefresh() error = %v", err)
	}
	return c
}

func TestAccountSensor(t *testing.T) {
	f := &fakeFetcher{userinfo: userInfo("rig-1")}
	c := newTestCollector(t, f)

	s := NewAccountSensor(c, AccountSensors[0])
	if s.UniqueID() != testUser+"_hashrate_60s" {
		t.Errorf("unexpected unique id %s", s.UniqueID())
	}
	if s.Name() != "Mining Account Hashrate (60s)" {
		t.Errorf("unexpected name %s", s.Name())
	}
	if s.Device().Identifier != testUser || s.Device().ViaDevice != "" {
		t.Errorf("unexpected device %+v", s.Device())
	}
	if got := entity.StateOf(s); got != "5" {
		t.Errorf("expected state 5, got %s", got)
	}

	// First failure serves defaults and stays available.
	f.set(nil, errDown)
	_ = c.Refresh(context.Background())
	if !s.Available() {
		t.Fatal("expected sensor available after one failure")
	}
	if got := entity.StateOf(s); got != "0" {
		t.Errorf("expected default state 0, got %s", got)
	}

	_ = c.Refresh(context.Background())
	if s.Available() {
		t.Error("expected sensor unavailable after two failures")
	}
	if got := entity.StateOf(s); got != entity.StateUnavailable {
		t.Errorf("expected unavailable, got %s", got)
	}

	f.set(userInfo("rig-1"), nil)
	_ = c.Refresh(context.Background())
	if !s.Available() {
		t.Error("expected sensor available after recovery")
	}
}

func TestAccountSensorValues(t *testing.T) {
	c := newTestCollector(t, &fakeFetcher{userinfo: userInfo("rig-1", "rig-2")})

	want := map[string]string{
		"hashrate_60s":   "5",
		"unpaid":         "0.5",
		"last_share_ts":  "2023-11-14T22:13:20Z",
		"active_workers": "2",
		"shares_60s":     "0",
	}
	for _, desc := range AccountSensors {
		expected, ok := want[desc.Key]
		if !ok {
			continue
		}
		t.Run(desc.Key, func(t *testing.T) {
			if got := entity.StateOf(NewAccountSensor(c, desc)); got != expected {
				t.Errorf("expected %s, got %s", expected, got)
			}
		})
	}
}

func TestWorkerSensor(t *testing.T) {
	f := &fakeFetcher{userinfo: userInfo("rig-1 b")}
	c := newTestCollector(t, f)

	s := NewWorkerSensor(c, "rig-1 b", WorkerSensors[0])
	if s.UniqueID() != testUser+"_rig_1_b_hashrate_60s" {
		t.Errorf("unexpected unique id %s", s.UniqueID())
	}
	dev := s.Device()
	if dev.Identifier != testUser+"_rig-1 b" || dev.ViaDevice != testUser || dev.Model != WorkerModel {
		t.Errorf("unexpected device %+v", dev)
	}
	if !s.Available() || s.Value() != 2.0 {
		t.Errorf("expected available with 2.0, got %v/%v", s.Available(), s.Value())
	}
	if attrs := s.Attributes(); attrs["is_active"] != true || attrs["shares_60s"] != int64(10) {
		t.Errorf("unexpected attributes %v", attrs)
	}

	// The worker stops reporting but the account is fine.
	f.set(userInfo(), nil)
	_ = c.Refresh(context.Background())
	if s.Available() {
		t.Error("expected unavailable once the worker is gone")
	}
	if s.Value() != nil {
		t.Errorf("expected nil value, got %v", s.Value())
	}
}

func TestWorkerLastShare(t *testing.T) {
	c := newTestCollector(t, &fakeFetcher{userinfo: userInfo("rig")})

	s := NewWorkerSensor(c, "rig", WorkerSensors[2])
	if got := entity.StateOf(s); got != "2023-11-14T22:13:20Z" {
		t.Errorf("expected timestamp, got %s", got)
	}
}

type fakeStates map[string]string

func (f fakeStates) State(entityID string) (*storage.State, error) {
	v, ok := f[entityID]
	if !ok {
		return nil, nil
	}
	return &storage.State{EntityID: entityID, State: v}, nil
}

func TestUnpaidUSDSensor(t *testing.T) {
	c := newTestCollector(t, &fakeFetcher{userinfo: userInfo()})

	tests := []struct {
		name      string
		states    fakeStates
		available bool
		want      string
	}{
		{name: "no rate", states: fakeStates{}, available: false, want: entity.StateUnavailable},
		{name: "rate", states: fakeStates{ExchangeRateEntity: "60000"}, available: true, want: "30000"},
		{name: "invalid rate", states: fakeStates{ExchangeRateEntity: "unknown"}, available: true, want: entity.StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewUnpaidUSDSensor(zaptest.NewLogger(t), c, tt.states)
			if s.Available() != tt.available {
				t.Errorf("expected available=%v", tt.available)
			}
			if got := entity.StateOf(s); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	s := NewUnpaidUSDSensor(zaptest.NewLogger(t), c, fakeStates{ExchangeRateEntity: "65000.50"})
	got, ok := s.Value().(decimal.Decimal)
	if !ok || !got.Equal(decimal.RequireFromString("32500.25")) {
		t.Errorf("expected 32500.25, got %v", s.Value())
	}
	if s.UniqueID() != testUser+"_unpaid_usd" {
		t.Errorf("unexpected unique id %s", s.UniqueID())
	}
}

func TestWorkerStatusSensor(t *testing.T) {
	f := &fakeFetcher{userinfo: userInfo("rig")}
	c := newTestCollector(t, f)

	s := NewWorkerStatusSensor(c, "rig")
	if s.UniqueID() != testUser+"_rig_status" || s.Platform() != entity.PlatformBinarySensor {
		t.Errorf("unexpected identity %s/%s", s.UniqueID(), s.Platform())
	}
	if got := entity.StateOf(s); got != entity.StateOn {
		t.Errorf("expected on, got %s", got)
	}
	if attrs := s.Attributes(); attrs["hashrate_60s"] != 2.0 {
		t.Errorf("unexpected attributes %v", attrs)
	}

	idle := userInfo("rig")
	idle["workers"] = []any{map[string]any{"rig": map[string]any{"shares_60s": "0"}}}
	f.set(idle, nil)
	_ = c.Refresh(context.Background())
	if got := entity.StateOf(s); got != entity.StateOff {
		t.Errorf("expected off, got %s", got)
	}

	f.set(userInfo(), nil)
	_ = c.Refresh(context.Background())
	if s.Value() != false || s.Available() {
		t.Errorf("missing worker should be off and unavailable, got %v/%v", s.Value(), s.Available())
	}
}

type fakeScraper struct {
	mu     sync.Mutex
	values []float64
	errs   []error
	calls  int
}

func (f *fakeScraper) Fetch(ctx context.Context, username, worker string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return 0, f.errs[i]
	}
	if i < len(f.values) {
		return f.values[i], nil
	}
	return 0, &collector.Error{Kind: collector.KindParse, Op: "lifetime earnings", Err: collector.ErrLabelNotFound}
}

func TestLifetimeSensorKeepsLastValue(t *testing.T) {
	scraper := &fakeScraper{
		values: []float64{0, 1.25, 0},
		errs:   []error{&collector.Error{Kind: collector.KindTransport, Op: "stats page", Err: errors.New("timeout")}},
	}
	s := NewLifetimeSensor(zaptest.NewLogger(t), scraper, testUser, "", time.Minute)
	ctx := context.Background()

	if s.Available() {
		t.Error("expected unavailable before the first scrape")
	}

	_ = s.Refresh(ctx)
	if got := entity.StateOf(s); got != entity.StateUnknown {
		t.Errorf("failed first scrape should be unknown, got %s", got)
	}

	_ = s.Refresh(ctx)
	if got := entity.StateOf(s); got != "1.25" {
		t.Errorf("expected 1.25, got %s", got)
	}

	// values[2] is 0 and is a real value.
	_ = s.Refresh(ctx)
	if got := entity.StateOf(s); got != "0" {
		t.Errorf("expected 0, got %s", got)
	}

	// Scrape errors keep the previous value.
	_ = s.Refresh(ctx)
	if got := entity.StateOf(s); got != "0" {
		t.Errorf("expected retained 0, got %s", got)
	}
	if !s.Available() {
		t.Error("scrape failures should not make the sensor unavailable")
	}
}

func TestLifetimeSensorIdentity(t *testing.T) {
	scraper := &fakeScraper{}
	log := zaptest.NewLogger(t)

	account := NewLifetimeSensor(log, scraper, testUser, "", time.Minute)
	if account.UniqueID() != testUser+"_lifetime_earnings" || account.Name() != "Mining Account Lifetime Earnings" {
		t.Errorf("unexpected account identity %s/%s", account.UniqueID(), account.Name())
	}

	worker := NewLifetimeSensor(log, scraper, testUser, "rig-1", time.Minute)
	if worker.UniqueID() != testUser+"_rig_1_lifetime_earnings" || worker.Name() != "rig-1 Lifetime Earnings" {
		t.Errorf("unexpected worker identity %s/%s", worker.UniqueID(), worker.Name())
	}
	if worker.Device().ViaDevice != testUser {
		t.Errorf("worker lifetime sensor should belong to the worker device, got %+v", worker.Device())
	}
}
