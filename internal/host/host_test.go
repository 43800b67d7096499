package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/camarigor/ocean-hq/internal/entity"
	"github.com/camarigor/ocean-hq/internal/storage"
)

type fakeEntity struct {
	uniqueID string
	name     string
	device   entity.DeviceInfo

	mu    sync.Mutex
	value any
	subs  map[int]func()
	next  int
}

func (f *fakeEntity) UniqueID() string                { return f.uniqueID }
func (f *fakeEntity) Name() string                    { return f.name }
func (f *fakeEntity) Platform() entity.Platform       { return entity.PlatformSensor }
func (f *fakeEntity) Description() entity.Description { return entity.Description{Unit: "TH/s"} }
func (f *fakeEntity) Device() entity.DeviceInfo       { return f.device }
func (f *fakeEntity) Available() bool                 { return true }
func (f *fakeEntity) Attributes() map[string]any      { return nil }

func (f *fakeEntity) Value() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *fakeEntity) set(v any) {
	f.mu.Lock()
	f.value = v
	subs := make([]func(), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (f *fakeEntity) Subscribe(onChange func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]func())
	}
	id := f.next
	f.next++
	f.subs[id] = onChange
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeEntity) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type runnerEntity struct {
	fakeEntity
	stopped chan struct{}
}

func (r *runnerEntity) Run(ctx context.Context, onChange func()) {
	r.set(1.5)
	onChange()
	<-ctx.Done()
	close(r.stopped)
}

type fakeIntegration struct {
	setupErr error
	entities func() []entity.Entity
	unloaded int
}

func (f *fakeIntegration) Domain() string { return "test" }

func (f *fakeIntegration) SetupEntry(ctx context.Context, h *Host, entry *ConfigEntry) error {
	if f.setupErr != nil {
		return f.setupErr
	}
	if f.entities != nil {
		if _, err := h.AddEntities(entry, f.entities()); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeIntegration) UnloadEntry(ctx context.Context, h *Host, entry *ConfigEntry) error {
	f.unloaded++
	return nil
}

func setupHost(t *testing.T, integration Integration) *Host {
	t.Helper()

	store, err := storage.NewStateStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := New(zaptest.NewLogger(t), store, integration)
	t.Cleanup(func() { h.Stop(context.Background()) })
	return h
}

func TestAddEntry(t *testing.T) {
	sensor := &fakeEntity{
		uniqueID: "acct_hashrate",
		name:     "Mining Account Hashrate (60s)",
		device:   entity.DeviceInfo{Identifier: "acct", Name: "Mining Account"},
		value:    5.0,
	}
	integration := &fakeIntegration{entities: func() []entity.Entity { return []entity.Entity{sensor} }}
	h := setupHost(t, integration)

	entry, err := h.AddEntry(context.Background(), "OCEAN Mining (acct)", "acct", EntryData{Username: "acct", ScanInterval: 60})
	if err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	if entry.Domain != "test" || entry.ID == "" {
		t.Errorf("unexpected entry %+v", entry)
	}

	st, err := h.State("sensor.mining_account_hashrate_60s")
	if err != nil || st == nil {
		t.Fatalf("expected initial state, got %+v, %v", st, err)
	}
	if st.State != "5" {
		t.Errorf("expected state 5, got %q", st.State)
	}
	if st.Attributes["unit_of_measurement"] != "TH/s" {
		t.Errorf("expected unit attribute, got %v", st.Attributes)
	}

	devices, _ := h.Store().GetDevices(entry.ID)
	if len(devices) != 1 || devices[0].ID != "acct" {
		t.Errorf("expected account device, got %+v", devices)
	}

	sensor.set(7.25)
	st, _ = h.State("sensor.mining_account_hashrate_60s")
	if st.State != "7.25" {
		t.Errorf("expected pushed update 7.25, got %q", st.State)
	}

	if len(h.Entries()) != 1 {
		t.Errorf("expected 1 entry, got %d", len(h.Entries()))
	}
}

func TestAddEntryDuplicate(t *testing.T) {
	h := setupHost(t, &fakeIntegration{})
	ctx := context.Background()

	if _, err := h.AddEntry(ctx, "a", "user", EntryData{Username: "user"}); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	_, err := h.AddEntry(ctx, "b", "user", EntryData{Username: "user"})
	if !errors.Is(err, ErrAlreadyConfigured) {
		t.Errorf("expected ErrAlreadyConfigured, got %v", err)
	}
}

func TestAddEntrySetupFailure(t *testing.T) {
	boom := errors.New("not ready")
	h := setupHost(t, &fakeIntegration{setupErr: boom})

	_, err := h.AddEntry(context.Background(), "a", "user", EntryData{Username: "user"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected setup error, got %v", err)
	}
	if len(h.Entries()) != 0 {
		t.Error("failed entry should be discarded")
	}

	// The unique id is free again after a failed setup.
	h.integration = &fakeIntegration{}
	if _, err := h.AddEntry(context.Background(), "a", "user", EntryData{Username: "user"}); err != nil {
		t.Errorf("retry after failed setup should succeed, got %v", err)
	}
}

func TestEntityIDCollisions(t *testing.T) {
	h := setupHost(t, &fakeIntegration{})
	entry, _ := h.AddEntry(context.Background(), "a", "a", EntryData{Username: "a"})

	ids, err := h.AddEntities(entry, []entity.Entity{
		&fakeEntity{uniqueID: "one", name: "Worker Hashrate"},
		&fakeEntity{uniqueID: "two", name: "Worker Hashrate"},
		&fakeEntity{uniqueID: "three", name: "Worker-Hashrate"},
		&fakeEntity{uniqueID: "one", name: "Duplicate"},
	})
	if err != nil {
		t.Fatalf("AddEntities() error = %v", err)
	}

	want := []string{"sensor.worker_hashrate", "sensor.worker_hashrate_2", "sensor.worker_hashrate_3"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("id %d: expected %s, got %s", i, want[i], ids[i])
		}
	}

	st, _ := h.State("sensor.worker_hashrate")
	if st == nil || st.State != entity.StateUnknown {
		t.Errorf("nil value should publish unknown, got %+v", st)
	}
}

func TestUnloadEntry(t *testing.T) {
	sensor := &fakeEntity{uniqueID: "u_s", name: "S", device: entity.DeviceInfo{Identifier: "dev"}, value: 1}
	runner := &runnerEntity{fakeEntity: fakeEntity{uniqueID: "u_r", name: "R"}, stopped: make(chan struct{})}
	integration := &fakeIntegration{entities: func() []entity.Entity { return []entity.Entity{sensor, runner} }}
	h := setupHost(t, integration)

	entry, err := h.AddEntry(context.Background(), "a", "u", EntryData{Username: "u"})
	if err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}

	unloadCalls := 0
	entry.OnUnload(func() { unloadCalls++ })

	deadline := time.Now().Add(2 * time.Second)
	for {
		if st, _ := h.State("sensor.r"); st != nil && st.State == "1.5" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("runner state never published")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := h.UnloadEntry(context.Background(), entry.ID); err != nil {
		t.Fatalf("UnloadEntry() error = %v", err)
	}

	select {
	case <-runner.stopped:
	default:
		t.Error("runner should be stopped after unload")
	}
	if unloadCalls != 1 || integration.unloaded != 1 {
		t.Errorf("expected unload callbacks once, got %d/%d", unloadCalls, integration.unloaded)
	}
	if sensor.subscribers() != 0 {
		t.Errorf("expected subscriptions removed, got %d", sensor.subscribers())
	}
	if entry.Context().Err() == nil {
		t.Error("expected entry context to be cancelled")
	}

	states, _ := h.Store().ListStates()
	if len(states) != 0 {
		t.Errorf("expected states dropped, got %+v", states)
	}
	devices, _ := h.Store().GetDevices("")
	if len(devices) != 0 {
		t.Errorf("expected devices dropped, got %+v", devices)
	}

	if err := h.UnloadEntry(context.Background(), entry.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestSetStatePublishesChanges(t *testing.T) {
	h := setupHost(t, &fakeIntegration{})

	if err := h.SetState("sensor.exchange_rate_1_btc", "65000", nil); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	_ = h.SetState("sensor.exchange_rate_1_btc", "65000", nil)

	select {
	case change := <-h.StateChan:
		if change.New == nil || change.New.State != "65000" {
			t.Errorf("unexpected change %+v", change)
		}
	default:
		t.Fatal("expected a state change")
	}

	select {
	case change := <-h.StateChan:
		t.Errorf("identical write should not publish, got %+v", change)
	default:
	}
}
