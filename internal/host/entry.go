package host

import (
	"context"
	"sync"
)

// EntryData is the user-supplied configuration of an entry
type EntryData struct {
	Username     string `json:"username"`
	ScanInterval int    `json:"scanInterval"` // seconds
}

// ConfigEntry is one configured account
type ConfigEntry struct {
	ID       string    `json:"id"`
	Domain   string    `json:"domain"`
	Title    string    `json:"title"`
	UniqueID string    `json:"uniqueId"`
	Data     EntryData `json:"data"`

	// RuntimeData is set by the integration during setup
	RuntimeData any `json:"-"`

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	onUnload []func()
}

func newConfigEntry(parent context.Context, id, domain, title, uniqueID string, data EntryData) *ConfigEntry {
	ctx, cancel := context.WithCancel(parent)
	return &ConfigEntry{
		ID:       id,
		Domain:   domain,
		Title:    title,
		UniqueID: uniqueID,
		Data:     data,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Context is cancelled when the entry is unloaded
func (e *ConfigEntry) Context() context.Context {
	return e.ctx
}

// OnUnload registers fn to run when the entry is unloaded. Callbacks run in
// reverse registration order.
func (e *ConfigEntry) OnUnload(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUnload = append(e.onUnload, fn)
}

// Go runs fn in a goroutine tied to the entry's lifetime
func (e *ConfigEntry) Go(fn func(ctx context.Context)) {
	e.goRun(fn)
}

func (e *ConfigEntry) goRun(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

func (e *ConfigEntry) unload() {
	e.mu.Lock()
	callbacks := e.onUnload
	e.onUnload = nil
	e.mu.Unlock()

	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i]()
	}

	e.cancel()
	e.wg.Wait()
}
