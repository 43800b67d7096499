// Package coordinator runs a single update method on a fixed interval and fans
// the result out to listeners.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotReady is returned by FirstRefresh when the initial update fails.
var ErrNotReady = errors.New("coordinator not ready")

// UpdateFunc fetches a fresh value. A returned error marks the refresh failed
// and keeps the previous data.
type UpdateFunc[T any] func(ctx context.Context) (T, error)

// Coordinator owns one value of type T and refreshes it on a ticker.
// Refreshes never overlap.
type Coordinator[T any] struct {
	name     string
	interval time.Duration
	update   UpdateFunc[T]
	log      *zap.Logger

	refreshMu sync.Mutex

	mu                sync.RWMutex
	data              T
	lastUpdateSuccess bool
	lastErr           error
	lastUpdate        time.Time

	listenersMu sync.Mutex
	listeners   map[int]func()
	nextID      int
}

// New creates a coordinator. The interval must be positive for Run.
func New[T any](log *zap.Logger, name string, interval time.Duration, update UpdateFunc[T]) *Coordinator[T] {
	return &Coordinator[T]{
		name:      name,
		interval:  interval,
		update:    update,
		log:       log.With(zap.String("coordinator", name)),
		listeners: make(map[int]func()),
	}
}

// Name returns the coordinator name
func (c *Coordinator[T]) Name() string {
	return c.name
}

// Interval returns the refresh period
func (c *Coordinator[T]) Interval() time.Duration {
	return c.interval
}

// Data returns the last published value
func (c *Coordinator[T]) Data() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

// LastUpdateSuccess reports whether the most recent refresh succeeded
func (c *Coordinator[T]) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdateSuccess
}

// LastError returns the error of the most recent refresh, if any
func (c *Coordinator[T]) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// LastUpdate returns when the last refresh finished
func (c *Coordinator[T]) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// AddListener registers fn to run after every refresh. The returned func
// removes it.
func (c *Coordinator[T]) AddListener(fn func()) (remove func()) {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.listeners, id)
			c.listenersMu.Unlock()
		})
	}
}

// ListenerCount returns the number of registered listeners
func (c *Coordinator[T]) ListenerCount() int {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	return len(c.listeners)
}

// Refresh runs the update method once and notifies listeners. It blocks while
// another refresh is in flight.
func (c *Coordinator[T]) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	start := time.Now()
	data, err := c.update(ctx)

	c.mu.Lock()
	wasSuccess := c.lastUpdateSuccess
	c.lastUpdate = time.Now()
	c.lastErr = err
	if err != nil {
		c.lastUpdateSuccess = false
	} else {
		c.data = data
		c.lastUpdateSuccess = true
	}
	c.mu.Unlock()

	switch {
	case err != nil && wasSuccess:
		c.log.Error("Update failed", zap.Error(err))
	case err != nil:
		c.log.Debug("Update still failing", zap.Error(err))
	case !wasSuccess:
		c.log.Info("Update succeeded", zap.Duration("took", time.Since(start)))
	default:
		c.log.Debug("Update finished", zap.Duration("took", time.Since(start)))
	}

	c.notify()
	return err
}

// FirstRefresh performs the initial refresh and wraps a failure in ErrNotReady.
func (c *Coordinator[T]) FirstRefresh(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotReady, c.name, err)
	}
	return nil
}

// Run refreshes every interval until ctx is cancelled. When immediate is true
// the first refresh happens before the first tick.
func (c *Coordinator[T]) Run(ctx context.Context, immediate bool) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	if immediate {
		_ = c.Refresh(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			_ = c.Refresh(ctx)
		}
	}
}

func (c *Coordinator[T]) notify() {
	c.listenersMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for id := 0; id < c.nextID; id++ {
		if fn, ok := c.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
