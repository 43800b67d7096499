package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hako/durafmt"
	"go.uber.org/zap"

	"github.com/camarigor/ocean-hq/internal/coordinator"
)

// Status is the collector's availability state
type Status int

const (
	// StatusHealthy means the last poll succeeded
	StatusHealthy Status = iota
	// StatusDegraded means one poll failed and zeroed defaults are being served
	StatusDegraded
	// StatusUnavailable means two or more consecutive polls failed
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Fetcher is what the collector needs from the API client
type Fetcher interface {
	FetchUserInfoFull(ctx context.Context, username string) (map[string]any, error)
	FetchStatsnap(ctx context.Context, username string) (map[string]any, error)
}

// Collector polls one OCEAN account and applies the strike policy: the first
// consecutive failure publishes DefaultSnapshot, every later one fails the
// refresh.
type Collector struct {
	*coordinator.Coordinator[Snapshot]

	username string
	fetcher  Fetcher
	log      *zap.Logger

	mu      sync.Mutex
	strikes int
	status  Status
}

// New creates a collector for username polling every interval
func New(log *zap.Logger, username string, interval time.Duration, fetcher Fetcher) *Collector {
	c := &Collector{
		username: username,
		fetcher:  fetcher,
		log:      log.Named("collector").With(zap.String("username", username)),
	}
	c.Coordinator = coordinator.New(log, "OCEAN "+username, interval, c.update)
	return c
}

// Username returns the monitored account
func (c *Collector) Username() string {
	return c.username
}

// Status returns the current availability state
func (c *Collector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Strikes returns the number of consecutive failed polls
func (c *Collector) Strikes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strikes
}

// Available is false once two consecutive polls have failed
func (c *Collector) Available() bool {
	return c.Status() != StatusUnavailable
}

func (c *Collector) update(ctx context.Context) (Snapshot, error) {
	c.log.Debug("Fetching data")

	userinfo, err := c.fetcher.FetchUserInfoFull(ctx, c.username)
	if err != nil {
		return c.fail(err)
	}

	var statsnap map[string]any
	if _, ok := userinfo["user_full"].(map[string]any); !ok {
		statsnap, err = c.fetcher.FetchStatsnap(ctx, c.username)
		if err != nil {
			c.log.Warn("userinfo_full has no account section and statsnap failed", zap.Error(err))
			statsnap = nil
		}
	}

	snap := NormalizeUserInfo(c.username, userinfo, statsnap)

	c.mu.Lock()
	recovered := c.strikes > 0
	c.strikes = 0
	c.status = StatusHealthy
	c.mu.Unlock()

	if recovered {
		c.log.Info("OCEAN API recovered")
	}
	c.log.Debug("Got data",
		zap.Float64("hashrate_60s", snap.Account.Hashrate60s),
		zap.Float64("hashrate_300s", snap.Account.Hashrate300s),
		zap.String("unpaid", snap.Account.Unpaid.StringFixed(8)),
		zap.Int("workers", len(snap.Workers)),
		zap.Int("active", snap.Account.ActiveWorkers))

	return snap, nil
}

func (c *Collector) fail(err error) (Snapshot, error) {
	c.mu.Lock()
	c.strikes++
	strikes := c.strikes
	if strikes == 1 {
		c.status = StatusDegraded
	} else {
		c.status = StatusUnavailable
	}
	c.mu.Unlock()

	if strikes == 1 {
		c.log.Warn("Error fetching data, serving defaults", zap.Error(err))
		return DefaultSnapshot(), nil
	}

	c.log.Error("Failed to fetch data", zap.Int("strikes", strikes), zap.Error(err))
	return Snapshot{}, fmt.Errorf("%w for %s: %w", ErrUpdateFailed, c.username, err)
}

// Diagnostics is the collector summary exposed over the API
type Diagnostics struct {
	Username          string     `json:"username"`
	Status            string     `json:"status"`
	Strikes           int        `json:"strikes"`
	Available         bool       `json:"available"`
	LastUpdateSuccess bool       `json:"lastUpdateSuccess"`
	LastUpdate        *time.Time `json:"lastUpdate,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
	Interval          string     `json:"interval"`
	Workers           int        `json:"workers"`
	ActiveWorkers     int        `json:"activeWorkers"`
}

// Diagnostics returns a point-in-time summary of the collector
func (c *Collector) Diagnostics() Diagnostics {
	c.mu.Lock()
	status, strikes := c.status, c.strikes
	c.mu.Unlock()

	snap := c.Data()
	d := Diagnostics{
		Username:          c.username,
		Status:            status.String(),
		Strikes:           strikes,
		Available:         status != StatusUnavailable,
		LastUpdateSuccess: c.LastUpdateSuccess(),
		Interval:          durafmt.Parse(c.Interval()).String(),
		Workers:           len(snap.Workers),
		ActiveWorkers:     snap.Account.ActiveWorkers,
	}
	if t := c.LastUpdate(); !t.IsZero() {
		d.LastUpdate = &t
	}
	if err := c.LastError(); err != nil {
		d.LastError = err.Error()
	}
	return d
}
