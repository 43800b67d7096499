package collector

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// hashesPerTerahash converts the API's H/s into TH/s
const hashesPerTerahash = 1e12

// AccountSnapshot is the account-level view of one successful poll
type AccountSnapshot struct {
	Username                    string          `json:"username"`
	SnapTS                      string          `json:"snap_ts,omitempty"`
	Hashrate60s                 float64         `json:"hashrate_60s"`
	Hashrate300s                float64         `json:"hashrate_300s"`
	Shares60s                   int64           `json:"shares_60s"`
	Shares300s                  int64           `json:"shares_300s"`
	SharesInTides               int64           `json:"shares_in_tides"`
	EstimatedEarnNextBlock      decimal.Decimal `json:"estimated_earn_next_block"`
	EstimatedBonusNextBlock     decimal.Decimal `json:"estimated_bonus_next_block"`
	EstimatedTotalEarnNextBlock decimal.Decimal `json:"estimated_total_earn_next_block"`
	EstimatedPayoutNextBlock    decimal.Decimal `json:"estimated_payout_next_block"`
	Unpaid                      decimal.Decimal `json:"unpaid"`
	LastShareTS                 *int64          `json:"last_share_ts"`
	ActiveWorkers               int             `json:"active_workers"`
}

// WorkerSnapshot is one worker's view of one successful poll
type WorkerSnapshot struct {
	Name                        string          `json:"name"`
	Hashrate60s                 float64         `json:"hashrate_60s"`
	Hashrate300s                float64         `json:"hashrate_300s"`
	Shares60s                   int64           `json:"shares_60s"`
	Shares300s                  int64           `json:"shares_300s"`
	SharesInTides               int64           `json:"shares_in_tides"`
	LastShareTS                 *int64          `json:"last_share_ts"`
	EstimatedEarnNextBlock      decimal.Decimal `json:"estimated_earn_next_block"`
	EstimatedBonusNextBlock     decimal.Decimal `json:"estimated_bonus_next_block"`
	EstimatedTotalEarnNextBlock decimal.Decimal `json:"estimated_total_earn_next_block"`
	Active                      bool            `json:"is_active"`
}

// Snapshot is the immutable result of one poll cycle
type Snapshot struct {
	Account AccountSnapshot           `json:"account"`
	Workers map[string]WorkerSnapshot `json:"workers"`
}

// DefaultSnapshot returns the zeroed snapshot served after a first failure
func DefaultSnapshot() Snapshot {
	return Snapshot{Workers: map[string]WorkerSnapshot{}}
}

// Worker returns the named worker and whether it was in this snapshot
func (s Snapshot) Worker(name string) (WorkerSnapshot, bool) {
	w, ok := s.Workers[name]
	return w, ok
}

// WorkerNames returns the worker names in sorted order
func (s Snapshot) WorkerNames() []string {
	names := make([]string, 0, len(s.Workers))
	for name := range s.Workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeUserInfo builds a Snapshot from a userinfo_full result. Account
// fields come from its user_full section, or from statsnap when that section
// is missing. statsnap may be nil.
func NormalizeUserInfo(username string, userinfo, statsnap map[string]any) Snapshot {
	snap := DefaultSnapshot()

	if full, ok := userinfo["user_full"].(map[string]any); ok {
		snap.Account = NormalizeAccount(full)
	} else if statsnap != nil {
		snap.Account = NormalizeAccount(statsnap)
	}
	snap.Account.Username = username

	snap.Workers = NormalizeWorkers(userinfo["workers"])
	for _, w := range snap.Workers {
		if w.Active {
			snap.Account.ActiveWorkers++
		}
	}

	return snap
}

// NormalizeAccount converts raw account fields. It never fails; missing or
// malformed values become zero. ActiveWorkers is left for the caller.
func NormalizeAccount(raw map[string]any) AccountSnapshot {
	return AccountSnapshot{
		SnapTS:                      toString(raw["snap_ts"]),
		Hashrate60s:                 toHashrate(raw["hashrate_60s"]),
		Hashrate300s:                toHashrate(raw["hashrate_300s"]),
		Shares60s:                   toInt(raw["shares_60s"]),
		Shares300s:                  toInt(raw["shares_300s"]),
		SharesInTides:               toInt(raw["shares_in_tides"]),
		EstimatedEarnNextBlock:      toDecimal(raw["estimated_earn_next_block"]),
		EstimatedBonusNextBlock:     toDecimal(raw["estimated_bonus_earn_next_block"]),
		EstimatedTotalEarnNextBlock: toDecimal(raw["estimated_total_earn_next_block"]),
		EstimatedPayoutNextBlock:    toDecimal(raw["estimated_payout_next_block"]),
		Unpaid:                      toDecimal(raw["unpaid"]),
		LastShareTS:                 toTimestamp(raw["lastest_share_ts"]),
	}
}

// NormalizeWorkers converts the API's worker list, a sequence of single-key
// mappings from worker name to fields. Anything else yields an empty map.
func NormalizeWorkers(raw any) map[string]WorkerSnapshot {
	workers := make(map[string]WorkerSnapshot)

	var entries []any
	switch v := raw.(type) {
	case []any:
		entries = v
	case map[string]any:
		entries = []any{v}
	default:
		return workers
	}

	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		for name, fields := range m {
			data, _ := fields.(map[string]any)
			workers[name] = normalizeWorker(name, data)
		}
	}

	return workers
}

func normalizeWorker(name string, raw map[string]any) WorkerSnapshot {
	shares60 := toInt(raw["shares_60s"])
	return WorkerSnapshot{
		Name:                        name,
		Hashrate60s:                 toHashrate(raw["hashrate_60s"]),
		Hashrate300s:                toHashrate(raw["hashrate_300s"]),
		Shares60s:                   shares60,
		Shares300s:                  toInt(raw["shares_300s"]),
		SharesInTides:               toInt(raw["shares_in_tides"]),
		LastShareTS:                 toTimestamp(raw["lastest_share_ts"]),
		EstimatedEarnNextBlock:      toDecimal(raw["estimated_earn_next_block"]),
		EstimatedBonusNextBlock:     toDecimal(raw["estimated_bonus_earn_next_block"]),
		EstimatedTotalEarnNextBlock: toDecimal(raw["estimated_total_earn_next_block"]),
		Active:                      shares60 > 0,
	}
}

func toHashrate(v any) float64 {
	f, ok := toFloat(v)
	if !ok {
		return 0
	}
	return f / hashesPerTerahash
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toInt coerces counters; fractional values are truncated toward zero.
func toInt(v any) int64 {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n
		}
	case int:
		return int64(x)
	case int64:
		return x
	}

	f, ok := toFloat(v)
	if !ok || f > math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}

func toDecimal(v any) decimal.Decimal {
	switch x := v.(type) {
	case json.Number:
		if d, err := decimal.NewFromString(x.String()); err == nil {
			return d
		}
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(x)); err == nil {
			return d
		}
	case float64:
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			return decimal.NewFromFloat(x)
		}
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	}
	return decimal.Zero
}

func toTimestamp(v any) *int64 {
	if v == nil {
		return nil
	}
	if _, ok := toFloat(v); !ok {
		return nil
	}
	ts := toInt(v)
	return &ts
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
