package ocean

import (
	"time"

	"github.com/camarigor/ocean-hq/internal/collector"
	"github.com/camarigor/ocean-hq/internal/entity"
)

// AccountDescription describes one account-level sensor
type AccountDescription struct {
	entity.Description
	Value func(a collector.AccountSnapshot) any
}

// WorkerDescription describes one per-worker sensor
type WorkerDescription struct {
	entity.Description
	Value func(w collector.WorkerSnapshot) any
}

// AccountSensors lists the account sensors in registration order
var AccountSensors = []AccountDescription{
	{
		Description: entity.Description{Key: "hashrate_60s", Name: "Hashrate (60s)", Unit: UnitTerahash, StateClass: entity.StateClassMeasurement, Icon: "mdi:speedometer"},
		Value:       func(a collector.AccountSnapshot) any { return a.Hashrate60s },
	},
	{
		Description: entity.Description{Key: "hashrate_300s", Name: "Hashrate (300s)", Unit: UnitTerahash, StateClass: entity.StateClassMeasurement, Icon: "mdi:speedometer"},
		Value:       func(a collector.AccountSnapshot) any { return a.Hashrate300s },
	},
	{
		Description: entity.Description{Key: "shares_60s", Name: "Shares (60s)", StateClass: entity.StateClassMeasurement, Icon: "mdi:counter"},
		Value:       func(a collector.AccountSnapshot) any { return a.Shares60s },
	},
	{
		Description: entity.Description{Key: "shares_300s", Name: "Shares (300s)", StateClass: entity.StateClassMeasurement, Icon: "mdi:counter"},
		Value:       func(a collector.AccountSnapshot) any { return a.Shares300s },
	},
	{
		Description: entity.Description{Key: "shares_in_tides", Name: "Shares in Tides", StateClass: entity.StateClassTotal, Icon: "mdi:counter"},
		Value:       func(a collector.AccountSnapshot) any { return a.SharesInTides },
	},
	{
		Description: entity.Description{Key: "estimated_earn_next_block", Name: "Estimated Earnings Next Block", Unit: UnitBitcoin, StateClass: entity.StateClassMeasurement, Icon: "mdi:bitcoin", Precision: 8},
		Value:       func(a collector.AccountSnapshot) any { return a.EstimatedEarnNextBlock },
	},
	{
		Description: entity.Description{Key: "estimated_bonus_next_block", Name: "Estimated Bonus Next Block", Unit: UnitBitcoin, StateClass: entity.StateClassMeasurement, Icon: "mdi:bitcoin", Precision: 8},
		Value:       func(a collector.AccountSnapshot) any { return a.EstimatedBonusNextBlock },
	},
	{
		Description: entity.Description{Key: "estimated_total_earn_next_block", Name: "Estimated Total Earnings Next Block", Unit: UnitBitcoin, StateClass: entity.StateClassMeasurement, Icon: "mdi:bitcoin", Precision: 8},
		Value:       func(a collector.AccountSnapshot) any { return a.EstimatedTotalEarnNextBlock },
	},
	{
		Description: entity.Description{Key: "estimated_payout_next_block", Name: "Estimated Payout Next Block", Unit: UnitBitcoin, StateClass: entity.StateClassMeasurement, Icon: "mdi:cash", Precision: 8},
		Value:       func(a collector.AccountSnapshot) any { return a.EstimatedPayoutNextBlock },
	},
	{
		Description: entity.Description{Key: "unpaid", Name: "Unpaid Balance", Unit: UnitBitcoin, StateClass: entity.StateClassTotal, DeviceClass: entity.DeviceClassMonetary, Icon: "mdi:wallet", Precision: 8},
		Value:       func(a collector.AccountSnapshot) any { return a.Unpaid },
	},
	{
		Description: entity.Description{Key: "last_share_ts", Name: "Last Share Timestamp", DeviceClass: entity.DeviceClassTimestamp, Icon: "mdi:clock"},
		Value:       func(a collector.AccountSnapshot) any { return epochToTime(a.LastShareTS) },
	},
	{
		Description: entity.Description{Key: "active_workers", Name: "Active Workers", StateClass: entity.StateClassMeasurement, Icon: "mdi:laptop"},
		Value:       func(a collector.AccountSnapshot) any { return a.ActiveWorkers },
	},
}

// WorkerSensors lists the per-worker sensors in registration order
var WorkerSensors = []WorkerDescription{
	{
		Description: entity.Description{Key: "hashrate_60s", Name: "Hashrate (60s)", Unit: UnitTerahash, StateClass: entity.StateClassMeasurement, Icon: "mdi:speedometer"},
		Value:       func(w collector.WorkerSnapshot) any { return w.Hashrate60s },
	},
	{
		Description: entity.Description{Key: "hashrate_300s", Name: "Hashrate (300s)", Unit: UnitTerahash, StateClass: entity.StateClassMeasurement, Icon: "mdi:speedometer"},
		Value:       func(w collector.WorkerSnapshot) any { return w.Hashrate300s },
	},
	{
		Description: entity.Description{Key: "last_share_ts", Name: "Last Share", DeviceClass: entity.DeviceClassTimestamp, Icon: "mdi:clock"},
		Value:       func(w collector.WorkerSnapshot) any { return epochToTime(w.LastShareTS) },
	},
	{
		Description: entity.Description{Key: "estimated_earn_next_block", Name: "Estimated Earnings Next Block", Unit: UnitBitcoin, StateClass: entity.StateClassMeasurement, Icon: "mdi:bitcoin", Precision: 8},
		Value:       func(w collector.WorkerSnapshot) any { return w.EstimatedEarnNextBlock },
	},
}

var (
	unpaidUSDDescription = entity.Description{
		Key:         "unpaid_usd",
		Name:        "Unpaid Balance USD",
		Unit:        UnitDollar,
		StateClass:  entity.StateClassTotal,
		DeviceClass: entity.DeviceClassMonetary,
		Icon:        "mdi:currency-usd",
		Precision:   2,
	}
	lifetimeDescription = entity.Description{
		Key:        "lifetime_earnings",
		Name:       "Lifetime Earnings",
		Unit:       UnitBitcoin,
		StateClass: entity.StateClassTotalIncreasing,
		Icon:       "mdi:bitcoin",
		Precision:  8,
	}
	workerStatusDescription = entity.Description{
		Key:         "status",
		Name:        "Status",
		DeviceClass: entity.DeviceClassConnectivity,
		Icon:        "mdi:server-network",
	}
)

// epochToTime converts epoch seconds to UTC; nil or non-positive is unknown.
func epochToTime(ts *int64) *time.Time {
	if ts == nil || *ts <= 0 {
		return nil
	}
	t := time.Unix(*ts, 0).UTC()
	return &t
}
