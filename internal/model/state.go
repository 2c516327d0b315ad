package model

import "time"

// StrategyState is the persisted, versioned record a strategy steps through.
// Not every strategy uses every field.
type StrategyState struct {
	Ref             string
	Name            string
	StakePos        int
	WeightPos       int
	BetsAtMaxStake  int
	DaysAtMaxWeight int
	LossStreak      int
	LostStakeSum    float64
	GroupPos        int
	Halted          bool
	StopLoss        bool
	Active          bool
	Live            bool
	Version         int
	UpdatedAt       time.Time // day-boundary marker only
}

// TotalsRef is the synthetic statistic row summing every strategy.
const TotalsRef = "TOTALS"

// Statistic holds rolling P&L for a strategy. Orders remain the source of truth.
type Statistic struct {
	Ref       string
	Daily     float64
	Weekly    float64
	Monthly   float64
	Yearly    float64
	Lifetime  float64
	UpdatedAt time.Time
}

// AccountFunds is a per-wallet balance snapshot.
type AccountFunds struct {
	Wallet             string
	Available          float64
	Exposure           float64
	RetainedCommission float64
	ExposureLimit      float64
	UpdatedAt          time.Time
}

// StartOfDay returns midnight UTC of the day containing t.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
