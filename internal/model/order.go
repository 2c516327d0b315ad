package model

import "time"

type Side string

const (
	Back Side = "BACK"
	Lay  Side = "LAY"
)

type OrderType string

const (
	Limit         OrderType = "LIMIT"
	MarketOnClose OrderType = "MARKET_ON_CLOSE"
)

type Outcome string

const (
	Won  Outcome = "WON"
	Lost Outcome = "LOST"
	Void Outcome = "VOID"
)

// Order execution statuses reported per instruction.
const (
	ExecutionComplete = "EXECUTION_COMPLETE"
	Executable        = "EXECUTABLE"
	Expired           = "EXPIRED"
)

// BetRequest is what a strategy asks the executor to submit.
type BetRequest struct {
	CustomerRef string
	SelectionID int64
	Side        Side
	Type        OrderType
	Size        float64 // LIMIT stake
	Price       float64 // LIMIT only
	Liability   float64 // MARKET_ON_CLOSE only
}

// Amount is the stake or liability the request commits.
func (r BetRequest) Amount() float64 {
	if r.Type == MarketOnClose {
		return r.Liability
	}
	return r.Size
}

// Instruction is a bet accepted by the exchange (or the simulator) and awaiting settlement.
type Instruction struct {
	BetID       string
	MarketID    string
	StrategyRef string
	SelectionID int64
	Side        Side
	Type        OrderType
	Size        float64
	Price       float64
	PlacedAt    time.Time
	Settled     bool
	Live        bool
	CustomerRef string
}

// Order is the settlement record of an instruction.
type Order struct {
	BetID        string
	MarketID     string
	SelectionID  int64
	StrategyRef  string
	Side         Side
	Type         OrderType
	Status       string
	SizeSettled  float64
	PriceMatched float64
	PlacedAt     time.Time
	SettledAt    time.Time
	Outcome      Outcome
	Profit       *float64 // set once the order is terminal
	Simulated    bool
}

// Cleared reports whether the order carries a final profit.
func (o Order) Cleared() bool { return o.Profit != nil }

// ProfitOrZero returns the realized profit, or 0 for an uncleared order.
func (o Order) ProfitOrZero() float64 {
	if o.Profit == nil {
		return 0
	}
	return *o.Profit
}
