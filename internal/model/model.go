// Package model holds the entities shared by every worker through the store.
package model

import "time"

// Market status values reported by the exchange.
const (
	StatusOpen      = "OPEN"
	StatusSuspended = "SUSPENDED"
	StatusClosed    = "CLOSED"
)

// Runner status values.
const (
	RunnerActive  = "ACTIVE"
	RunnerWinner  = "WINNER"
	RunnerLoser   = "LOSER"
	RunnerRemoved = "REMOVED"
)

// Skip codes recorded against markets that never receive bets.
const (
	SkipMarketInPast     = "MARKET_IN_PAST"
	SkipNoBetsCreated    = "NO_BETS_CREATED"
	SkipNoBookSnapshot   = "NO_BOOK_SNAPSHOT"
	SkipRetriesExhausted = "LIMIT_RETRIES_EXHAUSTED"
	SkipPlacementFailed  = "PLACEMENT_FAILED"
)

// Market is a single wagering event with a scheduled start.
type Market struct {
	ID        string
	Name      string
	Venue     string
	EventName string
	Country   string
	StartTime time.Time
	Played    *bool // nil: pending, true: bets placed, false: skipped
	ErrorCode string
	DecidedAt time.Time
	Runners   []Runner
}

// Pending reports whether no play decision has been recorded yet.
func (m Market) Pending() bool { return m.Played == nil }

// Label is the human-readable "venue name" pair used in logs and reports.
func (m Market) Label() string {
	if m.Venue == "" {
		return m.Name
	}
	return m.Venue + " " + m.Name
}

// Runner is one selectable outcome in a market.
type Runner struct {
	SelectionID  int64
	MarketID     string
	Name         string
	SortPriority int
}

// PriceSize is one level of an available-to-back or available-to-lay ladder.
type PriceSize struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// RunnerBook is the point-in-time book for a single runner.
type RunnerBook struct {
	SelectionID     int64       `json:"selectionId"`
	Status          string      `json:"status"`
	LastPriceTraded float64     `json:"lastPriceTraded,omitempty"`
	AvailableToBack []PriceSize `json:"availableToBack,omitempty"`
	AvailableToLay  []PriceSize `json:"availableToLay,omitempty"`
}

// Book is an append-only snapshot of a market's order book.
type Book struct {
	MarketID   string       `json:"marketId"`
	CapturedAt time.Time    `json:"capturedAt"`
	Status     string       `json:"status"`
	InPlay     bool         `json:"inPlay"`
	Runners    []RunnerBook `json:"runners"`
}

// Runner returns the runner book for selectionID, if present.
func (b *Book) Runner(selectionID int64) (RunnerBook, bool) {
	if b == nil {
		return RunnerBook{}, false
	}
	for _, r := range b.Runners {
		if r.SelectionID == selectionID {
			return r, true
		}
	}
	return RunnerBook{}, false
}

// Winner is a declared or indicative result for a market.
type Winner struct {
	MarketID    string
	SelectionID int64
	Source      string // WinnerDeclared or WinnerIndicative
	DeclaredAt  time.Time
}

const (
	WinnerDeclared   = "declared"
	WinnerIndicative = "indicative"
)
