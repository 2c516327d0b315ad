// Package store is the shared persistent state every worker coordinates through.
// All writes are upserts keyed by natural identifiers; nothing is deleted.
package store

import (
	"context"
	"errors"
	"time"

	"betbot/internal/model"
)

// ErrNotFound is returned by single-record lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// Store is the persisted-state interface shared by all workers.
type Store interface {
	// Markets. UpsertMarkets never touches a market's play decision.
	UpsertMarkets(ctx context.Context, markets []model.Market) error
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	NextPlayable(ctx context.Context) (*model.Market, error)
	UpcomingMarkets(ctx context.Context, from time.Time, limit int) ([]model.Market, error)
	SetPlayed(ctx context.Context, id string, at time.Time) error
	SetSkipped(ctx context.Context, id, code string, at time.Time) error
	LastDecision(ctx context.Context) (time.Time, error)

	UpsertRunners(ctx context.Context, runners []model.Runner) error
	GetRunner(ctx context.Context, selectionID int64) (*model.Runner, error)

	InsertSnapshot(ctx context.Context, book model.Book) error
	LatestSnapshot(ctx context.Context, marketID string) (*model.Book, error)

	UpsertWinner(ctx context.Context, w model.Winner) error
	GetWinner(ctx context.Context, marketID string) (*model.Winner, error)

	UpsertInstructions(ctx context.Context, instructions []model.Instruction) error
	GetInstruction(ctx context.Context, betID string) (*model.Instruction, error)
	UnsettledInstructions(ctx context.Context, live bool) ([]model.Instruction, error)
	SetSettled(ctx context.Context, betIDs []string) error

	// UpsertOrders ignores updates to orders that already carry a profit.
	UpsertOrders(ctx context.Context, orders []model.Order) error
	// SettledOrders returns cleared orders settled in [from, to). An empty ref matches every strategy.
	SettledOrders(ctx context.Context, ref string, from, to time.Time) ([]model.Order, error)
	// LatestSettledOrder returns the most recently settled order for ref since the given time.
	LatestSettledOrder(ctx context.Context, ref string, since time.Time) (*model.Order, error)

	GetStrategyState(ctx context.Context, ref string) (*model.StrategyState, error)
	UpsertStrategyState(ctx context.Context, s model.StrategyState) (model.StrategyState, error)
	ListStrategyStates(ctx context.Context) ([]model.StrategyState, error)

	GetStatistic(ctx context.Context, ref string) (*model.Statistic, error)
	UpsertStatistics(ctx context.Context, stats []model.Statistic) error
	ListStatistics(ctx context.Context) ([]model.Statistic, error)

	UpsertAccountFunds(ctx context.Context, f model.AccountFunds) error
	GetAccountFunds(ctx context.Context, wallet string) (*model.AccountFunds, error)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
