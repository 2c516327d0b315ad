// Package exchange is the betting exchange boundary: the Exchange interface the
// workers depend on, its typed errors, and an HTTP client speaking the exchange's
// identity and JSON-RPC APIs.
package exchange

import (
	"context"
	"fmt"
	"time"

	"betbot/internal/model"
)

// Batch-level placement statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// MarketFilter narrows ListMarkets to the events the bot trades.
type MarketFilter struct {
	EventTypeIDs []string
	MarketTypes  []string
	Countries    []string
	From         time.Time
	To           time.Time
	MaxResults   int
}

// InstructionReport is the exchange's answer for a single bet in a batch.
type InstructionReport struct {
	Status              string
	ErrorCode           string
	OrderStatus         string
	Request             model.BetRequest
	BetID               string
	PlacedAt            time.Time
	AveragePriceMatched float64
	SizeMatched         float64
}

// Complete reports whether the bet was fully executed.
func (r InstructionReport) Complete() bool {
	return r.Status == StatusSuccess && r.OrderStatus == model.ExecutionComplete
}

// PlaceResult is the outcome of one PlaceBets batch.
type PlaceResult struct {
	Status    string
	ErrorCode string
	Reports   []InstructionReport
}

// Exchange is everything the workers need from the betting exchange.
type Exchange interface {
	Login(ctx context.Context, username, password string) error
	RenewSession(ctx context.Context) error
	ListMarkets(ctx context.Context, filter MarketFilter) ([]model.Market, error)
	MarketBook(ctx context.Context, marketID string) (*model.Book, error)
	RunnerBook(ctx context.Context, marketID string, selectionID int64) (*model.RunnerBook, error)
	PlaceBets(ctx context.Context, marketID string, bets []model.BetRequest, strategyRef string) (*PlaceResult, error)
	CurrentOrders(ctx context.Context, betIDs []string) ([]model.Order, error)
	ClearedOrders(ctx context.Context, betIDs []string) ([]model.Order, error)
	AccountFunds(ctx context.Context) (*model.AccountFunds, error)
}

// AuthError is a failed login or session renewal.
type AuthError struct {
	Op   string
	Code string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("exchange %s: authentication failed: %s", e.Op, e.Code)
}

// UpstreamError is any other failed exchange call.
type UpstreamError struct {
	Op   string
	Code string
	Err  error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil && e.Code != "":
		return fmt.Sprintf("exchange %s: %s: %v", e.Op, e.Code, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("exchange %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("exchange %s: %s", e.Op, e.Code)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }
