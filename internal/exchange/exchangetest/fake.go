// Package exchangetest provides an in-memory Exchange for worker tests.
package exchangetest

import (
	"context"
	"fmt"
	"sync"

	"betbot/internal/exchange"
	"betbot/internal/model"
)

// PlaceCall records one PlaceBets invocation.
type PlaceCall struct {
	MarketID    string
	StrategyRef string
	Bets        []model.BetRequest
}

// Fake is a scriptable Exchange. Zero value is ready to use; set the exported
// fields or hooks before handing it to the code under test.
type Fake struct {
	mu sync.Mutex

	LoginErr error
	RenewErr error
	Markets  []model.Market
	ListErr  error
	Books    map[string]*model.Book
	BookErr  error
	Runners  map[string]map[int64]model.RunnerBook
	Current  []model.Order
	Cleared  []model.Order
	Funds    model.AccountFunds

	// ClearedUnfiltered returns every Cleared order regardless of the bet ids asked for.
	ClearedUnfiltered bool

	// PlaceFunc decides a batch outcome. When nil every bet is fully matched.
	PlaceFunc func(call PlaceCall, n int) (*exchange.PlaceResult, error)

	Logins  int
	Renews  int
	Placed  []PlaceCall
	betSeq  int
	booksAt int
}

var _ exchange.Exchange = (*Fake)(nil)

func (f *Fake) Login(ctx context.Context, username, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Logins++
	return f.LoginErr
}

func (f *Fake) RenewSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Renews++
	return f.RenewErr
}

func (f *Fake) ListMarkets(ctx context.Context, filter exchange.MarketFilter) ([]model.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]model.Market, len(f.Markets))
	copy(out, f.Markets)
	return out, nil
}

// SetBook replaces the book returned for a market.
func (f *Fake) SetBook(b *model.Book) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Books == nil {
		f.Books = make(map[string]*model.Book)
	}
	f.Books[b.MarketID] = b
}

func (f *Fake) MarketBook(ctx context.Context, marketID string) (*model.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.booksAt++
	if f.BookErr != nil {
		return nil, f.BookErr
	}
	b, ok := f.Books[marketID]
	if !ok {
		return nil, &exchange.UpstreamError{Op: "listMarketBook", Code: "MARKET_NOT_FOUND"}
	}
	cp := *b
	return &cp, nil
}

// BookCalls is the number of MarketBook requests served.
func (f *Fake) BookCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.booksAt
}

func (f *Fake) RunnerBook(ctx context.Context, marketID string, selectionID int64) (*model.RunnerBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.Runners[marketID][selectionID]; ok {
		return &r, nil
	}
	if b, ok := f.Books[marketID]; ok {
		if r, ok := b.Runner(selectionID); ok {
			return &r, nil
		}
	}
	return nil, &exchange.UpstreamError{Op: "listRunnerBook", Code: "RUNNER_NOT_FOUND"}
}

func (f *Fake) PlaceBets(ctx context.Context, marketID string, bets []model.BetRequest, strategyRef string) (*exchange.PlaceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := PlaceCall{MarketID: marketID, StrategyRef: strategyRef, Bets: append([]model.BetRequest(nil), bets...)}
	f.Placed = append(f.Placed, call)
	if f.PlaceFunc != nil {
		return f.PlaceFunc(call, len(f.Placed))
	}

	res := &exchange.PlaceResult{Status: exchange.StatusSuccess}
	for _, b := range bets {
		f.betSeq++
		price := b.Price
		if b.Type == model.MarketOnClose {
			price = 0
		}
		res.Reports = append(res.Reports, exchange.InstructionReport{
			Status:              exchange.StatusSuccess,
			OrderStatus:         model.ExecutionComplete,
			Request:             b,
			BetID:               fmt.Sprintf("bet-%d", f.betSeq),
			AveragePriceMatched: price,
			SizeMatched:         b.Size,
		})
	}
	return res, nil
}

// PlaceCalls returns a copy of every PlaceBets call so far.
func (f *Fake) PlaceCalls() []PlaceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PlaceCall(nil), f.Placed...)
}

func (f *Fake) CurrentOrders(ctx context.Context, betIDs []string) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filterOrders(f.Current, betIDs), nil
}

func (f *Fake) ClearedOrders(ctx context.Context, betIDs []string) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ClearedUnfiltered {
		return append([]model.Order(nil), f.Cleared...), nil
	}
	return filterOrders(f.Cleared, betIDs), nil
}

func (f *Fake) AccountFunds(ctx context.Context) (*model.AccountFunds, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	funds := f.Funds
	return &funds, nil
}

func filterOrders(orders []model.Order, betIDs []string) []model.Order {
	want := make(map[string]bool, len(betIDs))
	for _, id := range betIDs {
		want[id] = true
	}
	var out []model.Order
	for _, o := range orders {
		if want[o.BetID] {
			out = append(out, o)
		}
	}
	return out
}
