package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"betbot/internal/clock"
	"betbot/internal/config"
	"betbot/internal/model"
	"betbot/internal/pricing"
	"betbot/internal/store"
)

// Strategy is the interface every staking strategy implements.
type Strategy interface {
	Reference() string
	// UpdateState applies the day or event transition and persists it.
	UpdateState(ctx context.Context) error
	// CreateBets returns the bets to place on market, or the reason none were created.
	// Errors are reserved for store failures.
	CreateBets(ctx context.Context, market model.Market, book *model.Book) (Result, error)
}

// Result is either a set of bet requests or a skip reason.
type Result struct {
	Requests []model.BetRequest
	Reason   string
}

func Bets(reqs ...model.BetRequest) Result { return Result{Requests: reqs} }

func Skipped(reason string) Result { return Result{Reason: reason} }

// IsSkipped reports whether the strategy declined to bet.
func (r Result) IsSkipped() bool { return len(r.Requests) == 0 }

// Skip reasons.
const (
	ReasonInactive       = "strategy inactive"
	ReasonStopLoss       = "stop loss in place"
	ReasonNoFavourite    = "no favourite identified"
	ReasonInsufficient   = "insufficient market depth"
	ReasonOutsideBand    = "favourite price outside band"
	ReasonGroupHalted    = "group halted after a win"
	ReasonNoRecoveryOdds = "favourite price too short to recover losses"
)

// Favourite is the active runner with the lowest last traded price.
func Favourite(book *model.Book) (model.RunnerBook, bool) {
	var (
		fav   model.RunnerBook
		found bool
	)
	if book == nil {
		return fav, false
	}
	for _, r := range book.Runners {
		if r.Status != model.RunnerActive || r.LastPriceTraded <= 0 {
			continue
		}
		if !found || r.LastPriceTraded < fav.LastPriceTraded {
			fav, found = r, true
		}
	}
	return fav, found
}

// Registry builds every known strategy keyed by reference.
func Registry(st store.Store, clk clock.Clock, cfg *config.Config) map[string]Strategy {
	all := []Strategy{
		NewBet12(st, clk, cfg),
		NewBetAllMartingale(st, clk, cfg),
		NewLayAll(st, clk, cfg),
		NewBetOdds(st, clk, cfg),
		NewGroup(st, clk, cfg),
	}
	out := make(map[string]Strategy, len(all))
	for _, s := range all {
		out[s.Reference()] = s
	}
	return out
}

// Enabled returns the registered strategies named in enabled, sorted by reference.
// Unknown references are logged and ignored.
func Enabled(registry map[string]Strategy, enabled []string) []Strategy {
	var out []Strategy
	for _, ref := range enabled {
		s, ok := registry[ref]
		if !ok {
			slog.Warn("unknown strategy in config", "strategy", ref)
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference() < out[j].Reference() })
	return out
}

// state is the persistence shared by every strategy: load, save with a
// day-boundary timestamp, and roll back to the pre-update snapshot.
type state struct {
	ref   string
	name  string
	live  bool
	store store.Store
	clock clock.Clock

	cur  model.StrategyState
	prev model.StrategyState

	// initial adjusts a state created on first use.
	initial func(*model.StrategyState)
}

func newState(ref, name string, st store.Store, clk clock.Clock, cfg *config.Config) state {
	return state{ref: ref, name: name, live: cfg.Strategy.IsLive(ref), store: st, clock: clk}
}

func (s *state) Reference() string { return s.ref }

func (s *state) load(ctx context.Context) error {
	cur, err := s.store.GetStrategyState(ctx, s.ref)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fresh := model.StrategyState{
			Ref:       s.ref,
			Name:      s.name,
			Active:    true,
			Live:      s.live,
			UpdatedAt: s.clock.Now(),
		}
		if s.initial != nil {
			s.initial(&fresh)
		}
		stored, err := s.store.UpsertStrategyState(ctx, fresh)
		if err != nil {
			return fmt.Errorf("initialising %s state: %w", s.ref, err)
		}
		s.cur = stored
	case err != nil:
		return fmt.Errorf("loading %s state: %w", s.ref, err)
	default:
		s.cur = *cur
	}
	s.cur.Live = s.live
	s.prev = s.cur
	return nil
}

func (s *state) save(ctx context.Context) error {
	s.cur.UpdatedAt = s.clock.Now()
	stored, err := s.store.UpsertStrategyState(ctx, s.cur)
	if err != nil {
		return fmt.Errorf("saving %s state: %w", s.ref, err)
	}
	s.cur = stored
	return nil
}

// rollback restores the pre-update snapshot, day marker included, so a skipped
// market leaves no trace.
func (s *state) rollback(ctx context.Context) error {
	s.cur = s.prev
	stored, err := s.store.UpsertStrategyState(ctx, s.cur)
	if err != nil {
		return fmt.Errorf("rolling back %s state: %w", s.ref, err)
	}
	s.cur = stored
	slog.Info("reverted to previous strategy state", "strategy", s.ref)
	return nil
}

// skip rolls the state back and reports reason.
func (s *state) skip(ctx context.Context, reason string) (Result, error) {
	if err := s.rollback(ctx); err != nil {
		return Result{}, err
	}
	return Skipped(reason), nil
}

// newDay reports whether the state was last written before today (UTC).
func (s *state) newDay() bool {
	return s.cur.UpdatedAt.Before(model.StartOfDay(s.clock.Now()))
}

// wonYesterday is true when yesterday's settled profit is not negative, or nothing settled.
func (s *state) wonYesterday(ctx context.Context) (bool, error) {
	today := model.StartOfDay(s.clock.Now())
	orders, err := s.store.SettledOrders(ctx, s.ref, today.AddDate(0, 0, -1), today)
	if err != nil {
		return false, fmt.Errorf("loading yesterday's orders: %w", err)
	}
	profits := make([]float64, 0, len(orders))
	for _, o := range orders {
		profits = append(profits, o.ProfitOrZero())
	}
	return pricing.Sum(profits...) >= 0, nil
}

// lastToday returns today's most recently settled order, or nil.
func (s *state) lastToday(ctx context.Context) (*model.Order, error) {
	return s.latestSince(ctx, model.StartOfDay(s.clock.Now()))
}

func (s *state) latestSince(ctx context.Context, since time.Time) (*model.Order, error) {
	o, err := s.store.LatestSettledOrder(ctx, s.ref, since)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading last settled order: %w", err)
	}
	return o, nil
}

// customerRef is unique per bet and fits the exchange's 32 character limit.
func customerRef(ref string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return ref + "-" + id[:16]
}
