package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"betbot/internal/clock"
	"betbot/internal/config"
	"betbot/internal/db"
	"betbot/internal/exchange"
	"betbot/internal/exchange/exchangetest"
	"betbot/internal/model"
	"betbot/internal/store"
)

var t0 = time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database, db.SQLite))
	return store.NewSQLStore(database, db.SQLite)
}

var market = model.Market{ID: "1.1", Name: "R1", StartTime: t0.Add(30 * time.Second)}

func book(runners ...model.RunnerBook) *model.Book {
	return &model.Book{MarketID: "1.1", CapturedAt: t0, Status: model.StatusOpen, Runners: runners}
}

func setup(t *testing.T, liveRefs ...string) (*store.SQLStore, *clock.Fake, *exchangetest.Fake) {
	t.Helper()
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertMarkets(ctx, []model.Market{market}))
	for _, ref := range liveRefs {
		_, err := st.UpsertStrategyState(ctx, model.StrategyState{Ref: ref, Active: true, Live: true, UpdatedAt: t0})
		require.NoError(t, err)
	}
	ex := &exchangetest.Fake{}
	ex.SetBook(book(model.RunnerBook{
		SelectionID: 2, Status: model.RunnerActive, LastPriceTraded: 2.4,
		AvailableToBack: []model.PriceSize{{Price: 2.4, Size: 100}},
	}))
	return st, clock.NewFake(t0), ex
}

func limitBet(ref string) model.BetRequest {
	return model.BetRequest{CustomerRef: ref + "-a", SelectionID: 2, Side: model.Back, Type: model.Limit, Size: 2, Price: 2.4}
}

// expireFor makes every bet of ref lapse unmatched and fills everything else.
func expireFor(ref string) func(exchangetest.PlaceCall, int) (*exchange.PlaceResult, error) {
	return func(call exchangetest.PlaceCall, n int) (*exchange.PlaceResult, error) {
		res := &exchange.PlaceResult{Status: exchange.StatusSuccess}
		for i, b := range call.Bets {
			r := exchange.InstructionReport{
				Status:              exchange.StatusSuccess,
				OrderStatus:         model.ExecutionComplete,
				Request:             b,
				BetID:               fmt.Sprintf("bet-%d-%d", n, i),
				PlacedAt:            t0,
				AveragePriceMatched: b.Price,
				SizeMatched:         b.Size,
			}
			if call.StrategyRef == ref {
				r.OrderStatus = model.Expired
				r.SizeMatched = 0
				r.AveragePriceMatched = 0
			}
			res.Reports = append(res.Reports, r)
		}
		return res, nil
	}
}

func countCalls(calls []exchangetest.PlaceCall, ref string) int {
	n := 0
	for _, c := range calls {
		if c.StrategyRef == ref {
			n++
		}
	}
	return n
}

func TestPlaceBets_LimitRetriesStopAtAttemptLimit(t *testing.T) {
	ctx := context.Background()
	st, clk, ex := setup(t, "B12S1", "G5B12")
	ex.PlaceFunc = expireFor("G5B12")

	exec := NewExecutor(ex, st, clk, config.DefaultConfig().Execution, true)
	sum, err := exec.PlaceBets(ctx, market, map[string][]model.BetRequest{
		"B12S1": {limitBet("B12S1")},
		"G5B12": {limitBet("G5B12")},
	})
	require.NoError(t, err)

	calls := ex.PlaceCalls()
	assert.Equal(t, 1, countCalls(calls, "B12S1"))
	assert.Equal(t, 5, countCalls(calls, "G5B12"), "five attempts and no sixth")
	assert.Equal(t, 4, ex.BookCalls(), "each retry reprices from the live book")
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second, time.Second}, clk.Sleeps())

	assert.True(t, sum.Played)
	assert.Equal(t, 1, sum.Placed)

	m, err := st.GetMarket(ctx, "1.1")
	require.NoError(t, err)
	require.NotNil(t, m.Played)
	assert.True(t, *m.Played)

	pending, err := st.UnsettledInstructions(ctx, true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "B12S1", pending[0].StrategyRef)
}

func TestPlaceBets_SkipsMarketWhenRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	st, clk, ex := setup(t, "G5B12")
	ex.PlaceFunc = expireFor("G5B12")

	exec := NewExecutor(ex, st, clk, config.DefaultConfig().Execution, true)
	sum, err := exec.PlaceBets(ctx, market, map[string][]model.BetRequest{"G5B12": {limitBet("G5B12")}})
	require.NoError(t, err)
	assert.False(t, sum.Played)
	assert.Equal(t, model.SkipRetriesExhausted, sum.ErrorCode)

	m, err := st.GetMarket(ctx, "1.1")
	require.NoError(t, err)
	require.NotNil(t, m.Played)
	assert.False(t, *m.Played)
	assert.Equal(t, model.SkipRetriesExhausted, m.ErrorCode)
}

func TestPlaceBets_RejectedBatchRecordsErrorCode(t *testing.T) {
	ctx := context.Background()
	st, clk, ex := setup(t, "BMS1")
	ex.PlaceFunc = func(exchangetest.PlaceCall, int) (*exchange.PlaceResult, error) {
		return nil, &exchange.UpstreamError{Op: "placeOrders", Code: "INSUFFICIENT_FUNDS"}
	}

	exec := NewExecutor(ex, st, clk, config.DefaultConfig().Execution, true)
	sum, err := exec.PlaceBets(ctx, market, map[string][]model.BetRequest{"BMS1": {{
		CustomerRef: "BMS1-a", SelectionID: 2, Side: model.Back, Type: model.MarketOnClose, Liability: 2,
	}}})
	require.NoError(t, err)
	assert.Equal(t, "INSUFFICIENT_FUNDS", sum.ErrorCode)
	assert.Len(t, ex.PlaceCalls(), 1, "market-on-close bets are not retried")

	m, err := st.GetMarket(ctx, "1.1")
	require.NoError(t, err)
	assert.Equal(t, "INSUFFICIENT_FUNDS", m.ErrorCode)
}

func TestPlaceBets_SimulatesWithoutExchange(t *testing.T) {
	ctx := context.Background()
	st, clk, ex := setup(t, "ALS1")
	require.NoError(t, st.InsertSnapshot(ctx, *book(model.RunnerBook{SelectionID: 2, Status: model.RunnerActive, LastPriceTraded: 3.5})))

	// Live strategy state but the bot itself is in simulation mode.
	exec := NewExecutor(ex, st, clk, config.DefaultConfig().Execution, false)
	sum, err := exec.PlaceBets(ctx, market, map[string][]model.BetRequest{
		"ALS1":  {{CustomerRef: "ALS1-a", SelectionID: 2, Side: model.Lay, Type: model.MarketOnClose, Liability: 5}},
		"B12S1": {limitBet("B12S1")},
	})
	require.NoError(t, err)
	assert.Empty(t, ex.PlaceCalls())
	assert.Equal(t, 2, sum.Placed)
	assert.True(t, sum.Played)

	lay, err := st.GetInstruction(ctx, "ALS1-1.1-2")
	require.NoError(t, err)
	assert.False(t, lay.Live)
	assert.Equal(t, 2.0, lay.Size, "lay stake for liability 5 at 3.5")
	assert.Equal(t, 3.5, lay.Price)

	back, err := st.GetInstruction(ctx, "B12S1-1.1-2")
	require.NoError(t, err)
	assert.Equal(t, 2.0, back.Size)
	assert.Equal(t, 2.4, back.Price)
}

type fakeStats struct {
	orders     []model.Order
	deltaErr   error
	recomputes int
}

func (f *fakeStats) ApplyDelta(_ context.Context, orders []model.Order) error {
	if f.deltaErr != nil {
		return f.deltaErr
	}
	f.orders = append(f.orders, orders...)
	return nil
}

func (f *fakeStats) Recompute(context.Context) error {
	f.recomputes++
	return nil
}

type fakeFunds struct{ refreshes int }

func (f *fakeFunds) Refresh(context.Context) error {
	f.refreshes++
	return nil
}

func instruction(betID, marketID string, sel int64, side model.Side, price float64, live bool) model.Instruction {
	return model.Instruction{
		BetID: betID, MarketID: marketID, StrategyRef: "B12S1", SelectionID: sel,
		Side: side, Type: model.Limit, Size: 2, Price: price, PlacedAt: t0.Add(-time.Hour), Live: live,
	}
}

func TestReconciler_SettlesSimulatedBets(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	clk := clock.NewFake(t0)
	ex := &exchangetest.Fake{Runners: map[string]map[int64]model.RunnerBook{
		"1.1": {
			2: {SelectionID: 2, Status: model.RunnerWinner},
			3: {SelectionID: 3, Status: model.RunnerLoser},
			4: {SelectionID: 4, Status: model.RunnerRemoved},
		},
	}}
	require.NoError(t, st.UpsertInstructions(ctx, []model.Instruction{
		instruction("s1", "1.1", 2, model.Back, 3.0, false),
		instruction("s2", "1.1", 3, model.Lay, 3.5, false),
		instruction("s3", "1.1", 4, model.Back, 2.5, false),
		instruction("s4", "1.2", 7, model.Back, 2.5, false),
		instruction("s5", "1.3", 9, model.Back, 2.5, false),
	}))
	require.NoError(t, st.UpsertWinner(ctx, model.Winner{MarketID: "1.2", SelectionID: 8, Source: model.WinnerDeclared, DeclaredAt: t0}))

	stats, funds := &fakeStats{}, &fakeFunds{}
	r := NewReconciler(ex, st, clk, stats, funds, time.Minute)
	wait, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, wait)

	profits := make(map[string]float64)
	outcomes := make(map[string]model.Outcome)
	for _, o := range stats.orders {
		assert.True(t, o.Simulated)
		profits[o.BetID] = o.ProfitOrZero()
		outcomes[o.BetID] = o.Outcome
	}
	assert.Equal(t, map[string]model.Outcome{"s1": model.Won, "s2": model.Won, "s3": model.Void, "s4": model.Lost}, outcomes)
	assert.Equal(t, map[string]float64{"s1": 4, "s2": 5, "s3": 0, "s4": -2}, profits)
	assert.Zero(t, funds.refreshes)

	pending, err := st.UnsettledInstructions(ctx, false)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "s5", pending[0].BetID)

	settled, err := st.SettledOrders(ctx, "B12S1", t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, settled, 4)
}

func TestReconciler_SettlesLiveBets(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	clk := clock.NewFake(t0)
	won := 3.0
	stray := 10.0
	ex := &exchangetest.Fake{
		Current: []model.Order{{BetID: "l1", SelectionID: 2, Side: model.Back, Type: model.Limit, Status: model.ExecutionComplete, SizeSettled: 2, PriceMatched: 2.5}},
		Cleared: []model.Order{
			{BetID: "l1", SelectionID: 2, Side: model.Back, Type: model.Limit, Status: model.ExecutionComplete,
				SizeSettled: 2, PriceMatched: 2.5, SettledAt: t0.Add(-time.Minute), Outcome: model.Won, Profit: &won},
			{BetID: "x9", MarketID: "1.9", SelectionID: 5, Side: model.Back, Status: model.ExecutionComplete,
				SettledAt: t0.Add(-time.Minute), Outcome: model.Won, Profit: &stray},
		},
		ClearedUnfiltered: true,
	}
	require.NoError(t, st.UpsertInstructions(ctx, []model.Instruction{instruction("l1", "1.1", 2, model.Back, 2.5, true)}))

	stats, funds := &fakeStats{}, &fakeFunds{}
	r := NewReconciler(ex, st, clk, stats, funds, time.Minute)
	_, err := r.RunOnce(ctx)
	require.NoError(t, err)

	require.Len(t, stats.orders, 1, "the order with no instruction is skipped")
	o := stats.orders[0]
	assert.Equal(t, "l1", o.BetID)
	assert.Equal(t, "B12S1", o.StrategyRef)
	assert.Equal(t, "1.1", o.MarketID)
	assert.Equal(t, 3.0, o.ProfitOrZero())
	assert.False(t, o.Simulated)
	assert.Equal(t, 1, funds.refreshes)

	pending, err := st.UnsettledInstructions(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := st.SettledOrders(ctx, "", t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "l1", all[0].BetID)
}

func TestSettlementConsistencyError(t *testing.T) {
	err := &SettlementConsistencyError{BetID: "x9"}
	assert.Equal(t, "cleared order x9 has no instruction", err.Error())
}

func TestPlaceBets_MarketOnCloseBeforeLimit(t *testing.T) {
	ctx := context.Background()
	st, clk, ex := setup(t, "B12S1")

	exec := NewExecutor(ex, st, clk, config.DefaultConfig().Execution, true)
	_, err := exec.PlaceBets(ctx, market, map[string][]model.BetRequest{"B12S1": {
		limitBet("B12S1"),
		{CustomerRef: "B12S1-b", SelectionID: 2, Side: model.Back, Type: model.MarketOnClose, Liability: 4},
	}})
	require.NoError(t, err)

	calls := ex.PlaceCalls()
	require.Len(t, calls, 2)
	require.Len(t, calls[0].Bets, 1)
	assert.Equal(t, model.MarketOnClose, calls[0].Bets[0].Type)
	require.Len(t, calls[1].Bets, 1)
	assert.Equal(t, model.Limit, calls[1].Bets[0].Type)
}

// failingSimulatedStore breaks only the simulated settlement path.
type failingSimulatedStore struct {
	*store.SQLStore
}

func (s failingSimulatedStore) UnsettledInstructions(ctx context.Context, live bool) ([]model.Instruction, error) {
	if !live {
		return nil, errors.New("simulated instructions unavailable")
	}
	return s.SQLStore.UnsettledInstructions(ctx, live)
}

func clearedLive(t *testing.T, st store.Store) *exchangetest.Fake {
	t.Helper()
	won := 3.0
	require.NoError(t, st.UpsertInstructions(context.Background(), []model.Instruction{instruction("l1", "1.1", 2, model.Back, 2.5, true)}))
	return &exchangetest.Fake{Cleared: []model.Order{{
		BetID: "l1", SelectionID: 2, Side: model.Back, Type: model.Limit, Status: model.ExecutionComplete,
		SizeSettled: 2, PriceMatched: 2.5, SettledAt: t0.Add(-time.Minute), Outcome: model.Won, Profit: &won,
	}}}
}

func TestReconciler_LiveSettlementSurvivesSimulatedFailure(t *testing.T) {
	ctx := context.Background()
	base := newTestStore(t)
	st := failingSimulatedStore{base}
	ex := clearedLive(t, st)

	stats, funds := &fakeStats{}, &fakeFunds{}
	r := NewReconciler(ex, st, clock.NewFake(t0), stats, funds, time.Minute)
	_, err := r.RunOnce(ctx)
	require.Error(t, err)

	require.Len(t, stats.orders, 1)
	assert.Equal(t, "l1", stats.orders[0].BetID)
	assert.Equal(t, 1, funds.refreshes)

	pending, err := base.UnsettledInstructions(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReconciler_RecomputesWhenDeltaFails(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	ex := clearedLive(t, st)

	stats := &fakeStats{deltaErr: errors.New("statistics table locked")}
	r := NewReconciler(ex, st, clock.NewFake(t0), stats, &fakeFunds{}, time.Minute)
	_, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.recomputes)
}

func TestReconciler_ClosesLapsedInstructions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertInstructions(ctx, []model.Instruction{
		instruction("lapsed", "1.1", 2, model.Back, 2.5, true),
		instruction("waiting", "1.1", 3, model.Back, 2.5, true),
	}))
	ex := &exchangetest.Fake{Current: []model.Order{
		{BetID: "lapsed", SelectionID: 2, Side: model.Back, Type: model.Limit, Status: model.ExecutionComplete},
		{BetID: "waiting", SelectionID: 3, Side: model.Back, Type: model.Limit, Status: model.ExecutionComplete, SizeSettled: 2, PriceMatched: 2.5},
	}}

	stats := &fakeStats{}
	r := NewReconciler(ex, st, clock.NewFake(t0), stats, &fakeFunds{}, time.Minute)
	_, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats.orders, "an unmatched order has no result")

	pending, err := st.UnsettledInstructions(ctx, true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "waiting", pending[0].BetID)
}
