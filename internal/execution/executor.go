package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"betbot/internal/clock"
	"betbot/internal/config"
	"betbot/internal/exchange"
	"betbot/internal/metrics"
	"betbot/internal/model"
	"betbot/internal/pricing"
	"betbot/internal/store"
)

// Executor submits strategy bets to the exchange, or simulates them, and
// records the accepted instructions.
type Executor struct {
	ex       exchange.Exchange
	store    store.Store
	clock    clock.Clock
	liveMode bool
	attempts int
	throttle time.Duration
}

func NewExecutor(ex exchange.Exchange, st store.Store, clk clock.Clock, cfg config.ExecutionConfig, liveMode bool) *Executor {
	return &Executor{
		ex:       ex,
		store:    st,
		clock:    clk,
		liveMode: liveMode,
		attempts: max(cfg.LimitAttempts, 1),
		throttle: cfg.LimitThrottle.Duration,
	}
}

// Summary describes what happened to one market's bets.
type Summary struct {
	Placed    int
	Played    bool
	ErrorCode string
	Lines     []string
}

// batch is the outcome of submitting one strategy's bets of one order type.
type batch struct {
	reports   []exchange.InstructionReport
	errorCode string
	exhausted bool
}

// PlaceBets submits bets per strategy: market-on-close orders first, then
// fill-or-kill limit orders with repricing retries. The market is marked played
// when any bet executes, otherwise skipped with the first error code seen.
func (e *Executor) PlaceBets(ctx context.Context, m model.Market, bets map[string][]model.BetRequest) (Summary, error) {
	refs := make([]string, 0, len(bets))
	for ref := range bets {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	var (
		sum       Summary
		exhausted bool
	)
	for _, ref := range refs {
		live, err := e.isLive(ctx, ref)
		if err != nil {
			return sum, err
		}

		var moc, limit []model.BetRequest
		for _, b := range bets[ref] {
			if b.Type == model.MarketOnClose {
				moc = append(moc, b)
			} else {
				limit = append(limit, b)
			}
		}

		var results []batch
		if len(moc) > 0 {
			results = append(results, e.placeOnce(ctx, m, ref, moc, live))
		}
		if len(limit) > 0 {
			results = append(results, e.placeLimit(ctx, m, ref, limit, live))
		}

		for _, b := range results {
			if b.errorCode != "" && sum.ErrorCode == "" {
				sum.ErrorCode = b.errorCode
			}
			exhausted = exhausted || b.exhausted
			n, err := e.record(ctx, m, ref, live, b.reports, &sum)
			if err != nil {
				return sum, err
			}
			sum.Placed += n
		}
	}

	if sum.Played {
		return sum, nil
	}
	code := sum.ErrorCode
	switch {
	case code != "":
	case exhausted:
		code = model.SkipRetriesExhausted
	default:
		code = model.SkipPlacementFailed
	}
	sum.ErrorCode = code
	if err := e.store.SetSkipped(ctx, m.ID, code, e.clock.Now()); err != nil {
		return sum, fmt.Errorf("skipping %s: %w", m.ID, err)
	}
	metrics.MarketDecisions.WithLabelValues("skipped", code).Inc()
	slog.Warn("no bets executed, market skipped", "market", m.ID, "code", code)
	return sum, nil
}

func (e *Executor) isLive(ctx context.Context, ref string) (bool, error) {
	if !e.liveMode {
		return false, nil
	}
	st, err := e.store.GetStrategyState(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading %s state: %w", ref, err)
	}
	return st.Live, nil
}

// placeOnce submits a batch without retrying; market-on-close orders always execute at the off.
func (e *Executor) placeOnce(ctx context.Context, m model.Market, ref string, reqs []model.BetRequest, live bool) batch {
	res, err := e.submit(ctx, m, ref, reqs, live)
	if err != nil {
		slog.Error("bet placement failed", "strategy", ref, "market", m.ID, "error", err)
		return batch{errorCode: errorCode(err)}
	}
	if res.Status != exchange.StatusSuccess {
		slog.Error("bet placement rejected", "strategy", ref, "market", m.ID, "code", res.ErrorCode)
		return batch{reports: successful(res), errorCode: res.ErrorCode}
	}
	return batch{reports: res.Reports}
}

// placeLimit submits fill-or-kill orders, repricing from the live book and
// resubmitting whatever did not execute, up to the configured attempts.
func (e *Executor) placeLimit(ctx context.Context, m model.Market, ref string, reqs []model.BetRequest, live bool) batch {
	var out batch
	pending := reqs
	for attempt := 1; attempt <= e.attempts && len(pending) > 0; attempt++ {
		if attempt > 1 {
			if err := e.clock.Sleep(ctx, e.throttle); err != nil {
				break
			}
			repriced, err := e.reprice(ctx, m.ID, pending)
			if err != nil {
				slog.Warn("repricing failed", "strategy", ref, "market", m.ID, "attempt", attempt, "error", err)
				continue
			}
			pending = repriced
		}

		res, err := e.submit(ctx, m, ref, pending, live)
		if err != nil {
			slog.Warn("limit placement failed", "strategy", ref, "market", m.ID, "attempt", attempt, "error", err)
			if out.errorCode == "" {
				out.errorCode = errorCode(err)
			}
			continue
		}
		if res.Status != exchange.StatusSuccess && res.ErrorCode != "" && out.errorCode == "" {
			out.errorCode = res.ErrorCode
		}

		var next []model.BetRequest
		done := make(map[string]bool)
		for _, r := range res.Reports {
			if r.Status == exchange.StatusSuccess {
				out.reports = append(out.reports, r)
			}
			if r.Complete() {
				done[r.Request.CustomerRef] = true
			}
		}
		for _, b := range pending {
			if !done[b.CustomerRef] {
				next = append(next, b)
			}
		}
		pending = next
		if len(pending) > 0 {
			slog.Info("limit bets not filled", "strategy", ref, "market", m.ID, "attempt", attempt, "remaining", len(pending))
		}
	}

	if len(pending) > 0 {
		out.exhausted = true
		metrics.LimitRetriesExhausted.WithLabelValues(ref).Inc()
		slog.Warn("limit bets abandoned after retries", "strategy", ref, "market", m.ID,
			"attempts", e.attempts, "unfilled", len(pending))
	}
	return out
}

// reprice walks the live book for each pending request.
func (e *Executor) reprice(ctx context.Context, marketID string, reqs []model.BetRequest) ([]model.BetRequest, error) {
	book, err := e.ex.MarketBook(ctx, marketID)
	if err != nil {
		return nil, err
	}
	out := make([]model.BetRequest, 0, len(reqs))
	for _, r := range reqs {
		rb, ok := book.Runner(r.SelectionID)
		if !ok {
			return nil, fmt.Errorf("runner %d missing from book", r.SelectionID)
		}
		depth := rb.AvailableToBack
		if r.Side == model.Lay {
			depth = rb.AvailableToLay
		}
		price, err := pricing.LimitPrice(depth, r.Size)
		if err != nil {
			return nil, err
		}
		r.Price = price
		out = append(out, r)
	}
	return out, nil
}

func (e *Executor) submit(ctx context.Context, m model.Market, ref string, reqs []model.BetRequest, live bool) (*exchange.PlaceResult, error) {
	if live {
		return e.ex.PlaceBets(ctx, m.ID, reqs, ref)
	}
	return e.simulate(ctx, m, ref, reqs)
}

// simulate fills every request in full: limit orders at their price, market-on-close
// orders at the latest snapshot's last traded price.
func (e *Executor) simulate(ctx context.Context, m model.Market, ref string, reqs []model.BetRequest) (*exchange.PlaceResult, error) {
	var book *model.Book
	now := e.clock.Now()
	res := &exchange.PlaceResult{Status: exchange.StatusSuccess}
	for _, r := range reqs {
		price, size := r.Price, r.Size
		if r.Type == model.MarketOnClose {
			if book == nil {
				b, err := e.store.LatestSnapshot(ctx, m.ID)
				if err != nil {
					return nil, fmt.Errorf("loading snapshot for simulation: %w", err)
				}
				book = b
			}
			rb, _ := book.Runner(r.SelectionID)
			price = rb.LastPriceTraded
			size = r.Liability
			if r.Side == model.Lay {
				size = pricing.LayStake(r.Liability, price)
			}
		}
		res.Reports = append(res.Reports, exchange.InstructionReport{
			Status:              exchange.StatusSuccess,
			OrderStatus:         model.ExecutionComplete,
			Request:             r,
			BetID:               fmt.Sprintf("%s-%s-%d", ref, m.ID, r.SelectionID),
			PlacedAt:            now,
			AveragePriceMatched: price,
			SizeMatched:         size,
		})
	}
	return res, nil
}

// record persists successful reports as instructions. Reports that expired
// unmatched are stored already settled.
func (e *Executor) record(ctx context.Context, m model.Market, ref string, live bool, reports []exchange.InstructionReport, sum *Summary) (int, error) {
	if len(reports) == 0 {
		return 0, nil
	}
	mode := "simulated"
	if live {
		mode = "live"
	}

	instructions := make([]model.Instruction, 0, len(reports))
	executed := 0
	for _, r := range reports {
		in := model.Instruction{
			BetID:       r.BetID,
			MarketID:    m.ID,
			StrategyRef: ref,
			SelectionID: r.Request.SelectionID,
			Side:        r.Request.Side,
			Type:        r.Request.Type,
			Size:        r.Request.Size,
			Price:       r.Request.Price,
			PlacedAt:    r.PlacedAt,
			Settled:     r.OrderStatus == model.Expired && r.SizeMatched == 0,
			Live:        live,
			CustomerRef: r.Request.CustomerRef,
		}
		if in.Type == model.MarketOnClose {
			in.Size = r.Request.Liability
			if r.SizeMatched > 0 {
				in.Size = r.SizeMatched
				in.Price = r.AveragePriceMatched
			}
		}
		if in.PlacedAt.IsZero() {
			in.PlacedAt = e.clock.Now()
		}
		instructions = append(instructions, in)
		if in.Settled {
			continue
		}
		executed++
		metrics.BetsPlaced.WithLabelValues(ref, mode).Inc()
		sum.Lines = append(sum.Lines, fmt.Sprintf("%s %s %s %d %.2f @ %.2f", ref, mode, in.Side, in.SelectionID, r.Request.Amount(), in.Price))
	}

	if err := e.store.UpsertInstructions(ctx, instructions); err != nil {
		return 0, fmt.Errorf("recording instructions: %w", err)
	}
	if executed > 0 && !sum.Played {
		if err := e.store.SetPlayed(ctx, m.ID, e.clock.Now()); err != nil {
			return 0, fmt.Errorf("marking %s played: %w", m.ID, err)
		}
		metrics.MarketDecisions.WithLabelValues("played", "").Inc()
		sum.Played = true
	}
	slog.Info("bets recorded", "strategy", ref, "market", m.ID, "mode", mode, "executed", executed, "reports", len(reports))
	return executed, nil
}

func successful(res *exchange.PlaceResult) []exchange.InstructionReport {
	var out []exchange.InstructionReport
	for _, r := range res.Reports {
		if r.Status == exchange.StatusSuccess {
			out = append(out, r)
		}
	}
	return out
}

func errorCode(err error) string {
	var upErr *exchange.UpstreamError
	if errors.As(err, &upErr) && upErr.Code != "" {
		return upErr.Code
	}
	var depthErr *pricing.MarketDepthError
	if errors.As(err, &depthErr) {
		return "INSUFFICIENT_DEPTH"
	}
	return ""
}
