package strategy

import (
	"context"
	"errors"
	"log/slog"

	"betbot/internal/clock"
	"betbot/internal/config"
	"betbot/internal/model"
	"betbot/internal/pricing"
	"betbot/internal/store"
)

// Group backs the favourite across a fixed-size group of events, stepping up a
// short stake ladder and halting for the rest of the group once a bet wins.
type Group struct {
	state
	staking config.StakingConfig
}

func NewGroup(st store.Store, clk clock.Clock, cfg *config.Config) *Group {
	g := &Group{
		state:   newState("G5B12", "Group 5 Bet 1-2", st, clk, cfg),
		staking: cfg.Staking,
	}
	// The position advances before each bet, so a new group starts one before the first rung.
	g.initial = func(s *model.StrategyState) { s.GroupPos = -1 }
	return g
}

func (g *Group) State() model.StrategyState { return g.cur }

func (g *Group) UpdateState(ctx context.Context) error {
	if err := g.load(ctx); err != nil {
		return err
	}
	return g.advance(ctx)
}

func (g *Group) advance(ctx context.Context) error {
	s := &g.cur
	s.GroupPos++
	if s.GroupPos >= g.staking.GroupSize {
		slog.Info("end of group, resetting", "strategy", g.ref)
		s.GroupPos = 0
		s.Halted = false
		return g.save(ctx)
	}

	// Only results settled since the previous event count, so a win from the
	// last group does not halt the next one.
	last, err := g.latestSince(ctx, g.prev.UpdatedAt)
	if err != nil {
		return err
	}
	if last != nil && last.Outcome == model.Won && !s.Halted {
		s.Halted = true
		slog.Info("group halted after a win", "strategy", g.ref, "group_pos", s.GroupPos)
	}
	return g.save(ctx)
}

func (g *Group) CreateBets(ctx context.Context, market model.Market, book *model.Book) (Result, error) {
	if err := g.load(ctx); err != nil {
		return Result{}, err
	}
	if !g.cur.Active {
		return Skipped(ReasonInactive), nil
	}
	if err := g.advance(ctx); err != nil {
		return Result{}, err
	}
	if g.cur.Halted {
		return Skipped(ReasonGroupHalted), nil
	}

	fav, ok := Favourite(book)
	if !ok {
		return g.skip(ctx, ReasonNoFavourite)
	}

	ladder := g.staking.GroupLadder
	stake := pricing.Scale(g.staking.GroupStartingStake, ladder[pricing.Clamp(g.cur.GroupPos, len(ladder))])
	price, err := pricing.LimitPrice(fav.AvailableToBack, stake)
	var depthErr *pricing.MarketDepthError
	if errors.As(err, &depthErr) {
		return g.skip(ctx, ReasonInsufficient)
	}
	if price < g.staking.PriceBandLow || price > g.staking.PriceBandHigh {
		slog.Info("favourite price outside band", "strategy", g.ref, "market", market.ID, "price", price)
		return g.skip(ctx, ReasonOutsideBand)
	}

	req := model.BetRequest{
		CustomerRef: customerRef(g.ref),
		SelectionID: fav.SelectionID,
		Side:        model.Back,
		Type:        model.Limit,
		Size:        stake,
		Price:       price,
	}
	slog.Info("bet created", "strategy", g.ref, "market", market.ID, "selection", req.SelectionID,
		"size", req.Size, "price", req.Price, "group_pos", g.cur.GroupPos)
	return Bets(req), nil
}
