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

// oddsLossLimit is the losing streak that latches the stop loss for the day.
const oddsLossLimit = 3

// BetOdds backs the favourite with a stake sized to recover the day's losses.
type BetOdds struct {
	state
	staking config.StakingConfig
}

func NewBetOdds(st store.Store, clk clock.Clock, cfg *config.Config) *BetOdds {
	return &BetOdds{
		state:   newState("BOS1", "Bet Odds", st, clk, cfg),
		staking: cfg.Staking,
	}
}

func (b *BetOdds) State() model.StrategyState { return b.cur }

func (b *BetOdds) UpdateState(ctx context.Context) error {
	if err := b.load(ctx); err != nil {
		return err
	}
	return b.advance(ctx)
}

func (b *BetOdds) advance(ctx context.Context) error {
	s := &b.cur
	if b.newDay() {
		won, err := b.wonYesterday(ctx)
		if err != nil {
			return err
		}
		switch {
		case won:
			s.WeightPos = 0
			s.DaysAtMaxWeight = 0
		case s.WeightPos < len(b.staking.WeightLadder)-1:
			s.WeightPos++
		default:
			s.DaysAtMaxWeight++
		}
		s.LossStreak = 0
		s.LostStakeSum = 0
		s.StopLoss = false
		return b.save(ctx)
	}

	last, err := b.lastToday(ctx)
	if err != nil {
		return err
	}
	if last == nil || last.Outcome == model.Won {
		s.LossStreak = 0
		s.LostStakeSum = 0
		return b.save(ctx)
	}
	s.LossStreak++
	if s.LossStreak >= oddsLossLimit {
		s.StopLoss = true
		slog.Warn("stop loss triggered", "strategy", b.ref, "loss_streak", s.LossStreak)
	}
	s.LostStakeSum = pricing.Sum(s.LostStakeSum, last.SizeSettled)
	return b.save(ctx)
}

func (b *BetOdds) CreateBets(ctx context.Context, market model.Market, book *model.Book) (Result, error) {
	if err := b.load(ctx); err != nil {
		return Result{}, err
	}
	if !b.cur.Active {
		return Skipped(ReasonInactive), nil
	}
	if b.cur.StopLoss && !b.newDay() {
		return Skipped(ReasonStopLoss), nil
	}
	if err := b.advance(ctx); err != nil {
		return Result{}, err
	}
	if b.cur.StopLoss {
		return Skipped(ReasonStopLoss), nil
	}

	fav, ok := Favourite(book)
	if !ok {
		return b.skip(ctx, ReasonNoFavourite)
	}

	stake := b.staking.MinimumStake
	if b.cur.LostStakeSum > 0 {
		stake = pricing.RecoveryStake(b.cur.LostStakeSum, fav.LastPriceTraded)
		if stake <= 0 {
			return b.skip(ctx, ReasonNoRecoveryOdds)
		}
	}
	wager := pricing.Scale(stake, pricing.Weight(b.staking.WeightLadder, b.cur.WeightPos))

	price, err := pricing.LimitPrice(fav.AvailableToBack, wager)
	var depthErr *pricing.MarketDepthError
	if errors.As(err, &depthErr) {
		return b.skip(ctx, ReasonInsufficient)
	}

	req := model.BetRequest{
		CustomerRef: customerRef(b.ref),
		SelectionID: fav.SelectionID,
		Side:        model.Back,
		Type:        model.Limit,
		Size:        wager,
		Price:       price,
	}
	slog.Info("bet created", "strategy", b.ref, "market", market.ID, "selection", req.SelectionID,
		"size", req.Size, "price", req.Price, "lost_stake_sum", b.cur.LostStakeSum)
	return Bets(req), nil
}
