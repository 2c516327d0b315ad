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

// LadderRules parameterises the stake/weight ladder strategies.
type LadderRules struct {
	Side model.Side
	Type model.OrderType
	// StopLossAt latches the stop loss once this many bets have been lost at the top stake rung.
	StopLossAt int
	// StepDownWeight moves the weight one rung down after a winning day instead of resetting it.
	StepDownWeight bool
	// BandLow and BandHigh bound the accepted limit price. Zero disables the band.
	BandLow  float64
	BandHigh float64
}

// Ladder is a martingale-style strategy: the stake climbs a ladder after each
// losing event and the weight climbs a ladder after each losing day.
type Ladder struct {
	state
	rules   LadderRules
	staking config.StakingConfig
}

func NewLadder(ref, name string, rules LadderRules, st store.Store, clk clock.Clock, cfg *config.Config) *Ladder {
	return &Ladder{
		state:   newState(ref, name, st, clk, cfg),
		rules:   rules,
		staking: cfg.Staking,
	}
}

// NewBet12 backs the favourite at a fill-or-kill limit price between 2.0 and 3.0.
func NewBet12(st store.Store, clk clock.Clock, cfg *config.Config) *Ladder {
	return NewLadder("B12S1", "Bet 1-2", LadderRules{
		Side:           model.Back,
		Type:           model.Limit,
		StopLossAt:     1,
		StepDownWeight: true,
		BandLow:        cfg.Staking.PriceBandLow,
		BandHigh:       cfg.Staking.PriceBandHigh,
	}, st, clk, cfg)
}

// NewBetAllMartingale backs the favourite at the starting price.
func NewBetAllMartingale(st store.Store, clk clock.Clock, cfg *config.Config) *Ladder {
	return NewLadder("BMS1", "Bet All Martingale", LadderRules{
		Side:       model.Back,
		Type:       model.MarketOnClose,
		StopLossAt: 4,
	}, st, clk, cfg)
}

// NewLayAll lays the favourite at the starting price.
func NewLayAll(st store.Store, clk clock.Clock, cfg *config.Config) *Ladder {
	return NewLadder("ALS1", "Lay All", LadderRules{
		Side:       model.Lay,
		Type:       model.MarketOnClose,
		StopLossAt: 4,
	}, st, clk, cfg)
}

// State returns the last loaded or saved state.
func (l *Ladder) State() model.StrategyState { return l.cur }

func (l *Ladder) UpdateState(ctx context.Context) error {
	if err := l.load(ctx); err != nil {
		return err
	}
	return l.advance(ctx)
}

func (l *Ladder) advance(ctx context.Context) error {
	if l.newDay() {
		if err := l.dayTransition(ctx); err != nil {
			return err
		}
	} else if err := l.eventTransition(ctx); err != nil {
		return err
	}
	return l.save(ctx)
}

func (l *Ladder) dayTransition(ctx context.Context) error {
	won, err := l.wonYesterday(ctx)
	if err != nil {
		return err
	}
	s := &l.cur
	switch {
	case won && l.rules.StepDownWeight:
		s.WeightPos = max(s.WeightPos-1, 0)
		s.DaysAtMaxWeight = 0
	case won:
		s.WeightPos = 0
		s.DaysAtMaxWeight = 0
	case s.WeightPos < len(l.staking.WeightLadder)-1:
		s.WeightPos++
	default:
		s.DaysAtMaxWeight++
	}
	s.StakePos = 0
	s.BetsAtMaxStake = 0
	s.LossStreak = 0
	s.LostStakeSum = 0
	s.StopLoss = false
	slog.Info("strategy state moved to new day", "strategy", l.ref, "won_yesterday", won,
		"weight_pos", s.WeightPos, "days_at_max_weight", s.DaysAtMaxWeight)
	return nil
}

func (l *Ladder) eventTransition(ctx context.Context) error {
	last, err := l.lastToday(ctx)
	if err != nil {
		return err
	}
	s := &l.cur
	if last == nil || last.Outcome == model.Won {
		s.StakePos = 0
		s.BetsAtMaxStake = 0
		return nil
	}
	if s.StakePos < len(l.staking.StakeLadder)-1 {
		s.StakePos++
		return nil
	}
	s.BetsAtMaxStake++
	if s.BetsAtMaxStake >= l.rules.StopLossAt {
		s.StopLoss = true
		slog.Warn("stop loss triggered", "strategy", l.ref, "bets_at_max_stake", s.BetsAtMaxStake)
	}
	return nil
}

func (l *Ladder) CreateBets(ctx context.Context, market model.Market, book *model.Book) (Result, error) {
	if err := l.load(ctx); err != nil {
		return Result{}, err
	}
	if !l.cur.Active {
		return Skipped(ReasonInactive), nil
	}
	if l.cur.StopLoss && !l.newDay() {
		return Skipped(ReasonStopLoss), nil
	}
	if err := l.advance(ctx); err != nil {
		return Result{}, err
	}
	if l.cur.StopLoss {
		return Skipped(ReasonStopLoss), nil
	}

	fav, ok := Favourite(book)
	if !ok {
		return l.skip(ctx, ReasonNoFavourite)
	}

	stake := pricing.Stake(l.staking.StakeLadder, l.cur.StakePos, l.staking.MinimumStake, l.staking.StakeMultiplier)
	wager := pricing.Scale(stake, pricing.Weight(l.staking.WeightLadder, l.cur.WeightPos))
	req := model.BetRequest{
		CustomerRef: customerRef(l.ref),
		SelectionID: fav.SelectionID,
		Side:        l.rules.Side,
		Type:        l.rules.Type,
	}

	switch {
	case l.rules.Type == model.MarketOnClose && l.rules.Side == model.Lay:
		req.Liability = pricing.LayLiability(wager, fav.LastPriceTraded)
	case l.rules.Type == model.MarketOnClose:
		req.Liability = wager
	default:
		depth := fav.AvailableToBack
		if l.rules.Side == model.Lay {
			depth = fav.AvailableToLay
		}
		price, err := pricing.LimitPrice(depth, wager)
		var depthErr *pricing.MarketDepthError
		if errors.As(err, &depthErr) {
			return l.skip(ctx, ReasonInsufficient)
		}
		if l.rules.BandHigh > 0 && (price < l.rules.BandLow || price > l.rules.BandHigh) {
			slog.Info("favourite price outside band", "strategy", l.ref, "market", market.ID,
				"price", price, "low", l.rules.BandLow, "high", l.rules.BandHigh)
			return l.skip(ctx, ReasonOutsideBand)
		}
		req.Size = wager
		req.Price = price
	}

	slog.Info("bet created", "strategy", l.ref, "market", market.ID, "selection", req.SelectionID,
		"side", req.Side, "type", req.Type, "amount", req.Amount(), "price", req.Price)
	return Bets(req), nil
}
