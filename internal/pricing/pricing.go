// Package pricing holds the stake, liability, depth and profit arithmetic.
// All money math runs through decimal so ladder multiples and profits stay exact.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"betbot/internal/model"
)

var one = decimal.NewFromInt(1)

// MarketDepthError means the book cannot absorb the requested stake.
type MarketDepthError struct {
	Stake     float64
	Available float64
}

func (e *MarketDepthError) Error() string {
	return fmt.Sprintf("insufficient market depth: stake %.2f, available %.2f", e.Stake, e.Available)
}

// LimitPrice walks the depth ladder accumulating available size until it exceeds
// stake, and returns the price of that level.
func LimitPrice(ladder []model.PriceSize, stake float64) (float64, error) {
	want := decimal.NewFromFloat(stake)
	total := decimal.Zero
	for _, level := range ladder {
		total = total.Add(decimal.NewFromFloat(level.Size))
		if total.GreaterThan(want) {
			return level.Price, nil
		}
	}
	return 0, &MarketDepthError{Stake: stake, Available: total.InexactFloat64()}
}

// Stake is ladder[pos] x minimum x multiplier.
func Stake(ladder []float64, pos int, minimum, multiplier float64) float64 {
	if len(ladder) == 0 {
		return 0
	}
	pos = Clamp(pos, len(ladder))
	return decimal.NewFromFloat(ladder[pos]).
		Mul(decimal.NewFromFloat(minimum)).
		Mul(decimal.NewFromFloat(multiplier)).
		Round(2).
		InexactFloat64()
}

// Weight returns ladder[pos], clamped to the ladder.
func Weight(ladder []float64, pos int) float64 {
	if len(ladder) == 0 {
		return 1
	}
	return ladder[Clamp(pos, len(ladder))]
}

// Scale multiplies a stake by a weight, rounded to pennies.
func Scale(stake, weight float64) float64 {
	return decimal.NewFromFloat(stake).Mul(decimal.NewFromFloat(weight)).Round(2).InexactFloat64()
}

// LayLiability is stake x (price - 1).
func LayLiability(stake, price float64) float64 {
	return decimal.NewFromFloat(stake).
		Mul(decimal.NewFromFloat(price).Sub(one)).
		Round(2).
		InexactFloat64()
}

// LayStake inverts LayLiability.
func LayStake(liability, price float64) float64 {
	odds := decimal.NewFromFloat(price).Sub(one)
	if !odds.IsPositive() {
		return 0
	}
	return decimal.NewFromFloat(liability).Div(odds).Round(2).InexactFloat64()
}

// Profit settles a bet of size at price. BACK wins size x (price - 1) and loses
// size; LAY wins or loses size x (price - 1). VOID settles at zero.
func Profit(side model.Side, size, price float64, outcome model.Outcome) float64 {
	if outcome == model.Void {
		return 0
	}
	s := decimal.NewFromFloat(size)
	odds := decimal.NewFromFloat(price).Sub(one)
	var p decimal.Decimal
	switch side {
	case model.Back:
		if outcome == model.Won {
			p = s.Mul(odds)
		} else {
			p = s.Neg()
		}
	default:
		p = s.Mul(odds)
		if outcome != model.Won {
			p = p.Neg()
		}
	}
	return p.Round(2).InexactFloat64()
}

// Sum adds profits without float drift.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.InexactFloat64()
}

// Clamp bounds pos to [0, n-1].
func Clamp(pos, n int) int {
	if pos < 0 {
		return 0
	}
	if pos > n-1 {
		return n - 1
	}
	return pos
}

// RecoveryStake is the back stake at price that wins back lostSum plus one unit:
// (lostSum + (price - 1)) / (price - 1).
func RecoveryStake(lostSum, price float64) float64 {
	odds := decimal.NewFromFloat(price).Sub(one)
	if !odds.IsPositive() {
		return 0
	}
	return decimal.NewFromFloat(lostSum).Add(odds).Div(odds).Round(2).InexactFloat64()
}
