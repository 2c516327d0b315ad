package pricing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"betbot/internal/model"
)

func TestLimitPrice_WalksDepth(t *testing.T) {
	ladder := []model.PriceSize{{Price: 2.0, Size: 5}, {Price: 2.1, Size: 10}}

	price, err := LimitPrice(ladder, 8)
	require.NoError(t, err)
	assert.Equal(t, 2.1, price)

	price, err = LimitPrice(ladder, 4)
	require.NoError(t, err)
	assert.Equal(t, 2.0, price)
}

func TestLimitPrice_InsufficientDepth(t *testing.T) {
	ladder := []model.PriceSize{{Price: 2.0, Size: 5}, {Price: 2.1, Size: 10}}

	_, err := LimitPrice(ladder, 20)
	var depthErr *MarketDepthError
	require.True(t, errors.As(err, &depthErr))
	assert.Equal(t, 20.0, depthErr.Stake)
	assert.Equal(t, 15.0, depthErr.Available)
}

func TestLimitPrice_ExactDepthIsNotEnough(t *testing.T) {
	// Accumulated size has to exceed the stake, not merely reach it.
	_, err := LimitPrice([]model.PriceSize{{Price: 3.0, Size: 10}}, 10)
	require.Error(t, err)
}

func TestProfit(t *testing.T) {
	tests := []struct {
		name    string
		side    model.Side
		outcome model.Outcome
		want    float64
	}{
		{"back won", model.Back, model.Won, 20},
		{"back lost", model.Back, model.Lost, -10},
		{"lay won", model.Lay, model.Won, 20},
		{"lay lost", model.Lay, model.Lost, -20},
		{"void", model.Back, model.Void, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Profit(tt.side, 10, 3.0, tt.outcome))
		})
	}
}

func TestStake_LadderTimesMinimumTimesMultiplier(t *testing.T) {
	ladder := []float64{1, 1, 2, 4, 8, 16}

	assert.Equal(t, 2.0, Stake(ladder, 0, 2.0, 1.0))
	assert.Equal(t, 8.0, Stake(ladder, 3, 2.0, 1.0))
	assert.Equal(t, 32.0, Stake(ladder, 5, 2.0, 1.0))
	// Out-of-range positions clamp to the ladder.
	assert.Equal(t, 32.0, Stake(ladder, 9, 2.0, 1.0))
	assert.Equal(t, 2.0, Stake(ladder, -1, 2.0, 1.0))
}

func TestLayLiability(t *testing.T) {
	assert.Equal(t, 4.0, LayLiability(2.0, 3.0))
	assert.Equal(t, 2.0, LayStake(4.0, 3.0))
	assert.Equal(t, 0.0, LayStake(4.0, 1.0))
}

func TestSum(t *testing.T) {
	assert.Equal(t, 0.3, Sum(0.1, 0.2))
	assert.Equal(t, 3.0, Sum(5, -2))
}

func TestRecoveryStake(t *testing.T) {
	// Losing 4 then backing at 3.0 needs (4 + 2) / 2 = 3 to recover and win 2.
	assert.Equal(t, 3.0, RecoveryStake(4, 3.0))
	assert.Equal(t, 0.0, RecoveryStake(4, 1.0))
}
