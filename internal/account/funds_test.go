package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"betbot/internal/clock"
	"betbot/internal/db"
	"betbot/internal/exchange/exchangetest"
	"betbot/internal/model"
	"betbot/internal/store"
)

func TestFunds_RefreshStoresBalance(t *testing.T) {
	ctx := context.Background()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.Migrate(database, db.SQLite))
	st := store.NewSQLStore(database, db.SQLite)

	now := time.Date(2024, 3, 12, 13, 0, 0, 0, time.UTC)
	ex := &exchangetest.Fake{Funds: model.AccountFunds{Wallet: "UK", Available: 120.5, Exposure: 8}}
	f := NewFunds(ex, st, clock.NewFake(now), 10*time.Minute)

	next, err := f.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, next)

	got, err := st.GetAccountFunds(ctx, "UK")
	require.NoError(t, err)
	assert.Equal(t, 120.5, got.Available)
	assert.Equal(t, 8.0, got.Exposure)
	assert.True(t, got.UpdatedAt.Equal(now))
}
