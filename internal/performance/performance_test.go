package performance

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"betbot/internal/clock"
	"betbot/internal/db"
	"betbot/internal/model"
	"betbot/internal/notify"
	"betbot/internal/store"
)

// Tuesday.
var now = time.Date(2024, 3, 12, 13, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *store.SQLStore {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database, db.SQLite))
	return store.NewSQLStore(database, db.SQLite)
}

func settled(id, ref string, at time.Time, profit float64) model.Order {
	return model.Order{
		BetID: id, MarketID: "1.1", SelectionID: 10, StrategyRef: ref,
		Side: model.Back, Type: model.Limit, Status: model.ExecutionComplete,
		SizeSettled: 2, PriceMatched: 2.5, PlacedAt: at.Add(-time.Minute), SettledAt: at,
		Outcome: model.Won, Profit: &profit,
	}
}

func TestApplyDelta_SameDayAccumulates(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	agg := NewAggregator(st, clock.NewFake(now), 1)

	require.NoError(t, agg.ApplyDelta(ctx, []model.Order{settled("b1", "B12S1", now, 5)}))
	require.NoError(t, agg.ApplyDelta(ctx, []model.Order{settled("b2", "B12S1", now, -2)}))

	s, err := st.GetStatistic(ctx, "B12S1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, s.Daily)
	assert.Equal(t, 3.0, s.Lifetime)

	totals, err := st.GetStatistic(ctx, model.TotalsRef)
	require.NoError(t, err)
	assert.Equal(t, 3.0, totals.Daily)
}

func TestApplyDelta_DailyRollsOverAtMidnight(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	clk := clock.NewFake(now)
	agg := NewAggregator(st, clk, 1)

	require.NoError(t, agg.ApplyDelta(ctx, []model.Order{settled("b1", "BMS1", now, 4)}))
	clk.Advance(24 * time.Hour)
	require.NoError(t, agg.ApplyDelta(ctx, []model.Order{settled("b2", "BMS1", clk.Now(), 1)}))

	s, err := st.GetStatistic(ctx, "BMS1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Daily)
	assert.Equal(t, 5.0, s.Weekly)
	assert.Equal(t, 5.0, s.Lifetime)
}

func TestRecompute_Windows(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	_, err := st.UpsertStrategyState(ctx, model.StrategyState{Ref: "B12S1", Active: true})
	require.NoError(t, err)

	require.NoError(t, st.UpsertOrders(ctx, []model.Order{
		settled("today", "B12S1", now.Add(-time.Hour), 3),
		settled("monday", "B12S1", now.AddDate(0, 0, -1), 2),
		settled("lastweek", "B12S1", now.AddDate(0, 0, -7), -1),
		settled("lastyear", "B12S1", now.AddDate(-1, 0, 0), 10),
		settled("other", "ALS1", now.Add(-time.Hour), 1),
	}))

	agg := NewAggregator(st, clock.NewFake(now), 1)
	require.NoError(t, agg.Recompute(ctx))

	s, err := st.GetStatistic(ctx, "B12S1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, s.Daily)
	assert.Equal(t, 5.0, s.Weekly)
	assert.Equal(t, 4.0, s.Monthly)
	assert.Equal(t, 4.0, s.Yearly)
	assert.Equal(t, 14.0, s.Lifetime)

	totals, err := st.GetStatistic(ctx, model.TotalsRef)
	require.NoError(t, err)
	assert.Equal(t, 4.0, totals.Daily)
	assert.Equal(t, 15.0, totals.Lifetime)
}

func TestRunOnce_SleepsUntilNightlyHour(t *testing.T) {
	agg := NewAggregator(newStore(t), clock.NewFake(now), 1)
	agg.loc = time.UTC

	next, err := agg.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, next)
}

func TestUntilHour(t *testing.T) {
	at := time.Date(2024, 3, 12, 0, 30, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Minute, UntilHour(at, 1))
	assert.Equal(t, 24*time.Hour, UntilHour(time.Date(2024, 3, 12, 1, 0, 0, 0, time.UTC), 1))
}

type captured struct{ reports []notify.Report }

func (c *captured) SendReport(_ context.Context, r notify.Report) error {
	c.reports = append(c.reports, r)
	return nil
}

func TestReporter_SendsYesterdaysOrders(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	require.NoError(t, st.UpsertMarkets(ctx, []model.Market{{ID: "1.1", Name: "R1", Venue: "Ascot", StartTime: now}}))
	require.NoError(t, st.UpsertRunners(ctx, []model.Runner{{SelectionID: 10, MarketID: "1.1", Name: "Red Rum"}}))
	require.NoError(t, st.UpsertOrders(ctx, []model.Order{
		settled("y1", "B12S1", now.AddDate(0, 0, -1), 3),
		settled("t1", "B12S1", now, 1),
	}))
	require.NoError(t, st.UpsertStatistics(ctx, []model.Statistic{{Ref: model.TotalsRef, Daily: 3, UpdatedAt: now}}))

	sender := &captured{}
	clk := clock.NewFake(time.Date(2024, 3, 12, 1, 0, 0, 0, time.UTC))
	rep := NewReporter(st, clk, sender, 1)
	rep.loc = time.UTC

	next, err := rep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, next)
	require.Len(t, sender.reports, 1)

	r := sender.reports[0]
	assert.Equal(t, "betbot-2024-03-11.csv", r.Filename)
	assert.Contains(t, r.Body, "TOTALS")

	rows, err := csv.NewReader(bytes.NewReader(r.CSV)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"2024-03-11", "12:59:00", "2024-03-11", "13:00:00", "B12S1", "Ascot R1", "Red Rum", "BACK", "2.00", "2.50", "WON", "3.00"}, rows[1])
}

func TestReporter_WaitsForNightlyHour(t *testing.T) {
	sender := &captured{}
	rep := NewReporter(newStore(t), clock.NewFake(now), sender, 1)
	rep.loc = time.UTC

	next, err := rep.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, next)
	assert.Empty(t, sender.reports)
}
