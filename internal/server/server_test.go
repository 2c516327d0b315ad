package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"betbot/internal/db"
	"betbot/internal/model"
	"betbot/internal/store"
)

type session bool

func (s session) LoggedIn() bool { return bool(s) }

func setup(t *testing.T, loggedIn bool) (*httptest.Server, *store.SQLStore) {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database, db.SQLite))
	st := store.NewSQLStore(database, db.SQLite)

	srv := httptest.NewServer(New(st, session(loggedIn)))
	t.Cleanup(srv.Close)
	return srv, st
}

func TestHealth(t *testing.T) {
	srv, _ := setup(t, true)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down, _ := setup(t, false)
	resp2, err := http.Get(down.URL + "/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestStatistics(t *testing.T) {
	srv, st := setup(t, true)
	now := time.Date(2024, 3, 12, 13, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpsertStatistics(context.Background(), []model.Statistic{
		{Ref: "B12S1", Daily: 3, Lifetime: 10, UpdatedAt: now},
		{Ref: model.TotalsRef, Daily: 3, Lifetime: 10, UpdatedAt: now},
	}))

	resp, err := http.Get(srv.URL + "/statistics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []statisticResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, got[0].Daily)

	resp2, err := http.Get(srv.URL + "/statistics/NOPE")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setup(t, true)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
