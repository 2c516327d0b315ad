package winner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"betbot/internal/clock"
	"betbot/internal/db"
	"betbot/internal/model"
	"betbot/internal/store"
)

var upgrader = websocket.Upgrader{}

func TestFeed_StoresDeclaredWinners(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"marketId":"1.1","selectionId":11}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`[{"marketId":"1.2","selectionId":21},{"marketId":"1.3","selectionId":31}]`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`heartbeat`))
	}))
	defer srv.Close()

	database, err := db.Open(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.Migrate(database, db.SQLite))
	st := store.NewSQLStore(database, db.SQLite)

	now := time.Date(2024, 3, 12, 13, 0, 0, 0, time.UTC)
	feed := NewFeed("ws"+strings.TrimPrefix(srv.URL, "http"), st, clock.NewFake(now))

	_, err = feed.RunOnce(context.Background())
	require.Error(t, err, "server closing the stream ends the run")

	ctx := context.Background()
	for market, sel := range map[string]int64{"1.1": 11, "1.2": 21, "1.3": 31} {
		w, err := st.GetWinner(ctx, market)
		require.NoError(t, err)
		assert.Equal(t, sel, w.SelectionID)
		assert.Equal(t, model.WinnerDeclared, w.Source)
	}
}

func TestFeed_DialFailure(t *testing.T) {
	feed := NewFeed("ws://127.0.0.1:1/results", nil, clock.NewFake(time.Now()))
	_, err := feed.RunOnce(context.Background())
	assert.Error(t, err)
}
