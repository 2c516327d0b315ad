// Package winner consumes a push feed of declared race results.
package winner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"betbot/internal/clock"
	"betbot/internal/model"
	"betbot/internal/store"
)

const readTimeout = 90 * time.Second

// message is one result on the feed.
type message struct {
	MarketID    string `json:"marketId"`
	SelectionID int64  `json:"selectionId"`
}

// Feed stores every result received on a websocket stream as a declared winner.
// A dropped connection ends RunOnce with an error so the worker loop reconnects
// after its cooldown.
type Feed struct {
	url   string
	store store.Store
	clock clock.Clock
}

func NewFeed(url string, st store.Store, clk clock.Clock) *Feed {
	return &Feed{url: url, store: st, clock: clk}
}

func (f *Feed) Name() string { return "winner-feed" }

func (f *Feed) RunOnce(ctx context.Context) (time.Duration, error) {
	headers := http.Header{}
	headers.Set("User-Agent", "betbot/1.0")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, headers)
	if err != nil {
		return 0, fmt.Errorf("dialing winner feed: %w", err)
	}
	defer conn.Close()
	slog.Info("winner feed connected", "url", f.url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, fmt.Errorf("reading winner feed: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		for _, m := range decode(raw) {
			if m.MarketID == "" || m.SelectionID == 0 {
				continue
			}
			w := model.Winner{MarketID: m.MarketID, SelectionID: m.SelectionID, Source: model.WinnerDeclared, DeclaredAt: f.clock.Now()}
			if err := f.store.UpsertWinner(ctx, w); err != nil {
				return 0, fmt.Errorf("storing winner: %w", err)
			}
			slog.Info("winner declared", "market", m.MarketID, "selection", m.SelectionID)
		}
	}
}

// decode accepts a single result or an array of them. Anything else is ignored.
func decode(raw []byte) []message {
	var batch []message
	if err := json.Unmarshal(raw, &batch); err == nil {
		return batch
	}
	var one message
	if err := json.Unmarshal(raw, &one); err == nil {
		return []message{one}
	}
	slog.Debug("ignoring winner feed message", "raw", string(raw))
	return nil
}
