package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"betbot/internal/config"
	"betbot/internal/model"
)

type rpcHandler func(method string, params json.RawMessage) (any, *rpcError)

func newTestClient(t *testing.T, login http.HandlerFunc, rpc rpcHandler) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	if login != nil {
		mux.HandleFunc("/api/login", login)
		mux.HandleFunc("/api/keepAlive", login)
	}
	mux.HandleFunc(rpcPath, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, rpcErr := rpc(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": 1}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(config.ExchangeConfig{
		IdentityURL:       srv.URL,
		BettingURL:        srv.URL,
		AccountURL:        srv.URL,
		AppKey:            "app-key",
		Wallet:            "UK",
		RequestsPerSecond: 1000,
		Timeout:           config.Duration{Duration: 5 * time.Second},
	})
	c.retryWait = time.Millisecond
	return c, srv
}

func TestLogin_SuccessSetsToken(t *testing.T) {
	var sawToken atomic.Value
	c, _ := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "app-key", r.Header.Get("X-Application"))
			if r.URL.Path == "/api/keepAlive" {
				sawToken.Store(r.Header.Get("X-Authentication"))
			}
			json.NewEncoder(w).Encode(identityResponse{Token: "tok-1", Status: StatusSuccess})
		},
		func(string, json.RawMessage) (any, *rpcError) { return nil, nil },
	)

	require.NoError(t, c.Login(context.Background(), "alice", "secret"))
	require.NoError(t, c.RenewSession(context.Background()))
	assert.Equal(t, "tok-1", sawToken.Load())
}

func TestLogin_FailureIsAuthError(t *testing.T) {
	c, _ := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(identityResponse{Status: "FAIL", Error: "INVALID_USERNAME_OR_PASSWORD"})
		},
		func(string, json.RawMessage) (any, *rpcError) { return nil, nil },
	)

	err := c.Login(context.Background(), "alice", "wrong")
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "INVALID_USERNAME_OR_PASSWORD", authErr.Code)

	err = c.RenewSession(context.Background())
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "NO_SESSION", authErr.Code)
}

func TestListMarkets_MapsCatalogue(t *testing.T) {
	start := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)
	c, _ := newTestClient(t, nil, func(method string, params json.RawMessage) (any, *rpcError) {
		require.Equal(t, "SportsAPING/v1.0/listMarketCatalogue", method)
		var p catalogueParams
		require.NoError(t, json.Unmarshal(params, &p))
		assert.Equal(t, "FIRST_TO_START", p.Sort)
		assert.Equal(t, []string{"7"}, p.Filter.EventTypeIDs)
		require.NotNil(t, p.Filter.TurnInPlayEnabled)
		assert.True(t, *p.Filter.TurnInPlayEnabled)

		return []map[string]any{{
			"marketId":        "1.100",
			"marketName":      "R1 5f Hcap",
			"marketStartTime": start.Format(time.RFC3339),
			"event":           map[string]any{"name": "Ascot 12th Mar", "venue": "Ascot", "countryCode": "GB"},
			"runners": []map[string]any{
				{"selectionId": 10, "runnerName": "Red Rum", "sortPriority": 1},
			},
		}}, nil
	})

	markets, err := c.ListMarkets(context.Background(), MarketFilter{
		EventTypeIDs: []string{"7"}, MarketTypes: []string{"WIN"}, Countries: []string{"GB"}, MaxResults: 1000,
	})
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "Ascot", markets[0].Venue)
	assert.True(t, markets[0].StartTime.Equal(start))
	require.Len(t, markets[0].Runners, 1)
	assert.Equal(t, "1.100", markets[0].Runners[0].MarketID)
}

func TestPlaceBets_ReportsCarryRequests(t *testing.T) {
	c, _ := newTestClient(t, nil, func(method string, params json.RawMessage) (any, *rpcError) {
		require.Equal(t, "SportsAPING/v1.0/placeOrders", method)
		var p placeParams
		require.NoError(t, json.Unmarshal(params, &p))
		assert.Equal(t, "B12S1", p.CustomerStrategyRef)
		assert.Len(t, p.CustomerRef, 32)
		require.Len(t, p.Instructions, 1)
		require.NotNil(t, p.Instructions[0].LimitOrder)
		assert.Equal(t, "FILL_OR_KILL", p.Instructions[0].LimitOrder.TimeInForce)

		return map[string]any{
			"status": "SUCCESS",
			"instructionReports": []map[string]any{{
				"status": "SUCCESS", "orderStatus": "EXECUTION_COMPLETE", "betId": "b-1",
				"placedDate": "2024-03-12T13:59:10.000Z", "averagePriceMatched": 2.5, "sizeMatched": 2,
			}},
		}, nil
	})

	bet := model.BetRequest{SelectionID: 10, Side: model.Back, Type: model.Limit, Size: 2, Price: 2.5}
	res, err := c.PlaceBets(context.Background(), "1.100", []model.BetRequest{bet}, "B12S1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.Reports, 1)
	assert.True(t, res.Reports[0].Complete())
	assert.Equal(t, bet, res.Reports[0].Request)
	assert.Equal(t, "b-1", res.Reports[0].BetID)
}

func TestCall_RPCErrorIsUpstreamError(t *testing.T) {
	c, _ := newTestClient(t, nil, func(string, json.RawMessage) (any, *rpcError) {
		e := &rpcError{Code: -32099, Message: "ANGX-0003"}
		e.Data.APINGException.ErrorCode = "INVALID_SESSION_INFORMATION"
		return nil, e
	})

	_, err := c.MarketBook(context.Background(), "1.100")
	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, "listMarketBook", upErr.Op)
	assert.Equal(t, "INVALID_SESSION_INFORMATION", upErr.Code)
}

func TestDoWithRetry_RecoversFromServerErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(rpcPath, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"availableToBetBalance": 120.5, "exposure": 4},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(config.ExchangeConfig{AccountURL: srv.URL, Wallet: "UK", RequestsPerSecond: 1000})
	c.retryWait = time.Millisecond

	funds, err := c.AccountFunds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "UK", funds.Wallet)
	assert.Equal(t, 120.5, funds.Available)
	assert.Equal(t, 4.0, funds.Exposure)
}

func TestPlaceBets_NotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(rpcPath, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(config.ExchangeConfig{BettingURL: srv.URL, RequestsPerSecond: 1000})
	c.retryWait = time.Millisecond

	_, err := c.PlaceBets(context.Background(), "1.100", []model.BetRequest{{SelectionID: 10}}, "BMS1")
	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, int32(1), calls.Load())
}
