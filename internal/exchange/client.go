package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"betbot/internal/config"
	"betbot/internal/model"
)

const (
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond

	rpcPath = "/json-rpc/v1"
)

var _ Exchange = (*Client)(nil)

// Client is the HTTP exchange client with rate limiting and retries.
// Placement calls are never retried here; the executor owns that policy.
type Client struct {
	http        *http.Client
	identityURL string
	bettingURL  string
	accountURL  string
	appKey      string
	wallet      string
	limiter     *rate.Limiter
	retryWait   time.Duration

	mu    sync.RWMutex
	token string
}

func NewClient(cfg config.ExchangeConfig) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:        &http.Client{Timeout: timeout},
		identityURL: strings.TrimRight(cfg.IdentityURL, "/"),
		bettingURL:  strings.TrimRight(cfg.BettingURL, "/"),
		accountURL:  strings.TrimRight(cfg.AccountURL, "/"),
		appKey:      cfg.AppKey,
		wallet:      cfg.Wallet,
		limiter:     rate.NewLimiter(rate.Limit(rps), int(math.Ceil(rps))),
		retryWait:   baseRetryWait,
	}
}

func (c *Client) sessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Login opens a session with the identity endpoint.
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{"username": {username}, "password": {password}}
	var resp identityResponse
	err := c.doWithRetry(ctx, "login", func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.identityURL+"/api/login", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Application", c.appKey)
		return c.http.Do(req)
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Status != StatusSuccess || resp.Token == "" {
		c.setToken("")
		return &AuthError{Op: "login", Code: resp.Error}
	}
	c.setToken(resp.Token)
	return nil
}

// RenewSession extends the session; the exchange expires idle sessions.
func (c *Client) RenewSession(ctx context.Context) error {
	token := c.sessionToken()
	if token == "" {
		return &AuthError{Op: "keepAlive", Code: "NO_SESSION"}
	}
	var resp identityResponse
	err := c.doWithRetry(ctx, "keepAlive", func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.identityURL+"/api/keepAlive", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Application", c.appKey)
		req.Header.Set("X-Authentication", token)
		return c.http.Do(req)
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Status != StatusSuccess {
		c.setToken("")
		return &AuthError{Op: "keepAlive", Code: resp.Error}
	}
	if resp.Token != "" {
		c.setToken(resp.Token)
	}
	return nil
}

func (c *Client) ListMarkets(ctx context.Context, filter MarketFilter) ([]model.Market, error) {
	turnInPlay, inPlay := true, false
	wf := marketFilterWire{
		EventTypeIDs:       filter.EventTypeIDs,
		MarketTypeCodes:    filter.MarketTypes,
		MarketBettingTypes: []string{"ODDS"},
		MarketCountries:    filter.Countries,
		TurnInPlayEnabled:  &turnInPlay,
		InPlayOnly:         &inPlay,
	}
	if !filter.From.IsZero() || !filter.To.IsZero() {
		tr := &timeRange{}
		if !filter.From.IsZero() {
			from := filter.From.UTC()
			tr.From = &from
		}
		if !filter.To.IsZero() {
			to := filter.To.UTC()
			tr.To = &to
		}
		wf.MarketStartTime = tr
	}
	params := catalogueParams{
		Filter:           wf,
		MarketProjection: []string{"EVENT", "MARKET_START_TIME", "RUNNER_DESCRIPTION"},
		Sort:             "FIRST_TO_START",
		MaxResults:       filter.MaxResults,
	}

	var catalogue []marketCatalogue
	if err := c.call(ctx, c.bettingURL, "SportsAPING/v1.0/listMarketCatalogue", params, &catalogue, true); err != nil {
		return nil, err
	}
	markets := make([]model.Market, 0, len(catalogue))
	for _, mc := range catalogue {
		markets = append(markets, mc.toModel())
	}
	return markets, nil
}

func (c *Client) MarketBook(ctx context.Context, marketID string) (*model.Book, error) {
	params := marketBookParams{
		MarketIDs:       []string{marketID},
		PriceProjection: priceProjection{PriceData: []string{"EX_BEST_OFFERS", "EX_TRADED"}},
	}
	var books []marketBookWire
	if err := c.call(ctx, c.bettingURL, "SportsAPING/v1.0/listMarketBook", params, &books, true); err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, &UpstreamError{Op: "listMarketBook", Code: "MARKET_NOT_FOUND"}
	}
	return books[0].toModel(time.Now().UTC()), nil
}

func (c *Client) RunnerBook(ctx context.Context, marketID string, selectionID int64) (*model.RunnerBook, error) {
	params := runnerBookParams{
		MarketID:        marketID,
		SelectionID:     selectionID,
		PriceProjection: priceProjection{PriceData: []string{"EX_BEST_OFFERS"}},
	}
	var books []marketBookWire
	if err := c.call(ctx, c.bettingURL, "SportsAPING/v1.0/listRunnerBook", params, &books, true); err != nil {
		return nil, err
	}
	book := &marketBookWire{}
	if len(books) > 0 {
		book = &books[0]
	}
	r, ok := book.toModel(time.Now().UTC()).Runner(selectionID)
	if !ok {
		return nil, &UpstreamError{Op: "listRunnerBook", Code: "RUNNER_NOT_FOUND"}
	}
	return &r, nil
}

// PlaceBets submits one batch for a strategy. A batch-level FAILURE is returned as
// a result, not an error; transport failures are *UpstreamError.
func (c *Client) PlaceBets(ctx context.Context, marketID string, bets []model.BetRequest, strategyRef string) (*PlaceResult, error) {
	params := placeParams{
		MarketID:            marketID,
		CustomerRef:         strings.ReplaceAll(uuid.NewString(), "-", ""),
		CustomerStrategyRef: strategyRef,
	}
	for _, b := range bets {
		params.Instructions = append(params.Instructions, toInstruction(b))
	}

	var report placeExecutionReport
	if err := c.call(ctx, c.bettingURL, "SportsAPING/v1.0/placeOrders", params, &report, false); err != nil {
		return nil, err
	}

	result := &PlaceResult{Status: report.Status, ErrorCode: report.ErrorCode}
	for i, ir := range report.InstructionReports {
		r := InstructionReport{
			Status:              ir.Status,
			ErrorCode:           ir.ErrorCode,
			OrderStatus:         ir.OrderStatus,
			BetID:               ir.BetID,
			PlacedAt:            ir.PlacedDate.UTC(),
			AveragePriceMatched: ir.AveragePriceMatched,
			SizeMatched:         ir.SizeMatched,
		}
		// Reports come back in instruction order.
		if i < len(bets) {
			r.Request = bets[i]
		}
		result.Reports = append(result.Reports, r)
	}
	return result, nil
}

func (c *Client) CurrentOrders(ctx context.Context, betIDs []string) ([]model.Order, error) {
	if len(betIDs) == 0 {
		return nil, nil
	}
	var report currentOrdersReport
	if err := c.call(ctx, c.bettingURL, "SportsAPING/v1.0/listCurrentOrders", betIDsParams{BetIDs: betIDs}, &report, true); err != nil {
		return nil, err
	}
	orders := make([]model.Order, 0, len(report.CurrentOrders))
	for _, o := range report.CurrentOrders {
		orders = append(orders, model.Order{
			BetID:        o.BetID,
			MarketID:     o.MarketID,
			SelectionID:  o.SelectionID,
			StrategyRef:  o.CustomerStrategyRef,
			Side:         model.Side(o.Side),
			Type:         model.OrderType(o.OrderType),
			Status:       o.Status,
			SizeSettled:  o.SizeMatched,
			PriceMatched: o.AveragePriceMatched,
			PlacedAt:     o.PlacedDate.UTC(),
		})
	}
	return orders, nil
}

func (c *Client) ClearedOrders(ctx context.Context, betIDs []string) ([]model.Order, error) {
	if len(betIDs) == 0 {
		return nil, nil
	}
	var report clearedOrdersReport
	params := betIDsParams{BetIDs: betIDs, BetStatus: "SETTLED"}
	if err := c.call(ctx, c.bettingURL, "SportsAPING/v1.0/listClearedOrders", params, &report, true); err != nil {
		return nil, err
	}
	orders := make([]model.Order, 0, len(report.ClearedOrders))
	for _, o := range report.ClearedOrders {
		profit := o.Profit
		orders = append(orders, model.Order{
			BetID:        o.BetID,
			MarketID:     o.MarketID,
			SelectionID:  o.SelectionID,
			StrategyRef:  o.CustomerStrategyRef,
			Side:         model.Side(o.Side),
			Type:         model.OrderType(o.OrderType),
			Status:       model.ExecutionComplete,
			SizeSettled:  o.SizeSettled,
			PriceMatched: o.PriceMatched,
			PlacedAt:     o.PlacedDate.UTC(),
			SettledAt:    o.SettledDate.UTC(),
			Outcome:      model.Outcome(o.BetOutcome),
			Profit:       &profit,
		})
	}
	return orders, nil
}

func (c *Client) AccountFunds(ctx context.Context) (*model.AccountFunds, error) {
	var resp accountFundsWire
	params := map[string]string{"wallet": c.wallet}
	if err := c.call(ctx, c.accountURL, "AccountAPING/v1.0/getAccountFunds", params, &resp, true); err != nil {
		return nil, err
	}
	wallet := resp.Wallet
	if wallet == "" {
		wallet = c.wallet
	}
	return &model.AccountFunds{
		Wallet:             wallet,
		Available:          resp.AvailableToBetBalance,
		Exposure:           resp.Exposure,
		RetainedCommission: resp.RetainedCommission,
		ExposureLimit:      resp.ExposureLimit,
		UpdatedAt:          time.Now().UTC(),
	}, nil
}

// call posts a JSON-RPC request and decodes its result into out.
func (c *Client) call(ctx context.Context, base, method string, params, out any, retry bool) error {
	op := method[strings.LastIndex(method, "/")+1:]
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return &UpstreamError{Op: op, Err: fmt.Errorf("marshal body: %w", err)}
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	send := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+rpcPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Application", c.appKey)
		req.Header.Set("X-Authentication", c.sessionToken())
		return c.http.Do(req)
	}
	if retry {
		err = c.doWithRetry(ctx, op, send, &envelope)
	} else {
		err = c.doOnce(ctx, op, send, &envelope)
	}
	if err != nil {
		return err
	}
	if envelope.Error != nil {
		return &UpstreamError{Op: op, Code: envelope.Error.code()}
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return &UpstreamError{Op: op, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

func (c *Client) doOnce(ctx context.Context, op string, fn func() (*http.Response, error), out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &UpstreamError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
	}
	resp, err := fn()
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &UpstreamError{Op: op, Code: http.StatusText(resp.StatusCode), Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UpstreamError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// doWithRetry runs fn with exponential backoff on transport errors, 429 and 5xx.
func (c *Client) doWithRetry(ctx context.Context, op string, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &UpstreamError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return &UpstreamError{Op: op, Err: fmt.Errorf("request failed after %d retries: %w", maxRetries, err)}
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by exchange", "op", op, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return &UpstreamError{Op: op, Code: http.StatusText(resp.StatusCode), Err: fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)}
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return &UpstreamError{Op: op, Code: http.StatusText(resp.StatusCode), Err: fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))}
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &UpstreamError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	}
	return &UpstreamError{Op: op, Err: fmt.Errorf("exhausted %d retries", maxRetries)}
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
