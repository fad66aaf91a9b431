// exchange/client.go
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tierbot/logs"
)

// Ensure APIClient implements both collaborator interfaces.
var (
	_ Gateway    = (*APIClient)(nil)
	_ MarketData = (*APIClient)(nil)
)

const orderPollInterval = 250 * time.Millisecond

// APIClient talks to the brokerage REST API and its market data endpoints.
type APIClient struct {
	ApiKey       string
	ApiSecret    string
	BaseURL      string
	DataURL      string
	AnalyticsURL string
	Http         *http.Client
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type apiOrder struct {
	ID             string `json:"id"`
	ClientOrderID  string `json:"client_order_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	FilledAt       string `json:"filled_at"`
}

type apiPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

type apiAccount struct {
	Equity         string `json:"equity"`
	BuyingPower    string `json:"buying_power"`
	TradingBlocked bool   `json:"trading_blocked"`
	AccountBlocked bool   `json:"account_blocked"`
}

type apiQuote struct {
	Quote struct {
		AskPrice  float64   `json:"ap"`
		BidPrice  float64   `json:"bp"`
		Timestamp time.Time `json:"t"`
	} `json:"quote"`
}

type apiIVRank struct {
	IVRank *float64 `json:"iv_rank"`
}

// NewAPIClient creates a new API client instance. Empty dataURL falls back to baseURL.
func NewAPIClient(apiKey, apiSecret, baseURL, dataURL, analyticsURL string, timeoutSeconds int) *APIClient {
	if dataURL == "" {
		dataURL = baseURL
	}
	return &APIClient{
		ApiKey:       apiKey,
		ApiSecret:    apiSecret,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		DataURL:      strings.TrimRight(dataURL, "/"),
		AnalyticsURL: strings.TrimRight(analyticsURL, "/"),
		Http:         &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

// sendRequest performs one authenticated call and maps HTTP outcomes onto failure kinds.
func (c *APIClient) sendRequest(ctx context.Context, op, method, fullURL string, payload, target interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.ApiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.ApiSecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Http.Do(req)
	if err != nil {
		return fail(op, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(op, ErrUnavailable, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode >= 400 {
		cause := fmt.Errorf("HTTP %d, body: %s", resp.StatusCode, string(respBody))
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			cause = fmt.Errorf("HTTP %d: %s (code: %d)", resp.StatusCode, apiErr.Message, apiErr.Code)
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fail(op, ErrAuth, cause)
		case resp.StatusCode == http.StatusNotFound,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode >= 500:
			return fail(op, ErrUnavailable, cause)
		default:
			return fail(op, ErrRejected, cause)
		}
	}

	if target != nil {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fail(op, ErrUnavailable, fmt.Errorf("failed to decode JSON: %w, body: %s", err, string(respBody)))
		}
	}
	return nil
}

// PlaceOrder submits a market order and waits, within ctx, for it to fill.
func (c *APIClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	const op = "place order"
	payload := map[string]string{
		"symbol":          req.Instrument,
		"qty":             strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		"side":            string(req.Side),
		"type":            "market",
		"time_in_force":   "day",
		"client_order_id": req.ClientID,
	}

	var placed apiOrder
	if err := c.sendRequest(ctx, op, http.MethodPost, c.BaseURL+"/v2/orders", payload, &placed); err != nil {
		// A transport error after the request left us means the venue may hold the order.
		if errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrAuth) {
			return nil, fail(op, ErrUnknownStatus, err)
		}
		return nil, err
	}

	for {
		fill, done, err := placed.toFill(req)
		if err != nil || done {
			return fill, err
		}

		select {
		case <-ctx.Done():
			return nil, fail(op, ErrUnknownStatus, fmt.Errorf("order %s still %s: %w", placed.ID, placed.Status, ctx.Err()))
		case <-time.After(orderPollInterval):
		}

		q := url.Values{"client_order_id": {req.ClientID}}
		if err := c.sendRequest(ctx, "poll order", http.MethodGet, c.BaseURL+"/v2/orders:by_client_order_id?"+q.Encode(), nil, &placed); err != nil {
			if errors.Is(err, ErrAuth) {
				return nil, err
			}
			logs.Warnf("[API Client] Poll for order %s failed, will retry: %v", req.ClientID, err)
		}
	}
}

func (o *apiOrder) toFill(req OrderRequest) (*Fill, bool, error) {
	switch o.Status {
	case "filled":
		return o.fill(req), true, nil
	case "canceled", "expired":
		// a market order can be cut short after part of it executed
		if qty, _ := strconv.ParseFloat(o.FilledQty, 64); qty > 0 {
			logs.Warnf("[Exchange] Order %s ended %s after filling %s of %.4f", o.ID, o.Status, o.FilledQty, req.Quantity)
			return o.fill(req), true, nil
		}
		return nil, true, fail("place order", ErrRejected, fmt.Errorf("order %s ended %s", o.ID, o.Status))
	case "rejected", "suspended":
		return nil, true, fail("place order", ErrRejected, fmt.Errorf("order %s ended %s", o.ID, o.Status))
	default:
		return nil, false, nil
	}
}

func (o *apiOrder) fill(req OrderRequest) *Fill {
	qty, _ := strconv.ParseFloat(o.FilledQty, 64)
	price, _ := strconv.ParseFloat(o.FilledAvgPrice, 64)
	at, err := time.Parse(time.RFC3339Nano, o.FilledAt)
	if err != nil {
		at = time.Now()
	}
	return &Fill{
		OrderID:    o.ID,
		ClientID:   o.ClientOrderID,
		Instrument: req.Instrument,
		Side:       req.Side,
		Quantity:   qty,
		Price:      price,
		FilledAt:   at,
	}
}

// GetOpenPositions returns the account's held instruments.
func (c *APIClient) GetOpenPositions(ctx context.Context) ([]BrokerPosition, error) {
	var raw []apiPosition
	if err := c.sendRequest(ctx, "get positions", http.MethodGet, c.BaseURL+"/v2/positions", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]BrokerPosition, 0, len(raw))
	for _, p := range raw {
		qty, err := strconv.ParseFloat(p.Qty, 64)
		if err != nil {
			return nil, fail("get positions", ErrUnavailable, fmt.Errorf("bad qty %q for %s", p.Qty, p.Symbol))
		}
		avg, _ := strconv.ParseFloat(p.AvgEntryPrice, 64)
		out = append(out, BrokerPosition{Instrument: p.Symbol, Quantity: qty, AvgPrice: avg})
	}
	return out, nil
}

// GetAccountState returns equity and trading permissions.
func (c *APIClient) GetAccountState(ctx context.Context) (*AccountState, error) {
	var raw apiAccount
	if err := c.sendRequest(ctx, "get account", http.MethodGet, c.BaseURL+"/v2/account", nil, &raw); err != nil {
		return nil, err
	}
	equity, _ := strconv.ParseFloat(raw.Equity, 64)
	bp, _ := strconv.ParseFloat(raw.BuyingPower, 64)
	return &AccountState{
		Equity:         equity,
		BuyingPower:    bp,
		TradingBlocked: raw.TradingBlocked || raw.AccountBlocked,
	}, nil
}

// LatestQuote returns the latest quote with Last set to the mid price.
func (c *APIClient) LatestQuote(ctx context.Context, instrument string) (*Quote, error) {
	var raw apiQuote
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/quotes/latest", c.DataURL, url.PathEscape(instrument))
	if err := c.sendRequest(ctx, "latest quote", http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, err
	}
	bid, ask := raw.Quote.BidPrice, raw.Quote.AskPrice
	if bid <= 0 || ask <= 0 {
		return nil, fail("latest quote", ErrUnavailable, fmt.Errorf("one-sided quote for %s", instrument))
	}
	return &Quote{
		Instrument: instrument,
		Last:       (bid + ask) / 2,
		Bid:        bid,
		Ask:        ask,
		At:         raw.Quote.Timestamp,
	}, nil
}

// ImpliedVolatilityRank queries the analytics service for the instrument's IV rank.
func (c *APIClient) ImpliedVolatilityRank(ctx context.Context, instrument string) (float64, error) {
	if c.AnalyticsURL == "" {
		return 0, fail("iv rank", ErrUnavailable, errors.New("no analytics endpoint configured"))
	}
	var raw apiIVRank
	endpoint := fmt.Sprintf("%s/v1/ivrank/%s", c.AnalyticsURL, url.PathEscape(instrument))
	if err := c.sendRequest(ctx, "iv rank", http.MethodGet, endpoint, nil, &raw); err != nil {
		return 0, err
	}
	if raw.IVRank == nil {
		return 0, fail("iv rank", ErrUnavailable, fmt.Errorf("no iv rank for %s", instrument))
	}
	return *raw.IVRank, nil
}
