// Package bybit implements the venue adapter for Bybit USDT perpetuals
// (V5 unified API).
package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lfang615/crypto-trading-service/internal/domain"
)

// BaseURL is the production API root.
const BaseURL = "https://api.bybit.com"

// Client is the REST adapter for Bybit. It holds no mutable session state
// beyond the credentials it was built with.
type Client struct {
	baseURL    string
	creds      domain.ExchangeCredentials
	httpClient *http.Client
}

// NewClient creates a Bybit adapter for the given credentials.
func NewClient(baseURL string, creds domain.ExchangeCredentials) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PlaceOrder translates the canonical order into a /v5/order/create call.
// Bybit expresses every order family through the one endpoint, so the
// per-type dispatch happens inside the request builder.
func (c *Client) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	req, err := buildCreateOrderRequest(order)
	if err != nil {
		return domain.OrderResult{}, err
	}

	raw, err := c.doSignedRequest(ctx, http.MethodPost, "/v5/order/create", req)
	if err != nil {
		return domain.OrderResult{}, err
	}

	var result createOrderResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.OrderResult{}, fmt.Errorf("bybit: decode order result: %w", err)
	}

	if result.OrderID == "" || result.OrderLinkID == "" {
		return domain.OrderResult{}, &domain.AmbiguousOutcomeError{
			ClientOrderID: order.ClientOrderID,
			Exchange:      domain.ExchangeBybit,
			Raw:           raw,
		}
	}

	return domain.OrderResult{
		OrderID:       result.OrderID,
		ClientOrderID: result.OrderLinkID,
		Account:       c.creds.Account,
		Exchange:      domain.ExchangeBybit,
		Symbol:        order.Symbol,
		Status:        domain.OrderStatusOpen,
		Raw:           raw,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// GetBalance returns the unified account's available balance per coin.
func (c *Client) GetBalance(ctx context.Context) (domain.Balance, error) {
	raw, err := c.doSignedRequest(ctx, http.MethodGet,
		"/v5/account/wallet-balance?accountType=UNIFIED", nil)
	if err != nil {
		return domain.Balance{}, err
	}

	var result walletBalanceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.Balance{}, fmt.Errorf("bybit: decode wallet balance: %w", err)
	}

	bal := domain.Balance{
		Exchange: domain.ExchangeBybit,
		Assets:   make(map[string]decimal.Decimal),
	}
	for _, acct := range result.List {
		for _, coin := range acct.Coin {
			avail, err := decimal.NewFromString(coin.Available)
			if err != nil {
				return domain.Balance{}, fmt.Errorf("bybit: parse balance %q: %w", coin.Available, err)
			}
			bal.Assets[coin.Coin] = avail
		}
	}
	return bal, nil
}

// SetLeverage updates both buy and sell leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	body := setLeverageRequest{
		Category:     category,
		Symbol:       symbol,
		BuyLeverage:  lev,
		SellLeverage: lev,
	}
	_, err := c.doSignedRequest(ctx, http.MethodPost, "/v5/position/set-leverage", body)
	return err
}

// --------------------------------------------------------------------------
// Request builder
// --------------------------------------------------------------------------

func buildCreateOrderRequest(order domain.Order) (createOrderRequest, error) {
	req := createOrderRequest{
		Category:    category,
		Symbol:      order.Symbol,
		Side:        bybitSide(order.Side),
		Qty:         order.Amount.String(),
		OrderLinkID: order.ClientOrderID,
	}

	switch order.Type {
	case domain.OrderTypeMarket:
		req.OrderType = "Market"

	case domain.OrderTypeLimit:
		req.OrderType = "Limit"
		req.Price = order.Price.String()
		req.TimeInForce = string(order.TimeInForce)

	case domain.OrderTypeStopLimit:
		req.OrderType = "Limit"
		req.Price = order.Price.String()
		req.TimeInForce = string(order.TimeInForce)
		req.TriggerPrice = order.TriggerPrice.String()
		req.TriggerDirection = triggerDirection(order.Side)
		req.ReduceOnly = order.ReduceOnly()

	case domain.OrderTypeStopMarket:
		req.OrderType = "Market"
		req.TriggerPrice = order.TriggerPrice.String()
		req.TriggerDirection = triggerDirection(order.Side)
		req.ReduceOnly = order.ReduceOnly()

	case domain.OrderTypeTPSL:
		// A market order that carries TP/SL triggers and fully exits the
		// referenced position.
		req.OrderType = "Market"
		req.ReduceOnly = true
		req.TpslMode = "Full"
		if order.TakeProfit != nil {
			req.TakeProfit = order.TakeProfit.String()
		}
		if order.StopLoss != nil {
			req.StopLoss = order.StopLoss.String()
		}

	default:
		return createOrderRequest{}, fmt.Errorf("bybit: unsupported order type %q", order.Type)
	}

	return req, nil
}

func bybitSide(side domain.OrderSide) string {
	if side == domain.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

// triggerDirection tells Bybit which way the price must move to trigger:
// 1 = rises to triggerPrice, 2 = falls to triggerPrice. A buy stop waits
// for a rise, a sell stop for a fall.
func triggerDirection(side domain.OrderSide) int {
	if side == domain.OrderSideBuy {
		return 1
	}
	return 2
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// doSignedRequest builds, signs, sends, and decodes a Bybit request,
// returning the result payload. Network failures, timeouts, rate limits and
// 5xx responses are marked transient; business rejections are permanent.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) (json.RawMessage, error) {
	var payload string
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("bybit: marshal request body: %w", err)
		}
		payload = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	} else if i := strings.IndexByte(path, '?'); i >= 0 {
		payload = path[i+1:]
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("bybit: create request: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.creds.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", sign(c.creds.APISecret, timestamp, c.creds.APIKey, payload))
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.MarkTransient(fmt.Errorf("bybit: %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.MarkTransient(fmt.Errorf("bybit: read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, domain.MarkTransient(fmt.Errorf("bybit: %s %s: status %d", method, path, resp.StatusCode))
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("bybit: decode response: %w", err)
	}

	switch envelope.RetCode {
	case codeOK:
		return envelope.Result, nil
	case codeRateLimit, codeTimeout:
		return nil, domain.MarkTransient(fmt.Errorf("bybit: retCode %d: %s", envelope.RetCode, envelope.RetMsg))
	default:
		return nil, &domain.ExchangeRejectedError{
			Exchange: domain.ExchangeBybit,
			Code:     strconv.Itoa(envelope.RetCode),
			Message:  envelope.RetMsg,
		}
	}
}
