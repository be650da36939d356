// Package bitget implements the venue adapter for Bitget USDT-margined
// futures (V2 mix API).
package bitget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lfang615/crypto-trading-service/internal/domain"
)

// BaseURL is the production API root.
const BaseURL = "https://api.bitget.com"

// Client is the REST adapter for Bitget. It holds no mutable session state
// beyond the credentials it was built with.
type Client struct {
	baseURL    string
	creds      domain.ExchangeCredentials
	httpClient *http.Client
}

// NewClient creates a Bitget adapter for the given credentials.
func NewClient(baseURL string, creds domain.ExchangeCredentials) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PlaceOrder translates the canonical order into the Bitget call for its
// type and normalizes the response.
func (c *Client) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	var (
		path string
		body any
	)

	switch order.Type {
	case domain.OrderTypeMarket, domain.OrderTypeLimit:
		path = "/api/v2/mix/order/place-order"
		body = buildOrderRequest(order)
	case domain.OrderTypeStopLimit, domain.OrderTypeStopMarket:
		path = "/api/v2/mix/order/place-plan-order"
		body = buildPlanOrderRequest(order)
	case domain.OrderTypeTPSL:
		path = "/api/v2/mix/order/place-pos-tpsl"
		body = buildPosTPSLRequest(order)
	default:
		return domain.OrderResult{}, fmt.Errorf("bitget: unsupported order type %q", order.Type)
	}

	raw, err := c.doSignedRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return domain.OrderResult{}, err
	}

	var data orderData
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.OrderResult{}, fmt.Errorf("bitget: decode order data: %w", err)
	}

	// Both identifiers are mandatory; without them the order's live state
	// is unknown and must be reconciled by hand.
	if data.OrderID == "" || data.ClientOid == "" {
		return domain.OrderResult{}, &domain.AmbiguousOutcomeError{
			ClientOrderID: order.ClientOrderID,
			Exchange:      domain.ExchangeBitget,
			Raw:           raw,
		}
	}

	return domain.OrderResult{
		OrderID:       data.OrderID,
		ClientOrderID: data.ClientOid,
		Account:       c.creds.Account,
		Exchange:      domain.ExchangeBitget,
		Symbol:        order.Symbol,
		Status:        domain.OrderStatusOpen,
		Raw:           raw,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// GetBalance returns the available balance per margin coin.
func (c *Client) GetBalance(ctx context.Context) (domain.Balance, error) {
	raw, err := c.doSignedRequest(ctx, http.MethodGet,
		"/api/v2/mix/account/accounts?productType="+productType, nil)
	if err != nil {
		return domain.Balance{}, err
	}

	var accounts []accountData
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return domain.Balance{}, fmt.Errorf("bitget: decode accounts: %w", err)
	}

	bal := domain.Balance{
		Exchange: domain.ExchangeBitget,
		Assets:   make(map[string]decimal.Decimal, len(accounts)),
	}
	for _, a := range accounts {
		avail, err := decimal.NewFromString(a.Available)
		if err != nil {
			return domain.Balance{}, fmt.Errorf("bitget: parse balance %q: %w", a.Available, err)
		}
		bal.Assets[a.MarginCoin] = avail
	}
	return bal, nil
}

// SetLeverage updates the leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := setLeverageRequest{
		Symbol:      symbol,
		ProductType: productType,
		MarginCoin:  marginCoin,
		Leverage:    strconv.Itoa(leverage),
	}
	_, err := c.doSignedRequest(ctx, http.MethodPost, "/api/v2/mix/account/set-leverage", body)
	return err
}

// --------------------------------------------------------------------------
// Request builders (pure; one per order family)
// --------------------------------------------------------------------------

func buildOrderRequest(order domain.Order) placeOrderRequest {
	req := placeOrderRequest{
		Symbol:      order.Symbol,
		ProductType: productType,
		MarginMode:  marginMode,
		MarginCoin:  marginCoin,
		Size:        order.Amount.String(),
		Side:        string(order.Side),
		TradeSide:   string(order.PositionAction),
		OrderType:   string(order.Type),
		Force:       force(order.TimeInForce),
		ClientOid:   order.ClientOrderID,
		ReduceOnly:  yesNo(order.ReduceOnly()),
	}
	if order.Price != nil {
		req.Price = order.Price.String()
	}
	return req
}

func buildPlanOrderRequest(order domain.Order) placePlanOrderRequest {
	orderType := "limit"
	if order.Type == domain.OrderTypeStopMarket {
		orderType = "market"
	}
	req := placePlanOrderRequest{
		PlanType:     "normal_plan",
		Symbol:       order.Symbol,
		ProductType:  productType,
		MarginMode:   marginMode,
		MarginCoin:   marginCoin,
		Size:         order.Amount.String(),
		Side:         string(order.Side),
		TradeSide:    string(order.PositionAction),
		OrderType:    orderType,
		TriggerPrice: order.TriggerPrice.String(),
		TriggerType:  "mark_price",
		ClientOid:    order.ClientOrderID,
		ReduceOnly:   yesNo(order.ReduceOnly()),
	}
	if order.Price != nil {
		req.Price = order.Price.String()
	}
	return req
}

func buildPosTPSLRequest(order domain.Order) placePosTPSLRequest {
	req := placePosTPSLRequest{
		Symbol:      order.Symbol,
		ProductType: productType,
		MarginCoin:  marginCoin,
		HoldSide:    holdSide(order.Side),
		ClientOid:   order.ClientOrderID,
	}
	if order.TakeProfit != nil {
		req.StopSurplusTriggerPrice = order.TakeProfit.String()
	}
	if order.StopLoss != nil {
		req.StopLossTriggerPrice = order.StopLoss.String()
	}
	return req
}

func force(tif domain.TimeInForce) string {
	switch tif {
	case domain.TimeInForceIOC:
		return "ioc"
	case domain.TimeInForceFOK:
		return "fok"
	default:
		return "gtc"
	}
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}

func holdSide(side domain.OrderSide) string {
	if side == domain.OrderSideSell {
		return "short"
	}
	return "long"
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// doSignedRequest builds, signs, sends, and decodes a Bitget request,
// returning the inner data payload. Network failures, timeouts, rate limits
// and 5xx responses are marked transient; business rejections are permanent.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) (json.RawMessage, error) {
	var bodyStr string
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("bitget: marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("bitget: create request: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("ACCESS-KEY", c.creds.APIKey)
	req.Header.Set("ACCESS-SIGN", sign(c.creds.APISecret, timestamp, method, path, bodyStr))
	req.Header.Set("ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("ACCESS-PASSPHRASE", c.creds.APIPassphrase)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.MarkTransient(fmt.Errorf("bitget: %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.MarkTransient(fmt.Errorf("bitget: read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, domain.MarkTransient(fmt.Errorf("bitget: %s %s: status %d", method, path, resp.StatusCode))
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("bitget: decode response: %w", err)
	}

	if envelope.Code != codeOK {
		return nil, &domain.ExchangeRejectedError{
			Exchange: domain.ExchangeBitget,
			Code:     envelope.Code,
			Message:  envelope.Message,
		}
	}

	return envelope.Data, nil
}
