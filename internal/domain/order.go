package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies a supported trading venue.
type Exchange string

const (
	ExchangeBitget Exchange = "bitget"
	ExchangeBybit  Exchange = "bybit"
)

// Valid reports whether the exchange is one of the supported venues.
func (e Exchange) Valid() bool {
	return e == ExchangeBitget || e == ExchangeBybit
}

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType selects the order semantics and determines which price fields
// are required or forbidden (see validate.Order).
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopLimit  OrderType = "stop_limit"
	OrderTypeStopMarket OrderType = "stop_market"
	OrderTypeTPSL       OrderType = "tpsl_market"
)

// PositionAction indicates whether the order opens or closes a position.
type PositionAction string

const (
	PositionOpen  PositionAction = "open"
	PositionClose PositionAction = "close"
)

// TimeInForce is the order's execution time policy.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good-Till-Cancel
	TimeInForceIOC TimeInForce = "IOC" // Immediate-Or-Cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill-Or-Kill
)

// OrderStatus tracks the exchange-side order lifecycle.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusClosed    OrderStatus = "closed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusRejected  OrderStatus = "rejected"

	// OrderStatusUnknown marks a dispatch whose network call succeeded but
	// whose response lacked an order id or client order id. Records with
	// this status require manual reconciliation against the venue.
	OrderStatusUnknown OrderStatus = "unknown"
)

// Order is a canonical, validated order submission. It is constructed only
// by the validate package and is immutable afterwards; the adapters read it
// to build venue-specific requests.
type Order struct {
	Symbol         string
	Type           OrderType
	Side           OrderSide
	Amount         decimal.Decimal
	PositionAction PositionAction
	Exchange       Exchange
	Price          *decimal.Decimal
	TriggerPrice   *decimal.Decimal
	TakeProfit     *decimal.Decimal
	StopLoss       *decimal.Decimal
	ClientOrderID  string
	TimeInForce    TimeInForce
}

// RequiresPositionCheck reports whether the order type assumes an existing
// open position and therefore must pass the position guard before dispatch.
// Stop orders only need the check when they close a position; a TP/SL order
// always protects an existing position.
func (o Order) RequiresPositionCheck() bool {
	switch o.Type {
	case OrderTypeStopLimit, OrderTypeStopMarket:
		return o.PositionAction == PositionClose
	case OrderTypeTPSL:
		return true
	}
	return false
}

// ReduceOnly reports whether the venue's reduce-only flag must be set, which
// prevents a stop order from opening a new position when the caller intends
// only to protect an existing one.
func (o Order) ReduceOnly() bool {
	return o.PositionAction == PositionClose
}

// OrderResult is the durable record of a dispatch outcome. It is created by
// an exchange adapter and never mutated in place; status transitions produce
// new records keyed by ClientOrderID.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Account       string
	Exchange      Exchange
	Symbol        string
	Status        OrderStatus
	FilledPrice   *decimal.Decimal
	Fee           *decimal.Decimal
	Raw           json.RawMessage // audit copy of the venue response
	CreatedAt     time.Time
}

// ExchangeCredentials are the API credentials for one (account, exchange)
// pair. The passphrase is only used by venues that require it (Bitget).
// Credentials must never be logged; they pass through the core opaquely.
type ExchangeCredentials struct {
	Account       string
	Exchange      Exchange
	APIKey        string
	APISecret     string
	APIPassphrase string
}

// PositionSnapshot is a cached view of one open position, written by the
// external position-sync collaborator and read-only inside the core.
type PositionSnapshot struct {
	Account   string          `json:"account"`
	Exchange  Exchange        `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Open      bool            `json:"open"`
	Size      decimal.Decimal `json:"size"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Balance is an account's asset balances on one venue.
type Balance struct {
	Exchange Exchange
	Assets   map[string]decimal.Decimal
}
