package bitget

import "encoding/json"

// Fixed parameters for the USDT-margined futures product.
const (
	productType = "USDT-FUTURES"
	marginCoin  = "USDT"
	marginMode  = "crossed"
)

// apiResponse is the envelope every Bitget V2 endpoint returns.
type apiResponse struct {
	Code    string          `json:"code"`
	Message string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

// codeOK is Bitget's success code.
const codeOK = "00000"

// placeOrderRequest is the body for /api/v2/mix/order/place-order.
type placeOrderRequest struct {
	Symbol      string `json:"symbol"`
	ProductType string `json:"productType"`
	MarginMode  string `json:"marginMode"`
	MarginCoin  string `json:"marginCoin"`
	Size        string `json:"size"`
	Side        string `json:"side"`
	TradeSide   string `json:"tradeSide"`
	OrderType   string `json:"orderType"`
	Force       string `json:"force"`
	Price       string `json:"price,omitempty"`
	ClientOid   string `json:"clientOid"`
	ReduceOnly  string `json:"reduceOnly"` // "YES" | "NO"
}

// placePlanOrderRequest is the body for /api/v2/mix/order/place-plan-order
// (stop-limit and stop-market orders).
type placePlanOrderRequest struct {
	PlanType     string `json:"planType"`
	Symbol       string `json:"symbol"`
	ProductType  string `json:"productType"`
	MarginMode   string `json:"marginMode"`
	MarginCoin   string `json:"marginCoin"`
	Size         string `json:"size"`
	Side         string `json:"side"`
	TradeSide    string `json:"tradeSide"`
	OrderType    string `json:"orderType"`
	TriggerPrice string `json:"triggerPrice"`
	TriggerType  string `json:"triggerType"`
	Price        string `json:"price,omitempty"`
	ClientOid    string `json:"clientOid"`
	ReduceOnly   string `json:"reduceOnly"`
}

// placePosTPSLRequest is the body for /api/v2/mix/order/place-pos-tpsl. It
// attaches take-profit / stop-loss triggers to the whole position.
type placePosTPSLRequest struct {
	Symbol                  string `json:"symbol"`
	ProductType             string `json:"productType"`
	MarginCoin              string `json:"marginCoin"`
	HoldSide                string `json:"holdSide"`
	StopSurplusTriggerPrice string `json:"stopSurplusTriggerPrice,omitempty"`
	StopLossTriggerPrice    string `json:"stopLossTriggerPrice,omitempty"`
	ClientOid               string `json:"clientOid"`
}

// orderData is the payload returned by the order placement endpoints.
type orderData struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

// accountData is one entry of /api/v2/mix/account/accounts.
type accountData struct {
	MarginCoin string `json:"marginCoin"`
	Available  string `json:"available"`
}

// setLeverageRequest is the body for /api/v2/mix/account/set-leverage.
type setLeverageRequest struct {
	Symbol      string `json:"symbol"`
	ProductType string `json:"productType"`
	MarginCoin  string `json:"marginCoin"`
	Leverage    string `json:"leverage"`
}
