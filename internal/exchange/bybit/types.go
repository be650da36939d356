package bybit

import "encoding/json"

// category is the Bybit V5 product category for USDT perpetuals.
const category = "linear"

// apiResponse is the envelope every Bybit V5 endpoint returns.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// Bybit return codes that indicate a retryable condition.
const (
	codeOK        = 0
	codeRateLimit = 10006
	codeTimeout   = 10016
)

// createOrderRequest is the body for /v5/order/create. One endpoint covers
// all five order families; optional fields are omitted when empty.
type createOrderRequest struct {
	Category         string `json:"category"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"` // "Buy" | "Sell"
	OrderType        string `json:"orderType"`
	Qty              string `json:"qty"`
	Price            string `json:"price,omitempty"`
	TimeInForce      string `json:"timeInForce,omitempty"`
	TriggerPrice     string `json:"triggerPrice,omitempty"`
	TriggerDirection int    `json:"triggerDirection,omitempty"`
	ReduceOnly       bool   `json:"reduceOnly,omitempty"`
	TakeProfit       string `json:"takeProfit,omitempty"`
	StopLoss         string `json:"stopLoss,omitempty"`
	TpslMode         string `json:"tpslMode,omitempty"`
	OrderLinkID      string `json:"orderLinkId"`
}

// createOrderResult is the result payload of /v5/order/create.
type createOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// walletBalanceResult is the result payload of /v5/account/wallet-balance.
type walletBalanceResult struct {
	List []struct {
		Coin []struct {
			Coin      string `json:"coin"`
			Available string `json:"availableToWithdraw"`
		} `json:"coin"`
	} `json:"list"`
}

// setLeverageRequest is the body for /v5/position/set-leverage.
type setLeverageRequest struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	BuyLeverage  string `json:"buyLeverage"`
	SellLeverage string `json:"sellLeverage"`
}
