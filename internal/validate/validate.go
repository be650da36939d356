// Package validate turns raw order submissions into canonical domain.Order
// values, enforcing the per-type field rules in a single pure pass.
package validate

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lfang615/crypto-trading-service/internal/domain"
)

// RawOrder is an order submission as received from the transport layer,
// before any validation. Optional fields are pointers so absence is
// distinguishable from zero.
type RawOrder struct {
	Symbol         string           `json:"symbol"`
	Type           string           `json:"type"`
	Side           string           `json:"side"`
	Amount         *decimal.Decimal `json:"amount"`
	PositionAction string           `json:"positionAction"`
	Exchange       string           `json:"exchange"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	TriggerPrice   *decimal.Decimal `json:"triggerPrice,omitempty"`
	TakeProfit     *decimal.Decimal `json:"takeProfit,omitempty"`
	StopLoss       *decimal.Decimal `json:"stopLoss,omitempty"`
	ClientOrderID  string           `json:"clientOrderId,omitempty"`
	TimeInForce    string           `json:"timeInForce,omitempty"`
}

// typeRules describes which optional fields an order type requires or
// forbids. Amount is required by every type and checked separately.
type typeRules struct {
	requirePrice   bool
	forbidPrice    bool
	requireTrigger bool
	requireTPSL    bool // at least one of takeProfit/stopLoss
}

var rulesByType = map[domain.OrderType]typeRules{
	domain.OrderTypeMarket:     {forbidPrice: true},
	domain.OrderTypeLimit:      {requirePrice: true},
	domain.OrderTypeStopLimit:  {requirePrice: true, requireTrigger: true},
	domain.OrderTypeStopMarket: {forbidPrice: true, requireTrigger: true},
	domain.OrderTypeTPSL:       {requireTPSL: true},
}

// Order validates raw and returns the canonical immutable order. All
// violations found in the pass are reported together; an Order is never
// partially constructed. When the caller supplied no clientOrderId a fresh
// random one is generated.
func Order(raw RawOrder) (domain.Order, error) {
	var violations domain.ValidationErrors

	fail := func(field, rule string) {
		violations = append(violations, &domain.ValidationError{Field: field, Rule: rule})
	}

	if raw.Symbol == "" {
		fail("symbol", "required")
	}

	// Unknown type fails before any type-specific rule can apply.
	typ := domain.OrderType(raw.Type)
	rules, known := rulesByType[typ]
	if !known {
		fail("type", "unknown order type")
		return domain.Order{}, violations
	}

	side := domain.OrderSide(raw.Side)
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		fail("side", "must be buy or sell")
	}

	action := domain.PositionAction(raw.PositionAction)
	if action != domain.PositionOpen && action != domain.PositionClose {
		fail("positionAction", "must be open or close")
	}

	ex := domain.Exchange(raw.Exchange)
	if !ex.Valid() {
		fail("exchange", "unsupported exchange")
	}

	if raw.Amount == nil {
		fail("amount", "required")
	} else if !raw.Amount.IsPositive() {
		fail("amount", "must be positive")
	}

	if rules.requirePrice && raw.Price == nil {
		fail("price", "required for "+raw.Type+" orders")
	}
	if rules.forbidPrice && raw.Price != nil {
		fail("price", "forbidden for "+raw.Type+" orders")
	}
	if raw.Price != nil && !raw.Price.IsPositive() {
		fail("price", "must be positive")
	}

	if rules.requireTrigger && raw.TriggerPrice == nil {
		fail("triggerPrice", "required for "+raw.Type+" orders")
	}
	if raw.TriggerPrice != nil && !raw.TriggerPrice.IsPositive() {
		fail("triggerPrice", "must be positive")
	}

	if rules.requireTPSL && raw.TakeProfit == nil && raw.StopLoss == nil {
		fail("takeProfit", "at least one of takeProfit or stopLoss is required")
	}
	if raw.TakeProfit != nil && !raw.TakeProfit.IsPositive() {
		fail("takeProfit", "must be positive")
	}
	if raw.StopLoss != nil && !raw.StopLoss.IsPositive() {
		fail("stopLoss", "must be positive")
	}

	tif := domain.TimeInForce(raw.TimeInForce)
	switch tif {
	case "":
		tif = domain.TimeInForceGTC
	case domain.TimeInForceGTC, domain.TimeInForceIOC, domain.TimeInForceFOK:
	default:
		fail("timeInForce", "must be GTC, IOC or FOK")
	}

	if len(violations) > 0 {
		return domain.Order{}, violations
	}

	clientOrderID := raw.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.New().String()
	}

	return domain.Order{
		Symbol:         raw.Symbol,
		Type:           typ,
		Side:           side,
		Amount:         *raw.Amount,
		PositionAction: action,
		Exchange:       ex,
		Price:          raw.Price,
		TriggerPrice:   raw.TriggerPrice,
		TakeProfit:     raw.TakeProfit,
		StopLoss:       raw.StopLoss,
		ClientOrderID:  clientOrderID,
		TimeInForce:    tif,
	}, nil
}
