package validate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfang615/crypto-trading-service/internal/domain"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// base returns a valid market order submission that individual cases mutate.
func base() RawOrder {
	return RawOrder{
		Symbol:         "BTCUSDT",
		Type:           "market",
		Side:           "buy",
		Amount:         dec("0.5"),
		PositionAction: "open",
		Exchange:       "bitget",
	}
}

func TestOrderTypeFieldRules(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*RawOrder)
		wantField string
	}{
		{
			name:   "market order valid",
			mutate: func(r *RawOrder) {},
		},
		{
			name: "market order with price rejected",
			mutate: func(r *RawOrder) {
				r.Price = dec("30000")
			},
			wantField: "price",
		},
		{
			name: "limit order requires price",
			mutate: func(r *RawOrder) {
				r.Type = "limit"
			},
			wantField: "price",
		},
		{
			name: "limit order valid",
			mutate: func(r *RawOrder) {
				r.Type = "limit"
				r.Price = dec("30000")
			},
		},
		{
			name: "stop_limit requires trigger price",
			mutate: func(r *RawOrder) {
				r.Type = "stop_limit"
				r.Price = dec("30000")
			},
			wantField: "triggerPrice",
		},
		{
			name: "stop_limit valid",
			mutate: func(r *RawOrder) {
				r.Type = "stop_limit"
				r.Price = dec("30000")
				r.TriggerPrice = dec("29500")
			},
		},
		{
			name: "stop_market forbids price",
			mutate: func(r *RawOrder) {
				r.Type = "stop_market"
				r.Price = dec("30000")
				r.TriggerPrice = dec("29500")
			},
			wantField: "price",
		},
		{
			name: "stop_market valid",
			mutate: func(r *RawOrder) {
				r.Type = "stop_market"
				r.TriggerPrice = dec("29500")
			},
		},
		{
			name: "tpsl_market requires at least one trigger",
			mutate: func(r *RawOrder) {
				r.Type = "tpsl_market"
				r.PositionAction = "close"
			},
			wantField: "takeProfit",
		},
		{
			name: "tpsl_market with only stop loss valid",
			mutate: func(r *RawOrder) {
				r.Type = "tpsl_market"
				r.PositionAction = "close"
				r.StopLoss = dec("28000")
			},
		},
		{
			name: "amount required",
			mutate: func(r *RawOrder) {
				r.Amount = nil
			},
			wantField: "amount",
		},
		{
			name: "amount must be positive",
			mutate: func(r *RawOrder) {
				r.Amount = dec("-1")
			},
			wantField: "amount",
		},
		{
			name: "unknown order type",
			mutate: func(r *RawOrder) {
				r.Type = "trailing_stop"
			},
			wantField: "type",
		},
		{
			name: "unsupported exchange",
			mutate: func(r *RawOrder) {
				r.Exchange = "binance"
			},
			wantField: "exchange",
		},
		{
			name: "invalid side",
			mutate: func(r *RawOrder) {
				r.Side = "long"
			},
			wantField: "side",
		},
		{
			name: "invalid time in force",
			mutate: func(r *RawOrder) {
				r.TimeInForce = "GTD"
			},
			wantField: "timeInForce",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := base()
			tt.mutate(&raw)

			order, err := Order(raw)
			if tt.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, raw.Symbol, order.Symbol)
				return
			}

			require.Error(t, err)
			var violations domain.ValidationErrors
			require.ErrorAs(t, err, &violations)
			fields := make([]string, 0, len(violations))
			for _, v := range violations {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

func TestOrderAggregatesViolations(t *testing.T) {
	raw := base()
	raw.Symbol = ""
	raw.Amount = nil
	raw.Side = "hold"

	_, err := Order(raw)
	require.Error(t, err)

	var violations domain.ValidationErrors
	require.ErrorAs(t, err, &violations)
	assert.GreaterOrEqual(t, len(violations), 3)
}

func TestOrderGeneratesClientOrderID(t *testing.T) {
	raw := base()

	first, err := Order(raw)
	require.NoError(t, err)
	require.NotEmpty(t, first.ClientOrderID)

	second, err := Order(raw)
	require.NoError(t, err)
	assert.NotEqual(t, first.ClientOrderID, second.ClientOrderID)
}

func TestOrderKeepsSuppliedClientOrderID(t *testing.T) {
	raw := base()
	raw.ClientOrderID = "client-supplied-1"

	order, err := Order(raw)
	require.NoError(t, err)
	assert.Equal(t, "client-supplied-1", order.ClientOrderID)
}

func TestOrderDefaultsTimeInForce(t *testing.T) {
	order, err := Order(base())
	require.NoError(t, err)
	assert.Equal(t, domain.TimeInForceGTC, order.TimeInForce)
}

func TestRequiresPositionCheck(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RawOrder)
		want   bool
	}{
		{
			name:   "market open does not",
			mutate: func(r *RawOrder) {},
			want:   false,
		},
		{
			name: "stop_market close does",
			mutate: func(r *RawOrder) {
				r.Type = "stop_market"
				r.PositionAction = "close"
				r.TriggerPrice = dec("29500")
			},
			want: true,
		},
		{
			name: "stop_limit open does not",
			mutate: func(r *RawOrder) {
				r.Type = "stop_limit"
				r.Price = dec("30000")
				r.TriggerPrice = dec("29500")
			},
			want: false,
		},
		{
			name: "tpsl_market always does",
			mutate: func(r *RawOrder) {
				r.Type = "tpsl_market"
				r.TakeProfit = dec("32000")
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := base()
			tt.mutate(&raw)

			order, err := Order(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, order.RequiresPositionCheck())
		})
	}
}
