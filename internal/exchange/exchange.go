// Package exchange defines the venue abstraction that normalizes
// heterogeneous exchange trading APIs into one contract, plus the factory
// that selects a concrete adapter by exchange enum.
package exchange

import (
	"context"
	"fmt"

	"github.com/lfang615/crypto-trading-service/internal/domain"
	"github.com/lfang615/crypto-trading-service/internal/exchange/bitget"
	"github.com/lfang615/crypto-trading-service/internal/exchange/bybit"
)

// Venue is the capability set every supported exchange must provide.
// PlaceOrder dispatches internally on Order.Type; adding an order type means
// updating every adapter.
type Venue interface {
	PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
	GetBalance(ctx context.Context) (domain.Balance, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// Factory builds a Venue from credentials. The dispatcher constructs a fresh
// adapter per request; adapters hold no mutable session state beyond their
// credentials.
type Factory func(creds domain.ExchangeCredentials) (Venue, error)

// New is the default Factory, keyed on creds.Exchange.
func New(creds domain.ExchangeCredentials) (Venue, error) {
	switch creds.Exchange {
	case domain.ExchangeBitget:
		return bitget.NewClient(bitget.BaseURL, creds), nil
	case domain.ExchangeBybit:
		return bybit.NewClient(bybit.BaseURL, creds), nil
	default:
		return nil, fmt.Errorf("exchange: unsupported venue %q", creds.Exchange)
	}
}
