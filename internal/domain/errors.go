package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrLockHeld  = errors.New("lock already held")
	ErrCancelled = errors.New("dispatch cancelled before submission")
)

// ValidationError reports a single field-level violation of the order-type
// rules. It is client-correctable and never retried.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: field %q: %s", e.Field, e.Rule)
}

// ValidationErrors aggregates every violation found in a single validation
// pass so the client can correct all of them at once.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// DuplicateError signals a submission whose clientOrderId is already claimed
// by an in-flight dispatch, or one that already completed. Prior is non-nil
// when the earlier dispatch finished and its outcome can be replayed.
type DuplicateError struct {
	ClientOrderID string
	Prior         *OrderResult
}

func (e *DuplicateError) Error() string {
	if e.Prior != nil {
		return fmt.Sprintf("duplicate submission %s: prior outcome available", e.ClientOrderID)
	}
	return fmt.Sprintf("duplicate submission %s: dispatch in flight", e.ClientOrderID)
}

// InsufficientPositionError signals that an order assuming an existing open
// position was submitted while no position is known for the tuple.
type InsufficientPositionError struct {
	Account  string
	Exchange Exchange
	Symbol   string
	Side     OrderSide
}

func (e *InsufficientPositionError) Error() string {
	return fmt.Sprintf("no open position for %s %s %s (%s)", e.Exchange, e.Symbol, e.Side, e.Account)
}

// CredentialsNotFoundError signals that the account has no credentials
// configured for the requested exchange.
type CredentialsNotFoundError struct {
	Account  string
	Exchange Exchange
}

func (e *CredentialsNotFoundError) Error() string {
	return fmt.Sprintf("no %s credentials configured for account %s", e.Exchange, e.Account)
}

// CircuitOpenError signals that the circuit for the (account, exchange) pair
// is open and the call was rejected without contacting the venue.
type CircuitOpenError struct {
	Account    string
	Exchange   Exchange
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s/%s, retry after %s", e.Account, e.Exchange, e.RetryAfter)
}

// ExchangeRejectedError is a permanent business rejection by the venue. It
// is never retried.
type ExchangeRejectedError struct {
	Exchange Exchange
	Code     string
	Message  string
}

func (e *ExchangeRejectedError) Error() string {
	return fmt.Sprintf("%s rejected order (code %s): %s", e.Exchange, e.Code, e.Message)
}

// TransientError marks an error as retryable (network timeout, 5xx,
// rate limit). Adapters wrap such failures so the resilience layer can
// distinguish them from permanent rejections.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// MarkTransient wraps err as retryable. A nil err returns nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or any error it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// TransientDispatchError surfaces a transient failure after internal retry
// exhaustion.
type TransientDispatchError struct {
	Attempts int
	Err      error
}

func (e *TransientDispatchError) Error() string {
	return fmt.Sprintf("dispatch failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientDispatchError) Unwrap() error { return e.Err }

// AmbiguousOutcomeError signals that the venue call succeeded at the network
// level but the response lacked an order id or client order id. The order's
// live state is unknown; the raw payload is retained for reconciliation.
type AmbiguousOutcomeError struct {
	ClientOrderID string
	Exchange      Exchange
	Raw           []byte
}

func (e *AmbiguousOutcomeError) Error() string {
	return fmt.Sprintf("%s response for %s missing order identifiers, state unknown", e.Exchange, e.ClientOrderID)
}
