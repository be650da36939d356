package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lfang615/crypto-trading-service/internal/domain"
)

// OrderResultStore implements domain.OrderResultStore using PostgreSQL.
type OrderResultStore struct {
	pool *pgxpool.Pool
}

// NewOrderResultStore creates an OrderResultStore backed by the given pool.
func NewOrderResultStore(pool *pgxpool.Pool) *OrderResultStore {
	return &OrderResultStore{pool: pool}
}

// Save upserts the result keyed by client_order_id. A status transition for
// the same id overwrites the previous record rather than mutating it in
// place.
func (s *OrderResultStore) Save(ctx context.Context, res domain.OrderResult) error {
	const query = `
		INSERT INTO order_results (
			client_order_id, order_id, account, exchange, symbol,
			status, filled_price, fee, raw, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (client_order_id) DO UPDATE SET
			order_id     = EXCLUDED.order_id,
			status       = EXCLUDED.status,
			filled_price = EXCLUDED.filled_price,
			fee          = EXCLUDED.fee,
			raw          = EXCLUDED.raw,
			updated_at   = NOW()`

	var filledPrice, fee *string
	if res.FilledPrice != nil {
		v := res.FilledPrice.String()
		filledPrice = &v
	}
	if res.Fee != nil {
		v := res.Fee.String()
		fee = &v
	}

	_, err := s.pool.Exec(ctx, query,
		res.ClientOrderID, res.OrderID, res.Account, string(res.Exchange), res.Symbol,
		string(res.Status), filledPrice, fee, []byte(res.Raw), res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save order result %s: %w", res.ClientOrderID, err)
	}
	return nil
}

const orderResultCols = `client_order_id, order_id, account, exchange, symbol,
	status, filled_price, fee, raw, created_at`

func scanOrderResult(scanner interface{ Scan(dest ...any) error }) (domain.OrderResult, error) {
	var res domain.OrderResult
	var exchange, status string
	var filledPrice, fee *string
	var raw []byte

	err := scanner.Scan(
		&res.ClientOrderID, &res.OrderID, &res.Account, &exchange, &res.Symbol,
		&status, &filledPrice, &fee, &raw, &res.CreatedAt,
	)
	if err != nil {
		return domain.OrderResult{}, err
	}

	res.Exchange = domain.Exchange(exchange)
	res.Status = domain.OrderStatus(status)
	res.Raw = raw

	if filledPrice != nil {
		d, err := decimal.NewFromString(*filledPrice)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("parse filled_price %q: %w", *filledPrice, err)
		}
		res.FilledPrice = &d
	}
	if fee != nil {
		d, err := decimal.NewFromString(*fee)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("parse fee %q: %w", *fee, err)
		}
		res.Fee = &d
	}

	return res, nil
}

// GetByClientOrderID retrieves a single result by its idempotency key.
func (s *OrderResultStore) GetByClientOrderID(ctx context.Context, clientOrderID string) (domain.OrderResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderResultCols+` FROM order_results WHERE client_order_id = $1`,
		clientOrderID)

	res, err := scanOrderResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OrderResult{}, domain.ErrNotFound
		}
		return domain.OrderResult{}, fmt.Errorf("postgres: get order result %s: %w", clientOrderID, err)
	}
	return res, nil
}

// ListByAccount returns the account's most recent results.
func (s *OrderResultStore) ListByAccount(ctx context.Context, account string, limit int) ([]domain.OrderResult, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+orderResultCols+` FROM order_results
		 WHERE account = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, account, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list order results: %w", err)
	}
	defer rows.Close()

	var results []domain.OrderResult
	for rows.Next() {
		res, err := scanOrderResult(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// Compile-time interface check.
var _ domain.OrderResultStore = (*OrderResultStore)(nil)
