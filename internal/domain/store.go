package domain

import (
	"context"
	"io"
)

// OrderResultStore persists dispatch outcomes. Save upserts by
// ClientOrderID: a status transition writes a new record over the old one.
type OrderResultStore interface {
	Save(ctx context.Context, res OrderResult) error
	GetByClientOrderID(ctx context.Context, clientOrderID string) (OrderResult, error)
	ListByAccount(ctx context.Context, account string, limit int) ([]OrderResult, error)
}

// CredentialStore looks up exchange API credentials by (account, exchange).
// Get returns ErrNotFound when the account has no credentials for the venue.
type CredentialStore interface {
	Get(ctx context.Context, account string, exchange Exchange) (ExchangeCredentials, error)
	Put(ctx context.Context, creds ExchangeCredentials) error
}

// BlobWriter uploads data to object storage. The dispatcher uses it to
// archive raw venue payloads that need manual reconciliation.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
