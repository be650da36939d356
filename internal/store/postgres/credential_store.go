package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lfang615/crypto-trading-service/internal/crypto"
	"github.com/lfang615/crypto-trading-service/internal/domain"
)

// CredentialStore implements domain.CredentialStore using PostgreSQL. Key,
// secret, and passphrase are sealed with the credential cipher before they
// reach the database, so rows never hold credential material in plaintext.
type CredentialStore struct {
	pool   *pgxpool.Pool
	cipher *crypto.Cipher
}

// NewCredentialStore creates a CredentialStore backed by the given pool.
func NewCredentialStore(pool *pgxpool.Pool, cipher *crypto.Cipher) *CredentialStore {
	return &CredentialStore{pool: pool, cipher: cipher}
}

// Get looks up the credentials for an (account, exchange) pair. The error
// message never includes key material.
func (s *CredentialStore) Get(ctx context.Context, account string, exchange domain.Exchange) (domain.ExchangeCredentials, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT account, exchange, api_key, api_secret, api_passphrase
		 FROM exchange_credentials
		 WHERE account = $1 AND exchange = $2`,
		account, string(exchange))

	var creds domain.ExchangeCredentials
	var ex string
	err := row.Scan(&creds.Account, &ex, &creds.APIKey, &creds.APISecret, &creds.APIPassphrase)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExchangeCredentials{}, domain.ErrNotFound
		}
		return domain.ExchangeCredentials{}, fmt.Errorf("postgres: get credentials %s/%s: %w", account, exchange, err)
	}
	creds.Exchange = domain.Exchange(ex)

	if creds.APIKey, err = s.cipher.Open(creds.APIKey); err != nil {
		return domain.ExchangeCredentials{}, fmt.Errorf("postgres: unseal credentials %s/%s: %w", account, exchange, err)
	}
	if creds.APISecret, err = s.cipher.Open(creds.APISecret); err != nil {
		return domain.ExchangeCredentials{}, fmt.Errorf("postgres: unseal credentials %s/%s: %w", account, exchange, err)
	}
	if creds.APIPassphrase != "" {
		if creds.APIPassphrase, err = s.cipher.Open(creds.APIPassphrase); err != nil {
			return domain.ExchangeCredentials{}, fmt.Errorf("postgres: unseal credentials %s/%s: %w", account, exchange, err)
		}
	}
	return creds, nil
}

// Put inserts or replaces the credentials for the pair.
func (s *CredentialStore) Put(ctx context.Context, creds domain.ExchangeCredentials) error {
	apiKey, err := s.cipher.Seal(creds.APIKey)
	if err != nil {
		return fmt.Errorf("postgres: seal credentials %s/%s: %w", creds.Account, creds.Exchange, err)
	}
	apiSecret, err := s.cipher.Seal(creds.APISecret)
	if err != nil {
		return fmt.Errorf("postgres: seal credentials %s/%s: %w", creds.Account, creds.Exchange, err)
	}
	passphrase := ""
	if creds.APIPassphrase != "" {
		if passphrase, err = s.cipher.Seal(creds.APIPassphrase); err != nil {
			return fmt.Errorf("postgres: seal credentials %s/%s: %w", creds.Account, creds.Exchange, err)
		}
	}

	const query = `
		INSERT INTO exchange_credentials (account, exchange, api_key, api_secret, api_passphrase)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account, exchange) DO UPDATE SET
			api_key        = EXCLUDED.api_key,
			api_secret     = EXCLUDED.api_secret,
			api_passphrase = EXCLUDED.api_passphrase`

	_, err = s.pool.Exec(ctx, query,
		creds.Account, string(creds.Exchange),
		apiKey, apiSecret, passphrase,
	)
	if err != nil {
		return fmt.Errorf("postgres: put credentials %s/%s: %w", creds.Account, creds.Exchange, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CredentialStore = (*CredentialStore)(nil)
