package repository

import (
	"context"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/jmoiron/sqlx"
)

// PostgresNonceStore keeps nonce records in a table; expired rows are ignored
// on read and removed by Cleanup.
type PostgresNonceStore struct {
	db *sqlx.DB
}

func NewPostgresNonceStore(db *sqlx.DB) *PostgresNonceStore {
	store := &PostgresNonceStore{db: db}
	_ = store.ensureSchema(context.Background())
	return store
}

func (s *PostgresNonceStore) GetOrLock(ctx context.Context, key string, ttl time.Duration) (*model.NonceRecord, bool, error) {
	now := time.Now().UTC()
	// An expired row is taken over as if absent.
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO request_nonces (key, processing, created_at, expires_at)
		VALUES ($1, true, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET status_code = 0, response_body = NULL, processing = true, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
		WHERE request_nonces.expires_at < $2
	`, key, now, now.Add(ttl))
	if err != nil {
		return nil, false, err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil, false, nil
	}

	var rec model.NonceRecord
	err = s.db.QueryRowxContext(ctx, `
		SELECT status_code, response_body, created_at, processing
		FROM request_nonces
		WHERE key = $1
	`, key).Scan(&rec.Status, &rec.Body, &rec.CreatedAt, &rec.Processing)
	if err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (s *PostgresNonceStore) Save(ctx context.Context, key string, status int, body []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE request_nonces
		SET status_code = $2, response_body = $3, processing = false, expires_at = $4
		WHERE key = $1
	`, key, status, body, time.Now().UTC().Add(ttl))
	return err
}

func (s *PostgresNonceStore) Unlock(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM request_nonces WHERE key = $1`, key)
	return err
}

func (s *PostgresNonceStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS request_nonces (
			key TEXT PRIMARY KEY,
			status_code INTEGER NOT NULL DEFAULT 0,
			response_body BYTEA,
			processing BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_request_nonces_expires ON request_nonces(expires_at)`)
	return nil
}

func (s *PostgresNonceStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := s.db.ExecContext(ctx, `DELETE FROM request_nonces WHERE expires_at < $1`, cutoff)
	return err
}
