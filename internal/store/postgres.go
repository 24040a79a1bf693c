// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and oauth_sessions queries.
// Creates a connection pool at startup, shared across all requests.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable OAuth session store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates and returns a verified connection pool wrapped in a store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// SaveCSRF upserts the session row with csrf and a fresh expiry.
func (s *PostgresStore) SaveCSRF(ctx context.Context, id uuid.UUID, csrf string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_sessions (id, csrf_token, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET csrf_token = EXCLUDED.csrf_token,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()`,
		id, csrf, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("saving csrf: %w", err)
	}
	return nil
}

// SaveToken upserts the access token, clears the spent CSRF value, and extends expiry.
func (s *PostgresStore) SaveToken(ctx context.Context, id uuid.UUID, token string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_sessions (id, access_token, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    csrf_token = NULL,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()`,
		id, token, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("saving access token: %w", err)
	}
	return nil
}

// GetSession fetches a non-expired session. Returns ErrSessionNotFound if
// the row is missing or expired.
func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*OAuthSession, error) {
	var csrf, token *string
	sess := &OAuthSession{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, csrf_token, access_token, expires_at
		FROM oauth_sessions
		WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&sess.ID, &csrf, &token, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	if csrf != nil {
		sess.CSRF = *csrf
	}
	if token != nil {
		sess.AccessToken = *token
	}
	return sess, nil
}

// DeleteSession removes the session row. Deleting a missing row is not an error.
func (s *PostgresStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM oauth_sessions WHERE id = $1", id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions deletes rows that expired more than retention ago.
// Returns the number of rows removed.
func (s *PostgresStore) CleanupExpiredSessions(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM oauth_sessions WHERE expires_at < $1",
		time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
