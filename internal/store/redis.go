// redis.go -- go-redis backed OAuth session store.
//
// Each session is one Redis hash (oauth_session:<id>) whose TTL is the
// session lifetime. Fields: csrf, access_token.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

const (
	fieldCSRF        = "csrf"
	fieldAccessToken = "access_token"
)

// RedisStore wraps a Redis client for OAuth session operations.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisClient parses redisURL, connects, and pings.
// Call once at startup from main.go...returned client is safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// NewRedisStore returns a store sharing the given client's connection pool.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func sessionKey(id uuid.UUID) string {
	return fmt.Sprintf("oauth_session:%s", id)
}

// SaveCSRF records csrf for session id and (re)sets the session TTL.
func (s *RedisStore) SaveCSRF(ctx context.Context, id uuid.UUID, csrf string, ttl time.Duration) error {
	key := sessionKey(id)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fieldCSRF, csrf)
	pipe.PExpire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving csrf: %w", err)
	}
	return nil
}

// SaveToken stores the access token, drops the now-spent CSRF value,
// and resets the TTL to the token lifetime.
func (s *RedisStore) SaveToken(ctx context.Context, id uuid.UUID, token string, ttl time.Duration) error {
	key := sessionKey(id)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fieldAccessToken, token)
	pipe.HDel(ctx, key, fieldCSRF)
	pipe.PExpire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving access token: %w", err)
	}
	return nil
}

// GetSession returns the session for id, or ErrSessionNotFound.
func (s *RedisStore) GetSession(ctx context.Context, id uuid.UUID) (*OAuthSession, error) {
	key := sessionKey(id)

	pipe := s.rdb.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	sess := &OAuthSession{
		ID:          id,
		CSRF:        fields[fieldCSRF],
		AccessToken: fields[fieldAccessToken],
	}
	// PTTL is negative for keys without expiry; leave ExpiresAt zero then.
	if ttl := ttlCmd.Val(); ttl > 0 {
		sess.ExpiresAt = time.Now().Add(ttl)
	}
	return sess, nil
}

// DeleteSession removes the session. Deleting a missing session is not an error.
func (s *RedisStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if err := s.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CheckHealth pings Redis.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
