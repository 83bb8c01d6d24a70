// Package session provides storage backends for refresh sessions, revoked
// access tokens and short-lived verification values.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"inkwell/api/internal/store"
)

// Store is implemented by RedisStore and store.PostgresStore. Lookups of
// missing or expired entries return sql.ErrNoRows.
type Store interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, meta store.SessionMeta, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	SaveVerification(ctx context.Context, identifier, value string, expiresAt time.Time) error
	ConsumeVerification(ctx context.Context, identifier string) (string, error)
}

var _ Store = (*RedisStore)(nil)
var _ Store = (*store.PostgresStore)(nil)

// Redis keys. Refresh sessions are hashes so the metadata can be read
// without decoding a blob.
const (
	refreshPrefix      = "refresh:"
	revokedPrefix      = "revoked:"
	verificationPrefix = "verify:"
)

var errExpired = errors.New("expiry is in the past")

// RedisStore implements Store with Redis key expiry.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore parses redisURL and pings the server before returning.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rs := NewRedisStoreWithClient(redis.NewClient(opts))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		_ = rs.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rs, nil
}

func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// setUntil stores value under key until expiresAt.
func (s *RedisStore) setUntil(ctx context.Context, key string, value any, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return errExpired
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

func notFound(err error) error {
	if errors.Is(err, redis.Nil) {
		return sql.ErrNoRows
	}
	return err
}

func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, meta store.SessionMeta, expiresAt time.Time) error {
	if !expiresAt.After(time.Now()) {
		return fmt.Errorf("save refresh session: %w", errExpired)
	}
	key := refreshPrefix + tokenHash
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", userID,
			"ip_address", meta.IPAddress,
			"user_agent", meta.UserAgent,
			"created_at", time.Now().UTC().Format(time.RFC3339),
		)
		pipe.ExpireAt(ctx, key, expiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// RefreshSessionMeta returns the client details recorded with a session.
func (s *RedisStore) RefreshSessionMeta(ctx context.Context, tokenHash string) (store.SessionMeta, error) {
	values, err := s.client.HMGet(ctx, refreshPrefix+tokenHash, "ip_address", "user_agent").Result()
	if err != nil {
		return store.SessionMeta{}, fmt.Errorf("read refresh session: %w", err)
	}
	if values[0] == nil && values[1] == nil {
		return store.SessionMeta{}, sql.ErrNoRows
	}
	ip, _ := values[0].(string)
	agent, _ := values[1].(string)
	return store.SessionMeta{IPAddress: ip, UserAgent: agent}, nil
}

func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	userID, err := s.client.HGet(ctx, refreshPrefix+tokenHash, "user_id").Result()
	if err != nil {
		return "", fmt.Errorf("lookup refresh session: %w", notFound(err))
	}
	return userID, nil
}

func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, refreshPrefix+tokenHash).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// RevokeAccessToken remembers jti until the token would have expired
// anyway. Already expired tokens need no entry.
func (s *RedisStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	err := s.setUntil(ctx, revokedPrefix+jti, 1, expiresAt)
	if err != nil && !errors.Is(err, errExpired) {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) SaveVerification(ctx context.Context, identifier, value string, expiresAt time.Time) error {
	if err := s.setUntil(ctx, verificationPrefix+identifier, value, expiresAt); err != nil {
		return fmt.Errorf("save verification: %w", err)
	}
	return nil
}

// ConsumeVerification reads and deletes the value in one command.
func (s *RedisStore) ConsumeVerification(ctx context.Context, identifier string) (string, error) {
	value, err := s.client.GetDel(ctx, verificationPrefix+identifier).Result()
	if err != nil {
		return "", fmt.Errorf("consume verification: %w", notFound(err))
	}
	return value, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }
