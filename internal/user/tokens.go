package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRefreshTokenTTL matches the refresh cookie lifetime.
const DefaultRefreshTokenTTL = 7 * 24 * time.Hour

// RefreshTokenStore keeps one opaque refresh token per user in Redis.
// Issuing a new token overwrites the previous one, so a stolen old token
// dies on the next login, and the TTL expires idle sessions.
type RefreshTokenStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRefreshTokenStore(rdb *redis.Client, ttl time.Duration) *RefreshTokenStore {
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	return &RefreshTokenStore{rdb: rdb, ttl: ttl}
}

func refreshTokenKey(userID int) string {
	return fmt.Sprintf("refresh-token:%d", userID)
}

// Issue stores a fresh token for the user and returns it with its expiry.
func (s *RefreshTokenStore) Issue(ctx context.Context, userID int) (string, time.Time, error) {
	token := uuid.NewString()
	if err := s.rdb.Set(ctx, refreshTokenKey(userID), token, s.ttl).Err(); err != nil {
		return "", time.Time{}, err
	}
	return token, time.Now().Add(s.ttl), nil
}

// Validate reports whether token is the user's current refresh token.
func (s *RefreshTokenStore) Validate(ctx context.Context, userID int, token string) (bool, error) {
	stored, err := s.rdb.Get(ctx, refreshTokenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == token, nil
}

// Revoke drops the user's refresh token.
func (s *RefreshTokenStore) Revoke(ctx context.Context, userID int) error {
	return s.rdb.Del(ctx, refreshTokenKey(userID)).Err()
}
