// Package redis provides the Redis-backed single-use token store.
// This is the deployment-recommended implementation: redemption state
// has to be shared across instances or a replayed token could win on
// a second node.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"signet/pkg/platform/sentinel"
)

// Redis key prefix for redeemed signing tokens.
const redeemedKeyPrefix = "sgt:jti:"

// Store marks token IDs as redeemed using SETNX, so exactly one
// redemption wins regardless of which instance handles it.
type Store struct {
	client *redis.Client
}

// New constructs a Redis-backed redemption store. The client lifecycle
// is managed by the caller.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Redeem claims the token ID. The marker carries the token's remaining
// lifetime; once it expires the token itself is past its expiry and
// fails validation before redemption is ever consulted.
func (s *Store) Redeem(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redemption ttl must be positive: %w", sentinel.ErrInvalidState)
	}

	key := redeemedKeyPrefix + tokenID
	// The value is a marker; key existence is what matters.
	won, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("mark token redeemed: %w", err)
	}
	if !won {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}
