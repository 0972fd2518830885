package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PushTokenTTL bounds how long an unrefreshed device token is trusted. The
// apps re-register their token on every launch, so stale entries age out.
const PushTokenTTL = 60 * 24 * time.Hour

// PushTokenRepository stores device push tokens per user in Redis.
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func pushTokenKey(userID uuid.UUID) string {
	return fmt.Sprintf("pushtokens:%s", userID)
}

// Register stores a device token for a user and refreshes the key TTL.
func (r *PushTokenRepository) Register(ctx context.Context, userID uuid.UUID, token string) error {
	key := pushTokenKey(userID)

	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, key, token)
	pipe.Expire(ctx, key, PushTokenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register push token: %w", err)
	}
	return nil
}

// Remove deletes tokens the push provider reported as invalid.
func (r *PushTokenRepository) Remove(ctx context.Context, userID uuid.UUID, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	members := make([]interface{}, len(tokens))
	for i, t := range tokens {
		members[i] = t
	}
	if err := r.client.SRem(ctx, pushTokenKey(userID), members...).Err(); err != nil {
		return fmt.Errorf("failed to remove push tokens: %w", err)
	}
	return nil
}

// List returns the registered tokens for a user. An expired or absent key
// yields an empty slice, not an error.
func (r *PushTokenRepository) List(ctx context.Context, userID uuid.UUID) ([]string, error) {
	tokens, err := r.client.SMembers(ctx, pushTokenKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list push tokens: %w", err)
	}
	return tokens, nil
}
