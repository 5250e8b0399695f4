package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go.tradervault.io/brokerlink/cache"
	"go.tradervault.io/brokerlink/domain"
)

// ConsentStore implements the ConsentStore interface using Redis.
type ConsentStore struct {
	client *redis.Client
	prefix string // Optional prefix for keys
}

// NewConsentStore creates a new [ConsentStore] instance.
func NewConsentStore(client *redis.Client, prefix string) *ConsentStore {
	return &ConsentStore{
		client: client,
		prefix: prefix,
	}
}

// redisKey returns the Redis key for a given consent.
func (r *ConsentStore) redisKey(consentID string) string {
	return fmt.Sprintf("%s:consent:%s", r.prefix, consentID)
}

// Put stores a pending consent in Redis with an expiry matching the
// consent's own TTL.
func (r *ConsentStore) Put(ctx context.Context, consent *domain.PendingConsent) error {
	key := r.redisKey(consent.ConsentID)

	entry := map[string]interface{}{
		"consent_id": consent.ConsentID,
		"user_id":    consent.UserID,
		"broker":     string(consent.Broker),
		"login_url":  consent.LoginURL,
		"created_at": consent.CreatedAt.Unix(),
		"expires_at": consent.ExpiresAt.Unix(),
	}

	if _, err := r.client.HSet(ctx, key, entry).Result(); err != nil {
		return fmt.Errorf("failed to set consent in Redis: %w", err)
	}

	if _, err := r.client.Expire(ctx, key, time.Until(consent.ExpiresAt)).Result(); err != nil {
		return fmt.Errorf("failed to set expiry for consent in Redis: %w", err)
	}

	return nil
}

// Get retrieves a pending consent from Redis.
func (r *ConsentStore) Get(ctx context.Context, consentID string) (*domain.PendingConsent, error) {
	key := r.redisKey(consentID)

	res, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get consent from Redis: %w", err)
	}

	if len(res) == 0 {
		return nil, cache.ErrConsentNotFound
	}

	createdAtUnix, err := strconv.ParseInt(res["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at for consent %s: %w", consentID, err)
	}

	expiresAtUnix, err := strconv.ParseInt(res["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid expires_at for consent %s: %w", consentID, err)
	}

	return &domain.PendingConsent{
		ConsentID: res["consent_id"],
		UserID:    res["user_id"],
		Broker:    domain.Broker(res["broker"]),
		LoginURL:  res["login_url"],
		CreatedAt: time.Unix(createdAtUnix, 0),
		ExpiresAt: time.Unix(expiresAtUnix, 0),
	}, nil
}

// Delete removes a consent from Redis.
func (r *ConsentStore) Delete(ctx context.Context, consentID string) error {
	if _, err := r.client.Del(ctx, r.redisKey(consentID)).Result(); err != nil {
		return fmt.Errorf("failed to delete consent from Redis: %w", err)
	}

	return nil
}

// Count returns the number of pending consents in Redis.
func (r *ConsentStore) Count(ctx context.Context) int {
	pattern := r.redisKey("*")
	var count int64
	var cursor uint64

	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			break
		}
		count += int64(len(keys))
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return int(count)
}
