package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.tradervault.io/brokerlink/domain"
)

// MemoryConsentStore implements ConsentStore using ttlcache.
type MemoryConsentStore struct {
	cache *ttlcache.Cache[string, *domain.PendingConsent]
	ttl   time.Duration
}

// NewMemoryConsentStore creates an in-memory consent store with automatic
// cleanup of expired entries.
func NewMemoryConsentStore(ttl time.Duration) *MemoryConsentStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *domain.PendingConsent](ttl),
		ttlcache.WithDisableTouchOnHit[string, *domain.PendingConsent](),
	)

	// Start the cleanup process
	go cache.Start()

	return &MemoryConsentStore{
		cache: cache,
		ttl:   ttl,
	}
}

// Put implements ConsentStore.Put.
func (s *MemoryConsentStore) Put(_ context.Context, consent *domain.PendingConsent) error {
	ttl := s.ttl
	if !consent.ExpiresAt.IsZero() {
		ttl = time.Until(consent.ExpiresAt)
	}
	s.cache.Set(consent.ConsentID, consent, ttl)

	return nil
}

// Get implements ConsentStore.Get.
func (s *MemoryConsentStore) Get(_ context.Context, consentID string) (*domain.PendingConsent, error) {
	item := s.cache.Get(consentID)
	if item == nil {
		return nil, ErrConsentNotFound
	}

	return item.Value(), nil
}

// Delete removes a consent from the cache.
func (s *MemoryConsentStore) Delete(_ context.Context, consentID string) error {
	s.cache.Delete(consentID)

	return nil
}

// Count counts the number of pending consents in the cache.
func (s *MemoryConsentStore) Count(_ context.Context) int {
	return s.cache.Len()
}

// Close stops the cleanup goroutine.
func (s *MemoryConsentStore) Close() error {
	s.cache.Stop()

	return nil
}
