package cache

import (
	"context"
	"errors"

	"go.tradervault.io/brokerlink/domain"
)

// ErrConsentNotFound is returned when a consent is missing or has expired.
var ErrConsentNotFound = errors.New("consent not found")

// ConsentStore holds pending broker consents between generation and
// consumption. Entries expire automatically after the configured TTL.
type ConsentStore interface {
	Put(ctx context.Context, consent *domain.PendingConsent) error
	Get(ctx context.Context, consentID string) (*domain.PendingConsent, error)
	Delete(ctx context.Context, consentID string) error
	Count(ctx context.Context) int
}
