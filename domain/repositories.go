package domain

import (
	"context"
	"errors"
)

// ErrConfigNotFound is returned when no broker configuration exists for a
// user+broker pair. Callers treat it as "nothing stored yet", not a failure.
var ErrConfigNotFound = errors.New("broker configuration not found")

// BrokerConfigRepository persists per-user broker configurations.
type BrokerConfigRepository interface {
	// GetConfig returns the stored configuration, or ErrConfigNotFound.
	GetConfig(ctx context.Context, userID string, broker Broker) (*BrokerConfig, error)
	// UpsertConfig creates or replaces the configuration for
	// (config.UserID, config.Broker).
	UpsertConfig(ctx context.Context, config *BrokerConfig) error
	// DeleteConfig removes the configuration. Deleting a missing config is
	// not an error.
	DeleteConfig(ctx context.Context, userID string, broker Broker) error
}
