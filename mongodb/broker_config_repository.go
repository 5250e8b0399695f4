package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.tradervault.io/brokerlink/domain"
)

// BrokerConfigRepository is a MongoDB-backed implementation of
// domain.BrokerConfigRepository.
type BrokerConfigRepository struct {
	configs *mongo.Collection
}

// NewBrokerConfigRepository creates the repository and ensures its indexes.
func NewBrokerConfigRepository(ctx context.Context, db *mongo.Database) (*BrokerConfigRepository, error) {
	repo := &BrokerConfigRepository{
		configs: db.Collection(BrokerConfigsCollection),
	}

	if err := repo.createIndexes(ctx); err != nil {
		return nil, err
	}

	return repo, nil
}

func (r *BrokerConfigRepository) createIndexes(ctx context.Context) error {
	// One link document per (user, broker) pair.
	_, err := r.configs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "broker", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create broker config index: %w", err)
	}

	return nil
}

// GetConfig implements domain.BrokerConfigRepository.GetConfig.
func (r *BrokerConfigRepository) GetConfig(ctx context.Context, userID string, broker domain.Broker) (*domain.BrokerConfig, error) {
	var config domain.BrokerConfig
	err := r.configs.FindOne(ctx, bson.M{"user_id": userID, "broker": broker}).Decode(&config)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get broker config: %w", err)
	}

	return &config, nil
}

// UpsertConfig implements domain.BrokerConfigRepository.UpsertConfig.
func (r *BrokerConfigRepository) UpsertConfig(ctx context.Context, config *domain.BrokerConfig) error {
	config.UpdatedAt = time.Now().UTC()
	if config.ConfiguredAt.IsZero() {
		config.ConfiguredAt = config.UpdatedAt
	}

	filter := bson.M{"user_id": config.UserID, "broker": config.Broker}
	_, err := r.configs.ReplaceOne(ctx, filter, config, options.Replace().SetUpsert(true))
	if err != nil {
		log.Error().Err(err).
			Str("user_id", config.UserID).
			Str("broker", string(config.Broker)).
			Msg("Failed to upsert broker config")
		return fmt.Errorf("failed to upsert broker config: %w", err)
	}

	return nil
}

// DeleteConfig implements domain.BrokerConfigRepository.DeleteConfig.
// Deleting a missing config is not an error.
func (r *BrokerConfigRepository) DeleteConfig(ctx context.Context, userID string, broker domain.Broker) error {
	_, err := r.configs.DeleteOne(ctx, bson.M{"user_id": userID, "broker": broker})
	if err != nil {
		return fmt.Errorf("failed to delete broker config: %w", err)
	}

	return nil
}
