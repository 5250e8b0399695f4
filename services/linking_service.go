package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"go.tradervault.io/brokerlink/cache"
	"go.tradervault.io/brokerlink/domain"
	"go.tradervault.io/brokerlink/dto"
	linkerrors "go.tradervault.io/brokerlink/errors"
	"go.tradervault.io/brokerlink/internal/secretbox"
	"go.tradervault.io/brokerlink/upstream"
)

const (
	// ExpiryTimeLayout is the wire format for token expiry timestamps.
	ExpiryTimeLayout = "2006-01-02T15:04:05"

	// DefaultTokenLifetime is assumed when a broker reports no parseable
	// expiry for a freshly issued token.
	DefaultTokenLifetime = 24 * time.Hour
)

// LinkingService implements the broker account linking flow: credential
// storage, consent generation, token exchange, renewal, and disconnect.
type LinkingService struct {
	configs    domain.BrokerConfigRepository
	consents   cache.ConsentStore
	gateways   map[domain.Broker]upstream.Gateway
	secrets    *secretbox.Box
	publicURL  string
	consentTTL time.Duration
}

// NewLinkingService wires the service from its collaborators. publicURL is
// the externally reachable base used to build consent callback URLs.
func NewLinkingService(
	configs domain.BrokerConfigRepository,
	consents cache.ConsentStore,
	secrets *secretbox.Box,
	publicURL string,
	consentTTL time.Duration,
	gateways ...upstream.Gateway,
) *LinkingService {
	byBroker := make(map[domain.Broker]upstream.Gateway, len(gateways))
	for _, gw := range gateways {
		byBroker[gw.Broker()] = gw
	}

	return &LinkingService{
		configs:    configs,
		consents:   consents,
		gateways:   byBroker,
		secrets:    secrets,
		publicURL:  strings.TrimSuffix(publicURL, "/"),
		consentTTL: consentTTL,
	}
}

func (s *LinkingService) gateway(broker domain.Broker) (upstream.Gateway, error) {
	gw, ok := s.gateways[broker]
	if !ok {
		return nil, linkerrors.NewValidationFailed(fmt.Sprintf("unsupported broker: %s", broker))
	}
	return gw, nil
}

// GetConfig reports the stored linking state for one broker. A missing
// config is not an error: it reports an unconfigured broker.
func (s *LinkingService) GetConfig(ctx context.Context, userID string, broker domain.Broker) (*dto.BrokerConfigResponse, error) {
	config, err := s.configs.GetConfig(ctx, userID, broker)
	if errors.Is(err, domain.ErrConfigNotFound) {
		return &dto.BrokerConfigResponse{Broker: string(broker)}, nil
	}
	if err != nil {
		return nil, err
	}

	resp := &dto.BrokerConfigResponse{
		Broker:         string(broker),
		Configured:     config.Configured(),
		HasCredentials: config.HasCredentials(),
		ClientID:       config.ClientID,
		ClientName:     config.ClientName,
	}
	if config.ExpiryTime != nil {
		resp.ExpiryTime = config.ExpiryTime.Format(ExpiryTimeLayout)
	}

	return resp, nil
}

// SaveCredentials stores the API key, secret, and client id for a broker.
// The secret is encrypted at rest. Saving new credentials resets any token
// obtained with the old ones.
func (s *LinkingService) SaveCredentials(ctx context.Context, userID string, broker domain.Broker, req *dto.SaveCredentialsRequest) error {
	if _, err := s.gateway(broker); err != nil {
		return err
	}

	encryptedSecret, err := s.secrets.Encrypt(req.APISecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt API secret: %w", err)
	}

	config, err := s.configs.GetConfig(ctx, userID, broker)
	if errors.Is(err, domain.ErrConfigNotFound) {
		config = &domain.BrokerConfig{UserID: userID, Broker: broker}
	} else if err != nil {
		return err
	}

	config.APIKey = req.APIKey
	config.APISecret = encryptedSecret
	config.ClientID = req.ClientID
	config.AccessToken = ""
	config.RefreshToken = ""
	config.ExpiryTime = nil

	if err := s.configs.UpsertConfig(ctx, config); err != nil {
		return err
	}

	log.Info().
		Str("user_id", userID).
		Str("broker", string(broker)).
		Msg("Saved broker credentials")

	return nil
}

// GenerateConsent starts the OAuth leg: it asks the broker for a consent and
// returns the login URL the user must visit. Requires stored credentials.
func (s *LinkingService) GenerateConsent(ctx context.Context, userID string, broker domain.Broker) (*dto.GenerateConsentResponse, error) {
	gw, err := s.gateway(broker)
	if err != nil {
		return nil, err
	}

	creds, _, err := s.loadCredentials(ctx, userID, broker)
	if err != nil {
		return nil, err
	}

	consent, err := gw.GenerateConsent(ctx, creds)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	pending := &domain.PendingConsent{
		ConsentID: consent.ConsentID,
		UserID:    userID,
		Broker:    broker,
		LoginURL:  consent.LoginURL,
		CreatedAt: now,
		ExpiresAt: now.Add(s.consentTTL),
	}
	if err := s.consents.Put(ctx, pending); err != nil {
		log.Warn().Err(err).Str("consent_id", consent.ConsentID).Msg("Failed to store pending consent")
	}

	log.Info().
		Str("user_id", userID).
		Str("broker", string(broker)).
		Str("consent_id", consent.ConsentID).
		Msg("Generated broker consent")

	return &dto.GenerateConsentResponse{
		ConsentAppID:     consent.ConsentID,
		ConsentAppStatus: consent.AppStatus,
		Status:           consent.Status,
		LoginURL:         consent.LoginURL,
		CallbackURL:      fmt.Sprintf("%s/api/v1/%s/consent-callback?userId=%s", s.publicURL, broker, userID),
	}, nil
}

// ConsumeConsent exchanges the token id from the broker redirect for an
// access token and persists it. Stored API credentials are preserved.
func (s *LinkingService) ConsumeConsent(ctx context.Context, userID string, broker domain.Broker, tokenID string) (*dto.ConsumeConsentResponse, error) {
	gw, err := s.gateway(broker)
	if err != nil {
		return nil, err
	}

	creds, config, err := s.loadCredentials(ctx, userID, broker)
	if err != nil {
		return nil, err
	}

	grant, err := gw.ConsumeConsent(ctx, tokenID, creds)
	if err != nil {
		return nil, err
	}

	expiry := grant.ExpiryTime
	if expiry.IsZero() {
		// Broker reported no parseable expiry; assume a one-day token.
		expiry = time.Now().UTC().Add(DefaultTokenLifetime)
	}

	encryptedToken, err := s.secrets.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	config.ClientID = grant.ClientID
	config.ClientName = grant.ClientName
	config.ClientUCC = grant.ClientUCC
	config.PowerOfAttorney = grant.PowerOfAttorney
	config.AccessToken = encryptedToken
	config.ExpiryTime = &expiry

	if grant.RefreshToken != "" {
		encryptedRefresh, err := s.secrets.Encrypt(grant.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		config.RefreshToken = encryptedRefresh
	}

	if err := s.configs.UpsertConfig(ctx, config); err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID).
		Str("broker", string(broker)).
		Str("client_id", grant.ClientID).
		Time("expiry", expiry).
		Msg("Consumed broker consent")

	return &dto.ConsumeConsentResponse{
		ClientID:             grant.ClientID,
		ClientName:           grant.ClientName,
		ClientUCC:            grant.ClientUCC,
		GivenPowerOfAttorney: grant.PowerOfAttorney,
		AccessToken:          grant.AccessToken,
		ExpiryTime:           expiry.Format(ExpiryTimeLayout),
	}, nil
}

// RenewToken refreshes the access token. The stored token and client id take
// precedence over values supplied in the request.
func (s *LinkingService) RenewToken(ctx context.Context, userID string, broker domain.Broker, req *dto.RenewTokenRequest) (*dto.RenewTokenResponse, error) {
	gw, err := s.gateway(broker)
	if err != nil {
		return nil, err
	}

	config, err := s.configs.GetConfig(ctx, userID, broker)
	if errors.Is(err, domain.ErrConfigNotFound) {
		config = &domain.BrokerConfig{UserID: userID, Broker: broker}
	} else if err != nil {
		return nil, err
	}

	session := upstream.Session{
		AccessToken: req.AccessToken,
		ClientID:    req.ClientID,
	}
	if config.AccessToken != "" {
		token, err := s.secrets.Decrypt(config.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt stored access token: %w", err)
		}
		session.AccessToken = token
	}
	if config.ClientID != "" {
		session.ClientID = config.ClientID
	}
	if config.RefreshToken != "" {
		refresh, err := s.secrets.Decrypt(config.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt stored refresh token: %w", err)
		}
		session.RefreshToken = refresh
	}
	if session.AccessToken == "" || session.ClientID == "" {
		return nil, linkerrors.NewValidationFailed("access token and client ID are required for renewal")
	}

	var creds upstream.Credentials
	if config.HasCredentials() {
		creds, _, err = s.loadCredentials(ctx, userID, broker)
		if err != nil {
			return nil, err
		}
	}

	renewal, err := gw.RenewToken(ctx, session, creds)
	if err != nil {
		return nil, err
	}

	expiry := renewal.ExpiryTime
	if expiry.IsZero() {
		expiry = time.Now().UTC().Add(DefaultTokenLifetime)
	}

	encryptedToken, err := s.secrets.Encrypt(renewal.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt renewed token: %w", err)
	}

	config.AccessToken = encryptedToken
	config.ExpiryTime = &expiry
	if config.ClientID == "" {
		config.ClientID = session.ClientID
	}
	if err := s.configs.UpsertConfig(ctx, config); err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID).
		Str("broker", string(broker)).
		Time("expiry", expiry).
		Msg("Renewed broker access token")

	return &dto.RenewTokenResponse{
		Status:      renewal.Status,
		AccessToken: renewal.AccessToken,
		ExpiryTime:  expiry.Format(ExpiryTimeLayout),
	}, nil
}

// SaveToken stores an access token obtained out of band, marking the broker
// configured without running the consent flow.
func (s *LinkingService) SaveToken(ctx context.Context, userID string, broker domain.Broker, req *dto.SaveTokenRequest) (*dto.SaveTokenResponse, error) {
	if _, err := s.gateway(broker); err != nil {
		return nil, err
	}

	config, err := s.configs.GetConfig(ctx, userID, broker)
	if errors.Is(err, domain.ErrConfigNotFound) {
		config = &domain.BrokerConfig{UserID: userID, Broker: broker}
	} else if err != nil {
		return nil, err
	}

	encryptedToken, err := s.secrets.Encrypt(req.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	expiry := time.Now().UTC().Add(DefaultTokenLifetime)
	config.ClientID = req.ClientID
	config.AccessToken = encryptedToken
	config.ExpiryTime = &expiry

	if err := s.configs.UpsertConfig(ctx, config); err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID).
		Str("broker", string(broker)).
		Msg("Saved broker access token directly")

	return &dto.SaveTokenResponse{
		Configured: true,
		ClientID:   req.ClientID,
		ExpiryTime: expiry.Format(ExpiryTimeLayout),
	}, nil
}

// Disconnect removes the stored configuration for one broker. Removing a
// broker that was never linked is not an error.
func (s *LinkingService) Disconnect(ctx context.Context, userID string, broker domain.Broker) error {
	if err := s.configs.DeleteConfig(ctx, userID, broker); err != nil {
		return err
	}

	log.Info().
		Str("user_id", userID).
		Str("broker", string(broker)).
		Msg("Disconnected broker")

	return nil
}

// PendingConsent looks up a stored consent by id, for callback handling.
func (s *LinkingService) PendingConsent(ctx context.Context, consentID string) (*domain.PendingConsent, error) {
	return s.consents.Get(ctx, consentID)
}

// loadCredentials fetches and decrypts the stored API credentials. Missing
// or incomplete credentials yield a credentials_required error.
func (s *LinkingService) loadCredentials(ctx context.Context, userID string, broker domain.Broker) (upstream.Credentials, *domain.BrokerConfig, error) {
	config, err := s.configs.GetConfig(ctx, userID, broker)
	if errors.Is(err, domain.ErrConfigNotFound) {
		return upstream.Credentials{}, nil, linkerrors.NewCredentialsRequired()
	}
	if err != nil {
		return upstream.Credentials{}, nil, err
	}
	if !config.HasCredentials() {
		return upstream.Credentials{}, nil, linkerrors.NewCredentialsRequired()
	}

	secret, err := s.secrets.Decrypt(config.APISecret)
	if err != nil {
		return upstream.Credentials{}, nil, fmt.Errorf("failed to decrypt API secret: %w", err)
	}

	return upstream.Credentials{
		APIKey:    config.APIKey,
		APISecret: secret,
		ClientID:  config.ClientID,
	}, config, nil
}
