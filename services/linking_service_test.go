package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.tradervault.io/brokerlink/cache"
	"go.tradervault.io/brokerlink/domain"
	"go.tradervault.io/brokerlink/dto"
	linkerrors "go.tradervault.io/brokerlink/errors"
	"go.tradervault.io/brokerlink/internal/secretbox"
	"go.tradervault.io/brokerlink/upstream"
)

// --- Mock Implementations ---

type MockBrokerConfigRepository struct {
	mock.Mock
}

func (m *MockBrokerConfigRepository) GetConfig(ctx context.Context, userID string, broker domain.Broker) (*domain.BrokerConfig, error) {
	args := m.Called(ctx, userID, broker)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BrokerConfig), args.Error(1)
}

func (m *MockBrokerConfigRepository) UpsertConfig(ctx context.Context, config *domain.BrokerConfig) error {
	args := m.Called(ctx, config)
	return args.Error(0)
}

func (m *MockBrokerConfigRepository) DeleteConfig(ctx context.Context, userID string, broker domain.Broker) error {
	args := m.Called(ctx, userID, broker)
	return args.Error(0)
}

type MockGateway struct {
	mock.Mock
	broker domain.Broker
}

func (m *MockGateway) Broker() domain.Broker { return m.broker }

func (m *MockGateway) GenerateConsent(ctx context.Context, creds upstream.Credentials) (*upstream.Consent, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*upstream.Consent), args.Error(1)
}

func (m *MockGateway) ConsumeConsent(ctx context.Context, tokenID string, creds upstream.Credentials) (*upstream.Grant, error) {
	args := m.Called(ctx, tokenID, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*upstream.Grant), args.Error(1)
}

func (m *MockGateway) RenewToken(ctx context.Context, session upstream.Session, creds upstream.Credentials) (*upstream.Renewal, error) {
	args := m.Called(ctx, session, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*upstream.Renewal), args.Error(1)
}

// --- Helpers ---

func testBox(t *testing.T) *secretbox.Box {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	box, err := secretbox.New(key)
	require.NoError(t, err)
	return box
}

func newTestService(t *testing.T, repo domain.BrokerConfigRepository, gateways ...upstream.Gateway) (*LinkingService, *cache.MemoryConsentStore) {
	t.Helper()
	store := cache.NewMemoryConsentStore(15 * time.Minute)
	t.Cleanup(func() { store.Close() })
	svc := NewLinkingService(repo, store, testBox(t), "https://journal.example.com", 15*time.Minute, gateways...)
	return svc, store
}

func encrypted(t *testing.T, box *secretbox.Box, plaintext string) string {
	t.Helper()
	out, err := box.Encrypt(plaintext)
	require.NoError(t, err)
	return out
}

// --- Tests ---

func TestGetConfigUnconfiguredBroker(t *testing.T) {
	repo := new(MockBrokerConfigRepository)
	repo.On("GetConfig", mock.Anything, "u1", domain.BrokerDhan).Return(nil, domain.ErrConfigNotFound)

	svc, _ := newTestService(t, repo, &MockGateway{broker: domain.BrokerDhan})

	resp, err := svc.GetConfig(context.Background(), "u1", domain.BrokerDhan)
	require.NoError(t, err)
	assert.Equal(t, "dhan", resp.Broker)
	assert.False(t, resp.Configured)
	assert.False(t, resp.HasCredentials)
	assert.Empty(t, resp.ClientID)
}

func TestSaveCredentialsEncryptsSecretAndResetsToken(t *testing.T) {
	repo := new(MockBrokerConfigRepository)
	svc, _ := newTestService(t, repo, &MockGateway{broker: domain.BrokerDhan})

	existing := &domain.BrokerConfig{
		UserID:      "u1",
		Broker:      domain.BrokerDhan,
		AccessToken: "old-encrypted-token",
	}
	repo.On("GetConfig", mock.Anything, "u1", domain.BrokerDhan).Return(existing, nil)

	var saved *domain.BrokerConfig
	repo.On("UpsertConfig", mock.Anything, mock.AnythingOfType("*domain.BrokerConfig")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*domain.BrokerConfig) }).
		Return(nil)

	err := svc.SaveCredentials(context.Background(), "u1", domain.BrokerDhan, &dto.SaveCredentialsRequest{
		APIKey: "key-1", APISecret: "secret-1", ClientID: "C1",
	})
	require.NoError(t, err)
	require.NotNil(t, saved)

	assert.Equal(t, "key-1", saved.APIKey)
	assert.NotEqual(t, "secret-1", saved.APISecret, "secret must be stored encrypted")
	assert.Equal(t, "C1", saved.ClientID)
	assert.Empty(t, saved.AccessToken, "saving new credentials resets the old token")
	assert.Nil(t, saved.ExpiryTime)
}

func TestSaveCredentialsUnsupportedBroker(t *testing.T) {
	repo := new(MockBrokerConfigRepository)
	svc, _ := newTestService(t, repo)

	err := svc.SaveCredentials(context.Background(), "u1", domain.BrokerDhan, &dto.SaveCredentialsRequest{
		APIKey: "k", APISecret: "s", ClientID: "c",
	})

	var linkErr *linkerrors.LinkError
	require.ErrorAs(t, err, &linkErr)
	assert.Equal(t, linkerrors.ValidationFailed, linkErr.Code)
}

func TestGenerateConsentRequiresCredentials(t *testing.T) {
	repo := new(MockBrokerConfigRepository)
	repo.On("GetConfig", mock.Anything, "u1", domain.BrokerDhan).Return(nil, domain.ErrConfigNotFound)

	svc, _ := newTestService(t, repo, &MockGateway{broker: domain.BrokerDhan})

	_, err := svc.GenerateConsent(context.Background(), "u1", domain.BrokerDhan)

	var linkErr *linkerrors.LinkError
	require.ErrorAs(t, err, &linkErr)
	assert.Equal(t, linkerrors.CredentialsRequired, linkErr.Code)
}

func TestGenerateConsentStoresPendingConsent(t *testing.T) {
	repo := new(MockBrokerConfigRepository)
	gw := &MockGateway{broker: domain.BrokerDhan}
	svc, store := newTestService(t, repo, gw)

	box := testBox(t)
	repo.On("GetConfig", mock.Anything, "u1", domain.BrokerDhan).Return(&domain.BrokerConfig{
		UserID:    "u1",
		Broker:    domain.BrokerDhan,
		APIKey:    "key-1",
		APISecret: encrypted(t, box, "secret-1"),
		ClientID:  "C1",
	}, nil)

	gw.On("GenerateConsent", mock.Anything, upstream.Credentials{
		APIKey: "key-1", APISecret: "secret-1", ClientID: "C1",
	}).Return(&upstream.Consent{
		ConsentID: "CA-1",
		AppStatus: "GENERATED",
		Status:    "success",
		LoginURL:  "https://auth.dhan.co/login/consentApp-login?consentAppId=CA-1",
	}, nil)

	resp, err := svc.GenerateConsent(context.Background(), "u1", domain.BrokerDhan)
	require.NoError(t, err)

	assert.Equal(t, "CA-1", resp.ConsentAppID)
	assert.Equal(t, "https://auth.dhan.co/login/consentApp-login?consentAppId=CA-1", resp.LoginURL)
	assert.Equal(t, "https://journal.example.com/api/v1/dhan/consent-callback?userId=u1", resp.CallbackURL)

	pending, err := store.Get(context.Background(), "CA-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", pending.UserID)
	assert.Equal(t, domain.BrokerDhan, pending.Broker)
}

func TestConsumeConsentPreservesCredentials(t *testing.T) {
	repo := new(MockBrokerConfigRepository)
	gw := &MockGateway{broker: domain.BrokerDhan}
	svc, _ := newTestService(t, repo, gw)

	box := testBox(t)
	encryptedSecret := encrypted(t, box, "secret-1")
	repo.On("GetConfig", mock.Anything, "u1", domain.BrokerDhan).Return(&domain.BrokerConfig{
		UserID:    "u1",
		Broker:    domain.BrokerDhan,
		APIKey:    "key-1",
		APISecret: encryptedSecret,
		ClientID:  "C1",
	}, nil)

	expiry := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	gw.On("ConsumeConsent", mock.Anything, "tok-1", mock.Anything).Return(&upstream.Grant{
		ClientID:        "C1",
		ClientName:      "Jo Trader",
		ClientUCC:       "UCC1",
		PowerOfAttorney: true,
		AccessToken:     "at-1",
		ExpiryTime:      expiry,
	}, nil)

	var saved *domain.BrokerConfig
	repo.On("UpsertConfig", mock.Anything, mock.AnythingOfType("*domain.BrokerConfig")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*domain.BrokerConfig) }).
		Return(nil)

	resp, err := svc.ConsumeConsent(context.Background(), "u1", domain.BrokerDhan, "tok-1")
	require.NoError(t, err)

	assert.Equal(t, "C1", resp.ClientID)
	assert.Equal(t, "Jo Trader", resp.ClientName)
	assert.Equal(t, "at-1", resp.AccessToken)
	assert.Equal(t, "2025-06-01T10:00:00", resp.ExpiryTime)

	require.NotNil(t, saved)
	assert.Equal(t, "key-1", saved.APIKey, "API key survives the token exchange")
	assert.Equal(t, encryptedSecret, saved.APISecret, "API secret survives the token exchange")
	assert.NotEqual(t, "at-1", saved.AccessToken, "token must be stored encrypted")
	assert.True(t, saved.Configured())
}

func TestConsumeConsentExpiryFallback(t *testing.T) {
	repo := new(MockBrokerConfigRepository)
	gw := &MockGateway{broker: domain.BrokerDhan}
	svc, _ := newTestService(t, repo, gw)

	box := testBox(t)
	repo.On("GetConfig", mock.Anything, "u1", domain.BrokerDhan).Return(&domain.BrokerConfig{
		UserID:    "u1",
		Broker:    domain.BrokerDhan,
		APIKey:    "key-1",
		APISecret: encrypted(t, box, "secret-1"),
	}, nil)

	gw.On("ConsumeConsent", mock.Anything, "tok-1", mock.Anything).Return(&upstream.Grant{
		ClientID:    "C1",
		AccessToken: "at-1",
		// Zero ExpiryTime simulates an unparseable expiry from the broker.
	}, nil)

	var saved *domain.BrokerConfig
	repo.On("UpsertConfig", mock.Anything, mock.AnythingOfType("*domain.BrokerConfig")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*domain.BrokerConfig) }).
		Return(nil)

	before := time.Now().UTC().Add(DefaultTokenLifetime - time.Minute)
	resp, err := svc.ConsumeConsent(context.Background(), "u1", domain.BrokerDhan, "tok-1")
	require.NoError(t, err)

	require.NotNil(t, saved.ExpiryTime)
	assert.True(t, saved.ExpiryTime.After(before), "fallback expiry should be about a day out")
	assert.NotEmpty(t, resp.ExpiryTime)
}

func TestRenewTokenStoredValuesTakePrecedence(t *testing.T) {
	repo := new(MockBrokerConfigRepository)
	gw := &MockGateway{broker: domain.BrokerDhan}
	svc, _ := newTestService(t, repo, gw)

	box := testBox(t)
	repo.On("GetConfig", mock.Anything, "u1", domain.BrokerDhan).Return(&domain.BrokerConfig{
		UserID:      "u1",
		Broker:      domain.BrokerDhan,
		APIKey:      "key-1",
		APISecret:   encrypted(t, box, "secret-1"),
		ClientID:    "stored-client",
		AccessToken: encrypted(t, box, "stored-token"),
	}, nil)

	gw.On("RenewToken", mock.Anything, mock.MatchedBy(func(s upstream.Session) bool {
		return s.AccessToken == "stored-token" && s.ClientID == "stored-client"
	}), mock.Anything).Return(&upstream.Renewal{
		Status:      "success",
		AccessToken: "at-new",
		ExpiryTime:  time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}, nil)

	repo.On("UpsertConfig", mock.Anything, mock.AnythingOfType("*domain.BrokerConfig")).Return(nil)

	resp, err := svc.RenewToken(context.Background(), "u1", domain.BrokerDhan, &dto.RenewTokenRequest{
		AccessToken: "request-token",
		ClientID:    "request-client",
	})
	require.NoError(t, err)

	assert.Equal(t, "at-new", resp.AccessToken)
	assert.Equal(t, "2025-06-02T10:00:00", resp.ExpiryTime)
	gw.AssertExpectations(t)
}

func TestRenewTokenWithoutTokenOrClientID(t *testing.T) {
	repo := new(MockBrokerConfigRepository)
	gw := &MockGateway{broker: domain.BrokerDhan}
	svc, _ := newTestService(t, repo, gw)

	repo.On("GetConfig", mock.Anything, "u1", domain.BrokerDhan).Return(nil, domain.ErrConfigNotFound)

	_, err := svc.RenewToken(context.Background(), "u1", domain.BrokerDhan, &dto.RenewTokenRequest{})

	var linkErr *linkerrors.LinkError
	require.ErrorAs(t, err, &linkErr)
	assert.Equal(t, linkerrors.ValidationFailed, linkErr.Code)
}

func TestSaveTokenMarksConfigured(t *testing.T) {
	repo := new(MockBrokerConfigRepository)
	svc, _ := newTestService(t, repo, &MockGateway{broker: domain.BrokerZerodha})

	repo.On("GetConfig", mock.Anything, "u1", domain.BrokerZerodha).Return(nil, domain.ErrConfigNotFound)

	var saved *domain.BrokerConfig
	repo.On("UpsertConfig", mock.Anything, mock.AnythingOfType("*domain.BrokerConfig")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*domain.BrokerConfig) }).
		Return(nil)

	resp, err := svc.SaveToken(context.Background(), "u1", domain.BrokerZerodha, &dto.SaveTokenRequest{
		AccessToken: "at-1", ClientID: "Z1",
	})
	require.NoError(t, err)

	assert.True(t, resp.Configured)
	assert.Equal(t, "Z1", resp.ClientID)
	require.NotNil(t, saved)
	assert.True(t, saved.Configured())
	assert.NotEqual(t, "at-1", saved.AccessToken)
}

func TestDisconnectDeletesConfig(t *testing.T) {
	repo := new(MockBrokerConfigRepository)
	svc, _ := newTestService(t, repo, &MockGateway{broker: domain.BrokerDhan})

	repo.On("DeleteConfig", mock.Anything, "u1", domain.BrokerDhan).Return(nil)

	require.NoError(t, svc.Disconnect(context.Background(), "u1", domain.BrokerDhan))
	repo.AssertExpectations(t)
}
