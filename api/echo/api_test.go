package echo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.tradervault.io/brokerlink/cache"
	"go.tradervault.io/brokerlink/domain"
	"go.tradervault.io/brokerlink/internal/secretbox"
	"go.tradervault.io/brokerlink/services"
	"go.tradervault.io/brokerlink/upstream"
)

// fakeConfigRepo is an in-memory domain.BrokerConfigRepository.
type fakeConfigRepo struct {
	configs map[string]*domain.BrokerConfig
}

func newFakeConfigRepo() *fakeConfigRepo {
	return &fakeConfigRepo{configs: make(map[string]*domain.BrokerConfig)}
}

func (r *fakeConfigRepo) key(userID string, broker domain.Broker) string {
	return userID + "/" + string(broker)
}

func (r *fakeConfigRepo) GetConfig(_ context.Context, userID string, broker domain.Broker) (*domain.BrokerConfig, error) {
	config, ok := r.configs[r.key(userID, broker)]
	if !ok {
		return nil, domain.ErrConfigNotFound
	}
	clone := *config
	return &clone, nil
}

func (r *fakeConfigRepo) UpsertConfig(_ context.Context, config *domain.BrokerConfig) error {
	clone := *config
	r.configs[r.key(config.UserID, config.Broker)] = &clone
	return nil
}

func (r *fakeConfigRepo) DeleteConfig(_ context.Context, userID string, broker domain.Broker) error {
	delete(r.configs, r.key(userID, broker))
	return nil
}

// fakeGateway is a programmable upstream.Gateway.
type fakeGateway struct {
	broker  domain.Broker
	consent *upstream.Consent
	grant   *upstream.Grant
	renewal *upstream.Renewal
	err     error
}

func (g *fakeGateway) Broker() domain.Broker { return g.broker }

func (g *fakeGateway) GenerateConsent(context.Context, upstream.Credentials) (*upstream.Consent, error) {
	return g.consent, g.err
}

func (g *fakeGateway) ConsumeConsent(context.Context, string, upstream.Credentials) (*upstream.Grant, error) {
	return g.grant, g.err
}

func (g *fakeGateway) RenewToken(context.Context, upstream.Session, upstream.Credentials) (*upstream.Renewal, error) {
	return g.renewal, g.err
}

func newTestAPI(t *testing.T, gw upstream.Gateway) (*echo.Echo, *fakeConfigRepo) {
	t.Helper()

	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x24}, 32))
	box, err := secretbox.New(key)
	require.NoError(t, err)

	store := cache.NewMemoryConsentStore(15 * time.Minute)
	t.Cleanup(func() { store.Close() })

	repo := newFakeConfigRepo()
	svc := services.NewLinkingService(repo, store, box, "http://localhost:8080", 15*time.Minute, gw)

	e := echo.New()
	NewLinkingAPI(svc).RegisterRoutes(e)
	return e, repo
}

func doJSON(e *echo.Echo, method, path string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func saveCredentials(t *testing.T, e *echo.Echo) {
	t.Helper()
	rec := doJSON(e, http.MethodPost, "/api/v1/users/u1/dhan/save-credentials",
		`{"api_key":"key-1","api_secret":"secret-1","client_id":"C1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestGetConfigUnknownBroker(t *testing.T) {
	e, _ := newTestAPI(t, &fakeGateway{broker: domain.BrokerDhan})

	rec := doJSON(e, http.MethodGet, "/api/v1/users/u1/upstox/config", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_failed")
}

func TestGetConfigUnconfigured(t *testing.T) {
	e, _ := newTestAPI(t, &fakeGateway{broker: domain.BrokerDhan})

	rec := doJSON(e, http.MethodGet, "/api/v1/users/u1/dhan/config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Message string `json:"message"`
		Data    struct {
			Broker         string `json:"broker"`
			Configured     bool   `json:"configured"`
			HasCredentials bool   `json:"has_credentials"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "dhan", envelope.Data.Broker)
	assert.False(t, envelope.Data.Configured)
	assert.False(t, envelope.Data.HasCredentials)
}

func TestSaveCredentialsValidation(t *testing.T) {
	e, _ := newTestAPI(t, &fakeGateway{broker: domain.BrokerDhan})

	rec := doJSON(e, http.MethodPost, "/api/v1/users/u1/dhan/save-credentials",
		`{"api_key":"  ","api_secret":"s","client_id":"c"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_failed")
}

func TestSaveCredentialsThenConfigReflectsIt(t *testing.T) {
	e, _ := newTestAPI(t, &fakeGateway{broker: domain.BrokerDhan})

	saveCredentials(t, e)

	rec := doJSON(e, http.MethodGet, "/api/v1/users/u1/dhan/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"has_credentials":true`)
	assert.Contains(t, rec.Body.String(), `"client_id":"C1"`)
}

func TestGenerateConsentWithoutCredentials(t *testing.T) {
	e, _ := newTestAPI(t, &fakeGateway{broker: domain.BrokerDhan})

	rec := doJSON(e, http.MethodPost, "/api/v1/users/u1/dhan/generate-consent", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "API key and secret not configured")
}

func TestGenerateConsentSuccess(t *testing.T) {
	gw := &fakeGateway{
		broker: domain.BrokerDhan,
		consent: &upstream.Consent{
			ConsentID: "CA-1",
			AppStatus: "GENERATED",
			LoginURL:  "https://auth.dhan.co/login/consentApp-login?consentAppId=CA-1",
		},
	}
	e, _ := newTestAPI(t, gw)
	saveCredentials(t, e)

	rec := doJSON(e, http.MethodPost, "/api/v1/users/u1/dhan/generate-consent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"consent_app_id":"CA-1"`)
	assert.Contains(t, rec.Body.String(), "consentApp-login")
}

func TestUpstreamUnauthorizedMapsTo401(t *testing.T) {
	gw := &fakeGateway{
		broker: domain.BrokerDhan,
		err:    &upstream.StatusError{API: "dhan API", StatusCode: 401, Message: "bad creds"},
	}
	e, _ := newTestAPI(t, gw)
	saveCredentials(t, e)

	rec := doJSON(e, http.MethodPost, "/api/v1/users/u1/dhan/generate-consent", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid API credentials")
}

func TestUpstreamServerErrorMapsTo500(t *testing.T) {
	gw := &fakeGateway{
		broker: domain.BrokerDhan,
		err:    &upstream.StatusError{API: "dhan API", StatusCode: 503, Message: "down"},
	}
	e, _ := newTestAPI(t, gw)
	saveCredentials(t, e)

	rec := doJSON(e, http.MethodPost, "/api/v1/users/u1/dhan/generate-consent", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestConsumeConsentSuccess(t *testing.T) {
	gw := &fakeGateway{
		broker: domain.BrokerDhan,
		grant: &upstream.Grant{
			ClientID:    "C1",
			ClientName:  "Jo Trader",
			AccessToken: "at-1",
			ExpiryTime:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		},
	}
	e, _ := newTestAPI(t, gw)
	saveCredentials(t, e)

	rec := doJSON(e, http.MethodPost, "/api/v1/users/u1/dhan/consume-consent",
		`{"token_id":"tok-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"client_id":"C1"`)
	assert.Contains(t, rec.Body.String(), `"expiry_time":"2025-06-01T10:00:00"`)

	rec = doJSON(e, http.MethodGet, "/api/v1/users/u1/dhan/config", "")
	assert.Contains(t, rec.Body.String(), `"configured":true`)
}

func TestConsumeConsentRequiresTokenID(t *testing.T) {
	e, _ := newTestAPI(t, &fakeGateway{broker: domain.BrokerDhan})
	saveCredentials(t, e)

	rec := doJSON(e, http.MethodPost, "/api/v1/users/u1/dhan/consume-consent", `{"token_id":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenewTokenUsesStoredSession(t *testing.T) {
	gw := &fakeGateway{
		broker: domain.BrokerDhan,
		grant: &upstream.Grant{
			ClientID:    "C1",
			AccessToken: "at-1",
			ExpiryTime:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		},
		renewal: &upstream.Renewal{
			Status:      "success",
			AccessToken: "at-2",
			ExpiryTime:  time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		},
	}
	e, _ := newTestAPI(t, gw)
	saveCredentials(t, e)

	rec := doJSON(e, http.MethodPost, "/api/v1/users/u1/dhan/consume-consent", `{"token_id":"tok-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/users/u1/dhan/renew-token", `{}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"access_token":"at-2"`)
	assert.Contains(t, rec.Body.String(), `"expiry_time":"2025-06-02T10:00:00"`)
}

func TestSaveTokenDirectly(t *testing.T) {
	e, _ := newTestAPI(t, &fakeGateway{broker: domain.BrokerZerodha})

	rec := doJSON(e, http.MethodPost, "/api/v1/users/u1/zerodha/save-token",
		`{"access_token":"at-1","client_id":"Z1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"configured":true`)

	rec = doJSON(e, http.MethodGet, "/api/v1/users/u1/zerodha/config", "")
	assert.Contains(t, rec.Body.String(), `"configured":true`)
}

func TestDisconnectRemovesConfig(t *testing.T) {
	e, repo := newTestAPI(t, &fakeGateway{broker: domain.BrokerDhan})
	saveCredentials(t, e)

	rec := doJSON(e, http.MethodDelete, "/api/v1/users/u1/dhan/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, repo.configs)

	// Disconnecting again is not an error.
	rec = doJSON(e, http.MethodDelete, "/api/v1/users/u1/dhan/config", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConsentCallbackRendersResultPage(t *testing.T) {
	gw := &fakeGateway{
		broker: domain.BrokerDhan,
		grant: &upstream.Grant{
			ClientID:    "C1",
			ClientName:  "Jo Trader",
			AccessToken: "at-1",
			ExpiryTime:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		},
	}
	e, _ := newTestAPI(t, gw)
	saveCredentials(t, e)

	rec := doJSON(e, http.MethodGet, "/api/v1/dhan/consent-callback?tokenId=tok-1&userId=u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Authentication Successful")
	assert.Contains(t, rec.Body.String(), "Jo Trader")
}

func TestConsentCallbackMissingParams(t *testing.T) {
	e, _ := newTestAPI(t, &fakeGateway{broker: domain.BrokerDhan})

	rec := doJSON(e, http.MethodGet, "/api/v1/dhan/consent-callback?tokenId=tok-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Authentication Failed")
}
