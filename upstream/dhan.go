package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"go.tradervault.io/brokerlink/domain"
)

// dhanExpiryLayout is the timestamp format the Dhan auth API reports.
const dhanExpiryLayout = "2006-01-02T15:04:05"

const (
	defaultDhanAuthBaseURL = "https://auth.dhan.co"
	defaultDhanAPIBaseURL  = "https://api.dhan.co/v2"
)

// DhanGateway implements Gateway against the Dhan partner auth API.
type DhanGateway struct {
	authBaseURL string
	apiBaseURL  string
	httpClient  *http.Client
}

// DhanOption customizes a DhanGateway.
type DhanOption func(*DhanGateway)

// WithDhanBaseURLs overrides the auth and API endpoints, mainly for tests.
func WithDhanBaseURLs(authBaseURL, apiBaseURL string) DhanOption {
	return func(g *DhanGateway) {
		if authBaseURL != "" {
			g.authBaseURL = authBaseURL
		}
		if apiBaseURL != "" {
			g.apiBaseURL = apiBaseURL
		}
	}
}

// WithDhanHTTPClient overrides the HTTP client.
func WithDhanHTTPClient(c *http.Client) DhanOption {
	return func(g *DhanGateway) { g.httpClient = c }
}

// NewDhanGateway creates a Dhan gateway with a 30 second request timeout.
func NewDhanGateway(opts ...DhanOption) *DhanGateway {
	g := &DhanGateway{
		authBaseURL: defaultDhanAuthBaseURL,
		apiBaseURL:  defaultDhanAPIBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *DhanGateway) Broker() domain.Broker { return domain.BrokerDhan }

type dhanConsentResponse struct {
	ConsentAppID     string `json:"consentAppId"`
	ConsentAppStatus string `json:"consentAppStatus"`
	Status           string `json:"status"`
}

// GenerateConsent asks Dhan for a one-time consent and builds the login URL
// the user must open to authenticate.
func (g *DhanGateway) GenerateConsent(ctx context.Context, creds Credentials) (*Consent, error) {
	if creds.ClientID == "" {
		return nil, fmt.Errorf("dhan client ID is required")
	}

	reqURL := fmt.Sprintf("%s/app/generate-consent?client_id=%s", g.authBaseURL, url.QueryEscape(creds.ClientID))

	var resp dhanConsentResponse
	if err := g.do(ctx, http.MethodPost, reqURL, creds, &resp); err != nil {
		return nil, err
	}

	log.Info().
		Str("consent_app_id", resp.ConsentAppID).
		Str("status", resp.Status).
		Msg("Generated Dhan consent")

	return &Consent{
		ConsentID: resp.ConsentAppID,
		AppStatus: resp.ConsentAppStatus,
		Status:    resp.Status,
		LoginURL:  fmt.Sprintf("%s/login/consentApp-login?consentAppId=%s", g.authBaseURL, url.QueryEscape(resp.ConsentAppID)),
	}, nil
}

type dhanGrantResponse struct {
	DhanClientID         string `json:"dhanClientId"`
	DhanClientName       string `json:"dhanClientName"`
	DhanClientUcc        string `json:"dhanClientUcc"`
	GivenPowerOfAttorney bool   `json:"givenPowerOfAttorney"`
	AccessToken          string `json:"accessToken"`
	ExpiryTime           string `json:"expiryTime"`
}

// ConsumeConsent exchanges the token id the user copied from the redirect
// URL for a long-lived access token.
func (g *DhanGateway) ConsumeConsent(ctx context.Context, tokenID string, creds Credentials) (*Grant, error) {
	reqURL := fmt.Sprintf("%s/app/consumeApp-consent?tokenId=%s", g.authBaseURL, url.QueryEscape(tokenID))

	var resp dhanGrantResponse
	if err := g.do(ctx, http.MethodGet, reqURL, creds, &resp); err != nil {
		return nil, err
	}

	log.Info().
		Str("client_id", resp.DhanClientID).
		Msg("Consumed Dhan consent")

	return &Grant{
		ClientID:        resp.DhanClientID,
		ClientName:      resp.DhanClientName,
		ClientUCC:       resp.DhanClientUcc,
		PowerOfAttorney: resp.GivenPowerOfAttorney,
		AccessToken:     resp.AccessToken,
		ExpiryTime:      parseDhanExpiry(resp.ExpiryTime),
	}, nil
}

type dhanRenewResponse struct {
	Status      string `json:"status"`
	AccessToken string `json:"accessToken"`
	ExpiryTime  string `json:"expiryTime"`
}

// RenewToken extends the current access token without re-running consent.
func (g *DhanGateway) RenewToken(ctx context.Context, session Session, _ Credentials) (*Renewal, error) {
	reqURL := g.apiBaseURL + "/RenewToken"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("access-token", session.AccessToken)
	req.Header.Set("dhanClientId", session.ClientID)

	var resp dhanRenewResponse
	if err := g.doRequest(req, &resp); err != nil {
		return nil, err
	}

	log.Info().Str("status", resp.Status).Msg("Renewed Dhan access token")

	return &Renewal{
		Status:      resp.Status,
		AccessToken: resp.AccessToken,
		ExpiryTime:  parseDhanExpiry(resp.ExpiryTime),
	}, nil
}

// do issues a request authenticated with the app_id/app_secret headers the
// Dhan consent endpoints expect.
func (g *DhanGateway) do(ctx context.Context, method, reqURL string, creds Credentials, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("app_id", creds.APIKey)
	req.Header.Set("app_secret", creds.APISecret)

	return g.doRequest(req, out)
}

func (g *DhanGateway) doRequest(req *http.Request, out interface{}) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request to Dhan API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if msg == "" {
			msg = "No error message provided by Dhan API"
		}
		return &StatusError{API: "dhan API", StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse Dhan API response: %w", err)
	}
	return nil
}

func parseDhanExpiry(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(dhanExpiryLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}
