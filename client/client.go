// Package client is the SDK for the broker linking service: a thin REST
// client plus a Linker that drives the credentials → oauth → complete flow.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.tradervault.io/brokerlink/domain"
	"go.tradervault.io/brokerlink/dto"
)

// Client calls the linking service's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the linking client.
type Config struct {
	BaseURL string        // e.g. "http://localhost:8080"
	Timeout time.Duration // per-request timeout, 0 means 30s
}

// NewClient creates a new linking service client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) brokerPath(userID string, broker domain.Broker, op string) string {
	return fmt.Sprintf("%s/api/v1/users/%s/%s/%s", c.baseURL, userID, broker, op)
}

// GetConfig fetches the stored linking state for one broker.
func (c *Client) GetConfig(ctx context.Context, userID string, broker domain.Broker) (*dto.BrokerConfigResponse, error) {
	var out dto.BrokerConfigResponse
	if err := c.do(ctx, http.MethodGet, c.brokerPath(userID, broker, "config"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveCredentials stores API credentials on the server.
func (c *Client) SaveCredentials(ctx context.Context, userID string, broker domain.Broker, req *dto.SaveCredentialsRequest) error {
	return c.do(ctx, http.MethodPost, c.brokerPath(userID, broker, "save-credentials"), req, nil)
}

// GenerateConsent asks the server for a broker login URL.
func (c *Client) GenerateConsent(ctx context.Context, userID string, broker domain.Broker) (*dto.GenerateConsentResponse, error) {
	var out dto.GenerateConsentResponse
	if err := c.do(ctx, http.MethodPost, c.brokerPath(userID, broker, "generate-consent"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConsumeConsent exchanges a token id for an access token.
func (c *Client) ConsumeConsent(ctx context.Context, userID string, broker domain.Broker, tokenID string) (*dto.ConsumeConsentResponse, error) {
	var out dto.ConsumeConsentResponse
	req := dto.ConsumeConsentRequest{TokenID: tokenID}
	if err := c.do(ctx, http.MethodPost, c.brokerPath(userID, broker, "consume-consent"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RenewToken refreshes the access token.
func (c *Client) RenewToken(ctx context.Context, userID string, broker domain.Broker, req *dto.RenewTokenRequest) (*dto.RenewTokenResponse, error) {
	if req == nil {
		req = &dto.RenewTokenRequest{}
	}
	var out dto.RenewTokenResponse
	if err := c.do(ctx, http.MethodPost, c.brokerPath(userID, broker, "renew-token"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveToken stores an access token obtained out of band.
func (c *Client) SaveToken(ctx context.Context, userID string, broker domain.Broker, req *dto.SaveTokenRequest) (*dto.SaveTokenResponse, error) {
	var out dto.SaveTokenResponse
	if err := c.do(ctx, http.MethodPost, c.brokerPath(userID, broker, "save-token"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Disconnect removes the stored broker link on the server.
func (c *Client) Disconnect(ctx context.Context, userID string, broker domain.Broker) error {
	return c.do(ctx, http.MethodDelete, c.brokerPath(userID, broker, "config"), nil, nil)
}

// do issues one request and unwraps the {message,data} envelope. Non-2xx
// bodies are parsed for an error or message field; unparseable bodies yield
// a generic status error.
func (c *Client) do(ctx context.Context, method, reqURL string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromBody(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}

	return nil
}

// errorFromBody turns a non-2xx reply into a single error carrying the
// server's error or message text when one is present.
func errorFromBody(status int, raw []byte) error {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if parsed.Message != "" {
			return fmt.Errorf("%s", parsed.Message)
		}
		if parsed.Error != "" {
			return fmt.Errorf("%s", parsed.Error)
		}
	}
	return fmt.Errorf("HTTP error! status: %d", status)
}
