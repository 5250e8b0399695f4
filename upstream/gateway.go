// Package upstream talks to the brokers' own authentication APIs. Each
// gateway normalizes one broker's consent handshake into the shapes the
// linking service works with.
package upstream

import (
	"context"
	"fmt"
	"time"

	"go.tradervault.io/brokerlink/domain"
)

// StatusError is returned when a broker API replies with a non-2xx status.
// The HTTP status propagates so callers can distinguish bad credentials
// from broker outages.
type StatusError struct {
	API        string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.API, e.StatusCode, e.Message)
}

// Credentials are the user's stored API credentials for one broker.
type Credentials struct {
	APIKey    string
	APISecret string
	ClientID  string
}

// Session carries the tokens needed for a renewal call.
type Session struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
}

// Consent is a freshly generated consent with the URL the user must visit.
type Consent struct {
	ConsentID string
	AppStatus string
	Status    string
	LoginURL  string
}

// Grant is the result of exchanging a token id for an access token.
type Grant struct {
	ClientID        string
	ClientName      string
	ClientUCC       string
	PowerOfAttorney bool
	AccessToken     string
	RefreshToken    string
	// ExpiryTime is zero when the broker did not report a parseable expiry;
	// callers apply their own default.
	ExpiryTime time.Time
}

// Renewal is the result of renewing an access token.
type Renewal struct {
	Status      string
	AccessToken string
	ExpiryTime  time.Time
}

// Gateway is implemented once per broker.
type Gateway interface {
	Broker() domain.Broker
	GenerateConsent(ctx context.Context, creds Credentials) (*Consent, error)
	ConsumeConsent(ctx context.Context, tokenID string, creds Credentials) (*Grant, error)
	RenewToken(ctx context.Context, session Session, creds Credentials) (*Renewal, error)
}
