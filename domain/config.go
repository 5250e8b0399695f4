package domain

import "time"

// BrokerConfig is the server-owned broker configuration for one user and one
// broker. APISecret and AccessToken are stored encrypted; the repository
// layer never sees plaintext secrets.
//
//nolint:tagliatelle
type BrokerConfig struct {
	ID              string     `bson:"_id,omitempty"`
	UserID          string     `bson:"user_id"`
	Broker          Broker     `bson:"broker"`
	APIKey          string     `bson:"api_key,omitempty"`
	APISecret       string     `bson:"api_secret,omitempty"` // encrypted
	ClientID        string     `bson:"client_id,omitempty"`
	ClientName      string     `bson:"client_name,omitempty"`
	ClientUCC       string     `bson:"client_ucc,omitempty"`
	AccessToken     string     `bson:"access_token,omitempty"` // encrypted
	RefreshToken    string     `bson:"refresh_token,omitempty"` // encrypted, zerodha only
	ExpiryTime      *time.Time `bson:"expiry_time,omitempty"`
	PowerOfAttorney bool       `bson:"power_of_attorney,omitempty"`
	ConfiguredAt    time.Time  `bson:"configured_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
}

// HasCredentials reports whether both API key and secret are stored.
func (c *BrokerConfig) HasCredentials() bool {
	return c != nil && c.APIKey != "" && c.APISecret != ""
}

// Configured reports whether an access token has been obtained. This is the
// "configured" flag surfaced to clients.
func (c *BrokerConfig) Configured() bool {
	return c != nil && c.AccessToken != ""
}

// PendingConsent is the ephemeral server-side record of a generated consent,
// kept only until it is consumed or its TTL lapses.
type PendingConsent struct {
	ConsentID string    `json:"consent_id"`
	UserID    string    `json:"user_id"`
	Broker    Broker    `json:"broker"`
	LoginURL  string    `json:"login_url"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
