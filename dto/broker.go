package dto

// BrokerConfigResponse reports the linking configuration for one broker.
type BrokerConfigResponse struct {
	Broker         string `json:"broker"`
	Configured     bool   `json:"configured"`
	HasCredentials bool   `json:"has_credentials"`
	ClientID       string `json:"client_id,omitempty"`
	ClientName     string `json:"client_name,omitempty"`
	ExpiryTime     string `json:"expiry_time,omitempty"`
}

// SaveCredentialsRequest carries the three credentials required before the
// consent flow can start.
type SaveCredentialsRequest struct {
	APIKey    string `json:"api_key" validate:"required"`
	APISecret string `json:"api_secret" validate:"required"`
	ClientID  string `json:"client_id" validate:"required"`
}

// GenerateConsentResponse is returned when a consent login URL has been
// prepared for the user.
type GenerateConsentResponse struct {
	ConsentAppID     string `json:"consent_app_id"`
	ConsentAppStatus string `json:"consent_app_status,omitempty"`
	Status           string `json:"status,omitempty"`
	LoginURL         string `json:"login_url"`
	CallbackURL      string `json:"callback_url,omitempty"`
}

// ConsumeConsentRequest exchanges the token id copied from the broker's
// redirect URL for an access token.
type ConsumeConsentRequest struct {
	TokenID string `json:"token_id" validate:"required"`
}

// ConsumeConsentResponse is the result of a successful consent exchange.
type ConsumeConsentResponse struct {
	ClientID             string `json:"client_id"`
	ClientName           string `json:"client_name,omitempty"`
	ClientUCC            string `json:"client_ucc,omitempty"`
	GivenPowerOfAttorney bool   `json:"given_power_of_attorney,omitempty"`
	AccessToken          string `json:"access_token"`
	ExpiryTime           string `json:"expiry_time"`
}

// RenewTokenRequest renews the access token. Both fields are optional: the
// stored token and client id take precedence when present.
type RenewTokenRequest struct {
	AccessToken string `json:"access_token"`
	ClientID    string `json:"client_id"`
}

// RenewTokenResponse reports the renewed token and its new expiry.
type RenewTokenResponse struct {
	Status      string `json:"status,omitempty"`
	AccessToken string `json:"access_token"`
	ExpiryTime  string `json:"expiry_time"`
}

// SaveTokenRequest stores an access token obtained out of band. Kept for
// parity with the direct-token method; the consent flow is the primary path.
type SaveTokenRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
	ClientID    string `json:"client_id" validate:"required"`
}

// SaveTokenResponse confirms a directly saved token.
type SaveTokenResponse struct {
	Configured bool   `json:"configured"`
	ClientID   string `json:"client_id"`
	ExpiryTime string `json:"expiry_time,omitempty"`
}
