package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"go.tradervault.io/brokerlink/domain"
)

// ZerodhaGateway implements Gateway through the Kite Connect API. The token
// id users paste is Kite's request_token from the redirect URL.
type ZerodhaGateway struct {
	newClient func(apiKey string) *kiteconnect.Client
}

// NewZerodhaGateway creates a Zerodha gateway.
func NewZerodhaGateway() *ZerodhaGateway {
	return &ZerodhaGateway{newClient: kiteconnect.New}
}

func (g *ZerodhaGateway) Broker() domain.Broker { return domain.BrokerZerodha }

// GenerateConsent builds the Kite Connect login URL. Kite has no server-side
// consent object, so the consent id is generated locally for tracking.
func (g *ZerodhaGateway) GenerateConsent(_ context.Context, creds Credentials) (*Consent, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("zerodha API key is required")
	}
	kc := g.newClient(creds.APIKey)
	return &Consent{
		ConsentID: uuid.NewString(),
		Status:    "generated",
		LoginURL:  kc.GetLoginURL(),
	}, nil
}

// ConsumeConsent exchanges the request token for an access token.
func (g *ZerodhaGateway) ConsumeConsent(_ context.Context, tokenID string, creds Credentials) (*Grant, error) {
	kc := g.newClient(creds.APIKey)
	session, err := kc.GenerateSession(tokenID, creds.APISecret)
	if err != nil {
		return nil, fmt.Errorf("zerodha session exchange failed: %w", err)
	}

	log.Info().
		Str("client_id", session.UserID).
		Msg("Generated Zerodha session")

	return &Grant{
		ClientID:     session.UserID,
		ClientName:   session.UserName,
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiryTime:   nextKiteExpiry(time.Now()),
	}, nil
}

// RenewToken refreshes the session from the stored refresh token.
func (g *ZerodhaGateway) RenewToken(_ context.Context, session Session, creds Credentials) (*Renewal, error) {
	if session.RefreshToken == "" {
		return nil, fmt.Errorf("zerodha renewal requires a refresh token; re-run authentication")
	}
	kc := g.newClient(creds.APIKey)
	tokens, err := kc.RenewAccessToken(session.RefreshToken, creds.APISecret)
	if err != nil {
		return nil, fmt.Errorf("zerodha token renewal failed: %w", err)
	}

	return &Renewal{
		Status:      "success",
		AccessToken: tokens.AccessToken,
		ExpiryTime:  nextKiteExpiry(time.Now()),
	}, nil
}

// nextKiteExpiry returns the next 06:00 IST after now. Kite access tokens
// are flushed daily at that time.
func nextKiteExpiry(now time.Time) time.Time {
	ist := time.FixedZone("IST", 5*3600+1800)
	local := now.In(ist)
	expiry := time.Date(local.Year(), local.Month(), local.Day(), 6, 0, 0, 0, ist)
	if !expiry.After(local) {
		expiry = expiry.AddDate(0, 0, 1)
	}
	return expiry
}
