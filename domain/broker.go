package domain

import (
	"fmt"
	"time"
)

// Broker identifies a supported trading broker.
type Broker string

const (
	BrokerDhan    Broker = "dhan"
	BrokerZerodha Broker = "zerodha"
)

// Brokers lists every broker the linking flow knows about.
var Brokers = []Broker{BrokerDhan, BrokerZerodha}

// ParseBroker validates a broker identifier coming from a route or CLI flag.
func ParseBroker(s string) (Broker, error) {
	switch Broker(s) {
	case BrokerDhan:
		return BrokerDhan, nil
	case BrokerZerodha:
		return BrokerZerodha, nil
	default:
		return "", fmt.Errorf("unknown broker %q", s)
	}
}

func (b Broker) String() string { return string(b) }

// LinkPhase is the step a user is in while linking a broker account.
type LinkPhase string

const (
	PhaseCredentials LinkPhase = "credentials"
	PhaseOAuth       LinkPhase = "oauth"
	PhaseComplete    LinkPhase = "complete"
)

// BrokerLinkState is the client-held, possibly stale, read-through copy of a
// user's linking progress for one broker. The backend owns the durable truth;
// this struct only drives the UI/CLI.
type BrokerLinkState struct {
	Broker            Broker
	Phase             LinkPhase
	Configured        bool
	HasCredentials    bool
	ClientID          string
	ClientName        string
	AccessTokenExpiry time.Time
}

// DerivePhase maps an authoritative configuration snapshot onto the linking
// state machine. Partial configuration (credentials stored but no client id,
// or client id stored but no access token) is a legitimate intermediate
// state, not an error.
func DerivePhase(configured, hasCredentials bool, clientID string) LinkPhase {
	switch {
	case configured && clientID != "":
		return PhaseComplete
	case hasCredentials && clientID != "":
		return PhaseOAuth
	default:
		return PhaseCredentials
	}
}

// ExpiresWithin reports whether the access token expires within d. A zero
// expiry (no token) counts as expired.
func (s BrokerLinkState) ExpiresWithin(d time.Duration) bool {
	if s.AccessTokenExpiry.IsZero() {
		return true
	}
	return time.Until(s.AccessTokenExpiry) < d
}
