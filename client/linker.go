package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.tradervault.io/brokerlink/domain"
	"go.tradervault.io/brokerlink/dto"
	"go.tradervault.io/brokerlink/errors"
)

// expiryLayout is the wire format for token expiry timestamps.
const expiryLayout = "2006-01-02T15:04:05"

// BrowserOpener opens the broker login URL in an external browser surface.
// A nil opener, or an opener returning an error, is treated as a blocked
// popup: the flow stays in the oauth phase and the user is asked to retry.
type BrowserOpener func(url string) error

// LinkingAPI is the subset of Client the Linker drives. It is an interface
// so tests can substitute a fake transport.
type LinkingAPI interface {
	GetConfig(ctx context.Context, userID string, broker domain.Broker) (*dto.BrokerConfigResponse, error)
	SaveCredentials(ctx context.Context, userID string, broker domain.Broker, req *dto.SaveCredentialsRequest) error
	GenerateConsent(ctx context.Context, userID string, broker domain.Broker) (*dto.GenerateConsentResponse, error)
	ConsumeConsent(ctx context.Context, userID string, broker domain.Broker, tokenID string) (*dto.ConsumeConsentResponse, error)
	RenewToken(ctx context.Context, userID string, broker domain.Broker, req *dto.RenewTokenRequest) (*dto.RenewTokenResponse, error)
}

// Form holds the staged user inputs for the linking flow. Credential fields
// are cleared as soon as a save succeeds; nothing here outlives the flow.
type Form struct {
	APIKey    string
	APISecret string
	ClientID  string
	TokenID   string
}

// Linker drives the linking flow for one user and one broker. It holds a
// read-through copy of the server state and enforces the legal phase
// transitions; the server remains the source of truth.
type Linker struct {
	api    LinkingAPI
	userID string
	broker domain.Broker
	opener BrowserOpener

	mu        sync.Mutex
	state     domain.BrokerLinkState
	form      Form
	lastError string
	loginURL  string
	inFlight  map[string]bool
}

// NewLinker creates a Linker in the credentials phase. Call Refresh to pick
// up the server-side state.
func NewLinker(api LinkingAPI, userID string, broker domain.Broker, opener BrowserOpener) *Linker {
	return &Linker{
		api:      api,
		userID:   userID,
		broker:   broker,
		opener:   opener,
		inFlight: make(map[string]bool),
		state: domain.BrokerLinkState{
			Broker: broker,
			Phase:  domain.PhaseCredentials,
		},
	}
}

// State returns a copy of the current linking state.
func (l *Linker) State() domain.BrokerLinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Form returns a copy of the staged form fields.
func (l *Linker) Form() Form {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.form
}

// LastError returns the display string of the most recent failure, empty
// after a successful operation.
func (l *Linker) LastError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastError
}

// LoginURL returns the pending consent login URL, if any.
func (l *Linker) LoginURL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loginURL
}

// EnterCredentials stages the three credential fields.
func (l *Linker) EnterCredentials(apiKey, apiSecret, clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.form.APIKey = apiKey
	l.form.APISecret = apiSecret
	l.form.ClientID = clientID
}

// EnterTokenID stages the token id copied from the broker redirect URL.
func (l *Linker) EnterTokenID(tokenID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.form.TokenID = tokenID
}

// begin marks one operation in flight. A second call for the same operation
// while the first is outstanding is rejected without any network traffic.
func (l *Linker) begin(op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight[op] {
		return errors.NewOperationInFlight(op)
	}
	l.inFlight[op] = true
	return nil
}

func (l *Linker) end(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight[op] = false
}

func (l *Linker) fail(err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastError = err.Error()
	return err
}

func (l *Linker) clearError() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastError = ""
}

// Refresh re-fetches the configuration and re-derives the phase from the
// authoritative server state.
func (l *Linker) Refresh(ctx context.Context) error {
	config, err := l.api.GetConfig(ctx, l.userID, l.broker)
	if err != nil {
		return l.fail(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Configured = config.Configured
	l.state.HasCredentials = config.HasCredentials
	l.state.ClientID = config.ClientID
	l.state.ClientName = config.ClientName
	l.state.AccessTokenExpiry = parseExpiry(config.ExpiryTime)
	l.state.Phase = domain.DerivePhase(config.Configured, config.HasCredentials, config.ClientID)
	l.lastError = ""

	return nil
}

// SaveCredentials validates and submits the staged credentials. All three
// fields are required after trimming; an empty field fails locally with no
// network call. On success the staged secrets are cleared and the flow
// advances to the oauth phase.
func (l *Linker) SaveCredentials(ctx context.Context) error {
	l.mu.Lock()
	req := dto.SaveCredentialsRequest{
		APIKey:    strings.TrimSpace(l.form.APIKey),
		APISecret: strings.TrimSpace(l.form.APISecret),
		ClientID:  strings.TrimSpace(l.form.ClientID),
	}
	l.mu.Unlock()

	var missing []string
	if req.APIKey == "" {
		missing = append(missing, "API key")
	}
	if req.APISecret == "" {
		missing = append(missing, "API secret")
	}
	if req.ClientID == "" {
		missing = append(missing, "client ID")
	}
	if len(missing) > 0 {
		return l.fail(errors.NewValidationFailed("required: " + strings.Join(missing, ", ")))
	}

	if err := l.begin("save-credentials"); err != nil {
		return err
	}
	defer l.end("save-credentials")

	if err := l.api.SaveCredentials(ctx, l.userID, l.broker, &req); err != nil {
		return l.fail(err)
	}

	l.mu.Lock()
	l.form.APIKey = ""
	l.form.APISecret = ""
	l.form.ClientID = ""
	l.state.HasCredentials = true
	l.state.Phase = domain.PhaseOAuth
	l.lastError = ""
	l.mu.Unlock()

	// Reconcile with the authoritative state; a partial server-side failure
	// (credentials saved, client id rejected) lands the flow back where the
	// server says it belongs.
	return l.Refresh(ctx)
}

// StartAuth generates a consent and opens the broker login page. Only legal
// from the oauth phase. A blocked popup is recoverable: the consent stays
// pending and the phase is unchanged.
func (l *Linker) StartAuth(ctx context.Context) error {
	if phase := l.State().Phase; phase != domain.PhaseOAuth {
		return l.fail(errors.NewValidationFailed("save credentials before starting authentication"))
	}

	if err := l.begin("generate-consent"); err != nil {
		return err
	}
	defer l.end("generate-consent")

	consent, err := l.api.GenerateConsent(ctx, l.userID, l.broker)
	if err != nil {
		return l.fail(err)
	}

	l.mu.Lock()
	l.loginURL = consent.LoginURL
	l.mu.Unlock()

	if l.opener == nil {
		return l.fail(errors.NewPopupBlocked())
	}
	if err := l.opener(consent.LoginURL); err != nil {
		return l.fail(errors.NewPopupBlocked())
	}

	l.clearError()
	return nil
}

// CompleteAuth exchanges the staged token id for an access token. An empty
// token id fails locally with no network call. On success the flow reaches
// the complete phase and the state is re-fetched.
func (l *Linker) CompleteAuth(ctx context.Context) error {
	l.mu.Lock()
	tokenID := strings.TrimSpace(l.form.TokenID)
	l.mu.Unlock()

	if tokenID == "" {
		return l.fail(errors.NewValidationFailed("required: token ID"))
	}

	if err := l.begin("consume-consent"); err != nil {
		return err
	}
	defer l.end("consume-consent")

	result, err := l.api.ConsumeConsent(ctx, l.userID, l.broker, tokenID)
	if err != nil {
		return l.fail(err)
	}

	l.mu.Lock()
	l.form.TokenID = ""
	l.loginURL = ""
	l.state.ClientID = result.ClientID
	l.state.ClientName = result.ClientName
	l.state.AccessTokenExpiry = parseExpiry(result.ExpiryTime)
	l.state.Phase = domain.PhaseComplete
	l.lastError = ""
	l.mu.Unlock()

	return l.Refresh(ctx)
}

// RenewToken refreshes the access token. Only legal from the complete
// phase. A failed renewal leaves the stored expiry and phase untouched.
func (l *Linker) RenewToken(ctx context.Context) error {
	if phase := l.State().Phase; phase != domain.PhaseComplete {
		return l.fail(errors.NewValidationFailed("no linked account to renew"))
	}

	if err := l.begin("renew-token"); err != nil {
		return err
	}
	defer l.end("renew-token")

	result, err := l.api.RenewToken(ctx, l.userID, l.broker, &dto.RenewTokenRequest{})
	if err != nil {
		return l.fail(err)
	}

	l.mu.Lock()
	l.state.AccessTokenExpiry = parseExpiry(result.ExpiryTime)
	l.lastError = ""
	l.mu.Unlock()

	return l.Refresh(ctx)
}

// Back returns from the oauth phase to the credentials phase, discarding
// any pending consent.
func (l *Linker) Back() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Phase != domain.PhaseOAuth {
		return
	}
	l.state.Phase = domain.PhaseCredentials
	l.loginURL = ""
	l.form.TokenID = ""
}

// Disconnect resets the local state to the credentials phase and clears the
// client identity and expiry. Server-side revocation is a separate call on
// the Client; the reset here never fails.
func (l *Linker) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = domain.BrokerLinkState{
		Broker: l.broker,
		Phase:  domain.PhaseCredentials,
	}
	l.form = Form{}
	l.loginURL = ""
	l.lastError = ""
}

func parseExpiry(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(expiryLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}
