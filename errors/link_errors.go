package errors

import "fmt"

// LinkError represents a standardized broker-linking flow error.
type LinkError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Standard linking error codes
const (
	ValidationFailed    = "validation_failed"
	PopupBlocked        = "popup_blocked"
	OperationInFlight   = "operation_in_flight"
	CredentialsRequired = "credentials_required"
	ConsentExpired      = "consent_expired"
	UpstreamError       = "upstream_error"
	ServerError         = "server_error"
)

// Common error constructors

func NewValidationFailed(description string) *LinkError {
	return &LinkError{
		Code:        ValidationFailed,
		Description: description,
	}
}

func NewPopupBlocked() *LinkError {
	return &LinkError{
		Code:        PopupBlocked,
		Description: "Please allow popups to continue with authentication",
	}
}

func NewOperationInFlight(operation string) *LinkError {
	return &LinkError{
		Code:        OperationInFlight,
		Description: fmt.Sprintf("another %s request is still in flight", operation),
	}
}

func NewCredentialsRequired() *LinkError {
	return &LinkError{
		Code:        CredentialsRequired,
		Description: "API key and secret not configured. Please save credentials first.",
	}
}

func NewConsentExpired() *LinkError {
	return &LinkError{
		Code:        ConsentExpired,
		Description: "the pending consent has expired, restart authentication",
	}
}

func NewUpstreamError(description string) *LinkError {
	return &LinkError{
		Code:        UpstreamError,
		Description: description,
	}
}

func NewServerError(description string) *LinkError {
	return &LinkError{
		Code:        ServerError,
		Description: description,
	}
}
