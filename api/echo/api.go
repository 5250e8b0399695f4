//nolint:varnamelen
package echo

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.tradervault.io/brokerlink/domain"
	"go.tradervault.io/brokerlink/dto"
	"go.tradervault.io/brokerlink/errors"
	"go.tradervault.io/brokerlink/services"
	"go.tradervault.io/brokerlink/upstream"
)

// LinkingAPI struct to hold dependencies.
type LinkingAPI struct {
	service *services.LinkingService
}

// NewLinkingAPI initializes the broker linking API.
func NewLinkingAPI(service *services.LinkingService) *LinkingAPI {
	return &LinkingAPI{service: service}
}

// RegisterRoutes registers the linking routes under /api/v1.
func (a *LinkingAPI) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")

	g.GET("/users/:id/:broker/config", a.GetConfigHandler)
	g.DELETE("/users/:id/:broker/config", a.DisconnectHandler)
	g.POST("/users/:id/:broker/save-credentials", a.SaveCredentialsHandler)
	g.POST("/users/:id/:broker/generate-consent", a.GenerateConsentHandler)
	g.POST("/users/:id/:broker/consume-consent", a.ConsumeConsentHandler)
	g.POST("/users/:id/:broker/renew-token", a.RenewTokenHandler)
	g.POST("/users/:id/:broker/save-token", a.SaveTokenHandler)

	g.GET("/:broker/consent-callback", a.ConsentCallbackHandler)
}

func (a *LinkingAPI) params(c echo.Context) (string, domain.Broker, error) {
	userID := c.Param("id")
	if userID == "" {
		return "", "", errors.NewValidationFailed("user id is required")
	}
	broker, err := domain.ParseBroker(c.Param("broker"))
	if err != nil {
		return "", "", errors.NewValidationFailed(err.Error())
	}
	return userID, broker, nil
}

// GetConfigHandler reports the linking state for one broker.
func (a *LinkingAPI) GetConfigHandler(c echo.Context) error {
	userID, broker, err := a.params(c)
	if err != nil {
		return a.writeError(c, err)
	}

	config, err := a.service.GetConfig(c.Request().Context(), userID, broker)
	if err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Broker configuration retrieved",
		Data:    config,
	})
}

// SaveCredentialsHandler stores API credentials for one broker.
func (a *LinkingAPI) SaveCredentialsHandler(c echo.Context) error {
	userID, broker, err := a.params(c)
	if err != nil {
		return a.writeError(c, err)
	}

	var req dto.SaveCredentialsRequest
	if err := c.Bind(&req); err != nil {
		return a.writeError(c, errors.NewValidationFailed("invalid request body"))
	}
	req.APIKey = strings.TrimSpace(req.APIKey)
	req.APISecret = strings.TrimSpace(req.APISecret)
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.APIKey == "" || req.APISecret == "" || req.ClientID == "" {
		return a.writeError(c, errors.NewValidationFailed("api_key, api_secret and client_id are required"))
	}

	if err := a.service.SaveCredentials(c.Request().Context(), userID, broker, &req); err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Credentials saved successfully",
		Data:    map[string]bool{"configured": false},
	})
}

// GenerateConsentHandler starts the consent flow and returns the login URL.
func (a *LinkingAPI) GenerateConsentHandler(c echo.Context) error {
	userID, broker, err := a.params(c)
	if err != nil {
		return a.writeError(c, err)
	}

	consent, err := a.service.GenerateConsent(c.Request().Context(), userID, broker)
	if err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Consent generated successfully",
		Data:    consent,
	})
}

// ConsumeConsentHandler exchanges a token id for an access token.
func (a *LinkingAPI) ConsumeConsentHandler(c echo.Context) error {
	userID, broker, err := a.params(c)
	if err != nil {
		return a.writeError(c, err)
	}

	var req dto.ConsumeConsentRequest
	if err := c.Bind(&req); err != nil {
		return a.writeError(c, errors.NewValidationFailed("invalid request body"))
	}
	req.TokenID = strings.TrimSpace(req.TokenID)
	if req.TokenID == "" {
		return a.writeError(c, errors.NewValidationFailed("token_id is required"))
	}

	result, err := a.service.ConsumeConsent(c.Request().Context(), userID, broker, req.TokenID)
	if err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Token obtained successfully",
		Data:    result,
	})
}

// RenewTokenHandler refreshes the access token.
func (a *LinkingAPI) RenewTokenHandler(c echo.Context) error {
	userID, broker, err := a.params(c)
	if err != nil {
		return a.writeError(c, err)
	}

	var req dto.RenewTokenRequest
	if err := c.Bind(&req); err != nil {
		return a.writeError(c, errors.NewValidationFailed("invalid request body"))
	}

	result, err := a.service.RenewToken(c.Request().Context(), userID, broker, &req)
	if err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Token renewed successfully",
		Data:    result,
	})
}

// SaveTokenHandler stores an access token obtained out of band.
func (a *LinkingAPI) SaveTokenHandler(c echo.Context) error {
	userID, broker, err := a.params(c)
	if err != nil {
		return a.writeError(c, err)
	}

	var req dto.SaveTokenRequest
	if err := c.Bind(&req); err != nil {
		return a.writeError(c, errors.NewValidationFailed("invalid request body"))
	}
	req.AccessToken = strings.TrimSpace(req.AccessToken)
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.AccessToken == "" || req.ClientID == "" {
		return a.writeError(c, errors.NewValidationFailed("access_token and client_id are required"))
	}

	result, err := a.service.SaveToken(c.Request().Context(), userID, broker, &req)
	if err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Token saved successfully",
		Data:    result,
	})
}

// DisconnectHandler removes the stored broker link.
func (a *LinkingAPI) DisconnectHandler(c echo.Context) error {
	userID, broker, err := a.params(c)
	if err != nil {
		return a.writeError(c, err)
	}

	if err := a.service.Disconnect(c.Request().Context(), userID, broker); err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Broker disconnected successfully",
	})
}

// writeError maps service and upstream errors onto the HTTP surface.
// Upstream auth failures pass their status through; everything unexpected
// is a 500.
func (a *LinkingAPI) writeError(c echo.Context, err error) error {
	var statusErr *upstream.StatusError
	if stderrors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized:
			return c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
				Error:   errors.UpstreamError,
				Message: "Invalid API credentials. Please check your API key and secret.",
				Code:    http.StatusUnauthorized,
			})
		case http.StatusBadRequest:
			return c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:   errors.UpstreamError,
				Message: statusErr.Message,
				Code:    http.StatusBadRequest,
			})
		default:
			log.Error().Err(err).Msg("Upstream broker API error")
			return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
				Error:   errors.UpstreamError,
				Message: statusErr.Error(),
				Code:    http.StatusInternalServerError,
			})
		}
	}

	var linkErr *errors.LinkError
	if stderrors.As(err, &linkErr) {
		status := http.StatusBadRequest
		switch linkErr.Code {
		case errors.ServerError, errors.UpstreamError:
			status = http.StatusInternalServerError
		case errors.OperationInFlight:
			status = http.StatusConflict
		}
		return c.JSON(status, dto.ErrorResponse{
			Error:   linkErr.Code,
			Message: linkErr.Description,
			Code:    status,
		})
	}

	log.Error().Err(err).Msg("Unhandled linking error")
	return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
		Error:   errors.ServerError,
		Message: err.Error(),
		Code:    http.StatusInternalServerError,
	})
}
