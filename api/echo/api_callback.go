package echo

import (
	"fmt"
	"html"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.tradervault.io/brokerlink/domain"
)

const callbackPage = `<!DOCTYPE html>
<html>
<head><title>Broker Authentication</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h2>%s</h2>
<p>%s</p>
<p>You can close this window and return to the application.</p>
</body>
</html>`

// ConsentCallbackHandler handles the broker's redirect after the user
// approves the consent. It consumes the token server-side and renders a
// small result page. Manual token entry in the application remains the
// primary path; this endpoint is a convenience for redirect-based setups.
func (a *LinkingAPI) ConsentCallbackHandler(c echo.Context) error {
	broker, err := domain.ParseBroker(c.Param("broker"))
	if err != nil {
		return c.HTML(http.StatusBadRequest, fmt.Sprintf(callbackPage,
			"Authentication Failed", html.EscapeString(err.Error())))
	}

	tokenID := c.QueryParam("tokenId")
	userID := c.QueryParam("userId")
	if tokenID == "" || userID == "" {
		return c.HTML(http.StatusBadRequest, fmt.Sprintf(callbackPage,
			"Authentication Failed", "Missing tokenId or userId in the callback URL."))
	}

	result, err := a.service.ConsumeConsent(c.Request().Context(), userID, broker, tokenID)
	if err != nil {
		log.Warn().Err(err).
			Str("broker", string(broker)).
			Str("user_id", userID).
			Msg("Consent callback failed")
		return c.HTML(http.StatusBadRequest, fmt.Sprintf(callbackPage,
			"Authentication Failed", html.EscapeString(err.Error())))
	}

	detail := fmt.Sprintf("Account %s linked successfully.", html.EscapeString(result.ClientID))
	if result.ClientName != "" {
		detail = fmt.Sprintf("Welcome, %s. Your account is now linked.", html.EscapeString(result.ClientName))
	}

	return c.HTML(http.StatusOK, fmt.Sprintf(callbackPage, "Authentication Successful", detail))
}
