package tokens

import (
	"net/http"

	"github.com/evpower/balancehub/lib/responses"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// AdminTokenMiddleware guards the operator routes, such as the on-demand
// pending reconciliation, with a static bearer token. Failures answer with
// the same bad-auth body as client tokens.
func AdminTokenMiddleware(token string) echo.MiddlewareFunc {
	if token == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}
	config := middleware.DefaultKeyAuthConfig
	config.Validator = func(auth string, c echo.Context) (bool, error) {
		return auth == token, nil
	}
	config.ErrorHandler = func(err error, c echo.Context) error {
		c.Logger().Warnf("Rejected admin request from %s: %v", c.RealIP(), err)
		return echo.NewHTTPError(http.StatusUnauthorized, responses.BadAuthError)
	}
	return middleware.KeyAuthWithConfig(config)
}
