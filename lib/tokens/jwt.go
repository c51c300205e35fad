package tokens

import (
	"errors"
	"net/http"
	"time"

	"github.com/evpower/balancehub/lib/responses"
	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const clientIDClaim = "client_id"

var ErrMissingClientID = errors.New("token carries no client id")

// Middleware validates the bearer token and stores the client id under
// "ClientID" for the controllers and the logging middleware.
func Middleware(secret []byte) echo.MiddlewareFunc {
	config := middleware.DefaultJWTConfig
	config.ContextKey = "ClientJwt"
	config.SigningKey = secret
	config.ErrorHandlerWithContext = func(err error, c echo.Context) error {
		c.Logger().Debugf("Invalid bearer token: %v", err)
		return echo.NewHTTPError(http.StatusUnauthorized, responses.BadAuthError)
	}
	config.SuccessHandler = func(c echo.Context) {
		token := c.Get("ClientJwt").(*jwt.Token)
		claims := token.Claims.(jwt.MapClaims)
		if clientID, ok := claims[clientIDClaim].(string); ok {
			c.Set("ClientID", clientID)
		}
	}
	jwtMw := middleware.JWTWithConfig(config)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return jwtMw(func(c echo.Context) error {
			if _, ok := c.Get("ClientID").(string); !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, responses.BadAuthError)
			}
			return next(c)
		})
	}
}

// ParseToken returns the client id of a signed token. Websocket clients cannot
// send headers, so the stream endpoint passes the token as a query parameter.
func ParseToken(secret []byte, token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	clientID, ok := claims[clientIDClaim].(string)
	if !ok || clientID == "" {
		return "", ErrMissingClientID
	}
	return clientID, nil
}

// GenerateAccessToken signs a token for the given client. The charging
// platform's identity service issues tokens in production; this is used by
// tests and operator tooling.
func GenerateAccessToken(secret []byte, expiryInSeconds int, clientID string) (string, error) {
	claims := jwt.MapClaims{
		clientIDClaim: clientID,
		"exp":         time.Now().Add(time.Second * time.Duration(expiryInSeconds)).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t, err := token.SignedString(secret)
	if err != nil {
		return "", err
	}
	return t, nil
}
