package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/evpower/balancehub/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/ziflex/lecho/v3"
)

func TestRateLimitIsPerClient(t *testing.T) {
	e := InitEcho(&service.Config{DefaultRateLimit: 1000}, lecho.New(io.Discard))
	setClient := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("ClientID", c.Request().Header.Get("X-Client"))
			return next(c)
		}
	}
	e.POST("/v2/topups", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, setClient, CreateRateLimitMiddleware(1, 1))

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/v2/topups", nil)
		req.Header.Set("X-Client", client)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusNoContent, send("client-1"))
	assert.Equal(t, http.StatusTooManyRequests, send("client-1"))
	assert.Equal(t, http.StatusNoContent, send("client-2"))
}
