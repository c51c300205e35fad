package responses

import (
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error          bool   `json:"error"`
	Code           int    `json:"code"`
	Message        string `json:"message"`
	HttpStatusCode int    `json:"-"`
}

var GeneralServerError = ErrorResponse{
	Error:          true,
	Code:           6,
	Message:        "Something went wrong. Please try again later",
	HttpStatusCode: 500,
}

var BadArgumentsError = ErrorResponse{
	Error:          true,
	Code:           8,
	Message:        "Bad arguments",
	HttpStatusCode: 400,
}

var BadAuthError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "bad auth",
	HttpStatusCode: 401,
}

var BadSignatureError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "bad signature",
	HttpStatusCode: 401,
}

var InvalidAmountError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "invalid amount",
	HttpStatusCode: 400,
}

var InvalidIdempotencyKeyError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "invalid idempotency key, expected a UUID",
	HttpStatusCode: 400,
}

var IdempotencyConflictError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "a top-up with this idempotency key is already in progress",
	HttpStatusCode: 409,
}

var IdempotencyMismatchError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "idempotency key was already used for a different top-up",
	HttpStatusCode: 422,
}

var InvoiceNotFoundError = ErrorResponse{
	Error:          true,
	Code:           4,
	Message:        "invoice not found",
	HttpStatusCode: 404,
}

var GatewayRejectedError = ErrorResponse{
	Error:          true,
	Code:           5,
	Message:        "the payment gateway rejected the request",
	HttpStatusCode: 502,
}

var GatewayUnavailableError = ErrorResponse{
	Error:          true,
	Code:           5,
	Message:        "the payment gateway is unavailable. Please try again with the same idempotency key",
	HttpStatusCode: 503,
}

var StorageUnavailableError = ErrorResponse{
	Error:          true,
	Code:           7,
	Message:        "balance storage is unavailable. Please try again later",
	HttpStatusCode: 503,
}

var TooManyRequestsError = ErrorResponse{
	Error:          true,
	Code:           10,
	Message:        "too many requests",
	HttpStatusCode: 429,
}

func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	c.Logger().Error(err)
	if isErrAllowedForSentry(err) {
		if hub := sentryecho.GetHubFromContext(c); hub != nil {
			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetExtra("ClientID", c.Get("ClientID"))
				hub.CaptureException(err)
			})
		}
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		c.JSON(he.Code, he.Message)
		return
	}
	c.JSON(http.StatusInternalServerError, GeneralServerError)
}

// bad auth responses are client noise, not failures
func isErrAllowedForSentry(err error) bool {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return true
	}
	switch message := he.Message.(type) {
	case ErrorResponse:
		return message.Code != BadAuthError.Code
	case echo.Map:
		if code, ok := message["code"].(int); ok {
			return code != BadAuthError.Code
		}
	}
	return true
}
