package v2controllers

import (
	"errors"

	"github.com/evpower/balancehub/gateway"
	"github.com/evpower/balancehub/lib/responses"
	"github.com/evpower/balancehub/lib/service"
	"github.com/labstack/echo/v4"
)

// errorResponse maps service errors onto the response table. Errors without a
// mapping are returned as-is and end up in responses.HTTPErrorHandler.
func errorResponse(c echo.Context, err error) error {
	var response responses.ErrorResponse
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		response = responses.InvalidAmountError
		response.Message = err.Error()
	case errors.Is(err, service.ErrInvalidIdempotencyKey):
		response = responses.InvalidIdempotencyKeyError
	case errors.Is(err, service.ErrIdempotencyConflict):
		response = responses.IdempotencyConflictError
	case errors.Is(err, service.ErrIdempotencyMismatch):
		response = responses.IdempotencyMismatchError
	case errors.Is(err, service.ErrInvoiceNotFound):
		response = responses.InvoiceNotFoundError
	case gateway.IsNetworkError(err):
		response = responses.GatewayUnavailableError
	case gateway.IsGatewayError(err):
		response = responses.GatewayRejectedError
		var gatewayErr *gateway.GatewayError
		if errors.As(err, &gatewayErr) && gatewayErr.Message != "" {
			response.Message = gatewayErr.Message
		}
	case service.IsStorageError(err):
		c.Logger().Errorf("Storage unavailable: %v", err)
		return c.JSON(responses.StorageUnavailableError.HttpStatusCode, responses.StorageUnavailableError)
	default:
		return err
	}
	return c.JSON(response.HttpStatusCode, response)
}
