package v2controllers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/evpower/balancehub/gateway"
	"github.com/evpower/balancehub/lib/responses"
	"github.com/evpower/balancehub/lib/service"
	"github.com/labstack/echo/v4"
)

const SignatureHeader = "X-Gateway-Signature"

// GatewayCallbackController : receives status pushes from the payment gateway
type GatewayCallbackController struct {
	svc *service.BalanceHubService
}

func NewGatewayCallbackController(svc *service.BalanceHubService) *GatewayCallbackController {
	return &GatewayCallbackController{svc: svc}
}

type GatewayCallbackResponseBody struct {
	InvoiceID string `json:"invoice_id"`
	Result    string `json:"result"`
}

// Sign returns the hex HMAC-SHA256 of the body, the value the gateway puts
// in the X-Gateway-Signature header.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret, body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Callback reconciles a signed status push. Anything but a 2xx makes the
// gateway retry, so a storage failure answers 503.
func (controller *GatewayCallbackController) Callback(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		c.Logger().Errorf("Failed to read gateway callback body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if !validSignature([]byte(controller.svc.Config.GatewayCallbackSecret), body, c.Request().Header.Get(SignatureHeader)) {
		c.Logger().Warnf("Rejected gateway callback with invalid signature from %s", c.RealIP())
		return c.JSON(http.StatusUnauthorized, responses.BadSignatureError)
	}

	var payload gateway.StatusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.Logger().Errorf("Failed to decode gateway callback: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&payload); err != nil {
		c.Logger().Errorf("Invalid gateway callback: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	outcome, err := controller.svc.HandleGatewayCallback(c.Request().Context(), &payload)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, &GatewayCallbackResponseBody{InvoiceID: payload.InvoiceID, Result: string(outcome)})
	case errors.Is(err, service.ErrNotTerminal):
		return c.JSON(http.StatusAccepted, &GatewayCallbackResponseBody{InvoiceID: payload.InvoiceID, Result: "pending"})
	case errors.Is(err, gateway.ErrUnrecognizedStatus), errors.Is(err, gateway.ErrInvalidResponse):
		c.Logger().Errorf("Unrecognized gateway callback invoice_id:%s: %v", payload.InvoiceID, err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	default:
		c.Logger().Errorf("Failed to handle gateway callback invoice_id:%s: %v", payload.InvoiceID, err)
		return errorResponse(c, err)
	}
}
