package v2controllers

import (
	"net/http"
	"time"

	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/db/models"
	"github.com/evpower/balancehub/lib/responses"
	"github.com/evpower/balancehub/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// TopUpController : balance top-up controller struct
type TopUpController struct {
	svc *service.BalanceHubService
}

func NewTopUpController(svc *service.BalanceHubService) *TopUpController {
	return &TopUpController{svc: svc}
}

type CreateTopUpRequestBody struct {
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	Description string           `json:"description" validate:"max=255"`
}

type InvoiceResponseBody struct {
	InvoiceID   string              `json:"invoice_id"`
	Amount      decimal.Decimal     `json:"amount"`
	Currency    string              `json:"currency"`
	Description string              `json:"description,omitempty"`
	Status      string              `json:"status"`
	PaidAmount  decimal.NullDecimal `json:"paid_amount"`
	QRPayload   string              `json:"qr_payload,omitempty"`
	QRUrl       string              `json:"qr_url,omitempty"`
	PaymentUrl  string              `json:"payment_url,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
	IsPaid      bool                `json:"is_paid"`
}

func invoiceResponse(invoice *models.Invoice) *InvoiceResponseBody {
	return &InvoiceResponseBody{
		InvoiceID:   invoice.ID,
		Amount:      invoice.Amount,
		Currency:    invoice.Currency,
		Description: invoice.Description,
		Status:      invoice.Status,
		PaidAmount:  invoice.PaidAmount,
		QRPayload:   invoice.QRPayload,
		QRUrl:       invoice.QRUrl,
		PaymentUrl:  invoice.PaymentUrl,
		CreatedAt:   invoice.CreatedAt,
		ExpiresAt:   invoice.ExpiresAt,
		IsPaid:      invoice.Status == common.InvoiceStatusPaid,
	}
}

// CreateTopUp godoc
// @Summary      Request a balance top-up
// @Description  Issues a QR invoice at the payment gateway and starts watching it. Retries with the same Idempotency-Key return the same invoice.
// @Accept       json
// @Produce      json
// @Tags         TopUp
// @Param        Idempotency-Key  header    string                  false  "UUID, generated when missing"
// @Param        topup            body      CreateTopUpRequestBody  true   "Top-up"
// @Success      201              {object}  InvoiceResponseBody
// @Failure      400              {object}  responses.ErrorResponse
// @Failure      409              {object}  responses.ErrorResponse
// @Failure      503              {object}  responses.ErrorResponse
// @Router       /v2/topups [post]
// @Security     OAuth2Password
func (controller *TopUpController) CreateTopUp(c echo.Context) error {
	clientID := c.Get("ClientID").(string)
	var body CreateTopUpRequestBody

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load topup request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid topup request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	key := c.Request().Header.Get(common.IdempotencyKeyHeader)
	if key == "" {
		key = service.NewIdempotencyKey()
	}
	c.Response().Header().Set(common.IdempotencyKeyHeader, key)

	c.Logger().Infof("Requesting top-up: client_id:%s amount:%s key:%s", clientID, body.Amount, key)
	invoice, err := controller.svc.CreateTopUp(c.Request().Context(), service.TopUpRequest{
		ClientID:       clientID,
		Amount:         *body.Amount,
		Description:    body.Description,
		IdempotencyKey: key,
	})
	if err != nil {
		c.Logger().Errorf("Error requesting top-up: client_id:%s error: %v", clientID, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, invoiceResponse(invoice))
}

type CancelTopUpResponseBody struct {
	InvoiceID string `json:"invoice_id"`
	Canceled  bool   `json:"canceled"`
}

// CancelTopUp godoc
// @Summary      Stop watching a top-up
// @Description  Stops local polling of the invoice. The gateway invoice stays payable and is still reconciled by callbacks or the pending job.
// @Produce      json
// @Tags         TopUp
// @Param        invoice_id  path      string  true  "Invoice id"
// @Success      200         {object}  CancelTopUpResponseBody
// @Failure      404         {object}  responses.ErrorResponse
// @Router       /v2/topups/{invoice_id} [delete]
// @Security     OAuth2Password
func (controller *TopUpController) CancelTopUp(c echo.Context) error {
	clientID := c.Get("ClientID").(string)
	invoiceID := c.Param("invoice_id")
	canceled, err := controller.svc.CancelMonitoring(c.Request().Context(), clientID, invoiceID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, &CancelTopUpResponseBody{InvoiceID: invoiceID, Canceled: canceled})
}
