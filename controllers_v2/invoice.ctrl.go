package v2controllers

import (
	"net/http"

	"github.com/evpower/balancehub/lib/service"
	"github.com/labstack/echo/v4"
)

// InvoiceController : invoice status controller struct
type InvoiceController struct {
	svc *service.BalanceHubService
}

func NewInvoiceController(svc *service.BalanceHubService) *InvoiceController {
	return &InvoiceController{svc: svc}
}

// GetInvoice godoc
// @Summary      Retrieve a top-up invoice
// @Description  Returns the stored status of one of the client's invoices
// @Produce      json
// @Tags         Invoice
// @Param        invoice_id  path      string  true  "Invoice id"
// @Success      200         {object}  InvoiceResponseBody
// @Failure      404         {object}  responses.ErrorResponse
// @Router       /v2/invoices/{invoice_id} [get]
// @Security     OAuth2Password
func (controller *InvoiceController) GetInvoice(c echo.Context) error {
	clientID := c.Get("ClientID").(string)
	invoice, err := controller.svc.FindInvoice(c.Request().Context(), clientID, c.Param("invoice_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, invoiceResponse(invoice))
}
