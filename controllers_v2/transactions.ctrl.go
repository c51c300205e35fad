package v2controllers

import (
	"net/http"
	"strconv"

	"github.com/evpower/balancehub/db/models"
	"github.com/evpower/balancehub/lib/responses"
	"github.com/evpower/balancehub/lib/service"
	"github.com/labstack/echo/v4"
)

// TransactionsController : ledger history controller struct
type TransactionsController struct {
	svc *service.BalanceHubService
}

func NewTransactionsController(svc *service.BalanceHubService) *TransactionsController {
	return &TransactionsController{svc: svc}
}

type GetTransactionsResponseBody struct {
	Transactions []models.Transaction `json:"transactions"`
}

// GetTransactions godoc
// @Summary      Retrieve ledger entries
// @Description  Returns the client's transactions, newest first
// @Produce      json
// @Tags         Account
// @Param        limit  query     int  false  "Page size, defaults to 20, at most 100"
// @Success      200    {object}  GetTransactionsResponseBody
// @Failure      400    {object}  responses.ErrorResponse
// @Router       /v2/transactions [get]
// @Security     OAuth2Password
func (controller *TransactionsController) GetTransactions(c echo.Context) error {
	clientID := c.Get("ClientID").(string)
	limit := 0
	if c.QueryParams().Has("limit") {
		var err error
		limit, err = strconv.Atoi(c.QueryParam("limit"))
		if err != nil || limit < 0 {
			c.Logger().Debugf("Invalid limit %q for client_id:%s", c.QueryParam("limit"), clientID)
			return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
		}
	}
	transactions, err := controller.svc.ListTransactions(c.Request().Context(), clientID, limit)
	if err != nil {
		return errorResponse(c, err)
	}
	if transactions == nil {
		transactions = []models.Transaction{}
	}
	return c.JSON(http.StatusOK, &GetTransactionsResponseBody{Transactions: transactions})
}
