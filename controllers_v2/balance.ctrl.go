package v2controllers

import (
	"net/http"

	"github.com/evpower/balancehub/lib/service"
	"github.com/labstack/echo/v4"
)

// BalanceController : BalanceController struct
type BalanceController struct {
	svc *service.BalanceHubService
}

func NewBalanceController(svc *service.BalanceHubService) *BalanceController {
	return &BalanceController{svc: svc}
}

// Balance godoc
// @Summary      Retrieve balance
// @Description  Current client's balance. stale is set when the value comes from the cache because the ledger is unreachable.
// @Accept       json
// @Produce      json
// @Tags         Account
// @Success      200  {object}  service.BalanceView
// @Failure      503  {object}  responses.ErrorResponse
// @Router       /v2/balance [get]
// @Security     OAuth2Password
func (controller *BalanceController) Balance(c echo.Context) error {
	clientID := c.Get("ClientID").(string)
	balance, err := controller.svc.GetBalance(c.Request().Context(), clientID)
	if err != nil {
		c.Logger().Errorf("Error fetching balance for client_id:%s error: %v", clientID, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, balance)
}
