package v2controllers

import (
	"net/http"

	"github.com/evpower/balancehub/lib/service"
	"github.com/labstack/echo/v4"
)

// AdminController : operator endpoints
type AdminController struct {
	svc *service.BalanceHubService
}

func NewAdminController(svc *service.BalanceHubService) *AdminController {
	return &AdminController{svc: svc}
}

// ReconcilePending godoc
// @Summary      Resolve stuck top-ups
// @Description  Runs the pending reconciliation job once and returns its report
// @Produce      json
// @Tags         Admin
// @Success      200  {object}  service.PendingReport
// @Failure      503  {object}  responses.ErrorResponse
// @Router       /v2/admin/reconcile-pending [post]
func (controller *AdminController) ReconcilePending(c echo.Context) error {
	report, err := controller.svc.ReconcilePending(c.Request().Context())
	if err != nil {
		c.Logger().Errorf("Pending reconciliation failed: %v", err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, report)
}
