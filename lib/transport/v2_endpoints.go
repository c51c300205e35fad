package transport

import (
	v2controllers "github.com/evpower/balancehub/controllers_v2"
	"github.com/evpower/balancehub/lib/service"
	"github.com/labstack/echo/v4"
)

func RegisterV2Endpoints(svc *service.BalanceHubService, e *echo.Echo, secured *echo.Group, securedWithStrictRateLimit *echo.Group, adminMw echo.MiddlewareFunc, logMw echo.MiddlewareFunc) {
	topUpCtrl := v2controllers.NewTopUpController(svc)
	invoiceCtrl := v2controllers.NewInvoiceController(svc)

	securedWithStrictRateLimit.POST("/v2/topups", topUpCtrl.CreateTopUp)
	secured.DELETE("/v2/topups/:invoice_id", topUpCtrl.CancelTopUp)
	secured.GET("/v2/invoices/:invoice_id", invoiceCtrl.GetInvoice)
	secured.GET("/v2/balance", v2controllers.NewBalanceController(svc).Balance)
	secured.GET("/v2/transactions", v2controllers.NewTransactionsController(svc).GetTransactions)

	// the stream authenticates with a token query parameter
	e.GET("/v2/invoices/:invoice_id/stream", v2controllers.NewInvoiceStreamController(svc).StreamInvoice, logMw)

	// unsigned callbacks are never accepted
	if svc.Config.GatewayCallbackSecret != "" {
		e.POST("/v2/gateway/callback", v2controllers.NewGatewayCallbackController(svc).Callback, logMw)
	}
	//require admin token for operator endpoints
	if svc.Config.AdminToken != "" {
		e.POST("/v2/admin/reconcile-pending", v2controllers.NewAdminController(svc).ReconcilePending, adminMw, logMw)
	}
	e.GET("/health", v2controllers.NewHealthController().Check)
}
