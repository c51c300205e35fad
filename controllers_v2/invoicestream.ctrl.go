package v2controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/evpower/balancehub/lib/responses"
	"github.com/evpower/balancehub/lib/service"
	"github.com/evpower/balancehub/lib/tokens"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

const keepaliveInterval = 30 * time.Second

// InvoiceStreamController : live invoice status over a websocket
type InvoiceStreamController struct {
	svc *service.BalanceHubService
}

func NewInvoiceStreamController(svc *service.BalanceHubService) *InvoiceStreamController {
	return &InvoiceStreamController{svc: svc}
}

type InvoiceEventWrapper struct {
	Type              string              `json:"type"`
	InvoiceID         string              `json:"invoice_id,omitempty"`
	Status            string              `json:"status,omitempty"`
	TransactionStatus string              `json:"transaction_status,omitempty"`
	BalanceAfter      decimal.NullDecimal `json:"balance_after"`
	Terminal          bool                `json:"terminal"`
	Error             string              `json:"error,omitempty"`
}

// StreamInvoice streams status updates of one invoice until it is terminal,
// the payment window closes or the client hangs up. Browsers cannot set
// headers on websocket requests, so the token comes as a query parameter.
func (controller *InvoiceStreamController) StreamInvoice(c echo.Context) error {
	clientID, err := tokens.ParseToken(controller.svc.Config.JWTSecret, c.QueryParam("token"))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, responses.BadAuthError)
	}
	ctx, cancelCtx := context.WithCancel(c.Request().Context())
	defer cancelCtx()
	events, cancel, err := controller.svc.WatchInvoice(ctx, clientID, c.Param("invoice_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	defer cancel()

	upgrader := websocket.Upgrader{}
	upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	//start listening for close messages
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, _, err := ws.ReadMessage()
			if err != nil {
				return
			}
		}
	}()

	//start with keepalive message
	err = ws.WriteJSON(&InvoiceEventWrapper{Type: "keepalive"})
	if err != nil {
		controller.svc.Logger.Error(err)
		return nil
	}
SocketLoop:
	for {
		select {
		case <-done:
			break SocketLoop
		case <-ticker.C:
			err := ws.WriteJSON(&InvoiceEventWrapper{Type: "keepalive"})
			if err != nil {
				controller.svc.Logger.Error(err)
				break SocketLoop
			}
		case event, ok := <-events:
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				break SocketLoop
			}
			err := ws.WriteJSON(&InvoiceEventWrapper{
				Type:              "invoice",
				InvoiceID:         event.InvoiceID,
				Status:            event.Status,
				TransactionStatus: event.TransactionStatus,
				BalanceAfter:      event.BalanceAfter,
				Terminal:          event.Terminal,
				Error:             event.Error,
			})
			if err != nil {
				controller.svc.Logger.Error(err)
				break SocketLoop
			}
		}
	}
	return nil
}
