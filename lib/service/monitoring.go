package service

import (
	"context"
	"errors"

	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/db/models"
	"github.com/evpower/balancehub/gateway"
	"github.com/evpower/balancehub/store"
)

// StartMonitoring polls the invoice in the background. A terminal observation
// is reconciled, a timeout is reported to the invoice's watchers and leaves
// the ledger entry pending.
func (svc *BalanceHubService) StartMonitoring(invoice models.Invoice) CancelFunc {
	onTerminal := func(ctx context.Context, obs *gateway.StatusObservation) {
		if _, err := svc.ReconcileObservation(ctx, obs); err != nil {
			svc.Logger.Errorf("Failed to reconcile polled invoice_id:%s status:%s: %v", obs.InvoiceID, obs.Status, err)
		}
	}
	onError := func(invoice *models.Invoice, err error) {
		event := svc.topUpEvent(invoice, common.InvoiceStatusPending)
		event.TransactionStatus = common.TransactionStatusPending
		event.Error = err.Error()
		svc.publishTopUpEvent(event)
	}
	onTick := func(invoice *models.Invoice, obs *gateway.StatusObservation, err error) {
		if err != nil || svc.InvoicePubSub.Subscribers(invoice.ID) == 0 {
			return
		}
		event := svc.topUpEvent(invoice, obs.Status)
		event.TransactionStatus = common.TransactionStatusPending
		svc.publishTopUpEvent(event)
	}
	return svc.Poller.Monitor(invoice, onTerminal, onError, WithTickHandler(onTick))
}

// CancelMonitoring stops polling one of the client's invoices. The gateway
// invoice itself is left alone, a later callback or the pending job may still
// reconcile it.
func (svc *BalanceHubService) CancelMonitoring(ctx context.Context, clientID, invoiceID string) (bool, error) {
	if _, err := svc.FindInvoice(ctx, clientID, invoiceID); err != nil {
		return false, err
	}
	canceled := svc.Poller.Cancel(invoiceID)
	if canceled {
		svc.Logger.Infof("Stopped monitoring invoice_id:%s client_id:%s", invoiceID, clientID)
	}
	return canceled, nil
}

// ResumeMonitoring restarts monitors for pending invoices that are young
// enough to still be inside their polling window, typically after a restart.
func (svc *BalanceHubService) ResumeMonitoring(ctx context.Context) (int, error) {
	invoices, err := svc.Store.PendingInvoices(ctx, svc.Clock.Now())
	if err != nil {
		return 0, &StorageError{Op: "list pending invoices", Err: err}
	}
	since := svc.Clock.Now().Add(-svc.Config.PollMaxWait)
	resumed := 0
	for _, invoice := range invoices {
		if invoice.CreatedAt.Before(since) || svc.Poller.Monitoring(invoice.ID) {
			continue
		}
		svc.StartMonitoring(invoice)
		resumed++
	}
	svc.Logger.Infof("Resumed monitoring of %d pending invoices", resumed)
	return resumed, nil
}

// HandleGatewayCallback reconciles a status pushed by the gateway. Non
// terminal pushes are forwarded to watchers only.
func (svc *BalanceHubService) HandleGatewayCallback(ctx context.Context, payload *gateway.StatusPayload) (Outcome, error) {
	obs, err := payload.Observation(svc.Clock.Now())
	if err != nil {
		return "", err
	}
	if !obs.Terminal() {
		invoice, err := svc.Store.FindInvoice(ctx, obs.InvoiceID)
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvoiceNotFound
		}
		if err != nil {
			return "", &StorageError{Op: "find invoice", Err: err}
		}
		event := svc.topUpEvent(invoice, obs.Status)
		event.TransactionStatus = common.TransactionStatusPending
		svc.publishTopUpEvent(event)
		return "", ErrNotTerminal
	}
	outcome, err := svc.ReconcileObservation(ctx, obs)
	if err != nil {
		return "", err
	}
	if outcome == OutcomeApplied && svc.Poller.Cancel(obs.InvoiceID) {
		svc.Logger.Infof("Stopped polling after gateway callback invoice_id:%s", obs.InvoiceID)
	}
	return outcome, nil
}

// WatchInvoice streams lifecycle events of the client's invoice. The channel
// closes after the terminal event, after a timeout event, or when cancel is
// called.
func (svc *BalanceHubService) WatchInvoice(ctx context.Context, clientID, invoiceID string) (<-chan models.TopUpEvent, func(), error) {
	if _, err := svc.FindInvoice(ctx, clientID, invoiceID); err != nil {
		return nil, nil, err
	}
	updates := make(chan models.TopUpEvent, 8)
	subId := svc.InvoicePubSub.Subscribe(invoiceID, updates)

	// reconciliation may have happened before the subscription
	invoice, err := svc.FindInvoice(ctx, clientID, invoiceID)
	if err != nil {
		svc.InvoicePubSub.Unsubscribe(subId, invoiceID)
		return nil, nil, err
	}

	out := make(chan models.TopUpEvent, 1)
	done := make(chan struct{})
	cancel := func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}
	go func() {
		defer close(out)
		defer svc.InvoicePubSub.Unsubscribe(subId, invoiceID)

		if common.IsTerminalInvoiceStatus(invoice.Status) {
			event := svc.topUpEvent(invoice, invoice.Status)
			event.PaidAmount = invoice.PaidAmount
			if transaction, err := svc.Store.FindTransactionByInvoice(ctx, invoiceID); err == nil {
				event.TransactionStatus = transaction.Status
			}
			deliver(ctx, done, out, event)
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case event := <-updates:
				if !deliver(ctx, done, out, event) || event.Terminal || event.Error != "" {
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

func deliver(ctx context.Context, done <-chan struct{}, out chan<- models.TopUpEvent, event models.TopUpEvent) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
	case <-done:
	}
	return false
}

// IsClientError reports errors caused by the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidIdempotencyKey) ||
		errors.Is(err, ErrIdempotencyConflict) ||
		errors.Is(err, ErrIdempotencyMismatch) ||
		errors.Is(err, ErrInvoiceNotFound)
}
