package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/db/models"
	"github.com/evpower/balancehub/gateway"
	"github.com/evpower/balancehub/store"
	"github.com/getsentry/sentry-go"
	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
)

// ReconcileObservation applies a terminal gateway observation.
func (svc *BalanceHubService) ReconcileObservation(ctx context.Context, obs *gateway.StatusObservation) (Outcome, error) {
	return svc.Reconcile(ctx, obs.InvoiceID, obs.Status, obs.PaidAmount)
}

// Reconcile moves the invoice and its ledger entry to their terminal state
// exactly once. A paid invoice credits the client's balance in the same store
// transaction. Repeated or racing calls for the same invoice end with
// OutcomeDuplicate and change nothing.
func (svc *BalanceHubService) Reconcile(ctx context.Context, invoiceID, status string, paidAmount decimal.NullDecimal) (Outcome, error) {
	if !common.IsTerminalInvoiceStatus(status) {
		return "", fmt.Errorf("%w: %s", ErrNotTerminal, status)
	}
	if paidAmount.Valid && !paidAmount.Decimal.IsPositive() {
		reconciliations.WithLabelValues(status, "rejected").Inc()
		svc.Logger.Errorf("Refusing reconciliation with paid amount %s invoice_id:%s", paidAmount.Decimal, invoiceID)
		return "", fmt.Errorf("%w: paid amount %s for invoice %s", gateway.ErrInvalidResponse, paidAmount.Decimal, invoiceID)
	}
	start := time.Now()
	defer func() {
		reconciliationDuration.Observe(time.Since(start).Seconds())
	}()

	var event *models.TopUpEvent
	attempt := 0
	operation := func() error {
		attempt++
		applied, err := svc.applyTerminal(ctx, invoiceID, status, paidAmount)
		if err == nil {
			event = applied
			return nil
		}
		if errors.Is(err, ErrDuplicateReconciliation) || errors.Is(err, ErrInvoiceNotFound) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = svc.Config.ReconcileRetryMaxElapsed
	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		svc.Logger.Warnf("Reconciliation storage failure invoice_id:%s attempt:%d, retrying in %s: %v", invoiceID, attempt, wait, err)
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateReconciliation):
		reconciliations.WithLabelValues(status, string(OutcomeDuplicate)).Inc()
		svc.Logger.Infof("Invoice already reconciled invoice_id:%s observed_status:%s", invoiceID, status)
		return OutcomeDuplicate, nil
	case errors.Is(err, ErrInvoiceNotFound):
		reconciliations.WithLabelValues(status, "not_found").Inc()
		svc.Logger.Warnf("Reconciliation for unknown invoice_id:%s status:%s", invoiceID, status)
		return "", err
	default:
		// the entry stays pending for the pending-reconciliation job
		reconciliations.WithLabelValues(status, "escalated").Inc()
		reconciliationEscalations.Inc()
		storageErr := &StorageError{Op: "reconcile invoice " + invoiceID, Err: err}
		svc.Logger.Errorf("Reconciliation gave up invoice_id:%s status:%s attempts:%d: %v", invoiceID, status, attempt, err)
		sentry.CaptureException(storageErr)
		return "", storageErr
	}

	reconciliations.WithLabelValues(status, string(OutcomeApplied)).Inc()
	svc.Logger.Infof("Invoice reconciled invoice_id:%s client_id:%s status:%s transaction_status:%s", invoiceID, event.ClientID, status, event.TransactionStatus)
	svc.BalanceCache.Invalidate(ctx, event.ClientID)
	svc.publishTopUpEvent(*event)
	return OutcomeApplied, nil
}

func (svc *BalanceHubService) applyTerminal(ctx context.Context, invoiceID, status string, paidAmount decimal.NullDecimal) (*models.TopUpEvent, error) {
	invoice, err := svc.Store.FindInvoice(ctx, invoiceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	if common.IsTerminalInvoiceStatus(invoice.Status) {
		return nil, ErrDuplicateReconciliation
	}

	now := svc.Clock.Now()
	event := svc.topUpEvent(invoice, status)
	event.PaidAmount = paidAmount
	event.Terminal = true
	event.OccurredAt = now

	err = svc.Store.RunInTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		balance, err := tx.LockBalance(ctx, invoice.ClientID, invoice.Currency)
		if err != nil {
			return err
		}
		patch := store.TransactionPatch{
			Status:        common.TransactionStatusFailed,
			Amount:        invoice.Amount,
			BalanceBefore: balance.Amount,
			BalanceAfter:  balance.Amount,
		}
		if status == common.InvoiceStatusPaid {
			credit := invoice.Amount
			if paidAmount.Valid {
				if !paidAmount.Decimal.Equal(invoice.Amount) {
					svc.Logger.Warnf("Paid amount differs from invoice amount invoice_id:%s amount:%s paid_amount:%s", invoice.ID, invoice.Amount, paidAmount.Decimal)
				}
				credit = paidAmount.Decimal
			}
			patch.Status = common.TransactionStatusSuccess
			patch.Amount = credit
			patch.BalanceAfter = balance.Amount.Add(credit)
		}

		swapped, err := tx.CompareAndSwapTransaction(ctx, invoice.ID, common.TransactionStatusPending, patch)
		if err != nil {
			return err
		}
		if !swapped {
			return ErrDuplicateReconciliation
		}
		swapped, err = tx.CompareAndSwapInvoice(ctx, invoice.ID, common.InvoiceStatusPending, status, paidAmount, now)
		if err != nil {
			return err
		}
		if !swapped {
			return ErrDuplicateReconciliation
		}
		if patch.Status == common.TransactionStatusSuccess {
			if err := tx.WriteBalance(ctx, invoice.ClientID, patch.BalanceAfter, now); err != nil {
				return err
			}
			event.BalanceAfter = decimal.NewNullDecimal(patch.BalanceAfter)
		}
		event.TransactionStatus = patch.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (svc *BalanceHubService) topUpEvent(invoice *models.Invoice, status string) models.TopUpEvent {
	return models.TopUpEvent{
		InvoiceID:  invoice.ID,
		ClientID:   invoice.ClientID,
		Status:     status,
		Amount:     invoice.Amount,
		Terminal:   common.IsTerminalInvoiceStatus(status),
		Origin:     svc.InstanceID,
		OccurredAt: svc.Clock.Now(),
	}
}

// publishTopUpEvent notifies the invoice's watchers and, for terminal events,
// the fan-out consumers of TopicTopUps.
func (svc *BalanceHubService) publishTopUpEvent(event models.TopUpEvent) {
	if dropped := svc.InvoicePubSub.Publish(event.InvoiceID, event); dropped > 0 {
		svc.Logger.Warnf("Invoice watchers missed an update invoice_id:%s dropped:%d", event.InvoiceID, dropped)
	}
	if !event.Terminal || event.Error != "" {
		return
	}
	if dropped := svc.InvoicePubSub.Publish(TopicTopUps, event); dropped > 0 {
		svc.Logger.Errorf("Top-up event consumers missed an update invoice_id:%s dropped:%d", event.InvoiceID, dropped)
	}
}
