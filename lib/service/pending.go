package service

import (
	"context"

	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/gateway"
)

// PendingReport summarizes one run of the pending-reconciliation job.
type PendingReport struct {
	Checked     int `json:"checked"`
	Reconciled  int `json:"reconciled"`
	Duplicates  int `json:"duplicates"`
	StillActive int `json:"still_pending"`
	Failed      int `json:"failed"`
}

// ReconcilePending resolves invoices that stayed pending for longer than
// PendingReconcileAge, usually because their monitor timed out or the
// process restarted. The gateway is asked once per invoice. An invoice past
// its expiry that the gateway still reports as pending is reconciled expired.
func (svc *BalanceHubService) ReconcilePending(ctx context.Context) (*PendingReport, error) {
	cutoff := svc.Clock.Now().Add(-svc.Config.PendingReconcileAge)
	invoices, err := svc.Store.PendingInvoices(ctx, cutoff)
	if err != nil {
		return nil, &StorageError{Op: "list pending invoices", Err: err}
	}
	svc.Logger.Infof("Pending reconciliation: found %d pending invoices created before %s", len(invoices), cutoff)

	report := &PendingReport{}
	for i := range invoices {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		invoice := &invoices[i]
		report.Checked++
		if svc.Poller.Monitoring(invoice.ID) {
			report.StillActive++
			continue
		}

		obs, err := svc.Gateway.GetInvoiceStatus(ctx, invoice.ID)
		switch {
		case err == nil:
		case gateway.IsNetworkError(err):
			// an unreachable gateway never expires an invoice, try next run
			svc.Logger.Warnf("Pending reconciliation: gateway unreachable invoice_id:%s: %v", invoice.ID, err)
			report.StillActive++
			continue
		default:
			svc.Logger.Errorf("Pending reconciliation: failed to read status invoice_id:%s: %v", invoice.ID, err)
			report.Failed++
			continue
		}

		if !obs.Terminal() {
			if !invoice.ExpiredAt(svc.Clock.Now()) {
				report.StillActive++
				continue
			}
			obs.Status = common.InvoiceStatusExpired
		}

		outcome, err := svc.ReconcileObservation(ctx, obs)
		switch {
		case err != nil:
			report.Failed++
		case outcome == OutcomeDuplicate:
			report.Duplicates++
		default:
			report.Reconciled++
		}
	}
	svc.Logger.Infof("Pending reconciliation done checked:%d reconciled:%d duplicates:%d still_pending:%d failed:%d",
		report.Checked, report.Reconciled, report.Duplicates, report.StillActive, report.Failed)
	return report, nil
}
