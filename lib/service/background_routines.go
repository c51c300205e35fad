package service

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
)

// StartPendingReconcileRoutine runs ReconcilePending every
// PendingReconcileInterval until ctx is done.
func (svc *BalanceHubService) StartPendingReconcileRoutine(ctx context.Context) error {
	ticker := time.NewTicker(svc.Config.PendingReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			if _, err := svc.ReconcilePending(ctx); err != nil && ctx.Err() == nil {
				sentry.CaptureException(err)
				svc.Logger.Errorf("Pending reconciliation run failed: %v", err)
			}
		}
	}
}

// StartMonitoringRoutine resumes the monitors lost by a restart and stops
// every monitor once ctx is done.
func (svc *BalanceHubService) StartMonitoringRoutine(ctx context.Context) error {
	if _, err := svc.ResumeMonitoring(ctx); err != nil {
		sentry.CaptureException(err)
		svc.Logger.Errorf("Failed to resume monitoring: %v", err)
	}
	<-ctx.Done()
	svc.Poller.StopAll()
	return context.Canceled
}
