package service

import (
	"context"

	"github.com/evpower/balancehub/db/models"
)

func (svc *BalanceHubService) GetBalance(ctx context.Context, clientID string) (*BalanceView, error) {
	return svc.BalanceCache.Get(ctx, clientID)
}

// ListTransactions returns the client's ledger, newest first. The limit is
// clamped to TransactionHistoryMaxPage and defaults to TransactionHistoryLimit.
func (svc *BalanceHubService) ListTransactions(ctx context.Context, clientID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = svc.Config.TransactionHistoryLimit
	}
	if limit > svc.Config.TransactionHistoryMaxPage {
		limit = svc.Config.TransactionHistoryMaxPage
	}
	transactions, err := svc.Store.ListTransactions(ctx, clientID, limit)
	if err != nil {
		return nil, &StorageError{Op: "list transactions", Err: err}
	}
	return transactions, nil
}
