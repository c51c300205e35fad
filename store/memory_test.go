package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/db/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingTopUp(id, clientID, key string, amount int64) (*models.Invoice, *models.Transaction) {
	invoice := &models.Invoice{
		ID:             id,
		ClientID:       clientID,
		Amount:         decimal.NewFromInt(amount),
		Currency:       common.DefaultCurrency,
		Status:         common.InvoiceStatusPending,
		IdempotencyKey: key,
		ExpiresAt:      time.Now().Add(10 * time.Minute),
	}
	transaction := &models.Transaction{
		ClientID:      clientID,
		Type:          common.TransactionTypeTopUp,
		Amount:        decimal.NewFromInt(amount),
		BalanceBefore: decimal.Zero,
		BalanceAfter:  decimal.Zero,
		Status:        common.TransactionStatusPending,
		PaymentMethod: common.PaymentMethodQR,
	}
	return invoice, transaction
}

func TestMemoryStoreInsertTopUpRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	invoice, transaction := pendingTopUp("inv-1", "client-1", "key-1", 100)
	require.NoError(t, s.InsertTopUp(ctx, invoice, transaction))
	assert.Equal(t, "inv-1", transaction.InvoiceID)
	assert.NotZero(t, transaction.ID)

	again, againTx := pendingTopUp("inv-2", "client-1", "key-1", 100)
	assert.ErrorIs(t, s.InsertTopUp(ctx, again, againTx), ErrDuplicate)

	// the same key is free for another client
	other, otherTx := pendingTopUp("inv-3", "client-2", "key-1", 100)
	assert.NoError(t, s.InsertTopUp(ctx, other, otherTx))

	found, err := s.FindInvoiceByIdempotencyKey(ctx, "client-1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", found.ID)
}

func TestMemoryStoreRunInTxDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	invoice, transaction := pendingTopUp("inv-1", "client-1", "key-1", 100)
	require.NoError(t, s.InsertTopUp(ctx, invoice, transaction))

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		if _, err := tx.LockBalance(ctx, "client-1", common.DefaultCurrency); err != nil {
			return err
		}
		if err := tx.WriteBalance(ctx, "client-1", decimal.NewFromInt(100), time.Now()); err != nil {
			return err
		}
		ok, err := tx.CompareAndSwapInvoice(ctx, "inv-1", common.InvoiceStatusPending, common.InvoiceStatusPaid, decimal.NullDecimal{}, time.Now())
		assert.True(t, ok)
		assert.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	balance, err := s.ReadBalance(ctx, "client-1")
	require.NoError(t, err)
	assert.True(t, balance.Amount.IsZero())
	stored, err := s.FindInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, common.InvoiceStatusPending, stored.Status)
}

func TestMemoryStoreCompareAndSwapOnlyFromExpectedStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	invoice, transaction := pendingTopUp("inv-1", "client-1", "key-1", 100)
	require.NoError(t, s.InsertTopUp(ctx, invoice, transaction))

	patch := TransactionPatch{
		Status:        common.TransactionStatusFailed,
		Amount:        decimal.NewFromInt(100),
		BalanceBefore: decimal.Zero,
		BalanceAfter:  decimal.Zero,
	}
	var first, second bool
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		var err error
		first, err = tx.CompareAndSwapTransaction(ctx, "inv-1", common.TransactionStatusPending, patch)
		return err
	}))
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		var err error
		second, err = tx.CompareAndSwapTransaction(ctx, "inv-1", common.TransactionStatusPending, patch)
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	stored, err := s.FindTransactionByInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, common.TransactionStatusFailed, stored.Status)
}

func TestMemoryStoreListTransactionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"inv-1", "inv-2", "inv-3"} {
		invoice, transaction := pendingTopUp(id, "client-1", id, 100)
		transaction.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.InsertTopUp(ctx, invoice, transaction))
	}
	s.InsertTransaction(&models.Transaction{
		ClientID:  "client-1",
		Type:      common.TransactionTypeCharge,
		Amount:    decimal.NewFromInt(-50),
		Status:    common.TransactionStatusSuccess,
		CreatedAt: base.Add(time.Hour),
	})

	transactions, err := s.ListTransactions(ctx, "client-1", 3)
	require.NoError(t, err)
	require.Len(t, transactions, 3)
	assert.Equal(t, common.TransactionTypeCharge, transactions[0].Type)
	assert.Equal(t, "inv-3", transactions[1].InvoiceID)
	assert.Equal(t, "inv-2", transactions[2].InvoiceID)

	none, err := s.ListTransactions(ctx, "client-2", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStorePendingInvoices(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	old, oldTx := pendingTopUp("inv-old", "client-1", "k1", 100)
	old.CreatedAt = time.Now().Add(-time.Hour)
	fresh, freshTx := pendingTopUp("inv-fresh", "client-1", "k2", 100)
	require.NoError(t, s.InsertTopUp(ctx, old, oldTx))
	require.NoError(t, s.InsertTopUp(ctx, fresh, freshTx))

	pending, err := s.PendingInvoices(ctx, time.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "inv-old", pending[0].ID)
}
