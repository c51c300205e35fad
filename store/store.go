package store

import (
	"context"
	"errors"
	"time"

	"github.com/evpower/balancehub/db/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("store: record not found")
	ErrDuplicate = errors.New("store: duplicate record")
)

// Store is the authoritative balance store and transaction ledger.
type Store interface {
	// ReadBalance returns a zero balance for clients that never had one.
	ReadBalance(ctx context.Context, clientID string) (*models.Balance, error)
	// InsertTopUp writes the invoice and its pending ledger entry atomically.
	InsertTopUp(ctx context.Context, invoice *models.Invoice, transaction *models.Transaction) error
	FindInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error)
	FindInvoiceByIdempotencyKey(ctx context.Context, clientID, key string) (*models.Invoice, error)
	FindTransactionByInvoice(ctx context.Context, invoiceID string) (*models.Transaction, error)
	// ListTransactions returns the client's ledger entries, newest first.
	ListTransactions(ctx context.Context, clientID string, limit int) ([]models.Transaction, error)
	PendingInvoices(ctx context.Context, createdBefore time.Time) ([]models.Invoice, error)
	// RunInTx commits everything fn wrote when fn returns nil and discards it otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

// TransactionPatch is the terminal state written to a pending ledger entry.
type TransactionPatch struct {
	Status        string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
}

type LedgerTx interface {
	// LockBalance creates a zero balance row if absent and holds it until commit.
	LockBalance(ctx context.Context, clientID, currency string) (*models.Balance, error)
	WriteBalance(ctx context.Context, clientID string, amount decimal.Decimal, at time.Time) error
	// CompareAndSwapInvoice moves the invoice from one status to another and
	// reports false when the invoice was not in the expected status.
	CompareAndSwapInvoice(ctx context.Context, invoiceID, from, to string, paidAmount decimal.NullDecimal, at time.Time) (bool, error)
	CompareAndSwapTransaction(ctx context.Context, invoiceID, from string, patch TransactionPatch) (bool, error)
}
