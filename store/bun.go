package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/db/models"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const pgUniqueViolation = "23505"

// BunStore keeps balances, invoices and ledger entries in Postgres.
type BunStore struct {
	db *bun.DB
}

func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db}
}

func (s *BunStore) DB() *bun.DB { return s.db }

func (s *BunStore) ReadBalance(ctx context.Context, clientID string) (*models.Balance, error) {
	balance := &models.Balance{}
	err := s.db.NewSelect().Model(balance).Where("client_id = ?", clientID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Balance{ClientID: clientID, Amount: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (s *BunStore) InsertTopUp(ctx context.Context, invoice *models.Invoice, transaction *models.Transaction) error {
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(invoice).Exec(ctx); err != nil {
			return err
		}
		transaction.InvoiceID = invoice.ID
		_, err := tx.NewInsert().Model(transaction).Returning("id, created_at").Exec(ctx)
		return err
	})
	return translateError(err)
}

func (s *BunStore) FindInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	invoice := &models.Invoice{}
	err := s.db.NewSelect().Model(invoice).Where("id = ?", invoiceID).Limit(1).Scan(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	return invoice, nil
}

func (s *BunStore) FindInvoiceByIdempotencyKey(ctx context.Context, clientID, key string) (*models.Invoice, error) {
	invoice := &models.Invoice{}
	err := s.db.NewSelect().Model(invoice).
		Where("client_id = ? AND idempotency_key = ?", clientID, key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	return invoice, nil
}

func (s *BunStore) FindTransactionByInvoice(ctx context.Context, invoiceID string) (*models.Transaction, error) {
	transaction := &models.Transaction{}
	err := s.db.NewSelect().Model(transaction).Where("invoice_id = ?", invoiceID).Limit(1).Scan(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	return transaction, nil
}

func (s *BunStore) ListTransactions(ctx context.Context, clientID string, limit int) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	err := s.db.NewSelect().Model(&transactions).
		Where("client_id = ?", clientID).
		OrderExpr("created_at DESC, id DESC").
		Limit(limit).
		Scan(ctx)
	return transactions, err
}

func (s *BunStore) PendingInvoices(ctx context.Context, createdBefore time.Time) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	err := s.db.NewSelect().Model(&invoices).
		Where("status = ? AND created_at < ?", common.InvoiceStatusPending, createdBefore).
		Order("created_at ASC").
		Scan(ctx)
	return invoices, err
}

func (s *BunStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &bunLedgerTx{tx: tx})
	})
}

type bunLedgerTx struct {
	tx bun.Tx
}

func (l *bunLedgerTx) LockBalance(ctx context.Context, clientID, currency string) (*models.Balance, error) {
	_, err := l.tx.NewInsert().
		Model(&models.Balance{ClientID: clientID, Amount: decimal.Zero, Currency: currency, LastUpdated: time.Now()}).
		On("CONFLICT (client_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	balance := &models.Balance{}
	err = l.tx.NewSelect().Model(balance).Where("client_id = ?", clientID).For("UPDATE").Scan(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	return balance, nil
}

func (l *bunLedgerTx) WriteBalance(ctx context.Context, clientID string, amount decimal.Decimal, at time.Time) error {
	res, err := l.tx.NewUpdate().Model((*models.Balance)(nil)).
		Set("amount = ?", amount).
		Set("last_updated = ?", at).
		Where("client_id = ?", clientID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("balance for client_id:%s was not written: %w", clientID, ErrNotFound)
	}
	return nil
}

func (l *bunLedgerTx) CompareAndSwapInvoice(ctx context.Context, invoiceID, from, to string, paidAmount decimal.NullDecimal, at time.Time) (bool, error) {
	res, err := l.tx.NewUpdate().Model((*models.Invoice)(nil)).
		Set("status = ?", to).
		Set("paid_amount = ?", paidAmount).
		Set("finalized_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ? AND status = ?", invoiceID, from).
		Exec(ctx)
	return swapped(res, err)
}

func (l *bunLedgerTx) CompareAndSwapTransaction(ctx context.Context, invoiceID, from string, patch TransactionPatch) (bool, error) {
	res, err := l.tx.NewUpdate().Model((*models.Transaction)(nil)).
		Set("status = ?", patch.Status).
		Set("amount = ?", patch.Amount).
		Set("balance_before = ?", patch.BalanceBefore).
		Set("balance_after = ?", patch.BalanceAfter).
		Set("updated_at = ?", time.Now()).
		Where("invoice_id = ? AND status = ?", invoiceID, from).
		Exec(ctx)
	return swapped(res, err)
}

func swapped(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.Field('n'))
	}
	return err
}
