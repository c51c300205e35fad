package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/db/models"
	"github.com/shopspring/decimal"
)

// MemoryStore is a process-local Store. Every transaction runs under one
// lock, so LedgerTx row locks are implied.
type MemoryStore struct {
	mu           sync.Mutex
	nextID       int64
	balances     map[string]models.Balance
	invoices     map[string]models.Invoice
	transactions map[string]models.Transaction // by invoice id
	// entries without an invoice (charges, refunds)
	loose []models.Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:     map[string]models.Balance{},
		invoices:     map[string]models.Invoice{},
		transactions: map[string]models.Transaction{},
	}
}

func (s *MemoryStore) ReadBalance(ctx context.Context, clientID string) (*models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[clientID]; ok {
		return &b, nil
	}
	return &models.Balance{ClientID: clientID, Amount: decimal.Zero}, nil
}

// SeedBalance sets a client balance directly, bypassing the ledger.
func (s *MemoryStore) SeedBalance(clientID string, amount decimal.Decimal, currency string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[clientID] = models.Balance{ClientID: clientID, Amount: amount, Currency: currency, LastUpdated: time.Now()}
}

// InsertTransaction appends a ledger entry that is not tied to an invoice.
func (s *MemoryStore) InsertTransaction(transaction *models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	transaction.ID = s.nextID
	if transaction.CreatedAt.IsZero() {
		transaction.CreatedAt = time.Now()
	}
	if transaction.InvoiceID != "" {
		s.transactions[transaction.InvoiceID] = *transaction
		return
	}
	s.loose = append(s.loose, *transaction)
}

func (s *MemoryStore) InsertTopUp(ctx context.Context, invoice *models.Invoice, transaction *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[invoice.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range s.invoices {
		if existing.ClientID == invoice.ClientID && existing.IdempotencyKey == invoice.IdempotencyKey {
			return ErrDuplicate
		}
	}
	now := time.Now()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	if invoice.Status == "" {
		invoice.Status = common.InvoiceStatusPending
	}
	s.nextID++
	transaction.ID = s.nextID
	transaction.InvoiceID = invoice.ID
	if transaction.CreatedAt.IsZero() {
		transaction.CreatedAt = now
	}
	s.invoices[invoice.ID] = *invoice
	s.transactions[invoice.ID] = *transaction
	return nil
}

func (s *MemoryStore) FindInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoice, ok := s.invoices[invoiceID]
	if !ok {
		return nil, ErrNotFound
	}
	return &invoice, nil
}

func (s *MemoryStore) FindInvoiceByIdempotencyKey(ctx context.Context, clientID, key string) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, invoice := range s.invoices {
		if invoice.ClientID == clientID && invoice.IdempotencyKey == key {
			return &invoice, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindTransactionByInvoice(ctx context.Context, invoiceID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	transaction, ok := s.transactions[invoiceID]
	if !ok {
		return nil, ErrNotFound
	}
	return &transaction, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, clientID string, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []models.Transaction{}
	for _, t := range s.transactions {
		if t.ClientID == clientID {
			result = append(result, t)
		}
	}
	for _, t := range s.loose {
		if t.ClientID == clientID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) PendingInvoices(ctx context.Context, createdBefore time.Time) ([]models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []models.Invoice{}
	for _, invoice := range s.invoices {
		if invoice.Status == common.InvoiceStatusPending && invoice.CreatedAt.Before(createdBefore) {
			result = append(result, invoice)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryLedgerTx{
		store:        s,
		balances:     map[string]models.Balance{},
		invoices:     map[string]models.Invoice{},
		transactions: map[string]models.Transaction{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for k, v := range tx.balances {
		s.balances[k] = v
	}
	for k, v := range tx.invoices {
		s.invoices[k] = v
	}
	for k, v := range tx.transactions {
		s.transactions[k] = v
	}
	return nil
}

// memoryLedgerTx buffers writes until RunInTx commits them.
type memoryLedgerTx struct {
	store        *MemoryStore
	balances     map[string]models.Balance
	invoices     map[string]models.Invoice
	transactions map[string]models.Transaction
}

func (l *memoryLedgerTx) balance(clientID string) (models.Balance, bool) {
	if b, ok := l.balances[clientID]; ok {
		return b, true
	}
	b, ok := l.store.balances[clientID]
	return b, ok
}

func (l *memoryLedgerTx) LockBalance(ctx context.Context, clientID, currency string) (*models.Balance, error) {
	b, ok := l.balance(clientID)
	if !ok {
		b = models.Balance{ClientID: clientID, Amount: decimal.Zero, Currency: currency, LastUpdated: time.Now()}
		l.balances[clientID] = b
	}
	return &b, nil
}

func (l *memoryLedgerTx) WriteBalance(ctx context.Context, clientID string, amount decimal.Decimal, at time.Time) error {
	b, ok := l.balance(clientID)
	if !ok {
		return ErrNotFound
	}
	b.Amount = amount
	b.LastUpdated = at
	l.balances[clientID] = b
	return nil
}

func (l *memoryLedgerTx) CompareAndSwapInvoice(ctx context.Context, invoiceID, from, to string, paidAmount decimal.NullDecimal, at time.Time) (bool, error) {
	invoice, ok := l.invoices[invoiceID]
	if !ok {
		invoice, ok = l.store.invoices[invoiceID]
	}
	if !ok || invoice.Status != from {
		return false, nil
	}
	invoice.Status = to
	invoice.PaidAmount = paidAmount
	invoice.FinalizedAt.Time = at
	invoice.UpdatedAt.Time = at
	l.invoices[invoiceID] = invoice
	return true, nil
}

func (l *memoryLedgerTx) CompareAndSwapTransaction(ctx context.Context, invoiceID, from string, patch TransactionPatch) (bool, error) {
	transaction, ok := l.transactions[invoiceID]
	if !ok {
		transaction, ok = l.store.transactions[invoiceID]
	}
	if !ok || transaction.Status != from {
		return false, nil
	}
	transaction.Status = patch.Status
	transaction.Amount = patch.Amount
	transaction.BalanceBefore = patch.BalanceBefore
	transaction.BalanceAfter = patch.BalanceAfter
	transaction.UpdatedAt.Time = time.Now()
	l.transactions[invoiceID] = transaction
	return true, nil
}
