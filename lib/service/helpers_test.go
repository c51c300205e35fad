package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/db/models"
	"github.com/evpower/balancehub/gateway"
	"github.com/evpower/balancehub/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/ziflex/lecho/v3"
)

func testLogger() *lecho.Logger {
	return lecho.New(io.Discard)
}

func testConfig() *Config {
	return &Config{
		Currency:                  common.DefaultCurrency,
		TopUpMinAmount:            decimal.NewFromInt(10),
		TopUpMaxAmount:            decimal.NewFromInt(100000),
		PollInitialDelay:          time.Millisecond,
		PollInterval:              5 * time.Millisecond,
		PollMaxWait:               time.Minute,
		PollMaxAttempts:           40,
		BalanceCacheTTL:           30 * time.Second,
		ReconcileRetryMaxElapsed:  10 * time.Second,
		PendingReconcileAge:       15 * time.Minute,
		PendingReconcileInterval:  time.Minute,
		InflightLockTTL:           30 * time.Second,
		TransactionHistoryLimit:   20,
		TransactionHistoryMaxPage: 100,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type statusReply struct {
	status string
	paid   decimal.NullDecimal
	err    error
}

// fakeGateway replays scripted status replies per invoice, repeating the last
// one. Invoices without a script stay pending.
type fakeGateway struct {
	mu      sync.Mutex
	replies map[string][]statusReply
	calls   map[string]int
	created int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{replies: map[string][]statusReply{}, calls: map[string]int{}}
}

func (g *fakeGateway) script(invoiceID string, replies ...statusReply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies[invoiceID] = replies
}

func (g *fakeGateway) callsFor(invoiceID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[invoiceID]
}

func (g *fakeGateway) CreateInvoice(ctx context.Context, req gateway.CreateInvoiceRequest) (*gateway.CreatedInvoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created++
	return &gateway.CreatedInvoice{
		InvoiceID: fmt.Sprintf("inv-%d", g.created),
		QRPayload: "qr",
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}, nil
}

func (g *fakeGateway) GetInvoiceStatus(ctx context.Context, invoiceID string) (*gateway.StatusObservation, error) {
	g.mu.Lock()
	replies := g.replies[invoiceID]
	n := g.calls[invoiceID]
	g.calls[invoiceID]++
	g.mu.Unlock()

	reply := statusReply{status: common.InvoiceStatusPending}
	if len(replies) > 0 {
		if n >= len(replies) {
			n = len(replies) - 1
		}
		reply = replies[n]
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &gateway.StatusObservation{
		InvoiceID:  invoiceID,
		Status:     reply.status,
		PaidAmount: reply.paid,
		ObservedAt: time.Now(),
	}, nil
}

func paidReply(amount int64) statusReply {
	return statusReply{status: common.InvoiceStatusPaid, paid: decimal.NewNullDecimal(decimal.NewFromInt(amount))}
}

func networkReply() statusReply {
	return statusReply{err: &gateway.NetworkError{Op: "get invoice status", Err: errors.New("connection refused")}}
}

// flakyStore fails ledger transactions while failures is positive.
type flakyStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failures int
	attempts int
}

var errStoreDown = errors.New("connection reset by peer")

func (s *flakyStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.LedgerTx) error) error {
	s.mu.Lock()
	s.attempts++
	fail := s.failures != 0
	if s.failures > 0 {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.MemoryStore.RunInTx(ctx, fn)
}

// seedTopUp stores a pending top-up the way the issuer does.
func seedTopUp(t *testing.T, s store.Store, invoiceID, clientID string, amount, balanceBefore int64, expiresAt time.Time) {
	t.Helper()
	seedTopUpCreatedAt(t, s, invoiceID, clientID, amount, balanceBefore, time.Time{}, expiresAt)
}

func seedTopUpCreatedAt(t *testing.T, s store.Store, invoiceID, clientID string, amount, balanceBefore int64, createdAt, expiresAt time.Time) {
	t.Helper()
	invoice := &models.Invoice{
		ID:             invoiceID,
		ClientID:       clientID,
		Amount:         decimal.NewFromInt(amount),
		Currency:       common.DefaultCurrency,
		Status:         common.InvoiceStatusPending,
		IdempotencyKey: NewIdempotencyKey(),
		CreatedAt:      createdAt,
		ExpiresAt:      expiresAt,
	}
	transaction := &models.Transaction{
		ClientID:      clientID,
		Type:          common.TransactionTypeTopUp,
		Amount:        invoice.Amount,
		BalanceBefore: decimal.NewFromInt(balanceBefore),
		BalanceAfter:  decimal.NewFromInt(balanceBefore),
		Status:        common.TransactionStatusPending,
		PaymentMethod: common.PaymentMethodQR,
		CreatedAt:     createdAt,
	}
	require.NoError(t, s.InsertTopUp(context.Background(), invoice, transaction))
}

func newTestService(s store.Store, gw gateway.Client, options ...ServiceOption) *BalanceHubService {
	return NewBalanceHubService(testConfig(), s, gw, testLogger(), options...)
}
