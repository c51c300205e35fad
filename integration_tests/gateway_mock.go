package integration_tests

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/gateway"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockGateway is an in-process payment gateway. Invoices stay pending until
// the test pays or expires them.
type MockGateway struct {
	mu       sync.Mutex
	invoices map[string]*mockInvoice
	byKey    map[string]string
}

type mockInvoice struct {
	request    gateway.CreateInvoiceRequest
	status     string
	paidAmount decimal.NullDecimal
	expiresAt  time.Time
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		invoices: map[string]*mockInvoice{},
		byKey:    map[string]string{},
	}
}

func (mgw *MockGateway) CreateInvoice(ctx context.Context, req gateway.CreateInvoiceRequest) (*gateway.CreatedInvoice, error) {
	mgw.mu.Lock()
	defer mgw.mu.Unlock()
	// the provider deduplicates on the idempotency key as well
	id, ok := mgw.byKey[req.IdempotencyKey]
	if !ok {
		id = "inv-" + uuid.New().String()
		mgw.byKey[req.IdempotencyKey] = id
		mgw.invoices[id] = &mockInvoice{
			request:   req,
			status:    common.InvoiceStatusPending,
			expiresAt: time.Now().Add(15 * time.Minute),
		}
	}
	invoice := mgw.invoices[id]
	return &gateway.CreatedInvoice{
		InvoiceID:  id,
		QRPayload:  "000201010212" + id,
		QRUrl:      "https://gateway.test/qr/" + id,
		PaymentUrl: "https://gateway.test/pay/" + id,
		ExpiresAt:  invoice.expiresAt,
	}, nil
}

func (mgw *MockGateway) GetInvoiceStatus(ctx context.Context, invoiceID string) (*gateway.StatusObservation, error) {
	mgw.mu.Lock()
	defer mgw.mu.Unlock()
	invoice, ok := mgw.invoices[invoiceID]
	if !ok {
		return nil, &gateway.GatewayError{Op: "get invoice status", StatusCode: 404, Message: "invoice not found"}
	}
	return &gateway.StatusObservation{
		InvoiceID:  invoiceID,
		Status:     invoice.status,
		PaidAmount: invoice.paidAmount,
		ObservedAt: time.Now(),
	}, nil
}

func (mgw *MockGateway) mockPaidInvoice(invoiceID string) error {
	mgw.mu.Lock()
	defer mgw.mu.Unlock()
	invoice, ok := mgw.invoices[invoiceID]
	if !ok {
		return fmt.Errorf("unknown invoice %s", invoiceID)
	}
	invoice.status = common.InvoiceStatusPaid
	invoice.paidAmount = decimal.NewNullDecimal(invoice.request.Amount)
	return nil
}

func (mgw *MockGateway) mockExpiredInvoice(invoiceID string) error {
	mgw.mu.Lock()
	defer mgw.mu.Unlock()
	invoice, ok := mgw.invoices[invoiceID]
	if !ok {
		return fmt.Errorf("unknown invoice %s", invoiceID)
	}
	invoice.status = common.InvoiceStatusExpired
	return nil
}

var _ gateway.Client = (*MockGateway)(nil)
