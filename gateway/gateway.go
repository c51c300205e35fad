package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/evpower/balancehub/common"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=./mock_gateway/gateway.go github.com/evpower/balancehub/gateway Client

// Client is the external payment gateway that issues QR invoices and reports
// their payment status.
type Client interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*CreatedInvoice, error)
	GetInvoiceStatus(ctx context.Context, invoiceID string) (*StatusObservation, error)
}

type CreateInvoiceRequest struct {
	ClientID       string
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	Description    string
}

type CreatedInvoice struct {
	InvoiceID   string
	QRPayload   string
	QRUrl       string
	PaymentUrl  string
	ExpiresAt   time.Time
	QRExpiresAt time.Time
}

// StatusObservation is one reading of an invoice's status at the gateway.
type StatusObservation struct {
	InvoiceID string
	// one of common.InvoiceStatus*
	Status     string
	PaidAmount decimal.NullDecimal
	QRExpired  bool
	Code       int
	ObservedAt time.Time
}

func (o *StatusObservation) Terminal() bool {
	return common.IsTerminalInvoiceStatus(o.Status)
}

// status codes reported by the provider
const (
	StatusCodeProcessing    = 0
	StatusCodeApproved      = 1
	StatusCodeCanceled      = 2
	StatusCodeRefunded      = 3
	StatusCodePartialRefund = 4
)

// StatusPayload is the provider's status document. It is shared by the
// polling endpoint and the callback push.
type StatusPayload struct {
	InvoiceID      string           `json:"invoice_id" validate:"required"`
	Status         *int             `json:"status" validate:"required"`
	PaidAmount     *decimal.Decimal `json:"paid_amount"`
	QRExpired      bool             `json:"qr_expired"`
	InvoiceExpired bool             `json:"invoice_expired"`
}

// Observation maps the provider status onto the invoice lifecycle. A paid
// code wins over the expiry flag. Unknown codes yield ErrUnrecognizedStatus,
// a paid amount that is not positive yields ErrInvalidResponse.
func (p *StatusPayload) Observation(now time.Time) (*StatusObservation, error) {
	if p.Status == nil {
		return nil, fmt.Errorf("%w: missing status for invoice %s", ErrInvalidResponse, p.InvoiceID)
	}
	obs := &StatusObservation{
		InvoiceID:  p.InvoiceID,
		QRExpired:  p.QRExpired,
		Code:       *p.Status,
		ObservedAt: now,
	}
	if p.PaidAmount != nil {
		if !p.PaidAmount.IsPositive() {
			return nil, fmt.Errorf("%w: paid amount %s for invoice %s", ErrInvalidResponse, p.PaidAmount, p.InvoiceID)
		}
		obs.PaidAmount = decimal.NullDecimal{Decimal: *p.PaidAmount, Valid: true}
	}
	switch *p.Status {
	case StatusCodeApproved:
		obs.Status = common.InvoiceStatusPaid
		return obs, nil
	case StatusCodeProcessing, StatusCodeCanceled, StatusCodeRefunded, StatusCodePartialRefund:
	default:
		return obs, fmt.Errorf("%w: code %d for invoice %s", ErrUnrecognizedStatus, *p.Status, p.InvoiceID)
	}
	switch {
	case p.InvoiceExpired:
		obs.Status = common.InvoiceStatusExpired
	case *p.Status == StatusCodeProcessing:
		obs.Status = common.InvoiceStatusPending
	default:
		// refunds before any credit leave nothing to apply
		obs.Status = common.InvoiceStatusCanceled
	}
	return obs, nil
}
