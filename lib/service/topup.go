package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/db/models"
	"github.com/evpower/balancehub/gateway"
	"github.com/evpower/balancehub/store"
	"github.com/getsentry/sentry-go"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// TopUpRequest is the explicit client context of a top-up; there is no
// ambient session.
type TopUpRequest struct {
	ClientID       string
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

func (svc *BalanceHubService) ValidateTopUpAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Round(common.AmountScale)) {
		return fmt.Errorf("%w: at most %d decimal places are allowed", ErrInvalidAmount, common.AmountScale)
	}
	if amount.LessThan(svc.Config.TopUpMinAmount) {
		return fmt.Errorf("%w: minimum top-up is %s %s", ErrInvalidAmount, svc.Config.TopUpMinAmount, svc.Config.Currency)
	}
	if svc.Config.TopUpMaxAmount.IsPositive() && amount.GreaterThan(svc.Config.TopUpMaxAmount) {
		return fmt.Errorf("%w: maximum top-up is %s %s", ErrInvalidAmount, svc.Config.TopUpMaxAmount, svc.Config.Currency)
	}
	return nil
}

// CreateTopUp issues a gateway invoice and records it together with a pending
// ledger entry, then starts monitoring it. Repeating a request with the same
// idempotency key returns the invoice created the first time.
func (svc *BalanceHubService) CreateTopUp(ctx context.Context, req TopUpRequest) (*models.Invoice, error) {
	if err := svc.ValidateTopUpAmount(req.Amount); err != nil {
		topUpsCreated.WithLabelValues("invalid_amount").Inc()
		return nil, err
	}
	if !ValidIdempotencyKey(req.IdempotencyKey) {
		return nil, ErrInvalidIdempotencyKey
	}

	existing, err := svc.existingTopUp(ctx, req)
	if existing != nil || err != nil {
		return existing, err
	}

	unlock, ok, err := svc.Inflight.TryLock(ctx, req.ClientID+":"+req.IdempotencyKey, svc.Config.InflightLockTTL)
	if err != nil {
		svc.Logger.Errorf("In-flight guard unavailable client_id:%s: %v", req.ClientID, err)
		return nil, &StorageError{Op: "acquire in-flight guard", Err: err}
	}
	if !ok {
		topUpsCreated.WithLabelValues("in_progress").Inc()
		return nil, ErrIdempotencyConflict
	}
	defer unlock()

	// the request holding the guard before us may have finished meanwhile
	existing, err = svc.existingTopUp(ctx, req)
	if existing != nil || err != nil {
		return existing, err
	}

	// advisory only, corrected at reconciliation
	balance, err := svc.BalanceCache.Get(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	created, err := svc.Gateway.CreateInvoice(ctx, gateway.CreateInvoiceRequest{
		ClientID:       req.ClientID,
		IdempotencyKey: req.IdempotencyKey,
		Amount:         req.Amount,
		Currency:       svc.Config.Currency,
		Description:    req.Description,
	})
	if err != nil {
		switch {
		case gateway.IsGatewayError(err):
			topUpsCreated.WithLabelValues("gateway_rejected").Inc()
			svc.Logger.Infof("Gateway rejected top-up client_id:%s amount:%s: %v", req.ClientID, req.Amount, err)
		case gateway.IsNetworkError(err):
			topUpsCreated.WithLabelValues("network_error").Inc()
			svc.Logger.Warnf("Gateway unreachable for top-up client_id:%s: %v", req.ClientID, err)
		default:
			topUpsCreated.WithLabelValues("error").Inc()
			svc.Logger.Errorf("Failed to create invoice client_id:%s: %v", req.ClientID, err)
		}
		return nil, err
	}

	invoice := &models.Invoice{
		ID:             created.InvoiceID,
		ClientID:       req.ClientID,
		Amount:         req.Amount,
		Currency:       svc.Config.Currency,
		Description:    req.Description,
		Status:         common.InvoiceStatusPending,
		QRPayload:      created.QRPayload,
		QRUrl:          created.QRUrl,
		PaymentUrl:     created.PaymentUrl,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      svc.Clock.Now(),
		ExpiresAt:      created.ExpiresAt,
	}
	if !created.QRExpiresAt.IsZero() {
		invoice.QRExpiresAt = bun.NullTime{Time: created.QRExpiresAt}
	}
	entry := &models.Transaction{
		ClientID:      req.ClientID,
		Type:          common.TransactionTypeTopUp,
		Amount:        req.Amount,
		BalanceBefore: balance.Amount,
		BalanceAfter:  balance.Amount,
		Status:        common.TransactionStatusPending,
		PaymentMethod: common.PaymentMethodQR,
		CreatedAt:     invoice.CreatedAt,
	}

	err = svc.Store.InsertTopUp(ctx, invoice, entry)
	if errors.Is(err, store.ErrDuplicate) {
		// the gateway deduplicated on the key and the invoice is already ours
		stored, findErr := svc.Store.FindInvoice(ctx, created.InvoiceID)
		if findErr != nil {
			return nil, &StorageError{Op: "find invoice", Err: findErr}
		}
		if stored.ClientID != req.ClientID {
			sentry.CaptureException(fmt.Errorf("gateway returned invoice %s of another client", created.InvoiceID))
			return nil, ErrIdempotencyMismatch
		}
		return stored, nil
	}
	if err != nil {
		topUpsCreated.WithLabelValues("storage_error").Inc()
		svc.Logger.Errorf("Failed to persist top-up invoice_id:%s client_id:%s: %v", invoice.ID, req.ClientID, err)
		return nil, &StorageError{Op: "insert top-up", Err: err}
	}

	topUpsCreated.WithLabelValues("created").Inc()
	svc.Logger.Infof("Top-up created invoice_id:%s client_id:%s amount:%s transaction_id:%d", invoice.ID, invoice.ClientID, invoice.Amount, entry.ID)
	svc.StartMonitoring(*invoice)
	return invoice, nil
}

func (svc *BalanceHubService) existingTopUp(ctx context.Context, req TopUpRequest) (*models.Invoice, error) {
	invoice, err := svc.Store.FindInvoiceByIdempotencyKey(ctx, req.ClientID, req.IdempotencyKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "find invoice by idempotency key", Err: err}
	}
	if !invoice.Amount.Equal(req.Amount) {
		return nil, ErrIdempotencyMismatch
	}
	topUpsCreated.WithLabelValues("replayed").Inc()
	return invoice, nil
}

// FindInvoice returns the client's invoice; invoices of other clients are
// reported as not found.
func (svc *BalanceHubService) FindInvoice(ctx context.Context, clientID, invoiceID string) (*models.Invoice, error) {
	invoice, err := svc.Store.FindInvoice(ctx, invoiceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "find invoice", Err: err}
	}
	if invoice.ClientID != clientID {
		return nil, ErrInvoiceNotFound
	}
	return invoice, nil
}
