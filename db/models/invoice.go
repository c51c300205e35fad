package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Invoice : payment invoice issued by the gateway for a balance top-up
type Invoice struct {
	bun.BaseModel `bun:"table:invoices"`

	ID             string              `json:"invoice_id" bun:",pk"`
	ClientID       string              `json:"client_id" bun:",notnull" validate:"required"`
	Amount         decimal.Decimal     `json:"amount" bun:"type:numeric(14,2),notnull"`
	Currency       string              `json:"currency" bun:",notnull"`
	Description    string              `json:"description" bun:",nullzero"`
	Status         string              `json:"status" bun:",notnull,default:'pending'"`
	QRPayload      string              `json:"qr_payload" bun:",nullzero"`
	QRUrl          string              `json:"qr_url" bun:",nullzero"`
	PaymentUrl     string              `json:"payment_url" bun:",nullzero"`
	IdempotencyKey string              `json:"-" bun:",notnull"`
	PaidAmount     decimal.NullDecimal `json:"paid_amount" bun:"type:numeric(14,2)"`
	CreatedAt      time.Time           `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	ExpiresAt      time.Time           `json:"expires_at" bun:",notnull"`
	QRExpiresAt    bun.NullTime        `json:"qr_expires_at" bun:",nullzero"`
	UpdatedAt      bun.NullTime        `json:"updated_at"`
	FinalizedAt    bun.NullTime        `json:"finalized_at"`
}

func (i *Invoice) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		i.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

// ExpiredAt reports whether the payment window is closed at t.
func (i *Invoice) ExpiredAt(t time.Time) bool {
	return !i.ExpiresAt.IsZero() && !t.Before(i.ExpiresAt)
}

var _ bun.BeforeAppendModelHook = (*Invoice)(nil)
