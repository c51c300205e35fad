package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Transaction : ledger entry describing a balance movement
type Transaction struct {
	bun.BaseModel `bun:"table:transactions"`

	ID            int64           `json:"id" bun:",pk,autoincrement"`
	ClientID      string          `json:"client_id" bun:",notnull"`
	Type          string          `json:"type" bun:",notnull"`
	Amount        decimal.Decimal `json:"amount" bun:"type:numeric(14,2),notnull"`
	BalanceBefore decimal.Decimal `json:"balance_before" bun:"type:numeric(14,2),notnull"`
	BalanceAfter  decimal.Decimal `json:"balance_after" bun:"type:numeric(14,2),notnull"`
	Status        string          `json:"status" bun:",notnull,default:'pending'"`
	InvoiceID     string          `json:"invoice_id,omitempty" bun:",nullzero,unique"`
	Invoice       *Invoice        `json:"-" bun:"rel:belongs-to,join:invoice_id=id"`
	PaymentMethod string          `json:"payment_method,omitempty" bun:",nullzero"`
	CreatedAt     time.Time       `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt     bun.NullTime    `json:"updated_at"`
}

func (t *Transaction) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		t.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

// Balanced reports whether balance_after = balance_before + amount.
func (t *Transaction) Balanced() bool {
	return t.BalanceAfter.Equal(t.BalanceBefore.Add(t.Amount))
}

var _ bun.BeforeAppendModelHook = (*Transaction)(nil)
