package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopUpEvent describes a change in a top-up's lifecycle. It is fanned out to
// invoice watchers, the outbound webhook and other instances over RabbitMQ.
type TopUpEvent struct {
	InvoiceID         string              `json:"invoice_id"`
	ClientID          string              `json:"client_id"`
	Status            string              `json:"status"`
	TransactionStatus string              `json:"transaction_status,omitempty"`
	Amount            decimal.Decimal     `json:"amount"`
	PaidAmount        decimal.NullDecimal `json:"paid_amount"`
	BalanceAfter      decimal.NullDecimal `json:"balance_after"`
	Terminal          bool                `json:"terminal"`
	Error             string              `json:"error,omitempty"`
	Origin            string              `json:"origin,omitempty"`
	OccurredAt        time.Time           `json:"occurred_at"`
}
