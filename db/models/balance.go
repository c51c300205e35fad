package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Balance : authoritative client balance
type Balance struct {
	bun.BaseModel `bun:"table:balances"`

	ClientID    string          `json:"client_id" bun:",pk"`
	Amount      decimal.Decimal `json:"amount" bun:"type:numeric(14,2),notnull,default:0"`
	Currency    string          `json:"currency" bun:",notnull"`
	LastUpdated time.Time       `json:"last_updated" bun:",nullzero,notnull,default:current_timestamp"`
}
