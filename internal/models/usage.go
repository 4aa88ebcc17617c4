package models

import (
	"time"

	"github.com/Prrash278/tuma/internal/currency"
	"github.com/shopspring/decimal"
)

// UsageEvent is an append-only record of one billed call
type UsageEvent struct {
	ID           string          `db:"id" json:"id"`
	KeyID        string          `db:"key_id" json:"keyId"`
	Model        Model           `db:"model" json:"model"`
	InputTokens  int64           `db:"input_tokens" json:"inputTokens"`
	OutputTokens int64           `db:"output_tokens" json:"outputTokens"`
	TotalTokens  int64           `db:"total_tokens" json:"totalTokens"`
	CostUSD      decimal.Decimal `db:"cost_usd" json:"costUsd"`
	CostLocal    decimal.Decimal `db:"cost_local" json:"costLocal"`
	Currency     currency.Code   `db:"currency" json:"currency"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
}
