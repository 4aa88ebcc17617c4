package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShadowLedger is the local USD mirror of a key's usage.
// RemainingBalanceUSD may go negative.
type ShadowLedger struct {
	KeyID               string          `db:"key_id" json:"keyId"`
	OwnerID             string          `db:"owner_id" json:"ownerId"`
	TotalUsageUSD       decimal.Decimal `db:"total_usage_usd" json:"totalUsageUsd"`
	RemainingBalanceUSD decimal.Decimal `db:"remaining_balance_usd" json:"remainingBalanceUsd"`
	LastUpdated         time.Time       `db:"last_updated" json:"lastUpdated"`
}

// IsOverdrawn reports whether usage has outrun the balance
func (l *ShadowLedger) IsOverdrawn() bool {
	return l.RemainingBalanceUSD.IsNegative()
}
