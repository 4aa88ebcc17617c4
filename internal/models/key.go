package models

import (
	"time"

	"github.com/Prrash278/tuma/internal/currency"
	"github.com/shopspring/decimal"
)

// ProvisionedKey is a key provisioned on the external vendor and tracked locally.
type ProvisionedKey struct {
	ID                    string           `db:"id" json:"id"`
	OwnerID               string           `db:"owner_id" json:"ownerId"`
	Model                 Model            `db:"model" json:"model"`
	Currency              currency.Code    `db:"currency" json:"currency"`
	ExternalCredentialID  string           `db:"external_credential_id" json:"externalCredentialId"`
	ExternalCredential    string           `db:"external_credential" json:"-"` // secret, encrypted at rest
	ExternalSpendLimitUSD decimal.Decimal  `db:"external_spend_limit_usd" json:"externalSpendLimitUsd"`
	SpendingCapUSD        *decimal.Decimal `db:"spending_cap_usd" json:"spendingCapUsd,omitempty"` // NULL = no cap
	TotalUsageUSD         decimal.Decimal  `db:"total_usage_usd" json:"totalUsageUsd"`
	IsActive              bool             `db:"is_active" json:"isActive"`
	CreatedAt             time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updatedAt"`
}

// Clone returns a deep copy so callers never share the cap pointer
func (k *ProvisionedKey) Clone() *ProvisionedKey {
	if k == nil {
		return nil
	}
	c := *k
	if k.SpendingCapUSD != nil {
		capUSD := *k.SpendingCapUSD
		c.SpendingCapUSD = &capUSD
	}
	return &c
}

// HasSpendingCap reports whether a cap is configured
func (k *ProvisionedKey) HasSpendingCap() bool {
	return k.SpendingCapUSD != nil
}

// RedactedCredential returns the secret with everything but its edges masked
func (k *ProvisionedKey) RedactedCredential() string {
	s := k.ExternalCredential
	if len(s) <= 10 {
		return "****"
	}
	return s[:6] + "..." + s[len(s)-4:]
}
