package provisioning

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CredentialRequest asks the vendor for a new key
type CredentialRequest struct {
	Name     string
	Label    string
	Model    string // vendor model slug
	LimitUSD decimal.Decimal
}

// Credential is a key minted by the vendor.
// ID is the vendor handle used for later limit updates; Secret is the usable key.
type Credential struct {
	ID        string
	Secret    string
	Name      string
	LimitUSD  decimal.Decimal
	CreatedAt time.Time
	Demo      bool
}

// Provisioner mints vendor credentials and adjusts their spend limits
type Provisioner interface {
	CreateCredential(ctx context.Context, req CredentialRequest) (*Credential, error)
	UpdateCredentialLimit(ctx context.Context, credentialID string, limitUSD decimal.Decimal) error
}
