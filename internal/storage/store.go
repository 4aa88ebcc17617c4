package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Prrash278/tuma/internal/models"
)

// Store persists provisioned keys, their shadow ledgers and usage events.
// Implementations are safe for concurrent use and never hand out records
// that alias their internal state.
type Store interface {
	// PutKey inserts or replaces a key under ownerID
	PutKey(ctx context.Context, ownerID string, key *models.ProvisionedKey) error

	// GetKeysForOwner returns the owner's keys in insertion order, empty if none
	GetKeysForOwner(ctx context.Context, ownerID string) ([]*models.ProvisionedKey, error)

	// FindKeyByID looks a key up across all owners. The result may come
	// from a process-local cache and lag writes made by other replicas.
	FindKeyByID(ctx context.Context, id string) (*models.ProvisionedKey, error)

	// FindKeyByIDUncached always reads the backing store. Use it before
	// decisions that must see other replicas' writes.
	FindKeyByIDUncached(ctx context.Context, id string) (*models.ProvisionedKey, error)

	// UpdateKey merges the non-nil fields of upd into the owner's key.
	// Returns ErrKeyNotFound if the owner has no such key and
	// ErrLimitConflict if upd.ExpectedLimitUSD no longer matches.
	UpdateKey(ctx context.Context, ownerID, id string, upd KeyUpdate) (*models.ProvisionedKey, error)

	// PutLedger inserts or replaces the ledger for keyID
	PutLedger(ctx context.Context, keyID string, ledger *models.ShadowLedger) error

	// GetLedger returns ErrLedgerNotFound when the key has no ledger
	GetLedger(ctx context.Context, keyID string) (*models.ShadowLedger, error)

	// AppendUsage stores an event without touching any totals
	AppendUsage(ctx context.Context, keyID string, event *models.UsageEvent) error

	// GetUsage returns events in recording order, empty if none
	GetUsage(ctx context.Context, keyID string) ([]*models.UsageEvent, error)

	// CreateKeyWithLedger writes a new key and its ledger atomically
	CreateKeyWithLedger(ctx context.Context, key *models.ProvisionedKey, ledger *models.ShadowLedger) error

	// ApplyUsage appends the event and increments the ledger and key totals
	// as one atomic unit, returning the totals after the increment.
	ApplyUsage(ctx context.Context, event *models.UsageEvent) (UsageTotals, error)

	Health(ctx context.Context) error
	Close() error
}

// KeyUpdate is a partial update; nil fields are left untouched
type KeyUpdate struct {
	ExternalSpendLimitUSD *decimal.Decimal
	SpendingCapUSD        *decimal.Decimal
	IsActive              *bool
	UpdatedAt             *time.Time

	// ExpectedLimitUSD makes the update conditional on the stored limit
	ExpectedLimitUSD *decimal.Decimal
}

func (u KeyUpdate) matches(k *models.ProvisionedKey) bool {
	return u.ExpectedLimitUSD == nil || k.ExternalSpendLimitUSD.Equal(*u.ExpectedLimitUSD)
}

func (u KeyUpdate) apply(k *models.ProvisionedKey) {
	if u.ExternalSpendLimitUSD != nil {
		k.ExternalSpendLimitUSD = *u.ExternalSpendLimitUSD
	}
	if u.SpendingCapUSD != nil {
		capUSD := *u.SpendingCapUSD
		k.SpendingCapUSD = &capUSD
	}
	if u.IsActive != nil {
		k.IsActive = *u.IsActive
	}
	if u.UpdatedAt != nil {
		k.UpdatedAt = *u.UpdatedAt
	}
}

// UsageTotals are the running totals right after a usage event was applied
type UsageTotals struct {
	KeyTotalUSD         decimal.Decimal
	LedgerTotalUSD      decimal.Decimal
	RemainingBalanceUSD decimal.Decimal
}

func cloneLedger(l *models.ShadowLedger) *models.ShadowLedger {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

func cloneEvent(e *models.UsageEvent) *models.UsageEvent {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
