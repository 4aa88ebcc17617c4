package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/Prrash278/tuma/internal/models"
)

// MemoryStore keeps everything in process memory. Data is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	byOwner  map[string][]string
	keys     map[string]*models.ProvisionedKey
	ledgers  map[string]*models.ShadowLedger
	usage    map[string][]*models.UsageEvent
	usageIDs map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byOwner:  make(map[string][]string),
		keys:     make(map[string]*models.ProvisionedKey),
		ledgers:  make(map[string]*models.ShadowLedger),
		usage:    make(map[string][]*models.UsageEvent),
		usageIDs: make(map[string]struct{}),
	}
}

func (s *MemoryStore) putKeyLocked(ownerID string, key *models.ProvisionedKey) {
	stored := key.Clone()
	stored.OwnerID = ownerID

	if existing, ok := s.keys[key.ID]; ok && existing.OwnerID != ownerID {
		ids := s.byOwner[existing.OwnerID]
		for i, id := range ids {
			if id == key.ID {
				s.byOwner[existing.OwnerID] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
		s.byOwner[ownerID] = append(s.byOwner[ownerID], key.ID)
	} else if !ok {
		s.byOwner[ownerID] = append(s.byOwner[ownerID], key.ID)
	}
	s.keys[key.ID] = stored
}

// PutKey inserts or replaces a key under ownerID
func (s *MemoryStore) PutKey(ctx context.Context, ownerID string, key *models.ProvisionedKey) error {
	if key == nil || key.ID == "" {
		return fmt.Errorf("key with an id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.putKeyLocked(ownerID, key)
	return nil
}

// GetKeysForOwner returns copies of the owner's keys in insertion order
func (s *MemoryStore) GetKeysForOwner(ctx context.Context, ownerID string) ([]*models.ProvisionedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOwner[ownerID]
	keys := make([]*models.ProvisionedKey, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.keys[id].Clone())
	}
	return keys, nil
}

// FindKeyByID looks a key up across all owners
func (s *MemoryStore) FindKeyByID(ctx context.Context, id string) (*models.ProvisionedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key.Clone(), nil
}

// FindKeyByIDUncached is FindKeyByID; the memory store has no cache
func (s *MemoryStore) FindKeyByIDUncached(ctx context.Context, id string) (*models.ProvisionedKey, error) {
	return s.FindKeyByID(ctx, id)
}

// UpdateKey merges upd into the owner's key
func (s *MemoryStore) UpdateKey(ctx context.Context, ownerID, id string, upd KeyUpdate) (*models.ProvisionedKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok || key.OwnerID != ownerID {
		return nil, ErrKeyNotFound
	}
	if !upd.matches(key) {
		return nil, ErrLimitConflict
	}
	upd.apply(key)
	return key.Clone(), nil
}

// PutLedger inserts or replaces the ledger for keyID
func (s *MemoryStore) PutLedger(ctx context.Context, keyID string, ledger *models.ShadowLedger) error {
	if ledger == nil {
		return fmt.Errorf("ledger is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneLedger(ledger)
	stored.KeyID = keyID
	s.ledgers[keyID] = stored
	return nil
}

// GetLedger returns a copy of the key's ledger
func (s *MemoryStore) GetLedger(ctx context.Context, keyID string) (*models.ShadowLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger, ok := s.ledgers[keyID]
	if !ok {
		return nil, ErrLedgerNotFound
	}
	return cloneLedger(ledger), nil
}

func (s *MemoryStore) appendUsageLocked(keyID string, event *models.UsageEvent) error {
	if _, dup := s.usageIDs[event.ID]; dup {
		return ErrDuplicateUsage
	}
	stored := cloneEvent(event)
	stored.KeyID = keyID
	s.usage[keyID] = append(s.usage[keyID], stored)
	s.usageIDs[event.ID] = struct{}{}
	return nil
}

// AppendUsage stores an event without touching any totals
func (s *MemoryStore) AppendUsage(ctx context.Context, keyID string, event *models.UsageEvent) error {
	if event == nil {
		return fmt.Errorf("usage event is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendUsageLocked(keyID, event)
}

// GetUsage returns copies of the key's events in recording order
func (s *MemoryStore) GetUsage(ctx context.Context, keyID string) ([]*models.UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.usage[keyID]
	out := make([]*models.UsageEvent, 0, len(events))
	for _, e := range events {
		out = append(out, cloneEvent(e))
	}
	return out, nil
}

// CreateKeyWithLedger writes a new key and its ledger under one lock
func (s *MemoryStore) CreateKeyWithLedger(ctx context.Context, key *models.ProvisionedKey, ledger *models.ShadowLedger) error {
	if key == nil || key.ID == "" || ledger == nil {
		return fmt.Errorf("key and ledger are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[key.ID]; exists {
		return ErrDuplicateKey
	}

	s.putKeyLocked(key.OwnerID, key)
	stored := cloneLedger(ledger)
	stored.KeyID = key.ID
	s.ledgers[key.ID] = stored
	return nil
}

// ApplyUsage appends the event then bumps ledger and key totals under one lock
func (s *MemoryStore) ApplyUsage(ctx context.Context, event *models.UsageEvent) (UsageTotals, error) {
	if event == nil {
		return UsageTotals{}, fmt.Errorf("usage event is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[event.KeyID]
	if !ok {
		return UsageTotals{}, ErrKeyNotFound
	}
	ledger, ok := s.ledgers[event.KeyID]
	if !ok {
		return UsageTotals{}, ErrLedgerNotFound
	}

	if err := s.appendUsageLocked(event.KeyID, event); err != nil {
		return UsageTotals{}, err
	}

	ledger.TotalUsageUSD = ledger.TotalUsageUSD.Add(event.CostUSD)
	ledger.RemainingBalanceUSD = ledger.RemainingBalanceUSD.Sub(event.CostUSD)
	ledger.LastUpdated = event.CreatedAt

	key.TotalUsageUSD = key.TotalUsageUSD.Add(event.CostUSD)
	key.UpdatedAt = event.CreatedAt

	return UsageTotals{
		KeyTotalUSD:         key.TotalUsageUSD,
		LedgerTotalUSD:      ledger.TotalUsageUSD,
		RemainingBalanceUSD: ledger.RemainingBalanceUSD,
	}, nil
}

// Health always succeeds for the memory store
func (s *MemoryStore) Health(ctx context.Context) error {
	return nil
}

// Close drops all data
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byOwner = make(map[string][]string)
	s.keys = make(map[string]*models.ProvisionedKey)
	s.ledgers = make(map[string]*models.ShadowLedger)
	s.usage = make(map[string][]*models.UsageEvent)
	s.usageIDs = make(map[string]struct{})
	return nil
}
