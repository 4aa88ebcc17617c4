package apikeys

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Prrash278/tuma/internal/currency"
	"github.com/Prrash278/tuma/internal/metrics"
	"github.com/Prrash278/tuma/internal/models"
	"github.com/Prrash278/tuma/internal/provisioning"
	"github.com/Prrash278/tuma/internal/storage"
)

const (
	defaultProvisioningTimeout = 10 * time.Second

	// topUpAttempts bounds retries when another replica moves the limit mid top-up
	topUpAttempts = 3
)

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	ProvisioningTimeout time.Duration
	KeyNamePrefix       string
	Logger              *logrus.Entry
	Metrics             metrics.Recorder
	Clock               func() time.Time
}

// Service owns key provisioning and the shadow USD ledger.
// It is the only writer to the store.
type Service struct {
	store       storage.Store
	converter   *currency.Converter
	provisioner provisioning.Provisioner

	provisioningTimeout time.Duration
	namePrefix          string
	logger              *logrus.Entry
	metrics             metrics.Recorder
	now                 func() time.Time

	usageLocks *keyLocks
	limitLocks *keyLocks
}

// NewService wires a service from its collaborators
func NewService(store storage.Store, converter *currency.Converter, provisioner provisioning.Provisioner, opts Options) (*Service, error) {
	if store == nil || converter == nil || provisioner == nil {
		return nil, fmt.Errorf("store, converter and provisioner are required")
	}

	s := &Service{
		store:               store,
		converter:           converter,
		provisioner:         provisioner,
		provisioningTimeout: opts.ProvisioningTimeout,
		namePrefix:          opts.KeyNamePrefix,
		logger:              opts.Logger,
		metrics:             opts.Metrics,
		now:                 opts.Clock,
		usageLocks:          newKeyLocks(),
		limitLocks:          newKeyLocks(),
	}
	if s.provisioningTimeout <= 0 {
		s.provisioningTimeout = defaultProvisioningTimeout
	}
	if s.namePrefix == "" {
		s.namePrefix = "Tuma"
	}
	if s.logger == nil {
		s.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// CreateKey provisions a vendor credential with a zero limit, then persists
// the key and its empty ledger. Nothing is stored if provisioning fails.
func (s *Service) CreateKey(ctx context.Context, ownerID string, model models.Model, cur currency.Code, spendingCapUSD *decimal.Decimal) (*models.ProvisionedKey, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	slug, err := model.VendorSlug()
	if err != nil {
		return nil, err
	}
	if !s.converter.Table().Supports(cur) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, cur)
	}
	if spendingCapUSD != nil && spendingCapUSD.IsNegative() {
		return nil, fmt.Errorf("%w: spending cap must not be negative", ErrInvalidInput)
	}

	now := s.now().UTC()
	req := provisioning.CredentialRequest{
		Name:     fmt.Sprintf("%s-%s-%s-%d", s.namePrefix, model, cur, now.UnixMilli()),
		Label:    fmt.Sprintf("%s-%s", strings.ToLower(s.namePrefix), slug),
		Model:    slug,
		LimitUSD: decimal.Zero,
	}

	pctx, cancel := context.WithTimeout(ctx, s.provisioningTimeout)
	cred, err := s.provisioner.CreateCredential(pctx, req)
	cancel()
	if err != nil {
		s.metrics.ProvisioningFailed("create")
		s.logger.WithError(err).WithFields(logrus.Fields{
			"owner_id": ownerID,
			"model":    model,
		}).Error("Vendor key provisioning failed")
		return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	key := &models.ProvisionedKey{
		ID:                    "key_" + uuid.NewString(),
		OwnerID:               ownerID,
		Model:                 model,
		Currency:              cur,
		ExternalCredentialID:  cred.ID,
		ExternalCredential:    cred.Secret,
		ExternalSpendLimitUSD: decimal.Zero,
		TotalUsageUSD:         decimal.Zero,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if spendingCapUSD != nil {
		capUSD := *spendingCapUSD
		key.SpendingCapUSD = &capUSD
	}
	ledger := &models.ShadowLedger{
		KeyID:               key.ID,
		OwnerID:             ownerID,
		TotalUsageUSD:       decimal.Zero,
		RemainingBalanceUSD: decimal.Zero,
		LastUpdated:         now,
	}

	if err := s.store.CreateKeyWithLedger(ctx, key, ledger); err != nil {
		s.logger.WithError(err).WithField("credential_id", cred.ID).Error("Vendor key was provisioned but could not be stored")
		return nil, fmt.Errorf("failed to store key: %w", err)
	}

	s.metrics.KeyCreated(string(cur))
	s.logger.WithFields(logrus.Fields{
		"key_id":   key.ID,
		"owner_id": ownerID,
		"model":    model,
		"currency": cur,
		"demo":     cred.Demo,
	}).Info("Created provisioned key")

	return key, nil
}

// UpdateExternalSpendLimit changes the vendor limit, then mirrors it locally.
// A vendor failure leaves the local record untouched.
func (s *Service) UpdateExternalSpendLimit(ctx context.Context, keyID string, newLimitUSD decimal.Decimal) (*models.ProvisionedKey, error) {
	if newLimitUSD.IsNegative() {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidInput)
	}

	unlock := s.limitLocks.lock(keyID)
	defer unlock()

	key, err := s.store.FindKeyByIDUncached(ctx, keyID)
	if err != nil {
		return nil, err
	}
	return s.setLimit(ctx, key, newLimitUSD, nil)
}

// setLimit expects the caller to hold the key's limit lock. A non-nil
// expected makes the local write conditional on the stored limit.
func (s *Service) setLimit(ctx context.Context, key *models.ProvisionedKey, newLimitUSD decimal.Decimal, expected *decimal.Decimal) (*models.ProvisionedKey, error) {
	pctx, cancel := context.WithTimeout(ctx, s.provisioningTimeout)
	err := s.provisioner.UpdateCredentialLimit(pctx, key.ExternalCredentialID, newLimitUSD)
	cancel()
	if err != nil {
		s.metrics.ProvisioningFailed("update_limit")
		s.logger.WithError(err).WithField("key_id", key.ID).Error("Vendor limit update failed")
		return nil, fmt.Errorf("%w: %w", ErrLimitUpdateFailed, err)
	}

	now := s.now().UTC()
	updated, err := s.store.UpdateKey(ctx, key.OwnerID, key.ID, storage.KeyUpdate{
		ExternalSpendLimitUSD: &newLimitUSD,
		UpdatedAt:             &now,
		ExpectedLimitUSD:      expected,
	})
	if err != nil {
		if errors.Is(err, storage.ErrLimitConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to mirror limit: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"key_id":    key.ID,
		"limit_usd": newLimitUSD.String(),
	}).Info("Updated external spend limit")
	return updated, nil
}

// CapCheck is the outcome of a spending cap pre-flight
type CapCheck struct {
	Allowed      bool             `json:"allowed"`
	Reason       string           `json:"reason,omitempty"`
	ProjectedUSD decimal.Decimal  `json:"projectedUsd"`
	CapUSD       *decimal.Decimal `json:"capUsd,omitempty"`
}

// Err returns ErrSpendingCapExceeded for a rejected check, nil otherwise
func (c CapCheck) Err() error {
	if c.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrSpendingCapExceeded, c.Reason)
}

// CheckSpendingCap reports whether additionalUSD fits under the key's cap.
// Reaching the cap exactly is allowed. Nothing is recorded.
func (s *Service) CheckSpendingCap(ctx context.Context, key *models.ProvisionedKey, additionalUSD decimal.Decimal) (CapCheck, error) {
	if key == nil {
		return CapCheck{}, fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	if additionalUSD.IsNegative() {
		return CapCheck{}, fmt.Errorf("%w: cost must not be negative", ErrInvalidInput)
	}

	total := decimal.Zero
	ledger, err := s.store.GetLedger(ctx, key.ID)
	switch {
	case err == nil:
		total = ledger.TotalUsageUSD
	case errors.Is(err, storage.ErrLedgerNotFound):
	default:
		return CapCheck{}, fmt.Errorf("failed to read ledger: %w", err)
	}

	projected := total.Add(additionalUSD)
	if !key.HasSpendingCap() {
		return CapCheck{Allowed: true, ProjectedUSD: projected}, nil
	}

	capUSD := *key.SpendingCapUSD
	check := CapCheck{Allowed: projected.LessThanOrEqual(capUSD), ProjectedUSD: projected, CapUSD: &capUSD}
	if !check.Allowed {
		check.Reason = fmt.Sprintf("Spending cap exceeded. Limit: $%s, Current: $%s", capUSD.String(), projected.StringFixed(2))
		s.metrics.SpendingCapRejected()
	}
	return check, nil
}

// RecordUsage appends a usage event and adds its cost to the ledger and key totals.
// The key must be active and bound to model. It does not re-check the
// spending cap; callers run CheckSpendingCap first.
func (s *Service) RecordUsage(ctx context.Context, keyID string, model models.Model, inputTokens, outputTokens int64, costUSD decimal.Decimal, cur currency.Code) (*models.UsageEvent, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return nil, fmt.Errorf("%w: token counts must not be negative", ErrInvalidInput)
	}
	if costUSD.IsNegative() {
		return nil, fmt.Errorf("%w: cost must not be negative", ErrInvalidInput)
	}
	if !model.IsSupported() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, string(model))
	}

	if _, err := s.ValidateKey(ctx, keyID, model); err != nil {
		return nil, err
	}

	conv, err := s.converter.ConvertFromUSD(costUSD, cur)
	if err != nil {
		return nil, err
	}

	unlock := s.usageLocks.lock(keyID)
	defer unlock()

	event := &models.UsageEvent{
		ID:           "usage_" + uuid.NewString(),
		KeyID:        keyID,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		CostUSD:      costUSD,
		CostLocal:    conv.Converted,
		Currency:     cur,
		CreatedAt:    s.now().UTC(),
	}

	totals, err := s.store.ApplyUsage(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}

	s.metrics.UsageRecorded(string(model), string(cur), costUSD.InexactFloat64())
	if totals.RemainingBalanceUSD.IsNegative() {
		s.metrics.NegativeBalance()
		s.logger.WithFields(logrus.Fields{
			"key_id":                keyID,
			"remaining_balance_usd": totals.RemainingBalanceUSD.String(),
		}).Warn("Shadow ledger balance is negative")
	}

	return event, nil
}

// TopUpResult describes a completed wallet top-up
type TopUpResult struct {
	KeyID            string          `json:"keyId"`
	LocalAmount      decimal.Decimal `json:"localAmount"`
	Currency         currency.Code   `json:"currency"`
	USDAmount        decimal.Decimal `json:"usdAmount"`
	PreviousLimitUSD decimal.Decimal `json:"previousLimitUsd"`
	NewLimitUSD      decimal.Decimal `json:"newLimitUsd"`
}

// TopUp converts a local-currency payment to USD through the spread and
// raises the key's external spend limit by that amount.
func (s *Service) TopUp(ctx context.Context, ownerID, keyID string, localAmount decimal.Decimal, cur currency.Code) (*TopUpResult, error) {
	if !localAmount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	conv, err := s.converter.ConvertToUSD(localAmount, cur)
	if err != nil {
		return nil, err
	}

	unlock := s.limitLocks.lock(keyID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		key, err := s.store.FindKeyByIDUncached(ctx, keyID)
		if err != nil {
			return nil, err
		}
		if key.OwnerID != ownerID {
			return nil, ErrKeyNotFound
		}

		previous := key.ExternalSpendLimitUSD
		newLimit := previous.Add(conv.Converted)
		_, err = s.setLimit(ctx, key, newLimit, &previous)
		if errors.Is(err, storage.ErrLimitConflict) && attempt < topUpAttempts {
			s.logger.WithFields(logrus.Fields{
				"key_id":  keyID,
				"attempt": attempt,
			}).Warn("Spend limit changed during top-up, retrying")
			continue
		}
		if err != nil {
			if errors.Is(err, storage.ErrLimitConflict) {
				s.resyncLimit(ctx, keyID)
				return nil, fmt.Errorf("%w: %w", ErrLimitUpdateFailed, err)
			}
			return nil, err
		}

		return &TopUpResult{
			KeyID:            keyID,
			LocalAmount:      localAmount,
			Currency:         cur,
			USDAmount:        conv.Converted,
			PreviousLimitUSD: previous,
			NewLimitUSD:      newLimit,
		}, nil
	}
}

// resyncLimit pushes the stored limit back to the vendor after a failed
// conditional write left the vendor ahead of the store.
func (s *Service) resyncLimit(ctx context.Context, keyID string) {
	key, err := s.store.FindKeyByIDUncached(ctx, keyID)
	if err == nil {
		pctx, cancel := context.WithTimeout(ctx, s.provisioningTimeout)
		err = s.provisioner.UpdateCredentialLimit(pctx, key.ExternalCredentialID, key.ExternalSpendLimitUSD)
		cancel()
	}
	if err != nil {
		s.metrics.ProvisioningFailed("resync_limit")
		s.logger.WithError(err).WithField("key_id", keyID).Error("Vendor limit could not be resynced")
	}
}

// ValidateKey checks that a key exists, is active and is bound to model.
// It reads past the key cache.
func (s *Service) ValidateKey(ctx context.Context, keyID string, model models.Model) (*models.ProvisionedKey, error) {
	key, err := s.store.FindKeyByIDUncached(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if !key.IsActive {
		return nil, ErrKeyInactive
	}
	if key.Model != model {
		return nil, ErrModelNotAllowed
	}
	return key, nil
}

// Deactivate moves an owner's key to the terminal inactive state
func (s *Service) Deactivate(ctx context.Context, ownerID, keyID string) (*models.ProvisionedKey, error) {
	inactive := false
	now := s.now().UTC()
	key, err := s.store.UpdateKey(ctx, ownerID, keyID, storage.KeyUpdate{IsActive: &inactive, UpdatedAt: &now})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("key_id", keyID).Info("Deactivated key")
	return key, nil
}

// GetKey returns a key by id regardless of owner
func (s *Service) GetKey(ctx context.Context, keyID string) (*models.ProvisionedKey, error) {
	return s.store.FindKeyByID(ctx, keyID)
}

// GetKeyUncached is GetKey without the key cache, for guards that must
// observe deactivation by another replica.
func (s *Service) GetKeyUncached(ctx context.Context, keyID string) (*models.ProvisionedKey, error) {
	return s.store.FindKeyByIDUncached(ctx, keyID)
}

// ListKeys returns the owner's keys in creation order
func (s *Service) ListKeys(ctx context.Context, ownerID string) ([]*models.ProvisionedKey, error) {
	return s.store.GetKeysForOwner(ctx, ownerID)
}

// GetLedger returns the key's shadow ledger
func (s *Service) GetLedger(ctx context.Context, keyID string) (*models.ShadowLedger, error) {
	return s.store.GetLedger(ctx, keyID)
}

// GetUsage returns the key's usage history, oldest first
func (s *Service) GetUsage(ctx context.Context, keyID string) ([]*models.UsageEvent, error) {
	if _, err := s.store.FindKeyByID(ctx, keyID); err != nil {
		return nil, err
	}
	return s.store.GetUsage(ctx, keyID)
}

// Converter exposes the service's currency converter
func (s *Service) Converter() *currency.Converter {
	return s.converter
}
