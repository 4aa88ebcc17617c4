package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/Prrash278/tuma/internal/models"
)

const keyColumns = `id, owner_id, model, currency, external_credential_id, external_credential,
	external_spend_limit_usd, spending_cap_usd, total_usage_usd, is_active, created_at, updated_at`

// sealKey returns the insert arguments with the credential encrypted
func (s *PostgresStore) sealKey(ownerID string, key *models.ProvisionedKey) ([]any, error) {
	sealed, err := s.enc.Seal(key.ExternalCredential, key.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to seal credential: %w", err)
	}
	return []any{
		key.ID, ownerID, key.Model, key.Currency, key.ExternalCredentialID, sealed,
		key.ExternalSpendLimitUSD, key.SpendingCapUSD, key.TotalUsageUSD, key.IsActive,
		key.CreatedAt, key.UpdatedAt,
	}, nil
}

// openKey decrypts the credential of a freshly scanned row in place
func (s *PostgresStore) openKey(key *models.ProvisionedKey) error {
	secret, err := s.enc.Open(key.ExternalCredential, key.ID)
	if err != nil {
		return err
	}
	key.ExternalCredential = secret
	return nil
}

func (s *PostgresStore) insertKey(ctx context.Context, tx *sqlx.Tx, key *models.ProvisionedKey) error {
	args, err := s.sealKey(key.OwnerID, key)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO provisioned_keys (` + keyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if pqCode(err) == pqUniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert key: %w", err)
	}
	return nil
}

// PutKey upserts a key under ownerID
func (s *PostgresStore) PutKey(ctx context.Context, ownerID string, key *models.ProvisionedKey) error {
	if key == nil || key.ID == "" {
		return fmt.Errorf("key with an id is required")
	}

	args, err := s.sealKey(ownerID, key)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO provisioned_keys (` + keyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			model = EXCLUDED.model,
			currency = EXCLUDED.currency,
			external_credential_id = EXCLUDED.external_credential_id,
			external_credential = EXCLUDED.external_credential,
			external_spend_limit_usd = EXCLUDED.external_spend_limit_usd,
			spending_cap_usd = EXCLUDED.spending_cap_usd,
			total_usage_usd = EXCLUDED.total_usage_usd,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}

	s.keyCache.Delete(key.ID)
	return nil
}

// GetKeysForOwner returns the owner's keys in insertion order
func (s *PostgresStore) GetKeysForOwner(ctx context.Context, ownerID string) ([]*models.ProvisionedKey, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM provisioned_keys
		WHERE owner_id = $1
		ORDER BY seq
	`

	keys := []*models.ProvisionedKey{}
	if err := s.conn.SelectContext(ctx, &keys, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	for _, k := range keys {
		if err := s.openKey(k); err != nil {
			return nil, fmt.Errorf("key %s: %w", k.ID, err)
		}
	}
	return keys, nil
}

// FindKeyByID looks a key up by id, served from cache when possible
func (s *PostgresStore) FindKeyByID(ctx context.Context, id string) (*models.ProvisionedKey, error) {
	if cached, ok := s.keyCache.Get(id); ok {
		return cached.Clone(), nil
	}

	gen := s.keyCache.Generation()
	key, err := s.selectKey(ctx, id)
	if err != nil {
		return nil, err
	}
	s.keyCache.SetIfGeneration(id, key.Clone(), gen)
	return key, nil
}

// FindKeyByIDUncached reads the row and refreshes the local cache with it
func (s *PostgresStore) FindKeyByIDUncached(ctx context.Context, id string) (*models.ProvisionedKey, error) {
	gen := s.keyCache.Generation()
	key, err := s.selectKey(ctx, id)
	if err != nil {
		return nil, err
	}
	s.keyCache.SetIfGeneration(id, key.Clone(), gen)
	return key, nil
}

func (s *PostgresStore) selectKey(ctx context.Context, id string) (*models.ProvisionedKey, error) {
	var key models.ProvisionedKey
	query := `
		SELECT ` + keyColumns + `
		FROM provisioned_keys
		WHERE id = $1
	`
	if err := s.conn.GetContext(ctx, &key, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	if err := s.openKey(&key); err != nil {
		return nil, fmt.Errorf("key %s: %w", id, err)
	}
	return &key, nil
}

// UpdateKey applies the non-nil fields of upd in a single statement
func (s *PostgresStore) UpdateKey(ctx context.Context, ownerID, id string, upd KeyUpdate) (*models.ProvisionedKey, error) {
	var sets []string
	var args []any
	argCount := 1

	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argCount))
		args = append(args, value)
		argCount++
	}
	if upd.ExternalSpendLimitUSD != nil {
		add("external_spend_limit_usd", *upd.ExternalSpendLimitUSD)
	}
	if upd.SpendingCapUSD != nil {
		add("spending_cap_usd", *upd.SpendingCapUSD)
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	if upd.UpdatedAt != nil {
		add("updated_at", *upd.UpdatedAt)
	}

	where := fmt.Sprintf("id = $%d AND owner_id = $%d", argCount, argCount+1)
	args = append(args, id, ownerID)
	if upd.ExpectedLimitUSD != nil {
		where += fmt.Sprintf(" AND external_spend_limit_usd = $%d", argCount+2)
		args = append(args, *upd.ExpectedLimitUSD)
	}

	var query string
	if len(sets) == 0 {
		query = fmt.Sprintf(`SELECT %s FROM provisioned_keys WHERE %s`, keyColumns, where)
	} else {
		query = fmt.Sprintf(`UPDATE provisioned_keys SET %s WHERE %s RETURNING %s`,
			strings.Join(sets, ", "), where, keyColumns)
	}

	var key models.ProvisionedKey
	err := s.conn.QueryRowxContext(ctx, query, args...).StructScan(&key)
	s.keyCache.Delete(id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to update key: %w", err)
		}
		if upd.ExpectedLimitUSD != nil {
			if k, findErr := s.selectKey(ctx, id); findErr == nil && k.OwnerID == ownerID {
				return nil, ErrLimitConflict
			}
		}
		return nil, ErrKeyNotFound
	}

	if err := s.openKey(&key); err != nil {
		return nil, fmt.Errorf("key %s: %w", id, err)
	}
	return &key, nil
}
