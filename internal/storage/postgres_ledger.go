package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Prrash278/tuma/internal/models"
)

const ledgerColumns = `key_id, owner_id, total_usage_usd, remaining_balance_usd, last_updated`

const usageColumns = `id, key_id, model, input_tokens, output_tokens, total_tokens,
	cost_usd, cost_local, currency, created_at`

func upsertLedger(ctx context.Context, ext sqlx.ExtContext, keyID string, l *models.ShadowLedger) error {
	query := `
		INSERT INTO shadow_ledgers (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key_id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			total_usage_usd = EXCLUDED.total_usage_usd,
			remaining_balance_usd = EXCLUDED.remaining_balance_usd,
			last_updated = EXCLUDED.last_updated
	`
	_, err := ext.ExecContext(ctx, query, keyID, l.OwnerID, l.TotalUsageUSD, l.RemainingBalanceUSD, l.LastUpdated)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return ErrKeyNotFound
		}
		return fmt.Errorf("failed to put ledger: %w", err)
	}
	return nil
}

func insertUsage(ctx context.Context, ext sqlx.ExtContext, keyID string, e *models.UsageEvent) error {
	query := `
		INSERT INTO usage_events (` + usageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := ext.ExecContext(ctx, query,
		e.ID, keyID, e.Model, e.InputTokens, e.OutputTokens, e.TotalTokens,
		e.CostUSD, e.CostLocal, e.Currency, e.CreatedAt,
	)
	if err != nil {
		switch pqCode(err) {
		case pqForeignKeyViolation:
			return ErrKeyNotFound
		case pqUniqueViolation:
			return ErrDuplicateUsage
		}
		return fmt.Errorf("failed to insert usage event: %w", err)
	}
	return nil
}

// PutLedger upserts the ledger for keyID
func (s *PostgresStore) PutLedger(ctx context.Context, keyID string, ledger *models.ShadowLedger) error {
	if ledger == nil {
		return fmt.Errorf("ledger is required")
	}
	return upsertLedger(ctx, s.conn, keyID, ledger)
}

// GetLedger retrieves the ledger for keyID
func (s *PostgresStore) GetLedger(ctx context.Context, keyID string) (*models.ShadowLedger, error) {
	var ledger models.ShadowLedger
	query := `SELECT ` + ledgerColumns + ` FROM shadow_ledgers WHERE key_id = $1`

	if err := s.conn.GetContext(ctx, &ledger, query, keyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLedgerNotFound
		}
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	return &ledger, nil
}

// AppendUsage inserts an event without touching totals
func (s *PostgresStore) AppendUsage(ctx context.Context, keyID string, event *models.UsageEvent) error {
	if event == nil {
		return fmt.Errorf("usage event is required")
	}
	return insertUsage(ctx, s.conn, keyID, event)
}

// GetUsage returns the key's events ordered by time, then insertion
func (s *PostgresStore) GetUsage(ctx context.Context, keyID string) ([]*models.UsageEvent, error) {
	query := `
		SELECT ` + usageColumns + `
		FROM usage_events
		WHERE key_id = $1
		ORDER BY created_at, seq
	`

	events := []*models.UsageEvent{}
	if err := s.conn.SelectContext(ctx, &events, query, keyID); err != nil {
		return nil, fmt.Errorf("failed to list usage events: %w", err)
	}
	return events, nil
}

// CreateKeyWithLedger inserts the key and its ledger in one transaction
func (s *PostgresStore) CreateKeyWithLedger(ctx context.Context, key *models.ProvisionedKey, ledger *models.ShadowLedger) error {
	if key == nil || key.ID == "" || ledger == nil {
		return fmt.Errorf("key and ledger are required")
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.insertKey(ctx, tx, key); err != nil {
			return err
		}
		return upsertLedger(ctx, tx, key.ID, ledger)
	})
}

// ApplyUsage records the event and increments ledger and key totals in one transaction.
// The increments are done in SQL so concurrent writers never lose an update.
func (s *PostgresStore) ApplyUsage(ctx context.Context, event *models.UsageEvent) (UsageTotals, error) {
	if event == nil {
		return UsageTotals{}, fmt.Errorf("usage event is required")
	}

	var totals UsageTotals
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertUsage(ctx, tx, event.KeyID, event); err != nil {
			return err
		}

		ledgerQuery := `
			UPDATE shadow_ledgers
			SET total_usage_usd = total_usage_usd + $2,
			    remaining_balance_usd = remaining_balance_usd - $2,
			    last_updated = $3
			WHERE key_id = $1
			RETURNING total_usage_usd, remaining_balance_usd
		`
		err := tx.QueryRowxContext(ctx, ledgerQuery, event.KeyID, event.CostUSD, event.CreatedAt).
			Scan(&totals.LedgerTotalUSD, &totals.RemainingBalanceUSD)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrLedgerNotFound
			}
			return fmt.Errorf("failed to update ledger: %w", err)
		}

		keyQuery := `
			UPDATE provisioned_keys
			SET total_usage_usd = total_usage_usd + $2,
			    updated_at = $3
			WHERE id = $1
			RETURNING total_usage_usd
		`
		err = tx.QueryRowxContext(ctx, keyQuery, event.KeyID, event.CostUSD, event.CreatedAt).
			Scan(&totals.KeyTotalUSD)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrKeyNotFound
			}
			return fmt.Errorf("failed to update key totals: %w", err)
		}
		return nil
	})
	if err != nil {
		return UsageTotals{}, err
	}

	s.keyCache.Delete(event.KeyID)
	return totals, nil
}
