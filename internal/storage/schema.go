package storage

import (
	"context"
	"fmt"
)

// Schema creates the ledger tables. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS provisioned_keys (
    seq                      BIGSERIAL UNIQUE,
    id                       TEXT PRIMARY KEY,
    owner_id                 TEXT NOT NULL,
    model                    TEXT NOT NULL,
    currency                 TEXT NOT NULL,
    external_credential_id   TEXT NOT NULL,
    external_credential      TEXT NOT NULL,
    external_spend_limit_usd NUMERIC NOT NULL DEFAULT 0 CHECK (external_spend_limit_usd >= 0),
    spending_cap_usd         NUMERIC CHECK (spending_cap_usd >= 0),
    total_usage_usd          NUMERIC NOT NULL DEFAULT 0 CHECK (total_usage_usd >= 0),
    is_active                BOOLEAN NOT NULL DEFAULT TRUE,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_provisioned_keys_owner ON provisioned_keys (owner_id, seq);

CREATE TABLE IF NOT EXISTS shadow_ledgers (
    key_id                TEXT PRIMARY KEY REFERENCES provisioned_keys (id),
    owner_id              TEXT NOT NULL,
    total_usage_usd       NUMERIC NOT NULL DEFAULT 0 CHECK (total_usage_usd >= 0),
    remaining_balance_usd NUMERIC NOT NULL DEFAULT 0,
    last_updated          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS usage_events (
    seq           BIGSERIAL UNIQUE,
    id            TEXT PRIMARY KEY,
    key_id        TEXT NOT NULL REFERENCES provisioned_keys (id),
    model         TEXT NOT NULL,
    input_tokens  BIGINT NOT NULL CHECK (input_tokens >= 0),
    output_tokens BIGINT NOT NULL CHECK (output_tokens >= 0),
    total_tokens  BIGINT NOT NULL CHECK (total_tokens >= 0),
    cost_usd      NUMERIC NOT NULL CHECK (cost_usd >= 0),
    cost_local    NUMERIC NOT NULL CHECK (cost_local >= 0),
    currency      TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_usage_events_key ON usage_events (key_id, created_at, seq);
`

// Migrate applies Schema
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
