package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq" // PostgreSQL driver

	"github.com/Prrash278/tuma/internal/models"
)

// PostgreSQL error codes the store maps to sentinel errors
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// PostgresConfig holds database configuration
type PostgresConfig struct {
	URL string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Key lookup cache
	KeyCacheSize int
	KeyCacheTTL  time.Duration
}

// DefaultPostgresConfig returns default database configuration
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		KeyCacheSize: 1000,
		KeyCacheTTL:  5 * time.Minute,
	}
}

// PostgresStore implements Store on PostgreSQL.
// Vendor credentials are sealed with enc before they are written.
type PostgresStore struct {
	conn     *sqlx.DB
	enc      *Encryption
	keyCache *LRUCache[*models.ProvisionedKey]
}

// NewPostgresStore connects to cfg.URL and configures the pool
func NewPostgresStore(cfg PostgresConfig, enc *Encryption) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if enc == nil {
		return nil, fmt.Errorf("encryption is required for the postgres store")
	}

	conn, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return NewPostgresStoreWithConn(conn, enc, cfg.KeyCacheSize, cfg.KeyCacheTTL), nil
}

// NewPostgresStoreWithConn wraps an existing connection
func NewPostgresStoreWithConn(conn *sqlx.DB, enc *Encryption, cacheSize int, cacheTTL time.Duration) *PostgresStore {
	return &PostgresStore{
		conn:     conn,
		enc:      enc,
		keyCache: NewLRUCache[*models.ProvisionedKey](cacheSize, cacheTTL),
	}
}

// Close closes the database connection and clears the cache
func (s *PostgresStore) Close() error {
	s.keyCache.Clear()
	return s.conn.Close()
}

// Health checks the connection and runs a trivial query
func (s *PostgresStore) Health(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := s.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}
	return nil
}

// DBStats is a snapshot of pool and cache statistics
type DBStats struct {
	OpenConnections int
	InUse           int
	Idle            int
	WaitCount       int64
	WaitDuration    time.Duration
	KeyCache        CacheStats
}

// Stats returns current pool and cache statistics
func (s *PostgresStore) Stats() DBStats {
	st := s.conn.Stats()
	return DBStats{
		OpenConnections: st.OpenConnections,
		InUse:           st.InUse,
		Idle:            st.Idle,
		WaitCount:       st.WaitCount,
		WaitDuration:    st.WaitDuration,
		KeyCache:        s.keyCache.Stats(),
	}
}

// withTx runs fn in a transaction, rolling back on any error
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
