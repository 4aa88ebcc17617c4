package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Prrash278/tuma/internal/config"
	"github.com/Prrash278/tuma/internal/storage"
)

func main() {
	fmt.Println("Tuma - Database Initialization")

	// Only the database settings matter here
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if cfg.Database.URL == "" || cfg.EncryptionKey == "" {
		fmt.Fprintf(os.Stderr, "ERROR: DATABASE_URL and ENCRYPTION_KEY must be set\n")
		os.Exit(1)
	}

	// The schema never sees plaintext, but a bad key should fail before the service starts
	enc, err := storage.NewEncryptionFromBase64(cfg.EncryptionKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Invalid ENCRYPTION_KEY: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Connecting to database...")
	store, err := storage.NewPostgresStore(storage.PostgresConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		KeyCacheSize:    10, // Minimal cache for init tool
		KeyCacheTTL:     time.Minute,
	}, enc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("Applying schema...")
	if err := store.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	if err := store.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Database unhealthy after migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Schema is up to date")
}
