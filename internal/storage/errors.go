package storage

import "errors"

var (
	// ErrKeyNotFound is returned when a provisioned key is not found
	ErrKeyNotFound = errors.New("provisioned key not found")

	// ErrLedgerNotFound is returned when a key has no shadow ledger
	ErrLedgerNotFound = errors.New("shadow ledger not found")

	// ErrDuplicateKey is returned when a key id is already taken
	ErrDuplicateKey = errors.New("provisioned key already exists")

	// ErrLimitConflict is returned when a conditional limit update lost a race
	ErrLimitConflict = errors.New("external spend limit changed concurrently")

	// ErrDuplicateUsage is returned when a usage event id is already recorded
	ErrDuplicateUsage = errors.New("usage event already recorded")
)
