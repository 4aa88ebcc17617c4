package currency

import "errors"

var (
	// ErrUnsupportedCurrency is returned for a code missing from the table
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrNegativeAmount is returned when a conversion is asked for a negative amount
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrInvalidTable is returned when a currency table fails validation
	ErrInvalidTable = errors.New("invalid currency table")
)
