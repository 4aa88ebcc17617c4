package apikeys

import (
	"errors"

	"github.com/Prrash278/tuma/internal/currency"
	"github.com/Prrash278/tuma/internal/models"
	"github.com/Prrash278/tuma/internal/storage"
)

var (
	// ErrUnsupportedCurrency is returned for a currency outside the table
	ErrUnsupportedCurrency = currency.ErrUnsupportedCurrency

	// ErrUnsupportedModel is returned for a model outside the supported set
	ErrUnsupportedModel = models.ErrUnsupportedModel

	// ErrKeyNotFound is returned when a key does not exist or is not owned by the caller
	ErrKeyNotFound = storage.ErrKeyNotFound

	// ErrProvisioningFailed is returned when the vendor could not mint a key
	ErrProvisioningFailed = errors.New("failed to provision vendor key")

	// ErrLimitUpdateFailed is returned when the vendor rejected a limit change
	ErrLimitUpdateFailed = errors.New("failed to update vendor key limit")

	// ErrSpendingCapExceeded is carried by a rejected CapCheck
	ErrSpendingCapExceeded = errors.New("spending cap exceeded")

	// ErrInvalidInput is returned for malformed arguments
	ErrInvalidInput = errors.New("invalid input")

	// ErrKeyInactive is returned when validating a deactivated key
	ErrKeyInactive = errors.New("API key is inactive")

	// ErrModelNotAllowed is returned when a key is used for a model it is not bound to
	ErrModelNotAllowed = errors.New("model not authorized for this API key")
)
