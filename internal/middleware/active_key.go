package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/Prrash278/tuma/internal/models"
	"github.com/Prrash278/tuma/internal/storage"
	"github.com/Prrash278/tuma/internal/utils"
)

const (
	// KeyRecordKey is the context key for the key loaded by ActiveKey
	KeyRecordKey ContextKey = "keyRecord"
)

// KeyLookup finds a provisioned key by id, bypassing any read cache
type KeyLookup interface {
	GetKeyUncached(ctx context.Context, keyID string) (*models.ProvisionedKey, error)
}

// ActiveKey loads the key named by the {id} path value, rejects unknown and
// deactivated keys, and stores the record in the request context.
func ActiveKey(lookup KeyLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID := r.PathValue("id")
			if keyID == "" {
				utils.RespondWithError(w, http.StatusBadRequest, "Missing API key id")
				return
			}

			key, err := lookup.GetKeyUncached(r.Context(), keyID)
			if err != nil {
				if errors.Is(err, storage.ErrKeyNotFound) {
					utils.RespondWithError(w, http.StatusNotFound, "API key not found")
					return
				}
				utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load API key")
				return
			}

			if !key.IsActive {
				utils.RespondWithError(w, http.StatusForbidden, "API key is inactive")
				return
			}

			ctx := context.WithValue(r.Context(), KeyRecordKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetKeyRecord retrieves the key stored by ActiveKey
func GetKeyRecord(ctx context.Context) (*models.ProvisionedKey, bool) {
	key, ok := ctx.Value(KeyRecordKey).(*models.ProvisionedKey)
	return key, ok
}
