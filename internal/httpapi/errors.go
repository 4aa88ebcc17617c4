package httpapi

import (
	"errors"
	"net/http"

	"github.com/Prrash278/tuma/internal/apikeys"
	"github.com/Prrash278/tuma/internal/ingest"
	"github.com/Prrash278/tuma/internal/queue"
	"github.com/Prrash278/tuma/internal/storage"
	"github.com/Prrash278/tuma/internal/utils"
)

// respondWithServiceError maps service errors to status codes. Vendor and
// internal failures get a fixed message; the cause is only logged.
func (d *Dependencies) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, apikeys.ErrInvalidInput),
		errors.Is(err, apikeys.ErrUnsupportedCurrency),
		errors.Is(err, apikeys.ErrUnsupportedModel),
		errors.Is(err, ingest.ErrInvalidReport):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apikeys.ErrKeyNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "API key not found")
	case errors.Is(err, storage.ErrLedgerNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Ledger not found")
	case errors.Is(err, queue.ErrItemNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Dead letter not found")
	case errors.Is(err, apikeys.ErrSpendingCapExceeded):
		utils.RespondWithError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, apikeys.ErrKeyInactive),
		errors.Is(err, apikeys.ErrModelNotAllowed):
		utils.RespondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, apikeys.ErrProvisioningFailed),
		errors.Is(err, apikeys.ErrLimitUpdateFailed):
		d.Logger.WithError(err).WithField("path", r.URL.Path).Error("Vendor call failed")
		utils.RespondWithError(w, http.StatusBadGateway, fallback)
	default:
		d.Logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		utils.RespondWithError(w, http.StatusInternalServerError, fallback)
	}
}

func (d *Dependencies) respondWithDecodeError(w http.ResponseWriter, err error) {
	utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
}
