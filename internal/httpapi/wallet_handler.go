package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/Prrash278/tuma/internal/utils"
)

// TopUpRequest is the body of POST /api/wallet/top-up
type TopUpRequest struct {
	UserID   string           `json:"userId"`
	Amount   *decimal.Decimal `json:"amount"`
	Currency string           `json:"currency"`
	APIKeyID string           `json:"apiKeyId"`
}

// handleTopUp handles POST /api/wallet/top-up
func (d *Dependencies) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		d.respondWithDecodeError(w, err)
		return
	}
	if req.UserID == "" || req.Amount == nil || req.Currency == "" || req.APIKeyID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	code, err := d.Converter.Table().ParseCode(req.Currency)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to top up wallet")
		return
	}

	result, err := d.Keys.TopUp(r.Context(), req.UserID, req.APIKeyID, *req.Amount, code)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to top up wallet")
		return
	}
	utils.RespondWithMessage(w, http.StatusOK, "Wallet topped up successfully", result)
}
