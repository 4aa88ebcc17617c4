package httpapi

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Prrash278/tuma/internal/models"
	"github.com/Prrash278/tuma/internal/utils"
)

// CreateKeyRequest is the body of POST /api/keys
type CreateKeyRequest struct {
	UserID      string           `json:"userId"`
	Model       string           `json:"model"`
	Currency    string           `json:"currency"`
	SpendingCap *decimal.Decimal `json:"spendingCap,omitempty"`
}

// KeyResponse is a key as listed; the vendor secret is masked
type KeyResponse struct {
	*models.ProvisionedKey
	CredentialPreview string `json:"externalCredentialPreview"`
}

// KeyCreatedResponse is the only response that carries the vendor secret
type KeyCreatedResponse struct {
	KeyResponse
	ExternalCredential string `json:"externalCredential"`
}

// OwnerRequest names the caller for owner-scoped operations
type OwnerRequest struct {
	UserID string `json:"userId"`
}

// UpdateLimitRequest is the body of PUT /api/keys/{id}/limit
type UpdateLimitRequest struct {
	LimitUSD *decimal.Decimal `json:"limitUsd"`
}

// SpendingCapCheckRequest is the body of POST /api/keys/{id}/spending-cap/check
type SpendingCapCheckRequest struct {
	CostUSD *decimal.Decimal `json:"costUsd"`
}

func newKeyResponse(key *models.ProvisionedKey) KeyResponse {
	return KeyResponse{ProvisionedKey: key, CredentialPreview: key.RedactedCredential()}
}

// handleCreateKey handles POST /api/keys
func (d *Dependencies) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		d.respondWithDecodeError(w, err)
		return
	}

	if strings.TrimSpace(req.UserID) == "" || req.Model == "" || req.Currency == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing required fields: userId, model, currency")
		return
	}

	model, err := models.ParseModel(req.Model)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to create API key")
		return
	}
	code, err := d.Converter.Table().ParseCode(req.Currency)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to create API key")
		return
	}

	key, err := d.Keys.CreateKey(r.Context(), req.UserID, model, code, req.SpendingCap)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to create API key")
		return
	}

	utils.RespondWithData(w, http.StatusCreated, KeyCreatedResponse{
		KeyResponse:        newKeyResponse(key),
		ExternalCredential: key.ExternalCredential,
	})
}

// handleListKeys handles GET /api/keys?userId=
func (d *Dependencies) handleListKeys(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing userId parameter")
		return
	}

	keys, err := d.Keys.ListKeys(r.Context(), userID)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to fetch API keys")
		return
	}

	resp := make([]KeyResponse, 0, len(keys))
	for _, key := range keys {
		resp = append(resp, newKeyResponse(key))
	}
	utils.RespondWithData(w, http.StatusOK, resp)
}

// handleGetKey handles GET /api/keys/{id}
func (d *Dependencies) handleGetKey(w http.ResponseWriter, r *http.Request) {
	key, err := d.Keys.GetKey(r.Context(), r.PathValue("id"))
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to fetch API key")
		return
	}
	utils.RespondWithData(w, http.StatusOK, newKeyResponse(key))
}

// handleDeactivateKey handles POST /api/keys/{id}/deactivate
func (d *Dependencies) handleDeactivateKey(w http.ResponseWriter, r *http.Request) {
	var req OwnerRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		d.respondWithDecodeError(w, err)
		return
	}
	if req.UserID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing required fields: userId")
		return
	}

	key, err := d.Keys.Deactivate(r.Context(), req.UserID, r.PathValue("id"))
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to deactivate API key")
		return
	}
	utils.RespondWithData(w, http.StatusOK, newKeyResponse(key))
}

// handleUpdateLimit handles PUT /api/keys/{id}/limit
func (d *Dependencies) handleUpdateLimit(w http.ResponseWriter, r *http.Request) {
	var req UpdateLimitRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		d.respondWithDecodeError(w, err)
		return
	}
	if req.LimitUSD == nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing required fields: limitUsd")
		return
	}

	key, err := d.Keys.UpdateExternalSpendLimit(r.Context(), r.PathValue("id"), *req.LimitUSD)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to update spend limit")
		return
	}
	utils.RespondWithData(w, http.StatusOK, newKeyResponse(key))
}

// handleCheckSpendingCap handles POST /api/keys/{id}/spending-cap/check
func (d *Dependencies) handleCheckSpendingCap(w http.ResponseWriter, r *http.Request) {
	var req SpendingCapCheckRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		d.respondWithDecodeError(w, err)
		return
	}
	if req.CostUSD == nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing required fields: costUsd")
		return
	}

	key, err := d.Keys.GetKey(r.Context(), r.PathValue("id"))
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to check spending cap")
		return
	}

	check, err := d.Keys.CheckSpendingCap(r.Context(), key, *req.CostUSD)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to check spending cap")
		return
	}
	utils.RespondWithData(w, http.StatusOK, check)
}
