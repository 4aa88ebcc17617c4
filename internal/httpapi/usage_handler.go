package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/Prrash278/tuma/internal/apikeys"
	"github.com/Prrash278/tuma/internal/currency"
	"github.com/Prrash278/tuma/internal/ingest"
	"github.com/Prrash278/tuma/internal/middleware"
	"github.com/Prrash278/tuma/internal/models"
	"github.com/Prrash278/tuma/internal/utils"
)

// UsageRequest reports one metered call against a key.
// Currency defaults to the key's billing currency.
type UsageRequest struct {
	Model        string           `json:"model"`
	InputTokens  int64            `json:"inputTokens"`
	OutputTokens int64            `json:"outputTokens"`
	CostUSD      *decimal.Decimal `json:"costUsd"`
	Currency     string           `json:"currency,omitempty"`
}

// CapRejection is returned with 402 when usage would breach the cap
type CapRejection struct {
	Error string           `json:"error"`
	Check apikeys.CapCheck `json:"check"`
}

// usage is a decoded UsageRequest with its model and currency resolved
type usage struct {
	*UsageRequest
	model models.Model
	code  currency.Code
}

// decodeUsage rejects unknown models and models the key is not bound to
func (d *Dependencies) decodeUsage(w http.ResponseWriter, r *http.Request) (*usage, bool) {
	var req UsageRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		d.respondWithDecodeError(w, err)
		return nil, false
	}
	if req.CostUSD == nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing required fields: costUsd")
		return nil, false
	}

	key, _ := middleware.GetKeyRecord(r.Context())
	u := &usage{UsageRequest: &req, model: key.Model, code: key.Currency}
	if req.Currency != "" {
		parsed, err := d.Converter.Table().ParseCode(req.Currency)
		if err != nil {
			d.respondWithServiceError(w, r, err, "Failed to record usage")
			return nil, false
		}
		u.code = parsed
	}
	if req.Model != "" {
		parsed, err := models.ParseModel(req.Model)
		if err != nil {
			d.respondWithServiceError(w, r, err, "Failed to record usage")
			return nil, false
		}
		if parsed != key.Model {
			d.respondWithServiceError(w, r, apikeys.ErrModelNotAllowed, "Failed to record usage")
			return nil, false
		}
		u.model = parsed
	}
	return u, true
}

// handleRecordUsage handles POST /api/keys/{id}/usage. The spending cap is
// checked first and a breach records nothing.
func (d *Dependencies) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	u, ok := d.decodeUsage(w, r)
	if !ok {
		return
	}
	key, _ := middleware.GetKeyRecord(r.Context())

	check, err := d.Keys.CheckSpendingCap(r.Context(), key, *u.CostUSD)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to record usage")
		return
	}
	if !check.Allowed {
		utils.RespondWithJSON(w, http.StatusPaymentRequired, CapRejection{Error: check.Reason, Check: check})
		return
	}

	event, err := d.Keys.RecordUsage(r.Context(), key.ID, u.model, u.InputTokens, u.OutputTokens, *u.CostUSD, u.code)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to record usage")
		return
	}
	utils.RespondWithData(w, http.StatusCreated, event)
}

// handleEnqueueUsage handles POST /api/keys/{id}/usage/async
func (d *Dependencies) handleEnqueueUsage(w http.ResponseWriter, r *http.Request) {
	u, ok := d.decodeUsage(w, r)
	if !ok {
		return
	}
	key, _ := middleware.GetKeyRecord(r.Context())

	report := &ingest.UsageReport{
		KeyID:        key.ID,
		Model:        u.model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      *u.CostUSD,
		Currency:     u.code,
	}
	if err := d.Worker.Enqueue(r.Context(), report); err != nil {
		d.respondWithServiceError(w, r, err, "Failed to queue usage")
		return
	}
	utils.RespondWithMessage(w, http.StatusAccepted, "Usage queued", report)
}

// handleGetLedger handles GET /api/keys/{id}/ledger
func (d *Dependencies) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := d.Keys.GetKey(r.Context(), id); err != nil {
		d.respondWithServiceError(w, r, err, "Failed to fetch ledger")
		return
	}

	ledger, err := d.Keys.GetLedger(r.Context(), id)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to fetch ledger")
		return
	}
	utils.RespondWithData(w, http.StatusOK, ledger)
}

// handleListUsage handles GET /api/keys/{id}/usage
func (d *Dependencies) handleListUsage(w http.ResponseWriter, r *http.Request) {
	events, err := d.Keys.GetUsage(r.Context(), r.PathValue("id"))
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to fetch usage")
		return
	}
	utils.RespondWithData(w, http.StatusOK, events)
}
