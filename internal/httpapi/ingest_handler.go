package httpapi

import (
	"net/http"
	"strconv"

	"github.com/Prrash278/tuma/internal/utils"
)

// IngestStatus summarizes the usage pipeline
type IngestStatus struct {
	QueueLength int `json:"queueLength"`
	DeadLetters int `json:"deadLetters"`
}

// handleIngestStatus handles GET /api/ingest/status
func (d *Dependencies) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	length, err := d.Worker.QueueLength(r.Context())
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to read queue")
		return
	}
	parked, err := d.Worker.DeadLetters(r.Context(), 0)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to read dead letters")
		return
	}
	utils.RespondWithData(w, http.StatusOK, IngestStatus{QueueLength: length, DeadLetters: len(parked)})
}

// handleListDeadLetters handles GET /api/ingest/dead-letters?limit=
func (d *Dependencies) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = n
	}

	parked, err := d.Worker.DeadLetters(r.Context(), limit)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to read dead letters")
		return
	}
	utils.RespondWithData(w, http.StatusOK, parked)
}

// handleRetryDeadLetter handles POST /api/ingest/dead-letters/{id}/retry
func (d *Dependencies) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	if err := d.Worker.RetryDeadLetter(r.Context(), r.PathValue("id")); err != nil {
		d.respondWithServiceError(w, r, err, "Failed to retry dead letter")
		return
	}
	utils.RespondWithMessage(w, http.StatusAccepted, "Dead letter re-queued", nil)
}
