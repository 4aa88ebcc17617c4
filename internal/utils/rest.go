package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxBodyBytes bounds request bodies read by DecodeJSON
const MaxBodyBytes = 1 << 20

// ErrEmptyBody is returned by DecodeJSON for a request without a body
var ErrEmptyBody = errors.New("request body is empty")

type ErrorResponse struct {
	Error string `json:"error"`
}

// Envelope wraps successful responses
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message})
}

// RespondWithData sends data inside a success envelope
func RespondWithData(w http.ResponseWriter, code int, data any) error {
	return RespondWithJSON(w, code, Envelope{Success: true, Data: data})
}

// RespondWithMessage sends data and a human readable message inside a success envelope
func RespondWithMessage(w http.ResponseWriter, code int, message string, data any) error {
	return RespondWithJSON(w, code, Envelope{Success: true, Message: message, Data: data})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return err
	}
	return nil
}

// DecodeJSON reads a single JSON object from the request body into dst.
// Unknown fields are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON body: trailing data")
	}
	return nil
}
