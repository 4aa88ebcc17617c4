package provisioning

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned when the client is built without a provisioning key
var ErrMissingAPIKey = errors.New("provisioning API key is required")

// APIError is a non-2xx answer from the vendor
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vendor API error: %d - %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the call may succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
