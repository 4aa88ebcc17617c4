package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Prrash278/tuma/internal/currency"
	"github.com/Prrash278/tuma/internal/models"
)

// UsageReport is one metered model call waiting to be booked
type UsageReport struct {
	KeyID        string          `json:"keyId"`
	Model        models.Model    `json:"model"`
	InputTokens  int64           `json:"inputTokens"`
	OutputTokens int64           `json:"outputTokens"`
	CostUSD      decimal.Decimal `json:"costUsd"`
	Currency     currency.Code   `json:"currency"`
	ReceivedAt   time.Time       `json:"receivedAt"`
}

// Validate rejects reports that can never be booked
func (r *UsageReport) Validate() error {
	switch {
	case strings.TrimSpace(r.KeyID) == "":
		return fmt.Errorf("%w: key id is required", ErrInvalidReport)
	case !r.Model.IsSupported():
		return fmt.Errorf("%w: unsupported model %q", ErrInvalidReport, string(r.Model))
	case r.InputTokens < 0 || r.OutputTokens < 0:
		return fmt.Errorf("%w: token counts must not be negative", ErrInvalidReport)
	case r.CostUSD.IsNegative():
		return fmt.Errorf("%w: cost must not be negative", ErrInvalidReport)
	case r.Currency == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidReport)
	}
	return nil
}
