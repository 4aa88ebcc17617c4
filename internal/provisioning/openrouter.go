package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	openRouterDefaultBaseURL = "https://openrouter.ai/api/v1"
	openRouterTimeout        = 15 * time.Second
	maxErrorBody             = 4096
)

// OpenRouterConfig configures the OpenRouter key management client
type OpenRouterConfig struct {
	BaseURL      string
	APIKey       string // provisioning key
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// OpenRouterClient manages keys through the OpenRouter provisioning API
type OpenRouterClient struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	maxRetries   int
	retryBackoff time.Duration
	logger       *logrus.Entry
}

// NewOpenRouterClient creates a client. An empty APIKey is rejected.
func NewOpenRouterClient(cfg OpenRouterConfig, logger *logrus.Entry) (*OpenRouterClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openRouterDefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = openRouterTimeout
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &OpenRouterClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxRetries:   max(cfg.MaxRetries, 0),
		retryBackoff: backoff,
		logger:       logger,
	}, nil
}

type createKeyRequest struct {
	Name  string  `json:"name"`
	Label string  `json:"label,omitempty"`
	Limit float64 `json:"limit"`
}

type updateKeyRequest struct {
	Limit float64 `json:"limit"`
}

type keyData struct {
	Hash      string          `json:"hash"`
	Name      string          `json:"name"`
	Label     string          `json:"label"`
	Limit     decimal.Decimal `json:"limit"`
	CreatedAt time.Time       `json:"created_at"`
}

type keyResponse struct {
	Data keyData `json:"data"`
	Key  string  `json:"key"`
}

// CreateCredential provisions a new key. The secret is only returned by this call.
func (c *OpenRouterClient) CreateCredential(ctx context.Context, req CredentialRequest) (*Credential, error) {
	body := createKeyRequest{
		Name:  req.Name,
		Label: req.Label,
		Limit: req.LimitUSD.InexactFloat64(),
	}

	var resp keyResponse
	if err := c.do(ctx, http.MethodPost, "/keys", body, &resp); err != nil {
		return nil, fmt.Errorf("create key: %w", err)
	}
	if resp.Data.Hash == "" || resp.Key == "" {
		return nil, fmt.Errorf("create key: vendor response is missing the key or its hash")
	}

	c.logger.WithField("credential_id", resp.Data.Hash).Info("Provisioned vendor key")

	return &Credential{
		ID:        resp.Data.Hash,
		Secret:    resp.Key,
		Name:      resp.Data.Name,
		LimitUSD:  resp.Data.Limit,
		CreatedAt: resp.Data.CreatedAt,
	}, nil
}

// UpdateCredentialLimit sets the vendor-side spend limit of an existing key
func (c *OpenRouterClient) UpdateCredentialLimit(ctx context.Context, credentialID string, limitUSD decimal.Decimal) error {
	if credentialID == "" {
		return fmt.Errorf("credential id is required")
	}

	path := "/keys/" + url.PathEscape(credentialID)
	if err := c.do(ctx, http.MethodPatch, path, updateKeyRequest{Limit: limitUSD.InexactFloat64()}, nil); err != nil {
		return fmt.Errorf("update key limit: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"credential_id": credentialID,
		"limit_usd":     limitUSD.String(),
	}).Info("Updated vendor key limit")
	return nil
}

// do sends one JSON request, retrying network errors and 5xx answers.
// A POST is only retried when the connection was never made, since the
// vendor may have minted a key whose response was lost.
func (c *OpenRouterClient) do(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retryBackoff * time.Duration(1<<(attempt-1))
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff,
				"error":   lastErr,
			}).Warn("Retrying vendor request")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = c.send(ctx, method, path, payload, out)
		if lastErr == nil {
			return nil
		}
		if !retryable(ctx, method, lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *OpenRouterClient) send(ctx context.Context, method, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func retryable(ctx context.Context, method string, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if method == http.MethodPost {
		var opErr *net.OpError
		return errors.As(err, &opErr) && opErr.Op == "dial"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}

type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return "request failed: " + e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}
