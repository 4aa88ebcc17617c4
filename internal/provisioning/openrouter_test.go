package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func newTestClient(t *testing.T, url string, retries int) *OpenRouterClient {
	t.Helper()
	c, err := NewOpenRouterClient(OpenRouterConfig{
		BaseURL:      url,
		APIKey:       "prov-key",
		Timeout:      2 * time.Second,
		MaxRetries:   retries,
		RetryBackoff: time.Millisecond,
	}, testLogger())
	require.NoError(t, err)
	return c
}

func TestNewOpenRouterClient_RequiresKey(t *testing.T) {
	_, err := NewOpenRouterClient(OpenRouterConfig{}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestOpenRouterClient_CreateCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/keys", r.URL.Path)
		assert.Equal(t, "Bearer prov-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Tuma-gpt-4-USD", body["name"])
		assert.Equal(t, float64(0), body["limit"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": {"hash": "h-123", "name": "Tuma-gpt-4-USD", "label": "sk-or-v1-abc...xyz", "limit": 0, "created_at": "2026-03-01T12:00:00Z"},
			"key": "sk-or-v1-secret"
		}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 1)
	cred, err := c.CreateCredential(context.Background(), CredentialRequest{
		Name:  "Tuma-gpt-4-USD",
		Model: "openai/gpt-4",
	})
	require.NoError(t, err)
	assert.Equal(t, "h-123", cred.ID)
	assert.Equal(t, "sk-or-v1-secret", cred.Secret)
	assert.True(t, cred.LimitUSD.IsZero())
	assert.False(t, cred.Demo)
}

func TestOpenRouterClient_CreateCredential_MissingKeyInResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"hash": "h-123"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 0).CreateCredential(context.Background(), CredentialRequest{Name: "x"})
	assert.Error(t, err)
}

func TestOpenRouterClient_UpdateCredentialLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/keys/h-123", r.URL.Path)

		var body map[string]float64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 12.5, body["limit"])

		_, _ = w.Write([]byte(`{"data": {"hash": "h-123", "limit": 12.5}}`))
	}))
	defer server.Close()

	err := newTestClient(t, server.URL, 0).UpdateCredentialLimit(context.Background(), "h-123", decimal.RequireFromString("12.5"))
	require.NoError(t, err)
}

func TestOpenRouterClient_RetriesServerErrorsOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	err := newTestClient(t, server.URL, 1).UpdateCredentialLimit(context.Background(), "h-1", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenRouterClient_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newTestClient(t, server.URL, 1).UpdateCredentialLimit(context.Background(), "h-1", decimal.NewFromInt(1))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenRouterClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad limit", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 3).CreateCredential(context.Background(), CredentialRequest{Name: "x"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "bad limit")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenRouterClient_DoesNotRetryCreateAfterServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 3).CreateCredential(context.Background(), CredentialRequest{Name: "x"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "a create that may have landed is not repeated")
}

func TestRetryable(t *testing.T) {
	ctx := context.Background()
	dialErr := &transportError{err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	readErr := &transportError{err: &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")}}
	serverErr := &APIError{StatusCode: http.StatusServiceUnavailable}

	assert.True(t, retryable(ctx, http.MethodPost, dialErr))
	assert.False(t, retryable(ctx, http.MethodPost, readErr))
	assert.False(t, retryable(ctx, http.MethodPost, serverErr))

	assert.True(t, retryable(ctx, http.MethodPatch, dialErr))
	assert.True(t, retryable(ctx, http.MethodPatch, readErr))
	assert.True(t, retryable(ctx, http.MethodPatch, serverErr))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, retryable(cancelled, http.MethodPatch, serverErr))
}

func TestOpenRouterClient_RetriesTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := newTestClient(t, url, 1).UpdateCredentialLimit(context.Background(), "h-1", decimal.NewFromInt(1))

	var tErr *transportError
	assert.True(t, errors.As(err, &tErr))
}

func TestOpenRouterClient_HonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestClient(t, server.URL, 1).CreateCredential(ctx, CredentialRequest{Name: "x"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
