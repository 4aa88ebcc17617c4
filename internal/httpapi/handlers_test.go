package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prrash278/tuma/internal/apikeys"
	"github.com/Prrash278/tuma/internal/currency"
	"github.com/Prrash278/tuma/internal/ingest"
	"github.com/Prrash278/tuma/internal/metrics"
	"github.com/Prrash278/tuma/internal/models"
	"github.com/Prrash278/tuma/internal/provisioning"
	"github.com/Prrash278/tuma/internal/queue"
	"github.com/Prrash278/tuma/internal/storage"
)

type testServer struct {
	handler http.Handler
	deps    *Dependencies
	vendor  *provisioning.StaticProvisioner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger, _ := test.NewNullLogger()
	entry := logrus.NewEntry(logger)

	store := storage.NewMemoryStore()
	vendor := provisioning.NewStaticProvisioner()
	converter := currency.DefaultConverter()

	keys, err := apikeys.NewService(store, converter, vendor, apikeys.Options{Logger: entry})
	require.NoError(t, err)

	cfg := queue.DefaultConfig("usage")
	cfg.BatchTimeout = 20 * time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	usageQueue := queue.NewMemoryQueue(cfg)
	usageDLQ := queue.NewMemoryDeadLetterQueue()

	deps := &Dependencies{
		Keys:      keys,
		Converter: converter,
		Store:     store,
		Worker:    ingest.NewWorker(usageQueue, usageDLQ, keys, cfg, entry, nil),
		Metrics:   metrics.Noop{},
		Logger:    entry,
		queue:     usageQueue,
		dlq:       usageDLQ,
	}
	t.Cleanup(func() { _ = deps.Close() })

	return &testServer{handler: NewHandler(deps), deps: deps, vendor: vendor}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var env struct {
		Success bool `json:"success"`
		Data    T    `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.True(t, env.Success, w.Body.String())
	return env.Data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error
}

func usd(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func (s *testServer) createKey(t *testing.T, owner string, code currency.Code, capUSD *decimal.Decimal) KeyCreatedResponse {
	t.Helper()

	w := s.do(t, http.MethodPost, "/api/keys", CreateKeyRequest{
		UserID:      owner,
		Model:       string(models.ModelGPT4oMini),
		Currency:    string(code),
		SpendingCap: capUSD,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeData[KeyCreatedResponse](t, w)
}

func TestCreateKey(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		vendorErr  error
		wantStatus int
		wantError  string
	}{
		{
			name:       "creates key",
			body:       CreateKeyRequest{UserID: "user-1", Model: "gpt-4o-mini", Currency: "ngn"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "missing fields",
			body:       CreateKeyRequest{UserID: "user-1"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required fields: userId, model, currency",
		},
		{
			name:       "unsupported model",
			body:       CreateKeyRequest{UserID: "user-1", Model: "gpt-2", Currency: "NGN"},
			wantStatus: http.StatusBadRequest,
			wantError:  "unsupported model",
		},
		{
			name:       "unsupported currency",
			body:       CreateKeyRequest{UserID: "user-1", Model: "gpt-4o-mini", Currency: "EUR"},
			wantStatus: http.StatusBadRequest,
			wantError:  "EUR",
		},
		{
			name:       "unknown field",
			body:       `{"userId":"user-1","model":"gpt-4o-mini","currency":"NGN","admin":true}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request payload",
		},
		{
			name:       "vendor failure",
			body:       CreateKeyRequest{UserID: "user-1", Model: "gpt-4o-mini", Currency: "NGN"},
			vendorErr:  errors.New("vendor down"),
			wantStatus: http.StatusBadGateway,
			wantError:  "Failed to create API key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.vendor.SetErrors(tt.vendorErr, nil)

			w := s.do(t, http.MethodPost, "/api/keys", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantStatus != http.StatusCreated {
				assert.Contains(t, decodeError(t, w), tt.wantError)
				return
			}

			resp := decodeData[KeyCreatedResponse](t, w)
			assert.True(t, strings.HasPrefix(resp.ID, "key_"))
			assert.Equal(t, "user-1", resp.OwnerID)
			assert.Equal(t, currency.NGN, resp.Currency)
			assert.True(t, resp.IsActive)
			assert.True(t, strings.HasPrefix(resp.ExternalCredential, "sk-static-"))
			assert.Contains(t, resp.CredentialPreview, "...")
			assert.NotEqual(t, resp.ExternalCredential, resp.CredentialPreview)

			ledger := s.do(t, http.MethodGet, "/api/keys/"+resp.ID+"/ledger", nil)
			require.Equal(t, http.StatusOK, ledger.Code)
			got := decodeData[models.ShadowLedger](t, ledger)
			assert.True(t, got.TotalUsageUSD.IsZero())
		})
	}
}

func TestListAndGetKeys(t *testing.T) {
	s := newTestServer(t)
	first := s.createKey(t, "user-1", currency.NGN, nil)
	s.createKey(t, "user-1", currency.KES, nil)
	s.createKey(t, "user-2", currency.NGN, nil)

	w := s.do(t, http.MethodGet, "/api/keys?userId=user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeData[[]KeyResponse](t, w)
	assert.Len(t, list, 2)
	assert.NotContains(t, w.Body.String(), first.ExternalCredential)

	w = s.do(t, http.MethodGet, "/api/keys", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing userId parameter", decodeError(t, w))

	w = s.do(t, http.MethodGet, "/api/keys/"+first.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first.ID, decodeData[KeyResponse](t, w).ID)

	w = s.do(t, http.MethodGet, "/api/keys/key_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "API key not found", decodeError(t, w))
}

func TestTopUpAndLimit(t *testing.T) {
	s := newTestServer(t)
	key := s.createKey(t, "user-1", currency.NGN, nil)

	w := s.do(t, http.MethodPost, "/api/wallet/top-up", TopUpRequest{
		UserID:   "user-1",
		Amount:   usd("17600"),
		Currency: "NGN",
		APIKeyID: key.ID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decodeData[apikeys.TopUpResult](t, w)
	assert.True(t, result.USDAmount.Equal(decimal.NewFromInt(10)), result.USDAmount.String())
	assert.True(t, result.NewLimitUSD.Equal(decimal.NewFromInt(10)))
	assert.Contains(t, w.Body.String(), "Wallet topped up successfully")

	limit, ok := s.vendor.Limit(key.ExternalCredentialID)
	require.True(t, ok)
	assert.True(t, limit.Equal(decimal.NewFromInt(10)))

	w = s.do(t, http.MethodPut, "/api/keys/"+key.ID+"/limit", UpdateLimitRequest{LimitUSD: usd("25")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decodeData[KeyResponse](t, w)
	assert.True(t, updated.ExternalSpendLimitUSD.Equal(decimal.NewFromInt(25)))

	t.Run("wrong owner", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/wallet/top-up", TopUpRequest{
			UserID: "user-2", Amount: usd("100"), Currency: "NGN", APIKeyID: key.ID,
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/wallet/top-up", TopUpRequest{UserID: "user-1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Missing required fields", decodeError(t, w))
	})

	t.Run("non positive amount", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/wallet/top-up", TopUpRequest{
			UserID: "user-1", Amount: usd("0"), Currency: "NGN", APIKeyID: key.ID,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("vendor rejects limit", func(t *testing.T) {
		s.vendor.SetErrors(nil, errors.New("vendor down"))
		defer s.vendor.SetErrors(nil, nil)

		w := s.do(t, http.MethodPut, "/api/keys/"+key.ID+"/limit", UpdateLimitRequest{LimitUSD: usd("50")})
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, "Failed to update spend limit", decodeError(t, w))

		w = s.do(t, http.MethodGet, "/api/keys/"+key.ID, nil)
		got := decodeData[KeyResponse](t, w)
		assert.True(t, got.ExternalSpendLimitUSD.Equal(decimal.NewFromInt(25)))
	})
}

func TestRecordUsage(t *testing.T) {
	s := newTestServer(t)
	key := s.createKey(t, "user-1", currency.NGN, usd("5"))
	path := "/api/keys/" + key.ID + "/usage"

	w := s.do(t, http.MethodPost, path, UsageRequest{InputTokens: 1000, OutputTokens: 500, CostUSD: usd("3")})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	event := decodeData[models.UsageEvent](t, w)
	assert.Equal(t, key.ID, event.KeyID)
	assert.Equal(t, models.ModelGPT4oMini, event.Model)
	assert.Equal(t, int64(1500), event.TotalTokens)
	assert.Equal(t, currency.NGN, event.Currency)
	assert.True(t, event.CostLocal.Equal(decimal.NewFromInt(5280)), event.CostLocal.String())

	w = s.do(t, http.MethodPost, path, UsageRequest{CostUSD: usd("2.5")})
	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())
	var rejection CapRejection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rejection))
	assert.False(t, rejection.Check.Allowed)
	assert.Contains(t, rejection.Error, "Limit: $5")

	w = s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeData[[]models.UsageEvent](t, w), 1)

	w = s.do(t, http.MethodGet, "/api/keys/"+key.ID+"/ledger", nil)
	ledger := decodeData[models.ShadowLedger](t, w)
	assert.True(t, ledger.TotalUsageUSD.Equal(decimal.NewFromInt(3)))

	t.Run("missing cost", func(t *testing.T) {
		w := s.do(t, http.MethodPost, path, UsageRequest{InputTokens: 1})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown key", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/keys/key_missing/usage", UsageRequest{CostUSD: usd("1")})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unsupported model", func(t *testing.T) {
		for _, route := range []string{path, path + "/async"} {
			w := s.do(t, http.MethodPost, route, UsageRequest{Model: "not-a-model", CostUSD: usd("0.01")})
			assert.Equal(t, http.StatusBadRequest, w.Code, route)
			assert.Contains(t, decodeError(t, w), "unsupported model")
		}
	})

	t.Run("model the key is not bound to", func(t *testing.T) {
		for _, route := range []string{path, path + "/async"} {
			w := s.do(t, http.MethodPost, route, UsageRequest{Model: "claude-3-opus", CostUSD: usd("0.01")})
			assert.Equal(t, http.StatusForbidden, w.Code, route)
			assert.Equal(t, apikeys.ErrModelNotAllowed.Error(), decodeError(t, w))
		}

		w := s.do(t, http.MethodPost, path, UsageRequest{Model: "gpt-4o-mini", CostUSD: usd("0")})
		assert.Equal(t, http.StatusCreated, w.Code, "explicit matching model is accepted")

		w = s.do(t, http.MethodGet, path, nil)
		assert.Len(t, decodeData[[]models.UsageEvent](t, w), 2, "rejected reports record nothing")
	})

	t.Run("deactivated key", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/keys/"+key.ID+"/deactivate", OwnerRequest{UserID: "user-2"})
		require.Equal(t, http.StatusNotFound, w.Code)

		w = s.do(t, http.MethodPost, "/api/keys/"+key.ID+"/deactivate", OwnerRequest{UserID: "user-1"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.False(t, decodeData[KeyResponse](t, w).IsActive)

		w = s.do(t, http.MethodPost, path, UsageRequest{CostUSD: usd("1")})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestCheckSpendingCap(t *testing.T) {
	s := newTestServer(t)
	key := s.createKey(t, "user-1", currency.KES, usd("100"))
	path := "/api/keys/" + key.ID + "/spending-cap/check"

	w := s.do(t, http.MethodPost, path, SpendingCapCheckRequest{CostUSD: usd("100")})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeData[apikeys.CapCheck](t, w).Allowed)

	w = s.do(t, http.MethodPost, path, SpendingCapCheckRequest{CostUSD: usd("100.01")})
	require.Equal(t, http.StatusOK, w.Code)
	check := decodeData[apikeys.CapCheck](t, w)
	assert.False(t, check.Allowed)
	assert.NotEmpty(t, check.Reason)

	w = s.do(t, http.MethodPost, path, SpendingCapCheckRequest{CostUSD: usd("-1")})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueueUsage(t *testing.T) {
	s := newTestServer(t)
	key := s.createKey(t, "user-1", currency.NGN, nil)

	w := s.do(t, http.MethodPost, "/api/keys/"+key.ID+"/usage/async", UsageRequest{InputTokens: 10, CostUSD: usd("0.25")})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/ingest/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, IngestStatus{QueueLength: 1}, decodeData[IngestStatus](t, w))

	s.deps.Worker.Start(context.Background())

	require.Eventually(t, func() bool {
		ledger, err := s.deps.Keys.GetLedger(context.Background(), key.ID)
		return err == nil && ledger.TotalUsageUSD.Equal(decimal.RequireFromString("0.25"))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDeadLetters(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.deps.dlq.Add(ctx, []byte(`{"keyId":"key_gone"}`), errors.New("key not found")))

	w := s.do(t, http.MethodGet, "/api/ingest/dead-letters", nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := decodeData[[]queue.DeadLetterItem](t, w)
	require.Len(t, items, 1)
	assert.Equal(t, "key not found", items[0].Error)

	w = s.do(t, http.MethodGet, "/api/ingest/dead-letters?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/ingest/dead-letters/"+items[0].ID+"/retry", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/ingest/status", nil)
	assert.Equal(t, IngestStatus{QueueLength: 1, DeadLetters: 0}, decodeData[IngestStatus](t, w))

	w = s.do(t, http.MethodPost, "/api/ingest/dead-letters/"+items[0].ID+"/retry", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Dead letter not found", decodeError(t, w))
}

func TestCurrencies(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/currencies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decodeData[[]CurrencyResponse](t, w)
	var ngn *CurrencyResponse
	for i := range rows {
		if rows[i].Code == currency.NGN {
			ngn = &rows[i]
		}
	}
	require.NotNil(t, ngn)
	assert.True(t, ngn.FinalRate.Equal(decimal.NewFromInt(1760)), ngn.FinalRate.String())

	w = s.do(t, http.MethodGet, "/api/currencies/convert?amount=10&from=USD&to=ngn", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	conv := decodeData[ConversionResponse](t, w)
	assert.True(t, conv.Converted.Equal(decimal.NewFromInt(17600)))
	assert.Equal(t, "₦17600.00", conv.Formatted)

	w = s.do(t, http.MethodGet, "/api/currencies/rate?from=USD&to=KES", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rate":"165"`)

	for _, path := range []string{
		"/api/currencies/convert?amount=ten&from=USD&to=NGN",
		"/api/currencies/convert?amount=10&from=USD",
		"/api/currencies/convert?amount=10&from=USD&to=EUR",
		"/api/currencies/rate?from=XYZ&to=NGN",
	} {
		w := s.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","store":"ok"}`, w.Body.String())

	mr, err := miniredis.Run()
	require.NoError(t, err)
	s.deps.Redis = redis.NewClient(&redis.Options{Addr: mr.Addr()})

	w = s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","store":"ok","redis":"ok"}`, w.Body.String())

	mr.Close()
	w = s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"unavailable"`)
}

func TestRequestIDAndUnknownRoute(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = s.do(t, http.MethodDelete, "/api/keys", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
