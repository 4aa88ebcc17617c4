package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Counters(t *testing.T) {
	p := NewPrometheus()

	p.KeyCreated("NGN")
	p.KeyCreated("NGN")
	p.ProvisioningFailed("create")
	p.UsageRecorded("gpt-4", "USD", 0.5)
	p.UsageRecorded("gpt-4", "USD", 0.25)
	p.SpendingCapRejected()
	p.NegativeBalance()
	p.IngestProcessed("recorded")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.keysCreated.WithLabelValues("NGN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.provisioningErrors.WithLabelValues("create")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.usageEvents.WithLabelValues("gpt-4", "USD")))
	assert.Equal(t, 0.75, testutil.ToFloat64(p.usageCostUSD.WithLabelValues("gpt-4")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.capRejections))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.negativeBalances))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.ingestItems.WithLabelValues("recorded")))
}

func TestPrometheus_HTTPHandler(t *testing.T) {
	p := NewPrometheus()
	p.HTTPRequest("POST /api/keys", http.StatusCreated, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	p.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `http_requests_total{route="POST /api/keys",status="201"} 1`)
	assert.Contains(t, string(body), "http_request_duration_seconds_bucket")
}

func TestNoop(t *testing.T) {
	var m Metrics = Noop{}
	m.KeyCreated("USD")
	m.HTTPRequest("x", 200, time.Second)

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
