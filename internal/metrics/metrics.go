package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives ledger and HTTP events
type Recorder interface {
	KeyCreated(currency string)
	ProvisioningFailed(operation string)
	UsageRecorded(model, currency string, costUSD float64)
	SpendingCapRejected()
	NegativeBalance()
	IngestProcessed(outcome string)
	HTTPRequest(route string, status int, duration time.Duration)
}

// Metrics is a Recorder that can also expose itself over HTTP
type Metrics interface {
	Recorder
	HTTPHandler() http.Handler
}

// Prometheus records to a dedicated registry
type Prometheus struct {
	registry *prometheus.Registry

	keysCreated        *prometheus.CounterVec
	provisioningErrors *prometheus.CounterVec
	usageEvents        *prometheus.CounterVec
	usageCostUSD       *prometheus.CounterVec
	capRejections      prometheus.Counter
	negativeBalances   prometheus.Counter
	ingestItems        *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewPrometheus creates the collectors on a fresh registry, with Go and process collectors attached
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		keysCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_keys_created_total",
			Help: "Provisioned keys created, by currency",
		}, []string{"currency"}),
		provisioningErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_provisioning_errors_total",
			Help: "Failed calls to the key vendor, by operation",
		}, []string{"operation"}),
		usageEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_usage_events_total",
			Help: "Usage events recorded, by model and currency",
		}, []string{"model", "currency"}),
		usageCostUSD: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_usage_cost_usd_total",
			Help: "USD cost recorded, by model",
		}, []string{"model"}),
		capRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_spending_cap_rejections_total",
			Help: "Usage rejected because it would exceed the spending cap",
		}),
		negativeBalances: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_negative_balance_total",
			Help: "Usage recordings that left a shadow ledger below zero",
		}),
		ingestItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_ingest_items_total",
			Help: "Queued usage reports handled by the ingest worker, by outcome",
		}, []string{"outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"status", "route"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (p *Prometheus) KeyCreated(currency string) {
	p.keysCreated.WithLabelValues(currency).Inc()
}

func (p *Prometheus) ProvisioningFailed(operation string) {
	p.provisioningErrors.WithLabelValues(operation).Inc()
}

func (p *Prometheus) UsageRecorded(model, currency string, costUSD float64) {
	p.usageEvents.WithLabelValues(model, currency).Inc()
	p.usageCostUSD.WithLabelValues(model).Add(costUSD)
}

func (p *Prometheus) SpendingCapRejected() {
	p.capRejections.Inc()
}

func (p *Prometheus) NegativeBalance() {
	p.negativeBalances.Inc()
}

func (p *Prometheus) IngestProcessed(outcome string) {
	p.ingestItems.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) HTTPRequest(route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(strconv.Itoa(status), route).Inc()
	p.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// HTTPHandler serves the registry in the Prometheus text format
func (p *Prometheus) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Noop discards everything
type Noop struct{}

func (Noop) KeyCreated(string)                      {}
func (Noop) ProvisioningFailed(string)              {}
func (Noop) UsageRecorded(string, string, float64)  {}
func (Noop) SpendingCapRejected()                   {}
func (Noop) NegativeBalance()                       {}
func (Noop) IngestProcessed(string)                 {}
func (Noop) HTTPRequest(string, int, time.Duration) {}
func (Noop) HTTPHandler() http.Handler              { return http.NotFoundHandler() }

var (
	_ Metrics = (*Prometheus)(nil)
	_ Metrics = Noop{}
)
