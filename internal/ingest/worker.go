package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Prrash278/tuma/internal/apikeys"
	"github.com/Prrash278/tuma/internal/currency"
	"github.com/Prrash278/tuma/internal/metrics"
	"github.com/Prrash278/tuma/internal/models"
	"github.com/Prrash278/tuma/internal/queue"
)

// Outcomes reported to metrics.Recorder.IngestProcessed
const (
	OutcomeRecorded     = "recorded"
	OutcomeCapExceeded  = "cap_exceeded"
	OutcomeInvalid      = "invalid"
	OutcomeRejected     = "rejected"
	OutcomeDeadLettered = "dead_lettered"
)

// Ledger is the slice of apikeys.Service the worker books against
type Ledger interface {
	ValidateKey(ctx context.Context, keyID string, model models.Model) (*models.ProvisionedKey, error)
	CheckSpendingCap(ctx context.Context, key *models.ProvisionedKey, additionalUSD decimal.Decimal) (apikeys.CapCheck, error)
	RecordUsage(ctx context.Context, keyID string, model models.Model, inputTokens, outputTokens int64, costUSD decimal.Decimal, cur currency.Code) (*models.UsageEvent, error)
}

// Worker drains the usage queue into the ledger
type Worker struct {
	queue   queue.Queue
	dlq     queue.DeadLetterQueue
	ledger  Ledger
	config  *queue.Config
	logger  *logrus.Entry
	metrics metrics.Recorder
	now     func() time.Time

	startOnce   sync.Once
	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a worker. A nil config uses queue.DefaultConfig("usage").
func NewWorker(q queue.Queue, dlq queue.DeadLetterQueue, ledger Ledger, config *queue.Config, logger *logrus.Entry, recorder metrics.Recorder) *Worker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if recorder == nil {
		recorder = metrics.Noop{}
	}

	return &Worker{
		queue:       q,
		dlq:         dlq,
		ledger:      ledger,
		config:      config,
		logger:      logger.WithField("component", "ingest-worker"),
		metrics:     recorder,
		now:         time.Now,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start launches the worker goroutine
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.run(ctx)
	})
}

// Stop signals the worker, waits for it to drain what is already queued and
// returns. It is safe to call more than once.
func (w *Worker) Stop() error {
	// a worker that never started has nothing to wait for
	w.startOnce.Do(func() { close(w.stoppedChan) })
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.stoppedChan
	return nil
}

// Enqueue validates and queues a report
func (w *Worker) Enqueue(ctx context.Context, report *UsageReport) error {
	if report == nil {
		return fmt.Errorf("%w: report is required", ErrInvalidReport)
	}
	if err := report.Validate(); err != nil {
		return err
	}
	if report.ReceivedAt.IsZero() {
		report.ReceivedAt = w.now().UTC()
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode usage report: %w", err)
	}
	return w.queue.Enqueue(ctx, payload)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.drain(ctx)
			w.logger.Info("Ingest worker stopped")
			return
		case <-ctx.Done():
			w.logger.Info("Ingest worker context cancelled")
			return
		default:
			if err := w.processBatch(ctx, w.config.BatchTimeout); err != nil {
				w.logger.WithError(err).Error("Failed to dequeue usage reports")
				w.sleep(ctx, time.Second)
			}
		}
	}
}

// drain books whatever is left in the queue after Stop
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		length, err := w.queue.Length(ctx)
		if err != nil || length == 0 {
			return
		}
		if err := w.processBatch(ctx, 10*time.Millisecond); err != nil {
			return
		}
	}
}

func (w *Worker) processBatch(ctx context.Context, timeout time.Duration) error {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if len(items) == 0 {
		return nil
	}

	w.logger.WithField("count", len(items)).Debug("Processing usage batch")
	for _, payload := range items {
		w.processItem(ctx, payload)
	}
	return nil
}

// processItem books one payload, retrying transient failures with
// exponential backoff. Permanent failures and exhausted retries go to the DLQ.
func (w *Worker) processItem(ctx context.Context, payload []byte) {
	var report UsageReport
	if err := json.Unmarshal(payload, &report); err != nil {
		w.deadLetter(ctx, payload, fmt.Errorf("%w: %w", ErrInvalidReport, err), OutcomeInvalid)
		return
	}
	if err := report.Validate(); err != nil {
		w.deadLetter(ctx, payload, err, OutcomeInvalid)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.WithFields(logrus.Fields{
				"key_id":  report.KeyID,
				"attempt": attempt,
				"backoff": backoff,
			}).Debug("Retrying usage report")
			if !w.sleep(ctx, backoff) {
				lastErr = ctx.Err()
				break
			}
		}

		outcome, err := w.book(ctx, &report)
		if err == nil {
			w.metrics.IngestProcessed(OutcomeRecorded)
			return
		}
		lastErr = err
		if outcome != "" {
			w.deadLetter(ctx, payload, err, outcome)
			return
		}
		w.logger.WithError(err).WithFields(logrus.Fields{
			"key_id":  report.KeyID,
			"attempt": attempt,
		}).Warn("Failed to book usage report")
	}

	w.deadLetter(ctx, payload, fmt.Errorf("%w: %w", queue.ErrMaxRetriesExceeded, lastErr), OutcomeDeadLettered)
}

// book checks the key is still active and bound to the report's model, runs
// the cap pre-flight and records the usage. A non-empty outcome marks a
// failure that retrying cannot fix.
func (w *Worker) book(ctx context.Context, report *UsageReport) (string, error) {
	key, err := w.ledger.ValidateKey(ctx, report.KeyID, report.Model)
	if err != nil {
		return permanentOutcome(err), err
	}

	check, err := w.ledger.CheckSpendingCap(ctx, key, report.CostUSD)
	if err != nil {
		return permanentOutcome(err), err
	}
	if err := check.Err(); err != nil {
		return OutcomeCapExceeded, err
	}

	_, err = w.ledger.RecordUsage(ctx, report.KeyID, report.Model, report.InputTokens, report.OutputTokens, report.CostUSD, report.Currency)
	if err != nil {
		return permanentOutcome(err), err
	}
	return "", nil
}

func permanentOutcome(err error) string {
	switch {
	case errors.Is(err, apikeys.ErrKeyNotFound),
		errors.Is(err, apikeys.ErrInvalidInput),
		errors.Is(err, apikeys.ErrUnsupportedCurrency),
		errors.Is(err, apikeys.ErrUnsupportedModel):
		return OutcomeInvalid
	case errors.Is(err, apikeys.ErrKeyInactive),
		errors.Is(err, apikeys.ErrModelNotAllowed):
		return OutcomeRejected
	case errors.Is(err, apikeys.ErrSpendingCapExceeded):
		return OutcomeCapExceeded
	}
	return ""
}

func (w *Worker) deadLetter(ctx context.Context, payload []byte, reason error, outcome string) {
	w.metrics.IngestProcessed(outcome)
	logger := w.logger.WithError(reason).WithField("outcome", outcome)

	if w.dlq == nil {
		logger.Error("Dropped usage report, no dead letter queue")
		return
	}
	if err := w.dlq.Add(ctx, payload, reason); err != nil {
		logger.WithField("dlq_error", err.Error()).Error("Failed to add usage report to dead letter queue")
		return
	}
	logger.Warn("Usage report moved to dead letter queue")
}

// sleep waits d, returning false if the worker is cancelled first
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// QueueLength returns the number of reports waiting
func (w *Worker) QueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// DeadLetters returns parked reports, oldest first
func (w *Worker) DeadLetters(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, ErrNoDeadLetterQueue
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetter moves a parked report back onto the queue
func (w *Worker) RetryDeadLetter(ctx context.Context, id string) error {
	if w.dlq == nil {
		return ErrNoDeadLetterQueue
	}

	item, err := w.dlq.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := w.queue.Enqueue(ctx, item.Payload); err != nil {
		return fmt.Errorf("failed to re-enqueue item: %w", err)
	}
	if err := w.dlq.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to remove from DLQ: %w", err)
	}
	return nil
}
