package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"loyalty/internal/model"
	"loyalty/internal/service"
)

const DefaultPollInterval = time.Second

type Crediter interface {
	CreditPoints(ctx context.Context, order model.Order) (*model.CreditResult, error)
}

// Queue is the claim/ack side of the event queue.
type Queue interface {
	Claim(ctx context.Context) ([]byte, bool, error)
	Ack(ctx context.Context, payload []byte) error
	Requeue(ctx context.Context, payload []byte) error
	Recover(ctx context.Context) (int, error)
}

type Marker interface {
	Mark(ctx context.Context, fingerprint string) error
}

// IngestionWorker is the single consumer of the webhook queue.
// Start runs the loop; Stop asks it to finish after the current event.
type IngestionWorker struct {
	ledger       Crediter
	queue        Queue
	dedup        Marker
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	// orphaned is set when a claim could not be released; the next step
	// returns it to the queue. Only the loop goroutine touches it.
	orphaned bool
}

func NewIngestionWorker(ledger Crediter, queue Queue, dedup Marker, pollInterval time.Duration, logger *slog.Logger) *IngestionWorker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionWorker{
		ledger:       ledger,
		queue:        queue,
		dedup:        dedup,
		pollInterval: pollInterval,
		logger:       logger.With("component", "worker"),
	}
}

// Start runs the polling loop until Stop is called or ctx is cancelled.
// Calling Start while the loop is active is a no-op that returns nil.
func (w *IngestionWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.logger.Warn("worker already running")
		return nil
	}
	w.running = true
	stop := make(chan struct{})
	done := make(chan struct{})
	w.stop, w.done = stop, done
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.stop = nil
		w.mu.Unlock()
		close(done)
	}()

	w.logger.Info("worker started", "poll_interval", w.pollInterval)
	w.run(ctx, stop)
	w.logger.Info("worker stopped")
	return nil
}

// Stop signals the loop and waits for it to exit or for ctx to expire.
// An in-flight ledger call is allowed to finish.
func (w *IngestionWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running || w.stop == nil {
		w.mu.Unlock()
		return nil
	}
	w.logger.Info("stopping worker")
	close(w.stop)
	w.stop = nil
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *IngestionWorker) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *IngestionWorker) run(ctx context.Context, stop <-chan struct{}) {
	// Event processing is not interrupted by ctx; only the next iteration is skipped.
	work := context.WithoutCancel(ctx)

	w.orphaned = true

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		processed, err := w.step(work)
		if err != nil {
			w.logger.Error("worker loop error", "error", err)
		}
		if err != nil || !processed {
			w.idle(ctx, stop)
		}
	}
}

func (w *IngestionWorker) idle(ctx context.Context, stop <-chan struct{}) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-stop:
	case <-ctx.Done():
	}
}

// step recovers orphaned claims when needed, then polls once.
// Nothing is claimed between two steps, so recovery cannot steal live work.
func (w *IngestionWorker) step(ctx context.Context) (bool, error) {
	if w.orphaned {
		n, err := w.queue.Recover(ctx)
		if err != nil {
			return false, fmt.Errorf("recover claims: %w", err)
		}
		w.orphaned = false
		if n > 0 {
			w.logger.Warn("recovered unacknowledged webhooks", "count", n)
		}
	}
	return w.pollOnce(ctx)
}

// pollOnce claims and processes at most one event. It reports whether an event was found.
func (w *IngestionWorker) pollOnce(ctx context.Context) (bool, error) {
	payload, ok, err := w.queue.Claim(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	w.process(ctx, payload)
	return true, nil
}

func (w *IngestionWorker) process(ctx context.Context, payload []byte) {
	fingerprint := model.PayloadFingerprint(payload)
	logger := w.logger.With("fingerprint", fingerprint)

	var order model.Order
	if err := json.Unmarshal(payload, &order); err != nil {
		logger.Error("malformed webhook dropped", "error", err)
		w.complete(ctx, logger, payload, fingerprint)
		return
	}
	logger = logger.With("order_id", order.ID)
	logger.Info("processing webhook")

	res, err := w.ledger.CreditPoints(ctx, order)
	switch {
	case errors.Is(err, service.ErrInvalidOrder):
		logger.Error("invalid order dropped", "error", err)
	case err != nil:
		logger.Error("webhook processing failed, requeueing", "error", err)
		w.requeue(ctx, logger, payload)
		return
	case res.Credited:
		logger.Info("webhook processed", "new_balance", res.NewBalance, "transaction_id", res.TransactionID)
	default:
		logger.Info("webhook not credited", "reason", res.Reason)
	}

	w.complete(ctx, logger, payload, fingerprint)
}

// complete marks a terminal event as processed and acknowledges its claim.
func (w *IngestionWorker) complete(ctx context.Context, logger *slog.Logger, payload []byte, fingerprint string) {
	if err := w.dedup.Mark(ctx, fingerprint); err != nil {
		// The ledger fingerprint makes the retry a no-op.
		logger.Error("mark processed failed, requeueing", "error", err)
		w.requeue(ctx, logger, payload)
		return
	}
	if err := w.queue.Ack(ctx, payload); err != nil {
		logger.Error("ack failed, claim left for recovery", "error", err)
		w.orphaned = true
	}
}

func (w *IngestionWorker) requeue(ctx context.Context, logger *slog.Logger, payload []byte) {
	if err := w.queue.Requeue(ctx, payload); err != nil {
		logger.Error("requeue failed, claim left for recovery", "error", err)
		w.orphaned = true
	}
}
