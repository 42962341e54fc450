package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"loyalty/internal/apperr"
	"loyalty/internal/model"
)

const (
	StatusQueued           = "queued"
	StatusAlreadyProcessed = "already_processed"
)

type Verifier interface {
	Verify(body []byte, signature string) error
}

type Deduper interface {
	Contains(ctx context.Context, fingerprint string) (bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte) error
}

type IntakeResult struct {
	Status      string `json:"status"`
	Fingerprint string `json:"id"`
}

// Intake is the producer half of the pipeline: verify, dedup, enqueue.
// Crediting happens later in the worker.
type Intake struct {
	verifier Verifier
	dedup    Deduper
	queue    Enqueuer
	logger   *slog.Logger
}

func NewIntake(verifier Verifier, dedup Deduper, queue Enqueuer, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{
		verifier: verifier,
		dedup:    dedup,
		queue:    queue,
		logger:   logger.With("component", "intake"),
	}
}

// Accept admits one raw webhook body. body must be exactly what was signed.
func (i *Intake) Accept(ctx context.Context, body []byte, signature string) (*IntakeResult, error) {
	if err := i.verifier.Verify(body, signature); err != nil {
		return nil, err
	}

	canonical, err := Canonicalize(body)
	if err != nil {
		return nil, apperr.BadInput(err, "invalid JSON payload")
	}
	var order model.Order
	if err := json.Unmarshal(canonical, &order); err != nil {
		return nil, apperr.BadInput(err, "payload is not an order")
	}
	if order.ID == 0 || order.Email == "" {
		return nil, apperr.BadInput(errors.New("id and email are required"), "payload is not an order")
	}

	fingerprint := model.PayloadFingerprint(canonical)
	logger := i.logger.With("order_id", order.ID, "fingerprint", fingerprint)

	seen, err := i.dedup.Contains(ctx, fingerprint)
	if err != nil {
		logger.Error("dedup lookup failed", "error", err)
		return nil, apperr.Storage(err, "dedup lookup failed")
	}
	if seen {
		logger.Info("webhook already processed, ignoring")
		return &IntakeResult{Status: StatusAlreadyProcessed, Fingerprint: fingerprint}, nil
	}

	if err := i.queue.Enqueue(ctx, canonical); err != nil {
		logger.Error("enqueue failed", "error", err)
		return nil, apperr.Storage(err, "enqueue failed")
	}

	logger.Info("webhook enqueued for processing")
	return &IntakeResult{Status: StatusQueued, Fingerprint: fingerprint}, nil
}
