package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"loyalty/internal/apperr"
	"loyalty/internal/security"
	"loyalty/internal/service"
)

const (
	OrderCreatedSubject = "webhooks.orders.create"
	intakeQueueGroup    = "loyalty_intake"
)

type WebhookIntake interface {
	Accept(ctx context.Context, body []byte, signature string) (*service.IntakeResult, error)
}

// Handler feeds webhooks relayed over NATS into the same intake path as HTTP.
// The signature travels in the message header under the Shopify header name.
type Handler struct {
	intake WebhookIntake
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

func NewHandler(intake WebhookIntake, nc *nats.Conn, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{intake: intake, nc: nc, logger: logger.With("component", "nats")}
}

// Start subscribes and blocks until ctx is cancelled (graceful shutdown).
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.nc.QueueSubscribe(OrderCreatedSubject, intakeQueueGroup, func(m *nats.Msg) {
		h.handle(ctx, m)
	})
	if err != nil {
		return err
	}
	h.sub = sub

	h.logger.Info("NATS webhook handler is running", "subject", OrderCreatedSubject)

	<-ctx.Done()
	h.logger.Info("NATS webhook handler shutting down, draining subscription...")
	_ = sub.Drain()
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	if h.sub != nil {
		_ = h.sub.Unsubscribe()
	}
	return nil
}

type reply struct {
	Status string `json:"status,omitempty"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) handle(ctx context.Context, m *nats.Msg) {
	signature := ""
	if m.Header != nil {
		signature = m.Header.Get(security.SignatureHeader)
	}

	var out reply
	res, err := h.intake.Accept(context.WithoutCancel(ctx), m.Data, signature)
	if err != nil {
		h.logger.Warn("webhook rejected", "error", err)
		out.Error = apperr.TextCode(err)
		if out.Error == "" {
			out.Error = apperr.TextCodeStorageFailure
		}
	} else {
		out.Status, out.ID = res.Status, res.Fingerprint
	}

	if m.Reply == "" {
		return
	}
	data, _ := json.Marshal(out)
	if err := m.Respond(data); err != nil {
		h.logger.Error("reply failed", "error", err)
	}
}
