package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"loyalty/internal/apperr"
	"loyalty/internal/model"
	"loyalty/internal/repository"
	"loyalty/internal/security"
	"loyalty/internal/service"
)

// MaxWebhookBodyBytes caps the webhook body read into memory.
const MaxWebhookBodyBytes = 1 << 20

type WebhookIntake interface {
	Accept(ctx context.Context, body []byte, signature string) (*service.IntakeResult, error)
}

type Handler struct {
	intake WebhookIntake
	svc    service.LedgerService
	logger *slog.Logger
	now    func() time.Time
}

func NewHandler(intake WebhookIntake, svc service.LedgerService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		intake: intake,
		svc:    svc,
		logger: logger.With("component", "http"),
		now:    time.Now,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.Health)
	r.Post("/webhooks/orders/create", h.OrderCreated)
	r.Get("/customers", h.ListCustomers)
	r.Get("/customers/{email}/balance", h.GetBalance)
	r.Get("/customers/{email}/transactions", h.ListTransactions)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// OrderCreated hands the raw body, byte for byte, to the intake path.
// Re-encoding before verification would break the HMAC.
func (h *Handler) OrderCreated(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "payload_too_large")
			return
		}
		h.respondError(w, http.StatusBadRequest, "unreadable_body")
		return
	}

	res, err := h.intake.Accept(r.Context(), body, r.Header.Get(security.SignatureHeader))
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

type customerView struct {
	Email         string `json:"email"`
	PointsBalance int64  `json:"points_balance"`
	ExternalID    int64  `json:"shopify_id"`
}

func newCustomerView(c model.Customer) customerView {
	return customerView{Email: c.Email, PointsBalance: c.PointsBalance, ExternalID: c.ExternalID}
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	customer, err := h.svc.GetBalance(r.Context(), email)
	if errors.Is(err, repository.ErrNotFound) {
		h.respondAppError(w, apperr.NotFound("customer not found", map[string]any{"email": email}))
		return
	}
	if err != nil {
		h.logger.Error("get balance failed", "email", email, "error", err)
		h.respondAppError(w, apperr.Storage(err, "get balance failed"))
		return
	}
	h.respondJSON(w, http.StatusOK, newCustomerView(*customer))
}

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.svc.ListCustomers(r.Context())
	if err != nil {
		h.logger.Error("list customers failed", "error", err)
		h.respondAppError(w, apperr.Storage(err, "list customers failed"))
		return
	}
	views := make([]customerView, 0, len(customers))
	for _, c := range customers {
		views = append(views, newCustomerView(c))
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"count":     len(views),
		"customers": views,
	})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	txs, err := h.svc.Transactions(r.Context(), email)
	if errors.Is(err, repository.ErrNotFound) {
		h.respondAppError(w, apperr.NotFound("customer not found", map[string]any{"email": email}))
		return
	}
	if err != nil {
		h.logger.Error("list transactions failed", "email", email, "error", err)
		h.respondAppError(w, apperr.Storage(err, "list transactions failed"))
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"email":        email,
		"count":        len(txs),
		"transactions": txs,
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// respondAppError writes an envelope error without leaking wrapped causes.
func (h *Handler) respondAppError(w http.ResponseWriter, err error) {
	status := apperr.StatusCode(err)
	code := apperr.TextCode(err)
	if code == "" {
		code = apperr.TextCodeStorageFailure
	}
	message := "internal server error"
	if status < http.StatusInternalServerError {
		message = apperr.Message(err)
	}
	h.respondJSON(w, status, map[string]string{"error": code, "message": message})
}
