package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"loyalty/internal/service"
)

type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func NewServer(addr string, intake WebhookIntake, svc service.LedgerService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandler(intake, svc, logger)

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      newRouter(h),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger.With("component", "http"),
	}
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	h.Register(r)
	return r
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
