// Package server exposes the publishing client over a small JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/perpetuallyhorni/trailercast/pkg/client"
	"github.com/perpetuallyhorni/trailercast/pkg/storage"
)

// Service is the part of client.Client the API needs.
type Service interface {
	Targets() []trailercast.Target
	PublishAll(ctx context.Context, job trailercast.PublishJob, targets []trailercast.Target, force bool, progressCb client.ProgressCallback) []trailercast.PublishResult
	QuotaUsage(ctx context.Context) []client.AdapterQuota
	ResetQuotas(ctx context.Context, name string) error
	History(ctx context.Context, filter storage.HistoryFilter) ([]storage.PublishRecord, error)
}

// Handler serves the API routes.
type Handler struct {
	svc    Service
	logger *log.Logger
}

// NewRouter builds the API router. metrics may be nil, in which case /metrics is not mounted.
func NewRouter(svc Service, metrics http.Handler, logger *log.Logger) http.Handler {
	h := &Handler{svc: svc, logger: logger}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(h.loggingMiddleware)
	r.Use(h.recoverMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ok", nil) })
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/targets", h.targets)
		r.Get("/quota", h.quota)
		r.Post("/quota/reset", h.resetQuota)
		r.Post("/publish", h.publish)
		r.Get("/history", h.history)
	})
	return r
}

// ListenAndServe runs the API on addr until ctx is cancelled, then shuts down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to serve on %s: %w", addr, err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Printf("Shutting down server")
	return srv.Shutdown(shutdownCtx)
}
