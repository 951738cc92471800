package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/V4T54L/argos/internal/adapter/api/handler"
	"github.com/V4T54L/argos/internal/adapter/api/middleware"
	"github.com/V4T54L/argos/internal/adapter/metrics"
	"github.com/V4T54L/argos/internal/domain"
)

// NewRouter creates and configures the HTTP router for the ingest service.
func NewRouter(
	logger *slog.Logger,
	maxEventSize int64,
	keys domain.CollectorKeyRepository,
	ingester handler.EventIngester,
	m *metrics.IngestMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	ingestHandler := handler.NewIngestHandler(ingester, logger, maxEventSize, m)
	r.Group(func(r chi.Router) {
		// Auth runs first so the access log carries the collector.
		r.Use(middleware.Auth(keys, logger))
		r.Use(middleware.Logging(logger))
		r.Method(http.MethodPost, "/ingest", ingestHandler)
	})

	return r
}
