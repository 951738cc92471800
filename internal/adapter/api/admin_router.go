package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/argos/internal/adapter/api/handler"
	"github.com/V4T54L/argos/internal/adapter/api/middleware"
)

// NewAdminRouter creates the operator-facing router: health, Prometheus
// metrics, zone and cluster queries, and stream administration. It is meant
// for an internal listener only.
func NewAdminRouter(h *handler.AdminHandler, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Logging(logger))

		r.Get("/zones/{zoneID}", h.GetZone)
		r.Get("/clusters/{clusterID}", h.GetCluster)
		r.Get("/quarantine", h.ReadQuarantine)

		r.Route("/streams/{stream}", func(r chi.Router) {
			r.Get("/groups", h.GetGroupInfo)
			r.Get("/groups/{group}/pending", h.GetPendingSummary)
			r.Get("/groups/{group}/pending/messages", h.GetPendingMessages)
			r.Post("/groups/{group}/claim", h.ClaimMessages)
			r.Post("/groups/{group}/ack", h.AcknowledgeMessages)
			r.Post("/trim", h.TrimStream)
		})
	})

	return r
}
