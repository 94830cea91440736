package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"newsletter/internal/platform/middleware"
	dErrors "newsletter/pkg/domain-errors"
	"newsletter/pkg/platform/httputil"
)

// Registrar mounts a feature's routes. Each feature applies its own
// middleware chain.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter wires the operational endpoints and every feature router.
// Business logic stays in the feature handlers.
func NewRouter(logger *slog.Logger, gatherer prometheus.Gatherer, features ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))

	r.Get("/health_check", healthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	for _, f := range features {
		f.Register(r)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "route not found"))
	})
	return r
}

// healthCheck is a liveness probe: 200, no body.
func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}
