package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/ldawatch/internal/api/middleware"
	"github.com/kiranshivaraju/ldawatch/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler    http.HandlerFunc
	ProgressHandler  http.HandlerFunc
	LatestRunHandler http.HandlerFunc
	RunHandler       http.HandlerFunc
	StopHandler      http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/jobs/{jobID}/progress", orNotImplemented(deps.ProgressHandler))
		r.Get("/api/v1/jobs/{jobID}/runs/latest", orNotImplemented(deps.LatestRunHandler))
		r.Post("/api/v1/jobs/{jobID}/stop", orNotImplemented(deps.StopHandler))
		r.Get("/api/v1/runs/{runID}", orNotImplemented(deps.RunHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not available in this process", nil)
	}
}
