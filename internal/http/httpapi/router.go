package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/impara/comicgen/internal/http/handlers"
	"github.com/impara/comicgen/internal/infra"
	"github.com/impara/comicgen/internal/middleware"
)

// NewRouter assembles the HTTP surface: job creation and polling, the
// inference webhook, health, and static serving of composed artifacts.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/strips", func(r chi.Router) {
		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/", app.StripsCreate)
		r.Get("/{job_id}", app.StripsStatus)
	})

	// Webhook ingress is exempt from the per-client rate limit: callbacks
	// burst when a phase's parallel items finish together.
	r.Post("/v1/callbacks/inference", app.InferenceCallback)

	fileServer := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(cfg.StoragePath)))
	r.Get("/static/*", fileServer.ServeHTTP)

	return r
}
