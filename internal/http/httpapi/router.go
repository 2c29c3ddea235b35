package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"shortgen/internal/http/handlers"
	"shortgen/internal/middleware"
)

// Options tune the router around the handlers.
type Options struct {
	Logger zerolog.Logger
	// RateLimitPerMin applies per client IP to the public API. Webhooks are exempt.
	RateLimitPerMin int
	// StaticDir, when set, is served under /static for filesystem-backed media.
	StaticDir string
}

// NewRouter mounts every route of the API on a chi router.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)

	r.Get("/v1/healthz", app.Health)

	// Providers retry on their own schedule; throttling them only delays completion.
	r.Post("/v1/webhooks/clips/{provider}/{project_id}/{job_id}/{scene_index}", app.ClipWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))

		r.Route("/v1/projects", func(r chi.Router) {
			r.Post("/", app.ProjectsCreate)
			r.Get("/{project_id}", app.ProjectsGet)
		})
		r.Post("/v1/pipeline/run", app.PipelineRun)
		r.Route("/v1/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", app.JobsGet)
			r.Get("/events", app.JobsEvents)
			r.Get("/artifacts", app.JobsArtifacts)
			r.Get("/bundle", app.JobsBundle)
		})
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
