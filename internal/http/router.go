// Package httpapi assembles the chi router for the public API.
package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"aistudio/internal/http/handlers"
	"aistudio/internal/middleware"
)

// Options carries the cross-cutting pieces the router wires around handlers.
type Options struct {
	Logger          zerolog.Logger
	AllowedOrigins  []string
	RateLimitPerMin int
	LocaleLookup    middleware.LocaleLookup
	DefaultLocale   string
	// StaticDir, when set, is served under /static so stored artifact URLs
	// resolve against this process.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(opts.Logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}
	r.Use(middleware.Locale(opts.DefaultLocale, opts.LocaleLookup))

	r.Get("/v1/healthz", app.Health)

	if opts.StaticDir != "" {
		fileServer := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(opts.StaticDir)))
		r.Handle("/static/*", fileServer)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/videos/generate", app.VideosGenerate)
		r.Post("/images/generate", app.ImagesGenerate)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/{id}", app.JobStatus)
			r.Post("/{id}/remix", app.JobRemix)
			r.Post("/{id}/cancel", app.JobCancel)
		})
	})

	return r
}
