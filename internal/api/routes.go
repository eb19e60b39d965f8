package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"vanish.share/config"
	"vanish.share/internal/metrics"
)

type Deps struct {
	Bot       Dispatcher
	Links     Links
	Collector Sweeper
	Auth      *Authenticator
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

func SetupRouter(d Deps, cfg *config.Config) *chi.Mux {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := NewHandler(d.Bot, d.Links, d.Collector, d.Logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(Logger(d.Logger, d.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.Health)
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(JSONOnly)

		// Hooks arrive from the gateway on behalf of many users, so they
		// get their own, larger budget.
		r.Route("/hooks", func(r chi.Router) {
			if cfg.RateLimit.Enabled {
				r.Use(NewRateLimiter(cfg.RateLimit.HooksPerMin, time.Minute).Middleware)
			}
			r.Use(d.Auth.Require(RoleGateway))
			r.Post("/start", h.HookStart)
			r.Post("/media", h.HookMedia)
			r.Post("/text", h.HookText)
			r.Post("/selection", h.HookSelection)
			r.Post("/reset", h.HookReset)
		})

		r.Group(func(r chi.Router) {
			if cfg.RateLimit.Enabled {
				r.Use(NewRateLimiter(cfg.RateLimit.RequestsPerMin, time.Minute).Middleware)
			}
			r.Use(d.Auth.Require(RoleUser))
			r.Get("/links", h.ListLinks)
			r.Delete("/links/{token}", h.RevokeLink)
			r.Get("/principals", h.ListPrincipals)
			r.Post("/broadcast", h.Broadcast)
			r.Post("/gc", h.Sweep)
		})
	})

	return r
}
