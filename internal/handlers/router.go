package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/wildid/wildid-server/internal/auth"
	"github.com/wildid/wildid-server/internal/metrics"
	"github.com/wildid/wildid-server/internal/middleware"
	"github.com/wildid/wildid-server/internal/session"
)

// RouterConfig carries the HTTP-level settings of the router.
type RouterConfig struct {
	MaxContentLength  int64
	TrustProxyHeaders bool
	AllowedOrigins    []string
}

// Router groups everything NewRouter mounts.
type Router struct {
	Config       RouterConfig
	Log          zerolog.Logger
	Metrics      *metrics.Metrics
	Binder       *session.Binder
	Issuer       *auth.Issuer
	LoginLimiter *middleware.RateLimiter

	Health   *HealthHandler
	Security *SecurityHandler
	Identify *IdentifyHandler
	Auth     *AuthHandler
	History  *HistoryHandler
}

// NewRouter builds the HTTP handler. Every route below the session binder
// sees a bound session; state-changing routes additionally pass the body cap
// and the CSRF check.
func NewRouter(rt Router) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if rt.Config.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(rt.Log, rt.Metrics))
	r.Use(middleware.SecurityHeaders)
	if len(rt.Config.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.Config.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", middleware.CSRFHeader, "X-CSRF-Token"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", rt.Health.Health)
	r.Method(http.MethodGet, "/metrics", rt.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(rt.Binder.Middleware)
		r.Use(rt.Issuer.LoadUser)

		r.Get("/api/security/status", rt.Security.Status)
		r.Get("/auth/verify", rt.Auth.Verify)
		r.Get("/api/auth/me", rt.Auth.Me)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)
			r.Get("/api/history", rt.History.List)
			r.Get("/api/history/{id}", rt.History.Get)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodySize(rt.Config.MaxContentLength))
			r.Use(middleware.CSRF)

			r.Post("/api/security/captcha", rt.Security.Captcha)
			r.Post("/api/security/verify", rt.Security.Verify)
			r.Post("/identify", rt.Identify.Identify)
			r.Post("/api/identify", rt.Identify.Identify)

			login := http.HandlerFunc(rt.Auth.Login)
			if rt.LoginLimiter != nil {
				r.Method(http.MethodPost, "/auth/login", rt.LoginLimiter.Middleware(login))
			} else {
				r.Method(http.MethodPost, "/auth/login", login)
			}
			r.Post("/auth/logout", rt.Auth.Logout)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireUser)
				r.Post("/api/history/{id}/feedback", rt.History.Feedback)
				r.Delete("/api/account", rt.History.DeleteAccount)
			})
		})
	})

	return r
}
