package delivery

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the login page and the login API.
func NewRouter(deps AppDependencies) http.Handler {
	ParseAllTemplates()

	r := chi.NewRouter()

	h := &HTTPEndpoint{
		app:    deps,
		logger: deps.GetLogger(),
	}

	// --- Global Middleware ---
	r.Use(middleware.RequestID)
	r.Use(TrustedRealIP(deps.GetTrustedProxies()))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- Login Page ---
	r.Get("/", h.loginPageHandler)
	r.Post("/", h.loginPageSubmitHandler)

	r.Get("/.well-known/jwks.json", h.jwksHandler)

	// --- API ---
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthHandler)

		r.Group(func(r chi.Router) {
			r.Use(deps.LoginRateLimit)
			r.Post("/auth/login", h.loginHandler)
		})
		r.Get("/auth/verify", h.verifyHandler)
	})

	return r
}
