package router

import (
	"net/http"

	"github.com/inaiurai/imagegen/internal/auth"
	"github.com/inaiurai/imagegen/internal/dashboard"
	"github.com/inaiurai/imagegen/internal/handlers"
	"github.com/inaiurai/imagegen/internal/middleware"
	"github.com/inaiurai/imagegen/internal/services"
)

// Handlers groups everything mounted under /api/v1.
type Handlers struct {
	Auth        *auth.Handler
	Generations *handlers.GenerationHandler
	Dashboard   *dashboard.Handler
	Catalog     http.HandlerFunc
	Reports     http.HandlerFunc
}

// New returns an http.Handler that serves API under /api/v1.
// Chain for authenticated routes: RequireUser -> (ValidateBody on create) -> handler.
func New(h Handlers, tokens middleware.TokenValidator, validator middleware.BodyValidator) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST "+base+"/auth/register", h.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", h.Auth.Login)
	mux.HandleFunc("GET "+base+"/catalog", h.Catalog)

	user := middleware.RequireUser(tokens)
	schema := middleware.ValidateBody(validator, services.SchemaGenerationRequest)

	mux.Handle("POST "+base+"/generations", user(schema(http.HandlerFunc(h.Generations.CreateGeneration))))
	mux.Handle("GET "+base+"/generations", user(http.HandlerFunc(h.Generations.ListGenerations)))
	mux.Handle("GET "+base+"/generations/{id}", user(http.HandlerFunc(h.Generations.GetGeneration)))

	mux.Handle("GET "+base+"/account/me", user(http.HandlerFunc(h.Dashboard.GetMe)))
	mux.Handle("GET "+base+"/credits", user(http.HandlerFunc(h.Dashboard.GetCredits)))
	mux.Handle("GET "+base+"/reports/latest", user(h.Reports))

	return mux
}
