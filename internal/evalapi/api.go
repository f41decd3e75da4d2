// Package evalapi implements the REST API served by bifrostd. It exposes flag
// evaluation over HTTP for processes that cannot embed the client directly.
package evalapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// API holds the daemon's HTTP dependencies and router.
// It follows the Dependency Injection pattern to facilitate testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// client is the embedded evaluation client.
	client *bifrost.Client

	// apiKeyHash is the SHA-256 hash of the valid API key.
	// Used for authentication in production environments.
	apiKeyHash string

	// skipAuth disables authentication when true (test/dev environments only).
	// Production environments should always set this to false.
	skipAuth bool
}

// NewAPI creates a new API instance with authentication enabled by default.
// The apiKeyHash parameter must be the SHA-256 hash of the API key.
// Panics if apiKeyHash is empty, as authentication cannot be disabled with this constructor.
func NewAPI(client *bifrost.Client, apiKeyHash string) *API {
	return NewAPIWithConfig(client, apiKeyHash, false)
}

// NewAPIWithConfig creates a new API instance with explicit control over authentication.
// This constructor is primarily used in tests to disable authentication.
//
// Panics if:
//   - client is nil
//   - apiKeyHash is empty when skipAuth is false
func NewAPIWithConfig(client *bifrost.Client, apiKeyHash string, skipAuth bool) *API {
	validation.AssertNotNil(client, "evaluation client")

	if !skipAuth {
		validation.AssertNotEmpty(apiKeyHash, "API key hash")
	}

	api := &API{
		Router:     chi.NewRouter(),
		client:     client,
		apiKeyHash: apiKeyHash,
		skipAuth:   skipAuth,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// 1. Global Middleware Stack
	// RequestID: Adds a unique ID to each request context (essential for tracing).
	a.Router.Use(middleware.RequestID)
	// RealIP: correctly sets the IP if behind a proxy/LB.
	a.Router.Use(middleware.RealIP)
	// Logger: Logs request method, path, status, and duration.
	a.Router.Use(RequestLogger)
	// Recoverer: Prevents the server from crashing on panics, returning 500 instead.
	a.Router.Use(middleware.Recoverer)
	// Metrics: Records request counts and latency histograms per route.
	a.Router.Use(RequestMetrics)
	// Content-Type: Forces JSON content type for API responses.
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	// 2. Public Routes (no authentication required)
	a.Router.Get("/health", a.handleHealthCheck)

	// 3. Protected API V1 Routes (authentication required)
	a.Router.Route("/api/v1", func(r chi.Router) {
		// Apply authentication middleware to all /api/v1/* routes
		r.Use(a.authenticateAPIKey)

		r.Post("/evaluate", a.handleEvaluate)
		r.Get("/status", a.handleStatus)
	})
}

// handleHealthCheck verifies if the service is serving HTTP. Deep checks
// (store connectivity, client readiness) live on the observability server's
// readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
