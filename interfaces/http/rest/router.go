package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"acecore/application/core"
	"acecore/infrastructure/config"
	"acecore/infrastructure/observability"
	"acecore/interfaces/http/rest/handlers"
	"acecore/interfaces/http/rest/middleware"
	"acecore/pkg/auth"
)

// Router creates and configures the HTTP router
type Router struct {
	core    *core.CoreSystem
	cfg     *config.Config
	limiter auth.Limiter
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewRouter creates a new router instance. metrics may be nil when metric
// collection is disabled, limiter may be nil when rate limiting is.
func NewRouter(
	coreSystem *core.CoreSystem,
	cfg *config.Config,
	limiter auth.Limiter,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Router {
	return &Router{
		core:    coreSystem,
		cfg:     cfg,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	router.Use(middleware.Metrics(rt.metrics))

	if rt.cfg.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check and metrics stay outside authentication.
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.cfg.EnableMetrics && rt.metrics != nil {
		router.Handle("/metrics", rt.metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.core, rt.logger))
		if rt.limiter != nil {
			r.Use(middleware.RateLimit(rt.limiter, rt.logger))
		}
		adminOnly := middleware.RequireAdmin(rt.core, rt.logger)

		// Module type registry
		r.Route("/amt", func(r chi.Router) {
			registryHandler := handlers.NewRegistryHandler(rt.core, rt.logger)
			r.Post("/", registryHandler.Register)
			r.Get("/", registryHandler.List)
			r.Get("/{name}", registryHandler.Get)
			r.Delete("/{name}", registryHandler.Delete)
		})

		// Request processing and work distribution
		requestHandler := handlers.NewRequestHandler(rt.core, rt.cfg.MaxPollTimeout, rt.logger)
		r.Post("/process_request", requestHandler.Process)
		r.Post("/work_queue", requestHandler.GetWork)

		// Root and details tracking
		r.Route("/analysis_tracking", func(r chi.Router) {
			trackingHandler := handlers.NewTrackingHandler(rt.core, rt.logger)
			r.Get("/root/{uuid}", trackingHandler.GetRoot)
			r.Get("/details/{uuid}", trackingHandler.GetDetails)
		})

		// Content-addressed storage
		r.Route("/storage", func(r chi.Router) {
			storageHandler := handlers.NewStorageHandler(rt.core, rt.logger)
			r.Post("/", storageHandler.Store)
			r.Get("/meta/{sha256}", storageHandler.GetMeta)
			r.Get("/{sha256}", storageHandler.Stream)
		})

		// Runtime configuration; writes require an admin key.
		configHandler := handlers.NewConfigHandler(rt.core, rt.logger)
		r.Get("/config", configHandler.Get)
		r.With(adminOnly).Put("/config", configHandler.Set)
		r.With(adminOnly).Delete("/config", configHandler.Delete)

		// Credential management, admin only.
		r.Route("/auth", func(r chi.Router) {
			r.Use(adminOnly)
			authHandler := handlers.NewAuthHandler(rt.core, rt.logger)
			r.Post("/", authHandler.CreateKey)
			r.Delete("/{name}", authHandler.DeleteKey)
		})

		// Alert systems
		r.Route("/ams", func(r chi.Router) {
			alertHandler := handlers.NewAlertHandler(rt.core, rt.cfg.MaxPollTimeout, rt.logger)
			r.Put("/{name}", alertHandler.Register)
			r.Delete("/{name}", alertHandler.Unregister)
			r.Get("/{name}", alertHandler.GetAlerts)
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck handles readiness check requests
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
