package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/shielded-relay/relayer/internal/apikey"
	"github.com/shielded-relay/relayer/internal/challenge"
	"github.com/shielded-relay/relayer/internal/config"
	"github.com/shielded-relay/relayer/internal/idempotency"
	"github.com/shielded-relay/relayer/internal/logger"
	"github.com/shielded-relay/relayer/internal/metrics"
	"github.com/shielded-relay/relayer/internal/ratelimit"
	"github.com/shielded-relay/relayer/internal/relay/credit"
	"github.com/shielded-relay/relayer/internal/relay/direct"
	"github.com/shielded-relay/relayer/internal/versioning"
)

var serverStartTime = time.Now()

// Server wires the relay/credit processors and middleware into a single
// HTTP listener.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg              *config.Config
	direct           *direct.Processor
	credit           *credit.Processor
	bridge           *challenge.Bridge
	idempotencyStore idempotency.Store
	metrics          *metrics.Metrics
	logger           zerolog.Logger
}

// New builds the HTTP server with its configured router.
func New(cfg *config.Config, directProcessor *direct.Processor, creditProcessor *credit.Processor, bridge *challenge.Bridge, idempotencyStore idempotency.Store, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:              cfg,
			direct:           directProcessor,
			credit:           creditProcessor,
			bridge:           bridge,
			idempotencyStore: idempotencyStore,
			metrics:          metricsCollector,
			logger:           appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, directProcessor, creditProcessor, bridge, idempotencyStore, metricsCollector, appLogger)

	return s
}

// ConfigureRouter attaches the relayer's routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, directProcessor *direct.Processor, creditProcessor *credit.Processor, bridge *challenge.Bridge, idempotencyStore idempotency.Store, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	handler := handlers{
		cfg:              cfg,
		direct:           directProcessor,
		credit:           creditProcessor,
		bridge:           bridge,
		idempotencyStore: idempotencyStore,
		metrics:          metricsCollector,
		logger:           appLogger,
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"PAYMENT-REQUIRED", "X-PAYMENT-RESPONSE"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers first for every response.
	router.Use(securityHeadersMiddleware)

	// Structured logging before RequestID so the request-scoped logger
	// already carries a correlation id by the time downstream middleware runs.
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Use(versioning.Negotiation)

	apiKeyCfg := apikey.Config{
		Enabled: cfg.APIKey.Enabled,
		APIKeys: make(map[string]apikey.Tier),
	}
	for key, tierStr := range cfg.APIKey.Keys {
		apiKeyCfg.APIKeys[key] = apikey.Tier(tierStr)
	}
	router.Use(apikey.Middleware(apiKeyCfg))

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:   cfg.RateLimit.GlobalEnabled,
		GlobalLimit:     cfg.RateLimit.GlobalLimit,
		GlobalWindow:    cfg.RateLimit.GlobalWindow.Duration,
		GlobalBurst:     cfg.RateLimit.GlobalLimit / 10,
		PerAgentEnabled: cfg.RateLimit.PerAgentEnabled,
		PerAgentLimit:   cfg.RateLimit.PerAgentLimit,
		PerAgentWindow:  cfg.RateLimit.PerAgentWindow.Duration,
		PerAgentBurst:   cfg.RateLimit.PerAgentLimit / 6,
		PerIPEnabled:    cfg.RateLimit.PerIPEnabled,
		PerIPLimit:      cfg.RateLimit.PerIPLimit,
		PerIPWindow:     cfg.RateLimit.PerIPWindow.Duration,
		PerIPBurst:      cfg.RateLimit.PerIPLimit / 6,
		Metrics:         metricsCollector,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.AgentLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix
	idempotencyMW := idempotency.Middleware(idempotencyStore, cfg.Idempotency.CacheTTL.Duration)

	// Lightweight endpoints: health and channel status probes.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", handler.health)
		r.Get(prefix+"/v1/relay/credit/close/{channelId}", handler.creditStatus)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Payment-processing endpoints: proof verification, on-chain
	// settlement, and merchant forwarding can each take multiple seconds.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.With(idempotencyMW).Post(prefix+"/v1/relay/pay", handler.relayPay)
		r.With(idempotencyMW).Post(prefix+"/v1/relay/challenge", handler.relayChallenge)

		r.With(idempotencyMW).Post(prefix+"/v1/relay/credit/topup", handler.creditTopup)
		r.With(idempotencyMW).Post(prefix+"/v1/relay/credit/pay", handler.creditPay)
		r.With(idempotencyMW).Post(prefix+"/v1/relay/credit/close/start", handler.creditCloseStart)
		r.With(idempotencyMW).Post(prefix+"/v1/relay/credit/close/challenge", handler.creditCloseChallenge)
		r.With(idempotencyMW).Post(prefix+"/v1/relay/credit/close/finalize", handler.creditCloseFinalize)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
