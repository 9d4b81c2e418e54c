package server

import (
	"net/http"

	"github.com/dataanalyst/dataanalyst/internal/agent"
	"github.com/dataanalyst/dataanalyst/internal/genie"
	"github.com/dataanalyst/dataanalyst/internal/handler"
	"github.com/dataanalyst/dataanalyst/internal/metrics"
	"github.com/dataanalyst/dataanalyst/internal/middleware"
	"github.com/dataanalyst/dataanalyst/internal/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func (s *Server) setupRoutes() (http.Handler, error) {
	cfg := s.cfg

	// ─── Services ───────────────────────────────────────────────────────────────
	settings, err := cfg.GenieSettings()
	if err != nil {
		return nil, err
	}
	settings.UserAgent = "data-analyst/" + handler.Version
	client, err := genie.NewFromSettings(settings, genie.WithMetrics(metrics.NewMetrics(s.registry)))
	if err != nil {
		return nil, err
	}

	guards := service.NewGuards(cfg)
	genieSvc := service.NewGenieService(client, guards)

	log.Info().
		Str("databricks_host", settings.Workspace.Host).
		Str("space_id", settings.Workspace.SpaceID).
		Str("auth", string(client.Scheme())).
		Bool("agent_enabled", cfg.AnthropicAPIKey != "").
		Bool("auth_enabled", cfg.EnableAuth && len(cfg.APIKeys) > 0).
		Bool("data_masking", cfg.EnableDataMasking).
		Bool("audit_logging", cfg.EnableAuditLogging).
		Bool("pii_detection", cfg.EnablePIIDetection).
		Msg("service configuration")

	if cfg.EnableAuth && len(cfg.APIKeys) == 0 {
		log.Warn().Msg("WARNING: auth enabled but no API keys configured - all API requests will be rejected")
	}

	// ─── AI Agent ────────────────────────────────────────────────────────────────
	var agentH *handler.AgentHandler
	if cfg.AnthropicAPIKey != "" {
		analyst := agent.NewAnalystAgent(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AnthropicBaseURL)
		agentH = handler.NewAgentHandler(agent.NewGenieHandler(analyst, genieSvc, guards.Audit), service.NewIntentRouter())
	} else {
		log.Warn().Msg("ANTHROPIC_API_KEY not set - /query-agent disabled")
	}

	// ─── Handlers ────────────────────────────────────────────────────────────────
	healthH := handler.NewHealthHandler(genieSvc, agentH != nil)
	askH := handler.NewAskHandler(genieSvc, handler.ReportOptions{
		Icon:    cfg.ReportIcon,
		MaxRows: cfg.ReportMaxRows,
	})

	// ─── Router ──────────────────────────────────────────────────────────────────
	r := chi.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)))
	r.Use(chiMiddleware.RealIP)

	// Public routes
	r.Get("/health", healthH.Health)
	r.Get("/", healthH.Health)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	apiMiddleware := []func(http.Handler) http.Handler{
		middleware.RateLimit(cfg.RateLimitPerMinute),
	}
	if cfg.EnableAuth {
		apiMiddleware = append(apiMiddleware, middleware.Auth(cfg.APIKeys, cfg.APIKeyHeader))
	}

	r.Group(func(r chi.Router) {
		for _, m := range apiMiddleware {
			r.Use(m)
		}

		r.Route(cfg.APIPrefix, func(r chi.Router) {
			r.Post("/ask", askH.Ask)
			r.Post("/conversations/{conversation_id}/messages", askH.FollowUp)

			if agentH != nil {
				r.Post("/query-agent", agentH.QueryAgent)
			}
		})
	})

	return r, nil
}
