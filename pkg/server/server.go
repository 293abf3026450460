// Package server exposes the control plane over HTTP: invocation, lifecycle,
// master data, templates, observability, and bulk endpoints on a chi router.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentmesh/agentmesh/pkg/alerts"
	"github.com/agentmesh/agentmesh/pkg/auth"
	"github.com/agentmesh/agentmesh/pkg/capability"
	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/dispatch"
	"github.com/agentmesh/agentmesh/pkg/integration"
	"github.com/agentmesh/agentmesh/pkg/logger"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/orchestrator"
	"github.com/agentmesh/agentmesh/pkg/ratelimit"
	"github.com/agentmesh/agentmesh/pkg/registry"
	"github.com/agentmesh/agentmesh/pkg/trace"
	"github.com/agentmesh/agentmesh/pkg/workflow"
)

// Deps wires the components the handlers delegate to.
type Deps struct {
	Config       *config.Config
	Auth         *auth.Service
	Limiter      *ratelimit.Limiter
	Agents       *registry.AgentRegistry
	Master       *registry.MasterData
	Workflows    *registry.WorkflowStore
	Templates    *registry.TemplateStore
	Secrets      *registry.SecretStore
	Capability   *capability.Engine
	Dispatcher   *dispatch.Dispatcher
	Engine       *workflow.Engine
	Facade       *integration.Facade
	Alerts       *alerts.Engine
	Metrics      metrics.Store
	Recorder     *trace.Recorder
	Orchestrator *orchestrator.Orchestrator
}

// Server is the HTTP front of the control plane.
type Server struct {
	deps Deps
	http *http.Server
}

// New assembles the router and the underlying http.Server.
func New(deps Deps) *Server {
	s := &Server{deps: deps}
	addr := fmt.Sprintf("%s:%d", deps.Config.Server.Host, deps.Config.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	// Unauthenticated surface.
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	if s.deps.Auth != nil {
		r.Post("/auth/refresh", s.handleAuthRefresh)
	}

	r.Group(func(r chi.Router) {
		if s.deps.Auth != nil {
			r.Use(s.deps.Auth.Middleware)
		}
		if s.deps.Limiter != nil {
			r.Use(s.deps.Limiter.Middleware)
		}

		r.Route("/agents", func(r chi.Router) {
			r.Post("/", s.handleAgentCreate)
			r.Get("/", s.handleAgentList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleAgentGet)
				r.Put("/", s.handleAgentUpdate)
				r.Delete("/", s.handleAgentDelete)
				r.Get("/versions", s.handleAgentVersions)
				r.Post("/revert", s.handleAgentRevert)
				r.Post("/deploy", s.handleAgentDeploy)
				r.Post("/stop", s.handleAgentStop)
				r.Post("/scale", s.handleAgentScale)
				r.Post("/invoke", s.handleAgentInvoke)
				r.Get("/capabilities", s.handleAgentCapabilities)
			})
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", s.handleWorkflowCreate)
			r.Get("/", s.handleWorkflowList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleWorkflowGet)
				r.Delete("/", s.handleWorkflowDelete)
				r.Post("/activate", s.handleWorkflowActivate)
				r.Post("/execute", s.handleWorkflowExecute)
				r.Get("/executions", s.handleExecutionList)
			})
		})
		r.Route("/executions/{id}", func(r chi.Router) {
			r.Get("/", s.handleExecutionGet)
			r.Post("/stop", s.handleExecutionStop)
		})

		r.Route("/skills", func(r chi.Router) {
			r.Post("/", s.handleSkillCreate)
			r.Get("/", s.handleSkillList)
			r.Delete("/{id}", s.handleSkillDelete)
		})
		r.Route("/tools", func(r chi.Router) {
			r.Post("/", s.handleToolCreate)
			r.Get("/", s.handleToolList)
			r.Delete("/{id}", s.handleToolDelete)
		})
		r.Route("/constraints", func(r chi.Router) {
			r.Post("/", s.handleConstraintCreate)
			r.Get("/", s.handleConstraintList)
			r.Delete("/{id}", s.handleConstraintDelete)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", s.handleTemplateCreate)
			r.Get("/", s.handleTemplateList)
			r.Get("/{id}", s.handleTemplateGet)
			r.Delete("/{id}", s.handleTemplateDelete)
			r.Post("/{id}/instantiate", s.handleTemplateInstantiate)
		})

		r.Route("/secrets", func(r chi.Router) {
			r.Get("/", s.handleSecretList)
			r.Put("/{name}", s.handleSecretSet)
			r.Delete("/{name}", s.handleSecretDelete)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleAlertList)
			r.Post("/{id}/silence", s.handleAlertSilence)
			r.Get("/rules", s.handleAlertRuleList)
			r.Post("/rules", s.handleAlertRuleCreate)
			r.Delete("/rules/{id}", s.handleAlertRuleDelete)
		})

		r.Get("/traces/{id}", s.handleTraceGet)
		r.Get("/samples", s.handleSampleQuery)

		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)
		r.Post("/batch/agents", s.handleBatchAgents)
		r.Post("/batch/workflows", s.handleBatchWorkflows)
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logger.GetLogger().Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"active_traces": s.deps.Recorder.Active(),
	})
}

func (s *Server) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	pair, err := s.deps.Auth.Refresh(body.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// callerID resolves the acting user. Admins act as internal callers and
// bypass ownership checks.
func callerID(r *http.Request) string {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		return ""
	}
	if claims.IsAdmin() {
		return ""
	}
	return claims.Subject
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.GetLogger().Debug("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "elapsed_ms", time.Since(start).Milliseconds())
	})
}
