// Package api serves the admin HTTP surface: policy, route and adapter
// management, manual runs, execution reads and the live event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/orchestrator/internal/action"
	"github.com/mattjoyce/orchestrator/internal/auth"
	"github.com/mattjoyce/orchestrator/internal/dispatch"
	"github.com/mattjoyce/orchestrator/internal/events"
	"github.com/mattjoyce/orchestrator/internal/execlog"
	"github.com/mattjoyce/orchestrator/internal/n8n"
	"github.com/mattjoyce/orchestrator/internal/policy"
	"github.com/mattjoyce/orchestrator/internal/queuemon"
)

// PolicyStore is the policy persistence the admin API writes through.
type PolicyStore interface {
	List(ctx context.Context) ([]*policy.Definition, error)
	Get(ctx context.Context, id int64) (*policy.Definition, error)
	Create(ctx context.Context, d *policy.Definition) error
	Update(ctx context.Context, d *policy.Definition) (*policy.Definition, error)
	Delete(ctx context.Context, id int64) error
}

// RuleDeployer pushes generated rule source for one policy when it differs
// from the last deployed version.
type RuleDeployer interface {
	DeployIfChanged(ctx context.Context, def *policy.Definition) (bool, error)
}

// GraphInvalidator drops cached trigger lookups after a policy change.
type GraphInvalidator interface {
	Invalidate()
}

// ExecutionReader reads the execution log.
type ExecutionReader interface {
	Latest(ctx context.Context, limit int) ([]*execlog.Execution, error)
	Trace(ctx context.Context, id int64) (*execlog.Trace, error)
}

// RouteStore manages action routes and adapter configs.
type RouteStore interface {
	ListRoutes(ctx context.Context) ([]*action.Route, error)
	GetRoute(ctx context.Context, actionType string) (*action.Route, error)
	CreateRoute(ctx context.Context, r *action.Route) error
	UpdateRoute(ctx context.Context, r *action.Route) error
	DeleteRoute(ctx context.Context, actionType string) error
	BatchUpsert(ctx context.Context, routes []*action.Route) (int, error)
	ListAdapters(ctx context.Context) ([]*action.AdapterConfig, error)
	GetAdapter(ctx context.Context, name string) (*action.AdapterConfig, error)
	UpdateAdapter(ctx context.Context, name string, a *action.AdapterConfig) error
}

// ActionExecutor runs one action outside of a policy evaluation.
type ActionExecutor interface {
	Execute(ctx context.Context, a policy.Action, entityID, contextStatus string) action.Trace
}

// ManualRunner runs a policy on demand.
type ManualRunner interface {
	RunManual(ctx context.Context, req dispatch.ManualRequest) (*dispatch.ManualResult, error)
}

// WorkflowDiscovery lists n8n projects and webhook workflows.
type WorkflowDiscovery interface {
	Projects(ctx context.Context) (json.RawMessage, error)
	Workflows(ctx context.Context) ([]n8n.Workflow, error)
}

// QueueMonitor reads broker queue depth and peeks at waiting messages.
type QueueMonitor interface {
	Queues(ctx context.Context) ([]queuemon.Queue, error)
	Peek(ctx context.Context, queue string, count int) ([]queuemon.Message, error)
}

// ProfileSource returns the context aggregator's profile catalogue.
type ProfileSource interface {
	Profiles(ctx context.Context) (json.RawMessage, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is the single admin bearer token with every scope.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// ShutdownTimeout bounds graceful shutdown once ctx is cancelled.
	ShutdownTimeout time.Duration
}

// Deps are the collaborators behind the admin routes. Nil optional
// collaborators turn their routes into 503 responses.
type Deps struct {
	Policies   PolicyStore
	Rules      RuleDeployer
	Graph      GraphInvalidator
	Executions ExecutionReader
	Routes     RouteStore
	Actions    ActionExecutor
	Manual     ManualRunner
	N8n        WorkflowDiscovery
	Profiles   ProfileSource
	Queues     QueueMonitor
	Hub        *events.Hub
	Audit      *AuditReporter
	Metrics    http.Handler
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate() {}

// Server represents the HTTP API server.
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance.
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	if deps.Hub == nil {
		deps.Hub = events.NewHub(256)
	}
	if deps.Graph == nil {
		deps.Graph = nopInvalidator{}
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // manual runAll batches are synchronous
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes("events:ro")).Get("/events", s.handleEvents)

		r.Route("/api", func(r chi.Router) {
			r.Get("/openapi.json", s.handleOpenAPI)
			for _, rt := range adminRoutes {
				r.With(s.requireScopes(rt.scope)).Method(rt.method, rt.path, s.handlerFor(rt))
			}
		})
	})

	return r
}

func (s *Server) handlerFor(rt route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := rt.handler(s, w, r); err != nil {
			s.fail(w, r, err)
		}
	}
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware resolves the bearer token to a principal. With no admin key
// and no tokens configured every caller is an admin.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" && len(s.config.Tokens) == 0 {
			p := auth.Admin("anonymous")
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
			return
		}

		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		p, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "unknown bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := auth.PrincipalFromContext(r.Context())
			if !p.Permits(scopes...) {
				s.logger.Warn("scope denied", "principal", p.Name, "path", r.URL.Path, "required", scopes)
				s.writeError(w, http.StatusForbidden, fmt.Sprintf("%s lacks scope %s", p.Name, strings.Join(scopes, " or ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
