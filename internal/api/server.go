package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/prudence/internal/authz"
	"github.com/opensource-finance/prudence/internal/breakdown"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/formula"
	"github.com/opensource-finance/prudence/internal/ranking"
	"github.com/opensource-finance/prudence/internal/scoring"
)

// Deps are the services the HTTP layer fronts.
type Deps struct {
	Repo         domain.Repository
	Cache        domain.Cache
	Bus          domain.EventBus
	Registry     *formula.Registry
	Orchestrator *scoring.Orchestrator
	Recorder     *breakdown.Recorder
	Ranking      *ranking.Service

	// Tokens enables bearer authentication. Nil selects header mode.
	Tokens  *authz.TokenService
	Version string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Group(func(r chi.Router) {
		r.Use(ActorMiddleware(deps.Tokens))

		r.Route("/formulas", func(r chi.Router) {
			r.Get("/", handler.ListFormulas)
			r.Post("/", handler.CreateFormula)
			r.Post("/validate", handler.ValidateFormula)
			r.Get("/{id}", handler.GetFormula)
			r.Put("/{id}", handler.EditFormula)
			r.Get("/{id}/versions", handler.FormulaVersions)
			r.Post("/{id}/activate", handler.ActivateFormula)
			r.Post("/{id}/duplicate", handler.DuplicateFormula)
			r.Post("/{id}/evaluate", handler.EvaluateFormula)
		})

		r.Route("/risk-assessments", func(r chi.Router) {
			r.Post("/", handler.CreateAssessment)
			r.Get("/ranking", handler.Ranking)
			r.Get("/{id}", handler.GetAssessment)
			r.Patch("/{id}", handler.UpdateAssessment)
			r.Post("/{id}/recalculate", handler.RecalculateAssessment)
			r.Post("/{id}/breakdown", handler.RerunAssessmentBreakdown)
		})

		r.Route("/compliance-indices", func(r chi.Router) {
			r.Post("/", handler.CreateComplianceIndex)
			r.Get("/{id}", handler.GetComplianceIndex)
			r.Patch("/{id}", handler.UpdateComplianceIndex)
			r.Post("/{id}/recalculate", handler.RecalculateCompliance)
		})

		r.Get("/calculation-breakdowns", handler.GetBreakdowns)
		r.Post("/scoring/runs", handler.StartRun)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
