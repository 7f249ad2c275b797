package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/opensource-finance/prudence/internal/breakdown"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/formula"
	"github.com/opensource-finance/prudence/internal/ranking"
	"github.com/opensource-finance/prudence/internal/scoring"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	registry     *formula.Registry
	orchestrator *scoring.Orchestrator
	recorder     *breakdown.Recorder
	ranking      *ranking.Service
	validate     *validator.Validate
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		repo:         deps.Repo,
		cache:        deps.Cache,
		bus:          deps.Bus,
		registry:     deps.Registry,
		orchestrator: deps.Orchestrator,
		recorder:     deps.Recorder,
		ranking:      deps.Ranking,
		validate:     validator.New(),
		version:      deps.Version,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// Health reports the state of the backing stores.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(r.Context()) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(r.Context()) })
	}
	if h.bus != nil {
		check("event_bus", func() error { return h.bus.Ping(r.Context()) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready handles GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// decode reads a JSON body into dst and runs struct validation.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return eris.Wrapf(domain.ErrValidation, "invalid JSON request body: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return eris.Wrapf(domain.ErrValidation, "%v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsForbidden(err):
		return http.StatusForbidden
	case domain.IsConcurrencyConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.String("trace_id", GetTraceID(r.Context())),
		zap.Error(err),
	}

	switch {
	case domain.IsInvariantViolation(err):
		zap.L().Error("invariant violation", append(fields, zap.Bool("invariant", true))...)
		writeJSON(w, status, errorResponse{Error: "internal invariant violated"})
		return
	case status == http.StatusInternalServerError:
		zap.L().Error("api: request failed", fields...)
		writeJSON(w, status, errorResponse{Error: "internal server error"})
		return
	case status == http.StatusBadRequest:
		zap.L().Warn("api: rejected request", fields...)
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Wrapf(domain.ErrValidation, "%s must be a non-negative integer", key)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}
