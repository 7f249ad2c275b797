package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/prudence/internal/authz"
	"github.com/opensource-finance/prudence/internal/domain"
)

// FormulaRequest is the body of POST /formulas.
type FormulaRequest struct {
	FormulaType domain.FormulaType `json:"formula_type" validate:"required"`
	Name        string             `json:"name" validate:"required,max=200"`
	Description string             `json:"description"`
	Expression  string             `json:"formula_expression"`
	Variables   map[string]string  `json:"variables"`
	Weights     map[string]float64 `json:"weights"`
	Thresholds  map[string]float64 `json:"thresholds"`
	ChangeNotes string             `json:"change_notes"`
}

// ValidateRequest is the body of POST /formulas/validate.
type ValidateRequest struct {
	Expression string            `json:"formula_expression" validate:"required"`
	Variables  map[string]string `json:"variables"`
}

// EvaluateRequest is the body of POST /formulas/{id}/evaluate.
type EvaluateRequest struct {
	Inputs map[string]float64 `json:"inputs" validate:"required"`
}

// MeasureResponse renders a three-way measure.
type MeasureResponse struct {
	State  string   `json:"state"`
	Value  *float64 `json:"value,omitempty"`
	Reason string   `json:"reason,omitempty"`
}

// ListFormulas handles GET /formulas?type=. It returns the active formula,
// or every version of the type with all=true.
func (h *Handler) ListFormulas(w http.ResponseWriter, r *http.Request) {
	actor := GetActor(r.Context())
	if err := authz.Require(actor, authz.ActionRead, authz.ResourceFormula); err != nil {
		writeError(w, r, err)
		return
	}

	t := domain.FormulaType(r.URL.Query().Get("type"))
	if t == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "type query parameter is required"})
		return
	}

	if queryBool(r, "all") {
		formulas, err := h.registry.List(r.Context(), t)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"formulas": formulas,
			"count":    len(formulas),
		})
		return
	}

	f, err := h.registry.GetActive(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// CreateFormula handles POST /formulas.
func (h *Handler) CreateFormula(w http.ResponseWriter, r *http.Request) {
	var req FormulaRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	f, err := h.registry.Create(r.Context(), GetActor(r.Context()), &domain.Formula{
		FormulaType: req.FormulaType,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Variables:   req.Variables,
		Weights:     req.Weights,
		Thresholds:  req.Thresholds,
		ChangeNotes: req.ChangeNotes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// GetFormula handles GET /formulas/{id}.
func (h *Handler) GetFormula(w http.ResponseWriter, r *http.Request) {
	if err := authz.Require(GetActor(r.Context()), authz.ActionRead, authz.ResourceFormula); err != nil {
		writeError(w, r, err)
		return
	}

	f, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// EditFormula handles PUT /formulas/{id}.
func (h *Handler) EditFormula(w http.ResponseWriter, r *http.Request) {
	var changes domain.FormulaChanges
	if err := h.decode(r, &changes); err != nil {
		writeError(w, r, err)
		return
	}

	f, err := h.registry.RecordEdit(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), changes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// FormulaVersions handles GET /formulas/{id}/versions.
func (h *Handler) FormulaVersions(w http.ResponseWriter, r *http.Request) {
	if err := authz.Require(GetActor(r.Context()), authz.ActionRead, authz.ResourceFormula); err != nil {
		writeError(w, r, err)
		return
	}

	versions, err := h.registry.Versions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"count":    len(versions),
	})
}

// ActivateFormula handles POST /formulas/{id}/activate.
func (h *Handler) ActivateFormula(w http.ResponseWriter, r *http.Request) {
	f, err := h.registry.Activate(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// DuplicateFormula handles POST /formulas/{id}/duplicate.
func (h *Handler) DuplicateFormula(w http.ResponseWriter, r *http.Request) {
	f, err := h.registry.Duplicate(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// ValidateFormula handles POST /formulas/validate. A well-formed request
// always answers 200; the verdict is in the body.
func (h *Handler) ValidateFormula(w http.ResponseWriter, r *http.Request) {
	if err := authz.Require(GetActor(r.Context()), authz.ActionRead, authz.ResourceFormula); err != nil {
		writeError(w, r, err)
		return
	}

	var req ValidateRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.registry.ValidateExpression(req.Expression, req.Variables); err != nil {
		if !domain.IsValidation(err) {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// EvaluateFormula handles POST /formulas/{id}/evaluate, a dry run that
// persists nothing.
func (h *Handler) EvaluateFormula(w http.ResponseWriter, r *http.Request) {
	if err := authz.Require(GetActor(r.Context()), authz.ActionRead, authz.ResourceFormula); err != nil {
		writeError(w, r, err)
		return
	}

	var req EvaluateRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	m, err := h.registry.Evaluate(r.Context(), chi.URLParam(r, "id"), req.Inputs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := MeasureResponse{State: m.State.String(), Reason: m.Reason}
	if m.State == domain.MeasurePresent {
		v := m.Value
		resp.Value = &v
	}
	writeJSON(w, http.StatusOK, resp)
}
