package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/prudence/internal/compliance"
	"github.com/opensource-finance/prudence/internal/scoring"
)

// CreateComplianceIndex handles POST /compliance-indices.
func (h *Handler) CreateComplianceIndex(w http.ResponseWriter, r *http.Request) {
	var in scoring.ComplianceInput
	if err := h.decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.orchestrator.CreateComplianceIndex(r.Context(), GetActor(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetComplianceIndex handles GET /compliance-indices/{id}.
func (h *Handler) GetComplianceIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := h.orchestrator.GetComplianceIndex(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

// UpdateComplianceIndex handles PATCH /compliance-indices/{id}.
func (h *Handler) UpdateComplianceIndex(w http.ResponseWriter, r *http.Request) {
	var patch scoring.CompliancePatch
	if err := h.decode(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.orchestrator.UpdateComplianceIndex(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ComplianceRecalculation is the body of POST /compliance-indices/{id}/recalculate.
type ComplianceRecalculation struct {
	IndexID              string          `json:"index_id"`
	FinalComplianceScore float64         `json:"final_compliance_score"`
	Path                 compliance.Path `json:"path"`
	BaseScore            float64         `json:"base_score"`
	Breach               bool            `json:"breach"`
	BreakdownID          string          `json:"breakdown_id,omitempty"`
	Degraded             bool            `json:"degraded,omitempty"`
	BreakdownError       string          `json:"breakdown_error,omitempty"`
}

// RecalculateCompliance handles POST /compliance-indices/{id}/recalculate.
func (h *Handler) RecalculateCompliance(w http.ResponseWriter, r *http.Request) {
	res, err := h.orchestrator.RecalculateCompliance(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	body := ComplianceRecalculation{
		IndexID:              res.Index.ID,
		FinalComplianceScore: res.Index.FinalComplianceScore,
		Path:                 res.Path,
		BaseScore:            res.Base,
		Breach:               res.Breach,
		Degraded:             res.Degraded,
		BreakdownError:       res.BreakdownError,
	}
	if res.Breakdown != nil {
		body.BreakdownID = res.Breakdown.ID
	}
	writeJSON(w, http.StatusOK, body)
}
