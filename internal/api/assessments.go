package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/risk"
	"github.com/opensource-finance/prudence/internal/scoring"
)

// CreateAssessment handles POST /risk-assessments.
func (h *Handler) CreateAssessment(w http.ResponseWriter, r *http.Request) {
	var in scoring.AssessmentInput
	if err := h.decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.orchestrator.CreateAssessment(r.Context(), GetActor(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetAssessment handles GET /risk-assessments/{id}.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := h.orchestrator.GetAssessment(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UpdateAssessment handles PATCH /risk-assessments/{id}.
func (h *Handler) UpdateAssessment(w http.ResponseWriter, r *http.Request) {
	var patch scoring.AssessmentPatch
	if err := h.decode(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.orchestrator.UpdateAssessment(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RiskRecalculation is the body of POST /risk-assessments/{id}/recalculate.
type RiskRecalculation struct {
	AssessmentID     string                  `json:"assessment_id"`
	OverallRiskScore float64                 `json:"overall_risk_score"`
	RiskLevel        domain.RiskTier         `json:"risk_level"`
	Status           domain.AssessmentStatus `json:"status"`
	Reduced          bool                    `json:"reduced,omitempty"`
	Missing          []domain.SubScore       `json:"missing,omitempty"`
	Breach           bool                    `json:"breach"`
	BreakdownID      string                  `json:"breakdown_id,omitempty"`
	Degraded         bool                    `json:"degraded,omitempty"`
	BreakdownError   string                  `json:"breakdown_error,omitempty"`
}

// RecalculateAssessment handles POST /risk-assessments/{id}/recalculate.
// Assessments keep the weighting basis they were scored with; reduced=true
// additionally allows renormalizing over the sub-scores present.
func (h *Handler) RecalculateAssessment(w http.ResponseWriter, r *http.Request) {
	opts := risk.Options{AllowReduced: queryBool(r, "reduced")}

	res, err := h.orchestrator.RecalculateAssessment(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	body := RiskRecalculation{
		AssessmentID:     res.Assessment.ID,
		OverallRiskScore: res.Assessment.OverallRiskScore,
		RiskLevel:        res.Assessment.RiskTier,
		Status:           res.Assessment.Status,
		Reduced:          res.Reduced,
		Missing:          res.Missing,
		Breach:           res.Breach,
		Degraded:         res.Degraded,
		BreakdownError:   res.BreakdownError,
	}
	if res.Breakdown != nil {
		body.BreakdownID = res.Breakdown.ID
	}
	writeJSON(w, http.StatusOK, body)
}

// RerunAssessmentBreakdown handles POST /risk-assessments/{id}/breakdown.
func (h *Handler) RerunAssessmentBreakdown(w http.ResponseWriter, r *http.Request) {
	opts := risk.Options{AllowReduced: queryBool(r, "reduced")}

	b, err := h.orchestrator.RerunAssessmentBreakdown(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Ranking handles GET /risk-assessments/ranking?limit=.
func (h *Handler) Ranking(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	entries, err := h.ranking.Industry(r.Context(), GetActor(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ranking": entries,
		"count":   len(entries),
	})
}
