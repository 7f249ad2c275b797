package api

import (
	"net/http"

	"github.com/opensource-finance/prudence/internal/authz"
	"github.com/opensource-finance/prudence/internal/domain"
)

const defaultBreakdownLimit = 50

// GetBreakdowns handles GET /calculation-breakdowns. With reference_id it
// returns the latest breakdown for that record; with only type it lists
// breakdowns of that type, newest first.
func (h *Handler) GetBreakdowns(w http.ResponseWriter, r *http.Request) {
	if err := authz.Require(GetActor(r.Context()), authz.ActionRead, authz.ResourceBreakdown); err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	referenceID := q.Get("reference_id")
	t := domain.CalculationType(q.Get("type"))

	if referenceID != "" {
		b, err := h.recorder.Latest(r.Context(), referenceID, t)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
		return
	}

	if t == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "reference_id or type query parameter is required"})
		return
	}

	limit, err := queryInt(r, "limit", defaultBreakdownLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := h.recorder.ListByType(r.Context(), t, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"breakdowns": list,
		"count":      len(list),
	})
}
