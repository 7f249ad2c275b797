package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/opensource-finance/prudence/internal/authz"
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/opensource-finance/prudence/internal/scoring"
	"github.com/opensource-finance/prudence/internal/worker"
	"github.com/rotisserie/eris"
)

// StartRun handles POST /scoring/runs. By default the batch runs inline and
// the report is returned. With async=true the request is handed to a worker
// over the event bus and 202 is returned with the request ID.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	actor := GetActor(r.Context())

	var req scoring.RunRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if queryBool(r, "async") {
		if err := authz.Require(actor, authz.ActionRun, authz.ResourceScoring); err != nil {
			writeError(w, r, err)
			return
		}
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event bus not configured"})
			return
		}

		requestID := uuid.New().String()
		if err := worker.Request(r.Context(), h.bus, requestID, actor, req); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"request_id": requestID,
			"status":     "queued",
		})
		return
	}

	report, err := h.orchestrator.RunBatch(r.Context(), actor, req)
	if err != nil {
		if eris.Is(err, domain.ErrBatchFailed) && report != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":  err.Error(),
				"report": report,
			})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
