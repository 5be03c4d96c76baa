package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"go.temporal.io/sdk/client"

	"github.com/mvidalg/genflow-api/internal/model"
	"github.com/mvidalg/genflow-api/internal/workflows"
)

// CreateBatch handles POST /batches requests: it starts one batch workflow
// that drives every listed job as a child workflow.
func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	items := make([]model.JobInput, 0, len(req.Jobs))
	for _, job := range req.Jobs {
		input, err := jobInputFromRequest(job)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		items = append(items, input)
	}

	workflowID := model.NewBatchID()
	run, err := h.tc.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: h.taskQueue,
	}, workflows.BatchGenerationWorkflow, workflows.BatchInput{
		Items:       items,
		Parallel:    req.Parallel,
		MaxParallel: req.MaxParallel,
	})
	if err != nil {
		h.logger.Error("failed to start batch workflow",
			slog.String("workflow_id", workflowID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start batch", "BATCH_START_FAILED")
		return
	}

	h.logger.Info("batch started",
		slog.String("workflow_id", run.GetID()),
		slog.Int("items", len(items)),
		slog.Bool("parallel", req.Parallel),
	)

	writeJSON(w, http.StatusAccepted, CreateBatchResponse{
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
		Total:      len(items),
	})
}

// BatchProgress handles GET /batches/{id}/progress requests.
func (h *Handlers) BatchProgress(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, workflows.QueryGetBatchProgress, func() any { return &workflows.BatchProgress{} })
}

// PauseBatch handles POST /batches/{id}/pause requests.
func (h *Handlers) PauseBatch(w http.ResponseWriter, r *http.Request) {
	h.batchSignal(w, r, workflows.SignalPauseBatch, nil)
}

// ResumeBatch handles POST /batches/{id}/resume requests.
func (h *Handlers) ResumeBatch(w http.ResponseWriter, r *http.Request) {
	h.batchSignal(w, r, workflows.SignalResumeBatch, nil)
}

// CancelBatch handles POST /batches/{id}/cancel requests.
func (h *Handlers) CancelBatch(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	h.batchSignal(w, r, workflows.SignalCancelBatch, req.Reason)
}

func (h *Handlers) batchSignal(w http.ResponseWriter, r *http.Request, signal string, arg interface{}) {
	workflowID := r.PathValue("id")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "batch ID is required", "MISSING_WORKFLOW_ID")
		return
	}

	if err := h.tc.SignalWorkflow(r.Context(), workflowID, "", signal, arg); err != nil {
		h.signalError(w, workflowID, signal, err)
		return
	}

	h.logger.Info("batch signal relayed",
		slog.String("workflow_id", workflowID),
		slog.String("signal", signal),
	)
	writeJSON(w, http.StatusOK, AcceptedResponse{WorkflowID: workflowID, Accepted: true})
}
