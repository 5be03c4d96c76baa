package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"

	"github.com/mvidalg/genflow-api/internal/audit"
	"github.com/mvidalg/genflow-api/internal/model"
	"github.com/mvidalg/genflow-api/internal/workflows"
)

// TemporalClient is the subset of the workflow client the gateway needs.
// client.Client satisfies it; tests supply a fake.
type TemporalClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error
	QueryWorkflow(ctx context.Context, workflowID, runID, queryType string, args ...interface{}) (converter.EncodedValue, error)
	ListWorkflow(ctx context.Context, request *workflowservice.ListWorkflowExecutionsRequest) (*workflowservice.ListWorkflowExecutionsResponse, error)
	CountWorkflow(ctx context.Context, request *workflowservice.CountWorkflowExecutionsRequest) (*workflowservice.CountWorkflowExecutionsResponse, error)
}

// Handlers contains the HTTP handlers for the gateway.
type Handlers struct {
	tc        TemporalClient
	auditor   audit.Store
	validator *validator.Validate
	logger    *slog.Logger
	namespace string
	taskQueue string
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithNamespace sets the Temporal namespace used for visibility requests.
func WithNamespace(ns string) HandlerOption {
	return func(h *Handlers) {
		h.namespace = ns
	}
}

// WithTaskQueue overrides the task queue new workflows start on.
func WithTaskQueue(q string) HandlerOption {
	return func(h *Handlers) {
		h.taskQueue = q
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(tc TemporalClient, auditor audit.Store, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		tc:        tc,
		auditor:   auditor,
		validator: validator.New(),
		logger:    logger,
		namespace: "default",
		taskQueue: workflows.TaskQueue,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests: it starts one generation workflow
// and returns immediately with its identifiers.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	input, err := jobInputFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	workflowID := model.NewRequestID()
	run, err := h.tc.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: h.taskQueue,
	}, workflows.MediaGenerationWorkflow, input)
	if err != nil {
		h.logger.Error("failed to start workflow",
			slog.String("workflow_id", workflowID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start job", "JOB_START_FAILED")
		return
	}

	h.logger.Info("job started",
		slog.String("workflow_id", run.GetID()),
		slog.String("run_id", run.GetRunID()),
		slog.String("job_type", req.JobType),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
		Status:     string(model.StatusPending),
	})
}

// jobInputFromRequest builds the domain job input from a request body.
func jobInputFromRequest(req CreateJobRequest) (model.JobInput, error) {
	var opts []model.JobInputOption
	if req.Width != 0 || req.Height != 0 {
		opts = append(opts, model.WithDimensions(req.Width, req.Height))
	}
	if req.Duration != 0 {
		opts = append(opts, model.WithDuration(req.Duration))
	}
	if req.Style != "" {
		opts = append(opts, model.WithStyle(req.Style))
	}
	if req.UserID != "" {
		opts = append(opts, model.WithUser(req.UserID))
	}
	if req.CallbackURL != "" {
		opts = append(opts, model.WithCallbackURL(req.CallbackURL))
	}
	if req.Strategy != "" {
		opts = append(opts, model.WithStrategy(model.CompletionStrategy(req.Strategy)))
	}
	if req.Metadata != nil {
		opts = append(opts, model.WithMetadata(req.Metadata))
	}
	return model.NewJobInput(req.Prompt, model.JobType(req.JobType), opts...)
}

// Callback handles POST /callback/{workflowID}: the external service's
// completion report, relayed to the workflow as a signal. Delivery is
// idempotent; the workflow ignores duplicates.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflowID")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow ID is required", "MISSING_WORKFLOW_ID")
		return
	}

	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	sig := model.CompletionSignal{
		JobID:    req.JobID,
		Success:  req.Success,
		AssetURL: req.AssetURL,
		Error:    req.Error,
		Metadata: req.Metadata,
	}
	if err := h.tc.SignalWorkflow(r.Context(), workflowID, "", workflows.SignalGenerationDone, sig); err != nil {
		h.signalError(w, workflowID, "callback", err)
		return
	}

	h.logger.Info("completion callback relayed",
		slog.String("workflow_id", workflowID),
		slog.String("job_id", req.JobID),
		slog.Bool("success", req.Success),
	)

	writeJSON(w, http.StatusOK, AcceptedResponse{WorkflowID: workflowID, Accepted: true})
}

// Cancel handles POST /workflows/{id}/cancel requests.
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow ID is required", "MISSING_WORKFLOW_ID")
		return
	}

	var req CancelRequest
	if r.Body != nil {
		// An empty body is fine; the reason is optional.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.tc.SignalWorkflow(r.Context(), workflowID, "", workflows.SignalCancel, req.Reason); err != nil {
		h.signalError(w, workflowID, "cancel", err)
		return
	}

	h.logger.Info("cancel requested", slog.String("workflow_id", workflowID))
	writeJSON(w, http.StatusOK, AcceptedResponse{WorkflowID: workflowID, Accepted: true})
}

// PushProgress handles POST /workflows/{id}/progress requests from trusted
// internal callers.
func (h *Handlers) PushProgress(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow ID is required", "MISSING_WORKFLOW_ID")
		return
	}

	var req ProgressPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	sig := model.ProgressUpdateSignal{
		Step:    model.Step(req.Step),
		Status:  model.Status(req.Status),
		Percent: req.Percent,
		Message: req.Message,
	}
	if err := h.tc.SignalWorkflow(r.Context(), workflowID, "", workflows.SignalUpdateProgress, sig); err != nil {
		h.signalError(w, workflowID, "progress push", err)
		return
	}

	writeJSON(w, http.StatusOK, AcceptedResponse{WorkflowID: workflowID, Accepted: true})
}

// Progress handles GET /workflows/{id}/progress requests.
func (h *Handlers) Progress(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, workflows.QueryGetProgress, func() any { return &model.Progress{} })
}

// Status handles GET /workflows/{id}/status requests.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, workflows.QueryGetStatus, func() any { return &model.StatusSnapshot{} })
}

func (h *Handlers) query(w http.ResponseWriter, r *http.Request, queryType string, newValue func() any) {
	workflowID := r.PathValue("id")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow ID is required", "MISSING_WORKFLOW_ID")
		return
	}

	val, err := h.tc.QueryWorkflow(r.Context(), workflowID, "", queryType)
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "workflow not found", "WORKFLOW_NOT_FOUND")
			return
		}
		h.logger.Error("workflow query failed",
			slog.String("workflow_id", workflowID),
			slog.String("query", queryType),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "query failed", "QUERY_FAILED")
		return
	}

	out := newValue()
	if err := val.Get(out); err != nil {
		h.logger.Error("failed to decode query result",
			slog.String("workflow_id", workflowID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "query failed", "QUERY_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// List handles GET /workflows requests with optional filters and paging.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_FILTER")
		return
	}

	pageSize := 20
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid page_size", "INVALID_FILTER")
			return
		}
		pageSize = n
	}

	var token []byte
	if raw := r.URL.Query().Get("page_token"); raw != "" {
		token, err = base64.URLEncoding.DecodeString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid page_token", "INVALID_FILTER")
			return
		}
	}

	resp, err := h.tc.ListWorkflow(r.Context(), &workflowservice.ListWorkflowExecutionsRequest{
		Namespace:     h.namespace,
		PageSize:      int32(pageSize),
		NextPageToken: token,
		Query:         filters.VisibilityQuery(),
	})
	if err != nil {
		h.logger.Error("visibility listing failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "listing failed", "LIST_FAILED")
		return
	}

	out := ListWorkflowsResponse{Workflows: make([]WorkflowSummary, 0, len(resp.Executions))}
	for _, ex := range resp.Executions {
		s := WorkflowSummary{
			WorkflowID: ex.Execution.GetWorkflowId(),
			RunID:      ex.Execution.GetRunId(),
			Status:     ex.Status.String(),
		}
		if t := ex.GetStartTime(); t != nil {
			st := t.AsTime()
			s.StartTime = &st
		}
		if t := ex.GetCloseTime(); t != nil {
			ct := t.AsTime()
			s.CloseTime = &ct
		}
		out.Workflows = append(out.Workflows, s)
	}
	if len(resp.NextPageToken) > 0 {
		out.NextPageToken = base64.URLEncoding.EncodeToString(resp.NextPageToken)
	}

	writeJSON(w, http.StatusOK, out)
}

// Count handles GET /workflows/count requests.
func (h *Handlers) Count(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_FILTER")
		return
	}

	resp, err := h.tc.CountWorkflow(r.Context(), &workflowservice.CountWorkflowExecutionsRequest{
		Namespace: h.namespace,
		Query:     filters.VisibilityQuery(),
	})
	if err != nil {
		h.logger.Error("visibility count failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "count failed", "COUNT_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, CountResponse{Count: resp.GetCount()})
}

// AuditHistory handles GET /workflows/{id}/audit requests.
func (h *Handlers) AuditHistory(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow ID is required", "MISSING_WORKFLOW_ID")
		return
	}
	if h.auditor == nil {
		writeError(w, http.StatusNotImplemented, "audit store not configured", "AUDIT_DISABLED")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit", "INVALID_FILTER")
			return
		}
		limit = n
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset", "INVALID_FILTER")
			return
		}
		offset = n
	}

	entries, err := h.auditor.History(r.Context(), workflowID, limit, offset)
	if err != nil {
		h.logger.Error("audit history read failed",
			slog.String("workflow_id", workflowID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "audit read failed", "AUDIT_READ_FAILED")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	writeJSON(w, http.StatusOK, AuditResponse{WorkflowID: workflowID, Entries: entries})
}

// signalError maps signal-delivery failures onto HTTP statuses.
func (h *Handlers) signalError(w http.ResponseWriter, workflowID, op string, err error) {
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, "workflow not found", "WORKFLOW_NOT_FOUND")
		return
	}
	h.logger.Error("signal delivery failed",
		slog.String("workflow_id", workflowID),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "signal delivery failed", "SIGNAL_FAILED")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
