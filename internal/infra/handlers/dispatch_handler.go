package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/muratdemir0/gopulse-dispatch/api/rest"
	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/gateway"
	"github.com/muratdemir0/gopulse-dispatch/internal/app"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

const maxBodyBytes = 1 << 20

type DispatchService interface {
	RunScheduler(ctx context.Context) (app.ExpandResult, error)
	RunWorker(ctx context.Context, override gateway.Credentials) (app.ProcessResult, error)
	SendDirect(ctx context.Context, req app.DirectSendRequest) app.DirectSendResult
	PollStatuses(ctx context.Context, statusPath string) (app.PollResult, error)
	HandleCallback(ctx context.Context, body map[string]any) error
	Authenticate(ctx context.Context, presented string) (bool, error)
	ListJobs(ctx context.Context, status string, limit, offset uint) ([]domain.Job, error)
	JobLogs(ctx context.Context, jobID string) ([]domain.LogEntry, error)
	StartAutoRun() error
	StopAutoRun() error
}

type DispatchHandler struct {
	service DispatchService
	logger  *slog.Logger
}

func (h *DispatchHandler) RunScheduler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RunScheduler(r.Context())
	if err != nil {
		h.runError(w, r, "scheduler", err)
		return
	}
	JSON(w, r, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"checked":   result.Checked,
		"totalJobs": result.Jobs,
	})
}

func (h *DispatchHandler) RunDispatch(w http.ResponseWriter, r *http.Request) {
	req := rest.ParseDispatchRunRequest(readLenientBody(w, r))

	if req.IsDirect() {
		result := h.service.SendDirect(r.Context(), app.DirectSendRequest{
			Number: req.Number,
			Group:  req.Group,
			Text:   req.Text,
			Credentials: gateway.Credentials{
				BaseURL:  req.Base,
				Token:    req.Token,
				SendPath: req.Path,
			},
		})
		status := http.StatusOK
		if !result.OK {
			status = http.StatusBadRequest
		}
		JSON(w, r, status, result)
		return
	}

	result, err := h.service.RunWorker(r.Context(), gateway.Credentials{
		BaseURL:  req.Base,
		Token:    req.Token,
		SendPath: req.Path,
	})
	if err != nil {
		h.runError(w, r, "dispatch", err)
		return
	}
	JSON(w, r, http.StatusOK, result)
}

func (h *DispatchHandler) PollStatuses(w http.ResponseWriter, r *http.Request) {
	req := rest.ParsePollRequest(readLenientBody(w, r))

	result, err := h.service.PollStatuses(r.Context(), req.StatusPath)
	if err != nil {
		h.runError(w, r, "status poll", err)
		return
	}
	JSON(w, r, http.StatusOK, result)
}

func (h *DispatchHandler) StartAutoRun(w http.ResponseWriter, r *http.Request) {
	if err := h.service.StartAutoRun(); err != nil {
		Error(w, r, http.StatusInternalServerError, "Failed to start automatic dispatch")
		return
	}

	JSON(w, r, http.StatusOK, map[string]interface{}{
		"message": "Automatic dispatch started",
		"status":  "active",
	})
}

func (h *DispatchHandler) StopAutoRun(w http.ResponseWriter, r *http.Request) {
	if err := h.service.StopAutoRun(); err != nil {
		Error(w, r, http.StatusInternalServerError, "Failed to stop automatic dispatch")
		return
	}

	JSON(w, r, http.StatusOK, map[string]interface{}{
		"message": "Automatic dispatch stopped",
		"status":  "inactive",
	})
}

func (h *DispatchHandler) GetJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryUint(w, r, "limit", 10)
	if !ok {
		return
	}
	offset, ok := queryUint(w, r, "offset", 0)
	if !ok {
		return
	}

	jobs, err := h.service.ListJobs(r.Context(), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Error listing jobs", "error", err)
		Error(w, r, http.StatusInternalServerError, "Failed to retrieve jobs")
		return
	}

	responses := rest.ToJobResponses(jobs)
	JSON(w, r, http.StatusOK, rest.JobsListResponse{
		Jobs:  responses,
		Count: len(responses),
	})
}

func (h *DispatchHandler) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	entries, err := h.service.JobLogs(r.Context(), jobID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Error listing job logs", "job_id", jobID, "error", err)
		Error(w, r, http.StatusInternalServerError, "Failed to retrieve job logs")
		return
	}

	JSON(w, r, http.StatusOK, rest.JobLogsResponse{
		JobID:   jobID,
		Entries: rest.ToLogEntryResponses(entries),
	})
}

func (h *DispatchHandler) runError(w http.ResponseWriter, r *http.Request, stage string, err error) {
	if DomainError(w, r, err) {
		return
	}
	h.logger.ErrorContext(r.Context(), "Run failed", "stage", stage, "error", err)
	Error(w, r, http.StatusInternalServerError, err.Error())
}

// readLenientBody decodes a JSON object body. Empty or malformed bodies yield an empty object.
func readLenientBody(w http.ResponseWriter, r *http.Request) map[string]any {
	body := map[string]any{}
	if r.Body == nil {
		return body
	}
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body)
	if body == nil {
		return map[string]any{}
	}
	return body
}

func queryUint(w http.ResponseWriter, r *http.Request, name string, fallback uint) (uint, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		Error(w, r, http.StatusBadRequest, "Invalid "+name+" parameter")
		return 0, false
	}
	return uint(v), true
}

func RegisterDispatchHandler(r chi.Router, service DispatchService, logger *slog.Logger) {
	h := &DispatchHandler{
		service: service,
		logger:  logger.With(slog.String("component", "dispatch_handler")),
	}

	r.Post("/v1/scheduler/run", h.RunScheduler)
	r.Post("/v1/dispatch/run", h.RunDispatch)
	r.Post("/v1/status/poll", h.PollStatuses)
	r.Post("/v1/autorun/start", h.StartAutoRun)
	r.Post("/v1/autorun/stop", h.StopAutoRun)
	r.Get("/v1/jobs", h.GetJobs)
	r.Get("/v1/jobs/{id}/logs", h.GetJobLogs)
}
