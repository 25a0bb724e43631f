package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/gateway"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
	"github.com/muratdemir0/gopulse-dispatch/internal/telemetry"
)

const (
	DefaultBatchSize = 200
	DefaultClaimTTL  = 10 * time.Minute

	maxLastErrorChars = 1000
)

type WorkerConfig struct {
	BatchSize uint
	// ClaimTTL is how long a processing claim is honoured before the job may be picked up again.
	ClaimTTL time.Duration
}

type ProcessResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type DirectSendRequest struct {
	Number      string
	Group       string
	Text        string
	Credentials gateway.Credentials
}

type DirectSendResult struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// DispatchWorker renders and sends pending jobs through the messaging gateway.
type DispatchWorker struct {
	jobs        domain.JobRepository
	rules       domain.RuleRepository
	logs        domain.LogRepository
	renderer    *TemplateRenderer
	credentials *CredentialResolver
	gateway     *gateway.Client
	cfg         WorkerConfig
	opts        options
	logger      *slog.Logger
}

func NewDispatchWorker(
	jobs domain.JobRepository,
	rules domain.RuleRepository,
	logs domain.LogRepository,
	renderer *TemplateRenderer,
	credentials *CredentialResolver,
	gatewayClient *gateway.Client,
	cfg WorkerConfig,
	logger *slog.Logger,
	opts ...Option,
) *DispatchWorker {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	return &DispatchWorker{
		jobs:        jobs,
		rules:       rules,
		logs:        logs,
		renderer:    renderer,
		credentials: credentials,
		gateway:     gatewayClient,
		cfg:         cfg,
		opts:        applyOptions(opts),
		logger:      logger.With(slog.String("component", "dispatch_worker")),
	}
}

// Run makes one pass over processable jobs. Failures are recorded per job and
// never abort the pass.
func (w *DispatchWorker) Run(ctx context.Context, override gateway.Credentials) (ProcessResult, error) {
	var result ProcessResult

	creds, err := w.credentials.Resolve(ctx, override)
	if err != nil {
		return result, err
	}
	if !creds.Complete() {
		w.logger.Warn("Gateway credentials not configured, dispatch skipped")
		return result, nil
	}

	now := w.opts.now()
	staleBefore := now.Add(-w.cfg.ClaimTTL)

	jobs, err := w.jobs.FindProcessable(ctx, now, staleBefore, w.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to find processable jobs: %w", err)
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !Eligible(job.ScheduledAt, job.Retries, now) {
			result.Skipped++
			continue
		}

		token := w.opts.newID()
		claimed, err := w.jobs.Claim(ctx, job.ID, token, w.opts.now(), staleBefore)
		if err != nil {
			w.logger.Error("Error claiming job", "job_id", job.ID, "error", err)
			result.Skipped++
			continue
		}
		if !claimed {
			result.Skipped++
			continue
		}

		w.appendLog(ctx, job, domain.LogActionProcessing, domain.JobStatusProcessing, "job_claimed")

		messageID, sendErr := w.deliver(ctx, creds, job)
		if sendErr != nil {
			w.handleFailure(ctx, job, token, sendErr)
			result.Failed++
			continue
		}

		if err := w.handleSuccess(ctx, job, token, messageID); err != nil {
			if errors.Is(err, domain.ErrClaimLost) {
				w.logger.Warn("Claim lost before recording sent job", "job_id", job.ID, "gateway_message_id", messageID, "reason", err)
				result.Skipped++
				continue
			}
			w.logger.Error("Error recording sent job", "job_id", job.ID, "error", err)
		}
		result.Processed++
	}

	if len(jobs) > 0 {
		w.logger.Info("Dispatch pass finished", "processed", result.Processed, "failed", result.Failed, "skipped", result.Skipped)
	}
	return result, nil
}

func (w *DispatchWorker) deliver(ctx context.Context, creds gateway.Credentials, job domain.Job) (string, error) {
	text, err := w.renderJob(ctx, job)
	if err != nil {
		return "", err
	}

	number := SanitizePhone(job.RecipientPhone)
	if number == "" {
		return "", domain.ErrInvalidRecipientPhone
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.ErrEmptyRenderedTemplate
	}

	resp, err := w.gateway.SendText(ctx, creds, gateway.SendRequest{Number: number, Text: text})
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

func (w *DispatchWorker) renderJob(ctx context.Context, job domain.Job) (string, error) {
	if !job.TemplateID.Valid || job.TemplateID.String == "" {
		return "", nil
	}

	tmpl, err := w.rules.GetTemplate(ctx, job.TemplateID.String)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return "", err
	}

	return w.renderer.Render(ctx, tmpl.Content, job)
}

func (w *DispatchWorker) handleSuccess(ctx context.Context, job domain.Job, token, messageID string) error {
	if err := w.jobs.MarkSent(ctx, job.ID, token, messageID, w.opts.now()); err != nil {
		return fmt.Errorf("failed to mark job sent: %w", err)
	}

	telemetry.JobsSent.Inc()
	w.appendLog(ctx, job, domain.LogActionSent, domain.JobStatusSent, "message_sent")
	w.logger.Info("Successfully sent job", "job_id", job.ID, "gateway_message_id", messageID)
	return nil
}

func (w *DispatchWorker) handleFailure(ctx context.Context, job domain.Job, token string, sendErr error) {
	detail := truncateRunes(sendErr.Error(), maxLastErrorChars)
	telemetry.JobsFailed.WithLabelValues(failureReason(sendErr)).Inc()

	w.logger.Warn("Error sending job", "job_id", job.ID, "retries", job.Retries, "error", sendErr)

	if err := w.jobs.MarkFailed(ctx, job.ID, token, detail, job.Retries+1); err != nil {
		w.logger.Error("Error marking job failed", "job_id", job.ID, "error", err)
		return
	}
	w.appendLog(ctx, job, domain.LogActionError, domain.JobStatusFailed, detail)
}

func (w *DispatchWorker) appendLog(ctx context.Context, job domain.Job, action string, status domain.JobStatus, detail string) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		payload = []byte("{}")
	}

	entry := domain.LogEntry{
		JobID:     job.ID,
		Action:    action,
		Status:    status,
		Detail:    detail,
		Payload:   types.JSONText(payload),
		CreatedAt: w.opts.now(),
	}
	if err := w.logs.Append(ctx, entry); err != nil {
		w.logger.Error("Error appending dispatch log", "job_id", job.ID, "action", action, "error", err)
	}
}

// SendDirect sends one message outside the job pipeline.
func (w *DispatchWorker) SendDirect(ctx context.Context, req DirectSendRequest) DirectSendResult {
	creds, err := w.credentials.Resolve(ctx, req.Credentials)
	if err != nil {
		return DirectSendResult{Error: err.Error()}
	}

	number := SanitizePhone(firstNonEmpty(req.Number, req.Group))
	if !creds.Complete() || number == "" || req.Text == "" {
		return DirectSendResult{Error: domain.ErrMissingParameters.Error()}
	}

	resp, err := w.gateway.SendText(ctx, creds, gateway.SendRequest{Number: number, Text: req.Text})
	if err != nil {
		w.logger.Warn("Direct send failed", "error", err)
		return DirectSendResult{Error: err.Error()}
	}

	w.logger.Info("Direct message sent", "gateway_message_id", resp.MessageID)
	return DirectSendResult{OK: true, ID: resp.MessageID}
}

func failureReason(err error) string {
	var statusErr *gateway.StatusError
	switch {
	case errors.Is(err, domain.ErrInvalidRecipientPhone):
		return "invalid_recipient_phone"
	case errors.Is(err, domain.ErrEmptyRenderedTemplate):
		return "empty_rendered_template"
	case errors.As(err, &statusErr):
		return "gateway_status"
	case errors.Is(err, gateway.ErrIncompleteCredentials):
		return "missing_credentials"
	default:
		return "other"
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
