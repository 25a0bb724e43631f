package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx/types"

	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/gateway"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
	"github.com/muratdemir0/gopulse-dispatch/internal/telemetry"
)

const (
	ackSourcePoll    = "poll"
	ackSourceWebhook = "webhook"

	DefaultPollBatchSize = 500
)

type PollResult struct {
	Checked   int `json:"checked"`
	Delivered int `json:"delivered"`
	Acked     int `json:"acked"`
}

// Reconciler applies delivery and read confirmations from status polling and gateway callbacks.
type Reconciler struct {
	jobs        domain.JobRepository
	logs        domain.LogRepository
	credentials *CredentialResolver
	gateway     *gateway.Client
	batchSize   uint
	opts        options
	logger      *slog.Logger
}

func NewReconciler(
	jobs domain.JobRepository,
	logs domain.LogRepository,
	credentials *CredentialResolver,
	gatewayClient *gateway.Client,
	batchSize uint,
	logger *slog.Logger,
	opts ...Option,
) *Reconciler {
	if batchSize == 0 {
		batchSize = DefaultPollBatchSize
	}
	return &Reconciler{
		jobs:        jobs,
		logs:        logs,
		credentials: credentials,
		gateway:     gatewayClient,
		batchSize:   batchSize,
		opts:        applyOptions(opts),
		logger:      logger.With(slog.String("component", "reconciler")),
	}
}

// Poll asks the gateway for the status of every sent job still missing a confirmation.
// Failure reports are ignored here; only callbacks may fail a sent job.
func (r *Reconciler) Poll(ctx context.Context, statusPath string) (PollResult, error) {
	var result PollResult

	creds, err := r.credentials.Resolve(ctx, gateway.Credentials{StatusPath: statusPath})
	if err != nil {
		return result, err
	}
	if !creds.Complete() {
		r.logger.Warn("Gateway credentials are not configured, skipping status poll")
		return result, nil
	}

	jobs, err := r.jobs.FindAwaitingAck(ctx, r.batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to find jobs awaiting ack: %w", err)
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !job.GatewayMessageID.Valid || job.GatewayMessageID.String == "" {
			continue
		}

		body, err := r.gateway.Status(ctx, creds, job.GatewayMessageID.String)
		if err != nil {
			r.logger.Debug("Skipping job after status fetch failure", "job_id", job.ID, "error", err)
			continue
		}
		result.Checked++

		outcome := gateway.Classify(body)
		delivered, acked, err := r.apply(ctx, job, outcome, ackSourcePoll, nil)
		if err != nil {
			r.logger.Error("Error applying polled status", "job_id", job.ID, "error", err)
			continue
		}
		if delivered {
			result.Delivered++
		}
		if acked {
			result.Acked++
		}
	}

	return result, nil
}

// HandleCallback applies a gateway webhook body to the job it refers to.
func (r *Reconciler) HandleCallback(ctx context.Context, body map[string]any) error {
	messageID := gateway.MessageID(body)
	if messageID == "" {
		return domain.ErrMissingMessageID
	}

	job, err := r.jobs.FindByGatewayMessageID(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("failed to find job by gateway message id: %w", err)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte("{}")
	}

	outcome := gateway.Classify(body)
	if outcome.Failed {
		if err := r.jobs.MarkFailedByGateway(ctx, job.ID, outcome.Detail); err != nil {
			return fmt.Errorf("failed to mark job failed: %w", err)
		}
		telemetry.Acks.WithLabelValues(ackSourceWebhook, "failed").Inc()
		r.appendLog(ctx, job.ID, domain.LogActionError, domain.JobStatusFailed, outcome.Detail, raw)
	}

	if _, _, err := r.apply(ctx, *job, outcome, ackSourceWebhook, raw); err != nil {
		return err
	}
	return nil
}

// Authenticate checks a presented webhook secret.
func (r *Reconciler) Authenticate(ctx context.Context, presented string) (bool, error) {
	return r.credentials.Authenticate(ctx, presented)
}

func (r *Reconciler) apply(ctx context.Context, job domain.Job, outcome gateway.Outcome, source string, raw []byte) (bool, bool, error) {
	var delivered, acked bool

	if outcome.Delivered && job.Status != domain.JobStatusDelivered {
		changed, err := r.jobs.MarkDelivered(ctx, job.ID)
		if err != nil {
			return false, false, fmt.Errorf("failed to mark job delivered: %w", err)
		}
		if changed {
			delivered = true
			telemetry.Acks.WithLabelValues(source, "delivered").Inc()
			r.appendLog(ctx, job.ID, domain.LogActionDelivered, domain.JobStatusDelivered, "message_delivered", raw)
		}
	}

	if outcome.Ack && !job.AckReceived {
		changed, err := r.jobs.MarkAcknowledged(ctx, job.ID, r.opts.now())
		if err != nil {
			return delivered, false, fmt.Errorf("failed to mark job acknowledged: %w", err)
		}
		if changed {
			acked = true
			telemetry.Acks.WithLabelValues(source, "ack").Inc()
			r.appendLog(ctx, job.ID, domain.LogActionAck, domain.JobStatusDelivered, "message_ack", raw)
		}
	}

	return delivered, acked, nil
}

func (r *Reconciler) appendLog(ctx context.Context, jobID, action string, status domain.JobStatus, detail string, raw []byte) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	entry := domain.LogEntry{
		JobID:     jobID,
		Action:    action,
		Status:    status,
		Detail:    detail,
		Payload:   types.JSONText(raw),
		CreatedAt: r.opts.now(),
	}
	if err := r.logs.Append(ctx, entry); err != nil {
		r.logger.Error("Error appending dispatch log", "job_id", jobID, "action", action, "error", err)
	}
}
