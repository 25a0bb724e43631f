package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/db"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

type JobRepository struct {
	db *db.Client
}

func NewJobRepository(db *db.Client) *JobRepository {
	return &JobRepository{db: db}
}

// InsertJobs writes all jobs of one expansion in a single statement.
func (r *JobRepository) InsertJobs(ctx context.Context, jobs []domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	rows := make([]interface{}, 0, len(jobs))
	for _, job := range jobs {
		payload, err := job.Payload.Value()
		if err != nil {
			return fmt.Errorf("error encoding payload of job %s: %w", job.ID, err)
		}
		rows = append(rows, goqu.Record{
			"id":              job.ID,
			"rule_id":         job.RuleID,
			"template_id":     job.TemplateID,
			"target_type":     string(job.TargetType),
			"target_id":       job.TargetID,
			"recipient_phone": job.RecipientPhone,
			"payload":         payload,
			"status":          string(job.Status),
			"retries":         job.Retries,
			"scheduled_at":    job.ScheduledAt,
			"requires_ack":    job.RequiresAck,
			"ack_received":    job.AckReceived,
			"created_at":      job.CreatedAt,
		})
	}

	if _, err := r.db.InsertBatch(ctx, goqu.Insert(jobTable).Rows(rows...)); err != nil {
		return fmt.Errorf("error inserting %d jobs: %w", len(jobs), err)
	}
	return nil
}

// claimable matches jobs that are waiting for an attempt or whose processing claim went stale.
func claimable(staleBefore time.Time) exp.Expression {
	return goqu.Or(
		goqu.C("status").In(domain.JobStatusPending, domain.JobStatusFailed),
		goqu.And(
			goqu.C("status").Eq(domain.JobStatusProcessing),
			goqu.Or(
				goqu.C("claimed_at").IsNull(),
				goqu.C("claimed_at").Lt(staleBefore),
			),
		),
	)
}

// eligibleAt is scheduled_at pushed forward by the retry backoff: 0 for a fresh
// job, then 2^retries minutes capped at 60.
var eligibleAt = goqu.L(`"scheduled_at" + (CASE WHEN "retries" <= 0 THEN 0 ELSE LEAST(60, POWER(2, LEAST("retries", 6))) END) * INTERVAL '1 minute'`)

// FindProcessable returns jobs whose backoff has elapsed at now. Fewer retries come
// first so jobs that keep failing cannot hold the whole batch.
func (r *JobRepository) FindProcessable(ctx context.Context, now, staleBefore time.Time, limit uint) ([]domain.Job, error) {
	ds := goqu.From(jobTable).
		Where(claimable(staleBefore), eligibleAt.Lte(now)).
		Order(goqu.C("retries").Asc(), eligibleAt.Asc(), goqu.C("id").Asc()).
		Limit(limit)

	var jobs []domain.Job
	if err := r.db.Select(ctx, &jobs, ds); err != nil {
		return nil, fmt.Errorf("error finding processable jobs: %w", err)
	}
	return jobs, nil
}

// Claim moves the job to processing under token. It reports false when another
// invocation got there first.
func (r *JobRepository) Claim(ctx context.Context, id, token string, now, staleBefore time.Time) (bool, error) {
	ds := goqu.Update(jobTable).
		Set(goqu.Record{
			"status":      domain.JobStatusProcessing,
			"claim_token": token,
			"claimed_at":  now,
		}).
		Where(goqu.C("id").Eq(id), claimable(staleBefore))

	return r.updatedOne(ctx, ds, "claiming job "+id)
}

func (r *JobRepository) MarkSent(ctx context.Context, id, token, gatewayMessageID string, processedAt time.Time) error {
	ds := goqu.Update(jobTable).
		Set(goqu.Record{
			"status":             domain.JobStatusSent,
			"processed_at":       processedAt,
			"gateway_message_id": sql.NullString{String: gatewayMessageID, Valid: gatewayMessageID != ""},
			"last_error":         nil,
			"claim_token":        nil,
		}).
		Where(goqu.Ex{"id": id, "claim_token": token})

	ok, err := r.updatedOne(ctx, ds, "marking job sent "+id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrClaimLost
	}
	return nil
}

func (r *JobRepository) MarkFailed(ctx context.Context, id, token, detail string, retries int) error {
	ds := goqu.Update(jobTable).
		Set(goqu.Record{
			"status":      domain.JobStatusFailed,
			"last_error":  detail,
			"retries":     retries,
			"claim_token": nil,
		}).
		Where(goqu.Ex{"id": id, "claim_token": token})

	ok, err := r.updatedOne(ctx, ds, "marking job failed "+id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrClaimLost
	}
	return nil
}

// FindAwaitingAck returns sent jobs with a gateway message id that still miss a delivery or read confirmation.
func (r *JobRepository) FindAwaitingAck(ctx context.Context, limit uint) ([]domain.Job, error) {
	ds := goqu.From(jobTable).
		Where(
			goqu.C("status").In(domain.JobStatusSent, domain.JobStatusDelivered),
			goqu.C("gateway_message_id").IsNotNull(),
			goqu.C("gateway_message_id").Neq(""),
			goqu.Or(
				goqu.C("status").Neq(domain.JobStatusDelivered),
				goqu.C("ack_received").IsFalse(),
			),
		).
		Order(goqu.C("processed_at").Asc()).
		Limit(limit)

	var jobs []domain.Job
	if err := r.db.Select(ctx, &jobs, ds); err != nil {
		return nil, fmt.Errorf("error finding jobs awaiting ack: %w", err)
	}
	return jobs, nil
}

func (r *JobRepository) FindByGatewayMessageID(ctx context.Context, gatewayMessageID string) (*domain.Job, error) {
	ds := goqu.From(jobTable).
		Where(goqu.Ex{"gateway_message_id": gatewayMessageID}).
		Order(goqu.C("created_at").Desc()).
		Limit(1)

	var job domain.Job
	if err := r.db.QueryRow(ctx, &job, ds); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("error finding job by gateway message id %s: %w", gatewayMessageID, err)
	}
	return &job, nil
}

// MarkDelivered reports whether the job changed; a job already delivered is left untouched.
func (r *JobRepository) MarkDelivered(ctx context.Context, id string) (bool, error) {
	ds := goqu.Update(jobTable).
		Set(goqu.Record{"status": domain.JobStatusDelivered}).
		Where(goqu.Ex{"id": id}, goqu.C("status").Neq(domain.JobStatusDelivered))

	return r.updatedOne(ctx, ds, "marking job delivered "+id)
}

func (r *JobRepository) MarkAcknowledged(ctx context.Context, id string, at time.Time) (bool, error) {
	ds := goqu.Update(jobTable).
		Set(goqu.Record{
			"ack_received":    true,
			"ack_received_at": at,
		}).
		Where(goqu.Ex{"id": id, "ack_received": false})

	return r.updatedOne(ctx, ds, "marking job acknowledged "+id)
}

func (r *JobRepository) MarkFailedByGateway(ctx context.Context, id, detail string) error {
	ds := goqu.Update(jobTable).
		Set(goqu.Record{
			"status":     domain.JobStatusFailed,
			"last_error": detail,
		}).
		Where(goqu.Ex{"id": id})

	ok, err := r.updatedOne(ctx, ds, "marking job failed by gateway "+id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrJobNotFound
	}
	return nil
}

// ListByStatus lists jobs newest first. An empty status lists every job.
func (r *JobRepository) ListByStatus(ctx context.Context, status string, limit, offset uint) ([]domain.Job, error) {
	ds := goqu.From(jobTable).
		Order(goqu.C("created_at").Desc()).
		Limit(limit).
		Offset(offset)
	if status != "" {
		ds = ds.Where(goqu.C("status").Eq(status))
	}

	var jobs []domain.Job
	if err := r.db.Select(ctx, &jobs, ds); err != nil {
		return nil, fmt.Errorf("error listing jobs by status %s: %w", status, err)
	}
	return jobs, nil
}

func (r *JobRepository) updatedOne(ctx context.Context, ds *goqu.UpdateDataset, action string) (bool, error) {
	result, err := r.db.Update(ctx, ds)
	if err != nil {
		return false, fmt.Errorf("error %s: %w", action, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error %s: %w", action, err)
	}
	return affected > 0, nil
}
