package database

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/db"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

type LogRepository struct {
	db *db.Client
}

func NewLogRepository(db *db.Client) *LogRepository {
	return &LogRepository{db: db}
}

// Append writes one audit entry. Entries are never updated.
func (r *LogRepository) Append(ctx context.Context, entry domain.LogEntry) error {
	payload := string(entry.Payload)
	if payload == "" {
		payload = "{}"
	}

	record := goqu.Record{
		"job_id":  entry.JobID,
		"action":  entry.Action,
		"status":  entry.Status,
		"detail":  entry.Detail,
		"payload": payload,
	}
	if !entry.CreatedAt.IsZero() {
		record["created_at"] = entry.CreatedAt
	}

	if _, err := r.db.Insert(ctx, goqu.Insert(logTable).Rows(record)); err != nil {
		return fmt.Errorf("error appending %s log for job %s: %w", entry.Action, entry.JobID, err)
	}
	return nil
}

func (r *LogRepository) ListByJob(ctx context.Context, jobID string) ([]domain.LogEntry, error) {
	ds := goqu.From(logTable).
		Where(goqu.Ex{"job_id": jobID}).
		Order(goqu.C("id").Asc())

	var entries []domain.LogEntry
	if err := r.db.Select(ctx, &entries, ds); err != nil {
		return nil, fmt.Errorf("error listing logs of job %s: %w", jobID, err)
	}
	return entries, nil
}
