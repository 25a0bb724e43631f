package database

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/db"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

type ScheduleRepository struct {
	db *db.Client
}

func NewScheduleRepository(db *db.Client) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// FindDue returns active configs whose next_run is at or before now. A config
// with no next_run yet is not due.
func (r *ScheduleRepository) FindDue(ctx context.Context, now time.Time) ([]domain.ScheduleConfig, error) {
	ds := goqu.From(scheduleTable).
		Where(
			goqu.C("active").IsTrue(),
			goqu.C("next_run").Lte(now),
		).
		Order(goqu.C("next_run").Asc())

	var configs []domain.ScheduleConfig
	if err := r.db.Select(ctx, &configs, ds); err != nil {
		return nil, fmt.Errorf("error finding due schedules: %w", err)
	}
	return configs, nil
}

func (r *ScheduleRepository) UpdateRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	ds := goqu.Update(scheduleTable).
		Set(goqu.Record{
			"last_run": lastRun,
			"next_run": nextRun,
		}).
		Where(goqu.Ex{"id": id})

	if _, err := r.db.Update(ctx, ds); err != nil {
		return fmt.Errorf("error updating run of schedule %s: %w", id, err)
	}
	return nil
}
