package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
	"github.com/muratdemir0/gopulse-dispatch/internal/telemetry"
)

type ExpandResult struct {
	Checked int `json:"checked"`
	Jobs    int `json:"totalJobs"`
}

// JobExpander turns due schedule configs into pending dispatch jobs.
type JobExpander struct {
	schedules domain.ScheduleRepository
	rules     domain.RuleRepository
	jobs      domain.JobRepository
	resolver  *RecipientResolver
	opts      options
	logger    *slog.Logger
}

func NewJobExpander(
	schedules domain.ScheduleRepository,
	rules domain.RuleRepository,
	jobs domain.JobRepository,
	resolver *RecipientResolver,
	logger *slog.Logger,
	opts ...Option,
) *JobExpander {
	return &JobExpander{
		schedules: schedules,
		rules:     rules,
		jobs:      jobs,
		resolver:  resolver,
		opts:      applyOptions(opts),
		logger:    logger.With(slog.String("component", "job_expander")),
	}
}

// Run expands every due schedule config. A failing config is logged and its
// next_run is still advanced so it cannot block the others.
func (e *JobExpander) Run(ctx context.Context) (ExpandResult, error) {
	now := e.opts.now()

	due, err := e.schedules.FindDue(ctx, now)
	if err != nil {
		return ExpandResult{}, fmt.Errorf("failed to find due schedules: %w", err)
	}

	result := ExpandResult{Checked: len(due)}
	for _, cfg := range due {
		created, err := e.expand(ctx, cfg)
		if err != nil {
			e.logger.Error("Error expanding schedule config", "schedule_id", cfg.ID, "rule_id", cfg.DispatchRuleID, "error", err)
		}
		result.Jobs += created

		next := NextRun(cfg.SendTime, cfg.Timezone, now)
		if err := e.schedules.UpdateRun(ctx, cfg.ID, now, next); err != nil {
			e.logger.Error("Error advancing schedule next run", "schedule_id", cfg.ID, "error", err)
		}
	}

	if result.Checked > 0 {
		e.logger.Info("Expanded due schedules", "checked", result.Checked, "jobs", result.Jobs)
	}
	return result, nil
}

func (e *JobExpander) expand(ctx context.Context, schedule domain.ScheduleConfig) (int, error) {
	rule, err := e.rules.GetRule(ctx, schedule.DispatchRuleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("Schedule references a missing rule", "schedule_id", schedule.ID, "rule_id", schedule.DispatchRuleID)
			return 0, nil
		}
		return 0, err
	}
	if !rule.TemplateID.Valid || rule.TemplateID.String == "" {
		e.logger.Warn("Rule has no template", "rule_id", rule.ID)
		return 0, nil
	}

	cfg, err := rule.DecodeConfig()
	if err != nil {
		e.logger.Warn("Rule config is not valid JSON", "rule_id", rule.ID, "error", err)
		return 0, nil
	}

	audiences, err := e.resolver.Resolve(ctx, cfg)
	if err != nil {
		return 0, err
	}

	jobs := e.buildJobs(*rule, cfg, audiences)
	if len(jobs) == 0 {
		return 0, nil
	}

	if err := e.jobs.InsertJobs(ctx, jobs); err != nil {
		return 0, fmt.Errorf("failed to insert jobs for rule %s: %w", rule.ID, err)
	}
	telemetry.JobsExpanded.Add(float64(len(jobs)))
	return len(jobs), nil
}

func (e *JobExpander) buildJobs(rule domain.Rule, cfg domain.RuleConfig, audiences []Audience) []domain.Job {
	now := e.opts.now()

	var jobs []domain.Job
	for _, audience := range audiences {
		var eventID *string
		if audience.TargetType == domain.TargetTypeEvent && audience.TargetID != "" {
			id := audience.TargetID
			eventID = &id
		}

		for _, rc := range audience.Recipients {
			jobs = append(jobs, domain.Job{
				ID:             e.opts.newID(),
				RuleID:         rule.ID,
				TemplateID:     rule.TemplateID,
				TargetType:     audience.TargetType,
				TargetID:       sql.NullString{String: audience.TargetID, Valid: audience.TargetID != ""},
				RecipientPhone: rc.Phone,
				Payload: domain.JobPayload{
					RuleType:        rule.Type,
					Config:          cfg,
					RecipientUserID: rc.ID,
					RecipientPhone:  rc.Phone,
					EventID:         eventID,
				},
				Status:      domain.JobStatusPending,
				ScheduledAt: now,
				CreatedAt:   now,
			})
		}
	}
	return jobs
}
