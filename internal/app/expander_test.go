//go:build unit

package app_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muratdemir0/gopulse-dispatch/internal/app"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

var dueAt = time.Date(2025, 3, 10, 11, 59, 0, 0, time.UTC)

type expanderFixture struct {
	now       time.Time
	schedules *memSchedules
	rules     *memRules
	jobs      *memJobs
	expander  *app.JobExpander
}

func newExpanderFixture(t *testing.T) *expanderFixture {
	t.Helper()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	dir := newDirectory()
	dir.addMember("m1", "Ana", "", "5511999990001")
	dir.addMember("m2", "Bruno", "", "5511999990002")
	dir.registrants["ev1"] = []string{"m1", "m2"}

	rules := newRules()
	rules.rules["rule-event"] = domain.Rule{
		ID:         "rule-event",
		Type:       "event_reminder",
		TemplateID: nullString("tpl-1"),
		Config:     types.JSONText(`{"target_scope":"event","target_ids":["ev1"]}`),
	}
	rules.rules["rule-single"] = domain.Rule{
		ID:         "rule-single",
		Type:       "report",
		TemplateID: nullString("tpl-2"),
		Config:     types.JSONText(`{"recipient_mode":"single","single_phone":"+55 11 90000-0000"}`),
	}
	rules.rules["rule-no-template"] = domain.Rule{
		ID:     "rule-no-template",
		Config: types.JSONText(`{"recipient_mode":"single","single_phone":"5511"}`),
	}
	rules.rules["rule-bad-config"] = domain.Rule{
		ID:         "rule-bad-config",
		TemplateID: nullString("tpl-1"),
		Config:     types.JSONText(`{not json`),
	}

	schedules := &memSchedules{}
	jobs := newJobs()

	return &expanderFixture{
		now:       now,
		schedules: schedules,
		rules:     rules,
		jobs:      jobs,
		expander: app.NewJobExpander(schedules, rules, jobs, app.NewRecipientResolver(dir), discardLogger(),
			app.WithClock(fixedClock(now)),
			app.WithIDGenerator(sequentialIDs("job")),
		),
	}
}

func schedule(id, ruleID string, active bool, nextRun *time.Time) domain.ScheduleConfig {
	cfg := domain.ScheduleConfig{
		ID:             id,
		DispatchRuleID: ruleID,
		SendTime:       "08:00",
		Timezone:       "America/Sao_Paulo",
		Active:         active,
	}
	if nextRun != nil {
		cfg.NextRun = sql.NullTime{Time: *nextRun, Valid: true}
	}
	return cfg
}

func TestJobExpander_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("Given due schedules, when run, then jobs are created per recipient with a payload snapshot", func(t *testing.T) {
		f := newExpanderFixture(t)
		past := f.now.Add(-time.Minute)
		future := f.now.Add(time.Hour)
		f.schedules.configs = []domain.ScheduleConfig{
			schedule("s-event", "rule-event", true, &dueAt),
			schedule("s-single", "rule-single", true, &past),
			schedule("s-later", "rule-single", true, &future),
			schedule("s-off", "rule-single", false, &past),
			schedule("s-new", "rule-single", true, nil),
		}

		result, err := f.expander.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, app.ExpandResult{Checked: 2, Jobs: 3}, result)

		jobs := f.jobs.all()
		require.Len(t, jobs, 3)

		first := jobs[0]
		assert.Equal(t, "job-1", first.ID)
		assert.Equal(t, "rule-event", first.RuleID)
		assert.Equal(t, "tpl-1", first.TemplateID.String)
		assert.Equal(t, domain.TargetTypeEvent, first.TargetType)
		assert.Equal(t, "ev1", first.TargetID.String)
		assert.Equal(t, domain.JobStatusPending, first.Status)
		assert.Equal(t, f.now, first.ScheduledAt)
		assert.Zero(t, first.Retries)
		assert.Equal(t, "event_reminder", first.Payload.RuleType)
		assert.Equal(t, "m1", first.Payload.RecipientUserID)
		require.NotNil(t, first.Payload.EventID)
		assert.Equal(t, "ev1", *first.Payload.EventID)

		single := jobs[2]
		assert.Equal(t, domain.TargetTypeAll, single.TargetType)
		assert.False(t, single.TargetID.Valid)
		assert.Equal(t, "5511900000000", single.RecipientPhone)
		assert.Equal(t, domain.RecipientSingle, single.Payload.RecipientUserID)
		assert.Nil(t, single.Payload.EventID)
		assert.Equal(t, domain.RecipientModeSingle, single.Payload.Config.RecipientMode)

		next := f.schedules.runs["s-event"].nextRun
		assert.True(t, next.Equal(time.Date(2025, 3, 11, 11, 0, 0, 0, time.UTC)), "next run %s", next)
		assert.NotContains(t, f.schedules.runs, "s-later")
		assert.NotContains(t, f.schedules.runs, "s-off")
		assert.NotContains(t, f.schedules.runs, "s-new", "a config without next_run is not due")
	})

	t.Run("Given an advanced schedule, when run again, then it is no longer due", func(t *testing.T) {
		f := newExpanderFixture(t)
		f.schedules.configs = []domain.ScheduleConfig{schedule("s-event", "rule-event", true, &dueAt)}

		_, err := f.expander.Run(ctx)
		require.NoError(t, err)

		result, err := f.expander.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, app.ExpandResult{}, result)
		assert.Len(t, f.jobs.all(), 2)
	})

	t.Run("Given unusable rules, when run, then no jobs are created and next run still advances", func(t *testing.T) {
		f := newExpanderFixture(t)
		f.schedules.configs = []domain.ScheduleConfig{
			schedule("s-missing", "rule-missing", true, &dueAt),
			schedule("s-no-template", "rule-no-template", true, &dueAt),
			schedule("s-bad", "rule-bad-config", true, &dueAt),
		}

		result, err := f.expander.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, app.ExpandResult{Checked: 3}, result)
		assert.Empty(t, f.jobs.all())
		assert.Len(t, f.schedules.runs, 3)
	})

	t.Run("Given a failing job insert, when run, then the schedule is still advanced", func(t *testing.T) {
		f := newExpanderFixture(t)
		f.jobs.insertErr = errStore
		f.schedules.configs = []domain.ScheduleConfig{schedule("s-event", "rule-event", true, &dueAt)}

		result, err := f.expander.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, app.ExpandResult{Checked: 1}, result)
		assert.Contains(t, f.schedules.runs, "s-event")
	})
}
