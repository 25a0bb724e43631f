package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/gateway"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
	"github.com/muratdemir0/gopulse-dispatch/internal/telemetry"
)

const (
	lockScheduler = "scheduler"
	lockWorker    = "worker"
	lockPoller    = "poller"

	DefaultLockTTL = 5 * time.Minute
)

// RunLocker provides a best-effort single-flight lock across processes.
type RunLocker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (token string, acquired bool, err error)
	Unlock(ctx context.Context, name, token string) error
}

// AutoRunConfig sets the tick of each background stage. A zero interval leaves the stage manual.
type AutoRunConfig struct {
	SchedulerInterval time.Duration
	WorkerInterval    time.Duration
	PollInterval      time.Duration
}

type PipelineConfig struct {
	LockTTL time.Duration
	AutoRun AutoRunConfig
}

// Pipeline is the single entry point for the dispatch stages.
type Pipeline struct {
	expander   *JobExpander
	worker     *DispatchWorker
	reconciler *Reconciler
	jobs       domain.JobRepository
	logs       domain.LogRepository
	locker     RunLocker
	cfg        PipelineConfig
	schedulers []*Scheduler
	logger     *slog.Logger
}

func NewPipeline(
	expander *JobExpander,
	worker *DispatchWorker,
	reconciler *Reconciler,
	jobs domain.JobRepository,
	logs domain.LogRepository,
	locker RunLocker,
	cfg PipelineConfig,
	logger *slog.Logger,
) *Pipeline {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}

	p := &Pipeline{
		expander:   expander,
		worker:     worker,
		reconciler: reconciler,
		jobs:       jobs,
		logs:       logs,
		locker:     locker,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "pipeline")),
	}

	p.schedulers = p.buildSchedulers(cfg.AutoRun)
	return p
}

func (p *Pipeline) buildSchedulers(cfg AutoRunConfig) []*Scheduler {
	var schedulers []*Scheduler
	if cfg.SchedulerInterval > 0 {
		schedulers = append(schedulers, NewScheduler(cfg.SchedulerInterval, func(ctx context.Context) error {
			_, err := p.RunScheduler(ctx)
			return ignoreBusy(err)
		}, p.logger))
	}
	if cfg.WorkerInterval > 0 {
		schedulers = append(schedulers, NewScheduler(cfg.WorkerInterval, func(ctx context.Context) error {
			_, err := p.RunWorker(ctx, gateway.Credentials{})
			return ignoreBusy(err)
		}, p.logger))
	}
	if cfg.PollInterval > 0 {
		schedulers = append(schedulers, NewScheduler(cfg.PollInterval, func(ctx context.Context) error {
			_, err := p.PollStatuses(ctx, "")
			return ignoreBusy(err)
		}, p.logger))
	}
	return schedulers
}

func (p *Pipeline) StartAutoRun() error {
	for _, s := range p.schedulers {
		s.Start()
	}
	if len(p.schedulers) > 0 {
		p.logger.Info("Automatic dispatch started", "tasks", len(p.schedulers))
	}
	return nil
}

func (p *Pipeline) StopAutoRun() error {
	for _, s := range p.schedulers {
		s.Stop()
	}
	if len(p.schedulers) > 0 {
		p.logger.Info("Automatic dispatch stopped")
	}
	return nil
}

func (p *Pipeline) RunScheduler(ctx context.Context) (ExpandResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.run_scheduler")
	defer span.End()

	var result ExpandResult
	err := p.withLock(ctx, lockScheduler, func(ctx context.Context) error {
		var err error
		result, err = p.expander.Run(ctx)
		return err
	})
	span.SetAttributes(attribute.Int("dispatch.checked", result.Checked), attribute.Int("dispatch.jobs", result.Jobs))
	return result, recordSpanError(span, err)
}

func (p *Pipeline) RunWorker(ctx context.Context, override gateway.Credentials) (ProcessResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.run_worker")
	defer span.End()

	var result ProcessResult
	err := p.withLock(ctx, lockWorker, func(ctx context.Context) error {
		var err error
		result, err = p.worker.Run(ctx, override)
		return err
	})
	span.SetAttributes(
		attribute.Int("dispatch.processed", result.Processed),
		attribute.Int("dispatch.failed", result.Failed),
	)
	return result, recordSpanError(span, err)
}

func (p *Pipeline) SendDirect(ctx context.Context, req DirectSendRequest) DirectSendResult {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.send_direct")
	defer span.End()

	result := p.worker.SendDirect(ctx, req)
	if !result.OK {
		span.SetStatus(codes.Error, result.Error)
	}
	return result
}

func (p *Pipeline) PollStatuses(ctx context.Context, statusPath string) (PollResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.poll_statuses")
	defer span.End()

	var result PollResult
	err := p.withLock(ctx, lockPoller, func(ctx context.Context) error {
		var err error
		result, err = p.reconciler.Poll(ctx, statusPath)
		return err
	})
	span.SetAttributes(
		attribute.Int("dispatch.checked", result.Checked),
		attribute.Int("dispatch.delivered", result.Delivered),
		attribute.Int("dispatch.acked", result.Acked),
	)
	return result, recordSpanError(span, err)
}

func (p *Pipeline) HandleCallback(ctx context.Context, body map[string]any) error {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.handle_callback")
	defer span.End()

	return recordSpanError(span, p.reconciler.HandleCallback(ctx, body))
}

func (p *Pipeline) Authenticate(ctx context.Context, presented string) (bool, error) {
	return p.reconciler.Authenticate(ctx, presented)
}

func (p *Pipeline) ListJobs(ctx context.Context, status string, limit, offset uint) ([]domain.Job, error) {
	return p.jobs.ListByStatus(ctx, status, limit, offset)
}

func (p *Pipeline) JobLogs(ctx context.Context, jobID string) ([]domain.LogEntry, error) {
	return p.logs.ListByJob(ctx, jobID)
}

// withLock runs fn under the named lock. When the lock store is unavailable fn
// still runs and only the per-job claims guard against overlap.
func (p *Pipeline) withLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if p.locker == nil {
		return fn(ctx)
	}

	token, acquired, err := p.locker.TryLock(ctx, name, p.cfg.LockTTL)
	if err != nil {
		p.logger.Warn("Run lock unavailable, continuing without it", "lock", name, "error", err)
		return fn(ctx)
	}
	if !acquired {
		return domain.ErrAlreadyRunning
	}
	defer func() {
		if err := p.locker.Unlock(context.WithoutCancel(ctx), name, token); err != nil {
			p.logger.Warn("Error releasing run lock", "lock", name, "error", err)
		}
	}()

	return fn(ctx)
}

func ignoreBusy(err error) error {
	if errors.Is(err, domain.ErrAlreadyRunning) {
		return nil
	}
	return err
}

func recordSpanError(span trace.Span, err error) error {
	if err != nil && !errors.Is(err, domain.ErrAlreadyRunning) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
