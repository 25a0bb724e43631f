package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs a task immediately on Start and then on every interval tick until Stop.
// A stopped scheduler can be started again.
type Scheduler struct {
	interval time.Duration
	task     func(ctx context.Context) error
	logger   *slog.Logger
	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	cancel   context.CancelFunc
}

func NewScheduler(interval time.Duration, task func(ctx context.Context) error, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		task:     task,
		logger:   logger,
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopCh = make(chan struct{})
	s.running = true
	go s.run(ctx, s.stopCh)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	s.cancel()
	<-s.stopCh
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, stopCh chan struct{}) {
	defer close(stopCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.execute(ctx)

	for {
		select {
		case <-ticker.C:
			s.execute(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) execute(ctx context.Context) {
	if err := s.task(ctx); err != nil {
		s.logger.Error("failed to execute task", "error", err)
	}
}
