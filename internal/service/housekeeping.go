package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/DevRickLin/chat-relay/internal/biz/repo"
)

// Job is a cron-scheduled maintenance task
type Job struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

// Housekeeping runs maintenance jobs on cron schedules
type Housekeeping struct {
	jobs   []Job
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	busy    map[string]bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now func() time.Time
}

// NewHousekeeping creates a runner; jobs with an empty schedule are kept for RunOnce only
func NewHousekeeping(logger *zap.Logger, jobs ...Job) *Housekeeping {
	return &Housekeeping{
		jobs:   jobs,
		logger: logger,
		busy:   make(map[string]bool),
		now:    time.Now,
	}
}

// Start starts one scheduling loop per job
func (h *Housekeeping) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	for _, job := range h.jobs {
		if job.Cron == "" {
			continue
		}
		h.wg.Add(1)
		go h.schedule(ctx, job)
	}
	h.logger.Info("Housekeeping started", zap.Int("jobs", len(h.jobs)))
}

// Stop stops the loops and waits for running jobs
func (h *Housekeeping) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	h.logger.Info("Housekeeping stopped")
}

// RunOnce runs a job by name immediately
func (h *Housekeeping) RunOnce(ctx context.Context, name string) error {
	for _, job := range h.jobs {
		if job.Name == name {
			return h.run(ctx, job)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

func (h *Housekeeping) schedule(ctx context.Context, job Job) {
	defer h.wg.Done()
	logger := h.logger.With(zap.String("job", job.Name))

	for {
		next, err := gronx.NextTickAfter(job.Cron, h.now(), false)
		if err != nil {
			logger.Error("Invalid schedule", zap.String("cron", job.Cron), zap.Error(err))
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := h.run(ctx, job); err != nil {
			logger.Warn("Job failed", zap.Error(err))
		}
	}
}

// run executes a job unless the same job is already running
func (h *Housekeeping) run(ctx context.Context, job Job) error {
	h.mu.Lock()
	if h.busy[job.Name] {
		h.mu.Unlock()
		return nil
	}
	h.busy[job.Name] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.busy, job.Name)
		h.mu.Unlock()
	}()

	start := h.now()
	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("%s: %w", job.Name, err)
	}
	h.logger.Debug("Job done", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
	return nil
}

// SnapshotJob persists the relay's observed state
func SnapshotJob(cron string, relay *RelayService) Job {
	return Job{Name: "snapshot", Cron: cron, Run: relay.Snapshot}
}

// PruneJob deletes chat store messages older than retention
func PruneJob(cron string, store repo.ChatStoreRepo, retention time.Duration, logger *zap.Logger) Job {
	return Job{
		Name: "prune",
		Cron: cron,
		Run: func(ctx context.Context) error {
			deleted, err := store.PruneBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				return err
			}
			if deleted > 0 {
				logger.Info("Pruned old messages", zap.Int64("deleted", deleted))
			}
			return nil
		},
	}
}
