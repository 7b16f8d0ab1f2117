package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/config"
	"github.com/apiflow/backend/internal/infrastructure/logger"
)

// dueBatchSize caps how many due schedules one pass loads.
const dueBatchSize = 100

// Executor runs a single schedule once.
type Executor interface {
	Execute(ctx context.Context, scheduleID uuid.UUID, trigger pipeline.Trigger) *pipeline.ExecutionResult
}

// DueScheduleLister loads the cron schedules that should fire.
type DueScheduleLister interface {
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*pipeline.Schedule, error)
}

// RunSummary describes one pass over the due schedules. Retries counts
// re-invocations executed in the pass; Deferred counts failed runs whose
// retry was queued for a later pass.
type RunSummary struct {
	Due       int `json:"due"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Retries   int `json:"retries"`
	Deferred  int `json:"deferred"`
}

// pendingRetry is a failed schedule waiting out its retry delay.
type pendingRetry struct {
	schedule *pipeline.Schedule
	attempt  int // retries already spent, including this one
	at       time.Time
}

// job is one execution handed to the worker group.
type job struct {
	schedule *pipeline.Schedule
	attempt  int
}

// DueScheduleRunner fires due cron schedules on a ticker. A schedule id
// never runs twice at the same time. A failed run is re-invoked up to the
// schedule's MaxRetries: immediately when it has no retry delay, otherwise
// by a later pass once the delay has elapsed. Pending retries live in
// memory and are dropped when the schedule fires on its cron cadence again.
type DueScheduleRunner struct {
	cfg      config.SchedulerConfig
	store    DueScheduleLister
	executor Executor
	clock    clockwork.Clock
	logger   *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	inFlight  map[uuid.UUID]struct{}
	retries   map[uuid.UUID]pendingRetry
}

// NewDueScheduleRunner creates a runner.
func NewDueScheduleRunner(
	cfg config.SchedulerConfig,
	store DueScheduleLister,
	executor Executor,
	clock clockwork.Clock,
	l *zap.Logger,
) *DueScheduleRunner {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &DueScheduleRunner{
		cfg:      cfg,
		store:    store,
		executor: executor,
		clock:    clock,
		logger:   l,
		inFlight: make(map[uuid.UUID]struct{}),
		retries:  make(map[uuid.UUID]pendingRetry),
	}
}

// Start launches the polling loop. Starting a running runner is a no-op.
func (r *DueScheduleRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = true
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.runLoop(ctx)

	r.logger.Info("Due schedule runner started",
		zap.Duration("check_interval", r.cfg.CheckInterval),
		zap.Int("max_concurrent", r.cfg.MaxConcurrent),
	)
	return nil
}

// Stop cancels the loop and waits for in-flight executions, or for ctx.
func (r *DueScheduleRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return ErrRunnerNotRunning
	}
	r.isRunning = false
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Due schedule runner stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the polling loop is active.
func (r *DueScheduleRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isRunning
}

func (r *DueScheduleRunner) runLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := r.clock.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := r.RunDue(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Due schedule pass failed", zap.Error(err))
			}
		}
	}
}

// RunDue executes every schedule due now plus every queued retry whose
// delay has elapsed, and waits for them to finish. Schedules already
// executing are skipped. Retry delays never hold the pass open.
func (r *DueScheduleRunner) RunDue(ctx context.Context) (RunSummary, error) {
	var summary RunSummary
	ctx = logger.EnsureContext(ctx, r.logger)
	now := r.clock.Now()

	due, err := r.store.ListDueSchedules(ctx, now, dueBatchSize)
	if err != nil {
		return summary, fmt.Errorf("list due schedules: %w", err)
	}
	summary.Due = len(due)

	jobs := make([]job, 0, len(due))
	for _, s := range due {
		jobs = append(jobs, job{schedule: s})
	}
	jobs = append(jobs, r.readyRetries(now, due)...)
	if len(jobs) == 0 {
		return summary, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.cfg.MaxConcurrent)

	for _, j := range jobs {
		if !r.claim(j.schedule.ID) {
			logger.L(ctx).Debug("schedule already executing", zap.String("schedule_id", j.schedule.ID.String()))
			if j.attempt > 0 {
				r.queueRetry(j.schedule, j.attempt, now)
			}
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			defer r.release(j.schedule.ID)
			out := r.run(ctx, j)

			mu.Lock()
			defer mu.Unlock()
			summary.Retries += out.retries
			switch {
			case out.succeeded:
				summary.Succeeded++
			case out.deferred:
				summary.Deferred++
			default:
				summary.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.L(ctx).Info("Due schedules processed",
		zap.Int("due", summary.Due),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("retries", summary.Retries),
		zap.Int("deferred", summary.Deferred),
	)
	return summary, nil
}

// PendingRetries returns how many failed schedules wait for a retry.
func (r *DueScheduleRunner) PendingRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.retries)
}

// readyRetries pops the queued retries whose delay has elapsed. A schedule
// that is due on its cadence again starts over, so its pending retry is
// dropped.
func (r *DueScheduleRunner) readyRetries(now time.Time, due []*pipeline.Schedule) []job {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range due {
		delete(r.retries, s.ID)
	}
	var jobs []job
	for id, p := range r.retries {
		if p.at.After(now) {
			continue
		}
		delete(r.retries, id)
		jobs = append(jobs, job{schedule: p.schedule, attempt: p.attempt})
	}
	return jobs
}

func (r *DueScheduleRunner) queueRetry(s *pipeline.Schedule, attempt int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries[s.ID] = pendingRetry{schedule: s, attempt: attempt, at: at}
}

type runOutcome struct {
	succeeded bool
	deferred  bool
	retries   int
}

// run executes j and re-invokes it after failures while retries remain and
// no delay applies. A failure with a retry delay is queued instead.
func (r *DueScheduleRunner) run(ctx context.Context, j job) runOutcome {
	s := j.schedule
	log := logger.L(ctx).With(zap.String("schedule_id", s.ID.String()))
	var out runOutcome
	for attempt := j.attempt; ; attempt++ {
		trigger := pipeline.TriggerCron
		if attempt > 0 {
			trigger = pipeline.TriggerRetry
			out.retries++
		}
		res := r.executor.Execute(ctx, s.ID, trigger)
		if res != nil && res.Success {
			out.succeeded = true
			return out
		}
		if attempt >= s.MaxRetries {
			if s.MaxRetries > 0 {
				log.Warn("Schedule failed after retries", zap.Int("retries", attempt))
			}
			return out
		}
		if ctx.Err() != nil {
			return out
		}

		backoff := s.RetryBackoff()
		log.Info("Retrying failed schedule",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", s.MaxRetries),
			zap.Duration("backoff", backoff),
		)
		if backoff > 0 {
			r.queueRetry(s, attempt+1, r.clock.Now().Add(backoff))
			out.deferred = true
			return out
		}
	}
}

func (r *DueScheduleRunner) claim(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[id]; busy {
		return false
	}
	r.inFlight[id] = struct{}{}
	return true
}

func (r *DueScheduleRunner) release(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, id)
}
