package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/apiflow/backend/internal/domain/pipeline"
	"github.com/apiflow/backend/internal/infrastructure/config"
)

type mockLister struct {
	mock.Mock
}

func (m *mockLister) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*pipeline.Schedule, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*pipeline.Schedule), args.Error(1)
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, id uuid.UUID, trigger pipeline.Trigger) *pipeline.ExecutionResult {
	args := m.Called(ctx, id, trigger)
	return args.Get(0).(*pipeline.ExecutionResult)
}

var (
	resultOK     = &pipeline.ExecutionResult{Success: true, Stage: pipeline.StageCompleted}
	resultFailed = &pipeline.ExecutionResult{Success: false, Stage: pipeline.StageAPICall, Message: "api_call: boom"}
)

func cronSchedule(maxRetries int) *pipeline.Schedule {
	return &pipeline.Schedule{
		ID:           uuid.New(),
		ScheduleType: pipeline.ScheduleCron,
		Enabled:      true,
		MaxRetries:   maxRetries,
	}
}

func newTestRunner(lister DueScheduleLister, exec Executor, maxConcurrent int) (*DueScheduleRunner, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.SchedulerConfig{Enabled: true, CheckInterval: time.Minute, MaxConcurrent: maxConcurrent}
	return NewDueScheduleRunner(cfg, lister, exec, clock, nil), clock
}

func TestRunDue_ExecutesEveryDueSchedule(t *testing.T) {
	a, b := cronSchedule(0), cronSchedule(0)
	lister := new(mockLister)
	lister.On("ListDueSchedules", mock.Anything, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), dueBatchSize).
		Return([]*pipeline.Schedule{a, b}, nil)
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, a.ID, pipeline.TriggerCron).Return(resultOK).Once()
	exec.On("Execute", mock.Anything, b.ID, pipeline.TriggerCron).Return(resultFailed).Once()

	r, _ := newTestRunner(lister, exec, 2)
	summary, err := r.RunDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunSummary{Due: 2, Succeeded: 1, Failed: 1}, summary)
	exec.AssertExpectations(t)
	lister.AssertExpectations(t)
}

func TestRunDue_NothingDue(t *testing.T) {
	lister := new(mockLister)
	lister.On("ListDueSchedules", mock.Anything, mock.Anything, dueBatchSize).Return([]*pipeline.Schedule{}, nil)
	exec := new(mockExecutor)

	r, _ := newTestRunner(lister, exec, 1)
	summary, err := r.RunDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Due)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunDue_ListError(t *testing.T) {
	lister := new(mockLister)
	lister.On("ListDueSchedules", mock.Anything, mock.Anything, dueBatchSize).Return(nil, errors.New("db down"))

	r, _ := newTestRunner(lister, new(mockExecutor), 1)
	_, err := r.RunDue(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestRunDue_RetriesUpToMaxRetries(t *testing.T) {
	s := cronSchedule(2)
	lister := new(mockLister)
	lister.On("ListDueSchedules", mock.Anything, mock.Anything, dueBatchSize).Return([]*pipeline.Schedule{s}, nil)
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, s.ID, pipeline.TriggerCron).Return(resultFailed).Once()
	exec.On("Execute", mock.Anything, s.ID, pipeline.TriggerRetry).Return(resultFailed).Twice()

	r, _ := newTestRunner(lister, exec, 1)
	summary, err := r.RunDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Retries)
	exec.AssertNumberOfCalls(t, "Execute", 3)
}

func TestRunDue_RetryStopsOnSuccess(t *testing.T) {
	s := cronSchedule(5)
	lister := new(mockLister)
	lister.On("ListDueSchedules", mock.Anything, mock.Anything, dueBatchSize).Return([]*pipeline.Schedule{s}, nil)
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, s.ID, pipeline.TriggerCron).Return(resultFailed).Once()
	exec.On("Execute", mock.Anything, s.ID, pipeline.TriggerRetry).Return(resultOK).Once()

	r, _ := newTestRunner(lister, exec, 1)
	summary, err := r.RunDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunSummary{Due: 1, Succeeded: 1, Retries: 1}, summary)
	exec.AssertNumberOfCalls(t, "Execute", 2)
}

// runDueWithin fails the test when a pass does not return in time.
func runDueWithin(t *testing.T, r *DueScheduleRunner, d time.Duration) RunSummary {
	t.Helper()
	type result struct {
		summary RunSummary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := r.RunDue(context.Background())
		done <- result{summary, err}
	}()
	select {
	case res := <-done:
		require.NoError(t, res.err)
		return res.summary
	case <-time.After(d):
		t.Fatal("RunDue did not return")
		return RunSummary{}
	}
}

func TestRunDue_RetryIsQueuedForLaterPass(t *testing.T) {
	s := cronSchedule(1)
	s.RetryDelay = 2
	s.RetryDelayUnit = pipeline.RetryMinutes
	lister := new(mockLister)
	lister.On("ListDueSchedules", mock.Anything, mock.Anything, dueBatchSize).Return([]*pipeline.Schedule{s}, nil).Once()
	lister.On("ListDueSchedules", mock.Anything, mock.Anything, dueBatchSize).Return([]*pipeline.Schedule{}, nil)
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, s.ID, pipeline.TriggerCron).Return(resultFailed).Once()
	exec.On("Execute", mock.Anything, s.ID, pipeline.TriggerRetry).Return(resultFailed).Once()

	r, clock := newTestRunner(lister, exec, 1)

	assert.Equal(t, RunSummary{Due: 1, Deferred: 1}, runDueWithin(t, r, 5*time.Second))
	assert.Equal(t, 1, r.PendingRetries())

	clock.Advance(time.Minute)
	assert.Equal(t, RunSummary{}, runDueWithin(t, r, 5*time.Second), "retry must wait for the delay")
	exec.AssertNumberOfCalls(t, "Execute", 1)

	clock.Advance(time.Minute)
	assert.Equal(t, RunSummary{Failed: 1, Retries: 1}, runDueWithin(t, r, 5*time.Second))
	assert.Zero(t, r.PendingRetries(), "retries are spent")
	exec.AssertExpectations(t)
}

func TestRunDue_BackoffDoesNotBlockOtherSchedules(t *testing.T) {
	failing := cronSchedule(3)
	failing.RetryDelay = 1
	failing.RetryDelayUnit = pipeline.RetryHours
	healthy := cronSchedule(0)
	lister := new(mockLister)
	lister.On("ListDueSchedules", mock.Anything, mock.Anything, dueBatchSize).
		Return([]*pipeline.Schedule{failing, healthy}, nil).Once()
	lister.On("ListDueSchedules", mock.Anything, mock.Anything, dueBatchSize).
		Return([]*pipeline.Schedule{healthy}, nil).Once()
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, failing.ID, pipeline.TriggerCron).Return(resultFailed).Once()
	exec.On("Execute", mock.Anything, healthy.ID, pipeline.TriggerCron).Return(resultOK).Twice()

	r, clock := newTestRunner(lister, exec, 1)

	assert.Equal(t, RunSummary{Due: 2, Succeeded: 1, Deferred: 1}, runDueWithin(t, r, 5*time.Second))
	clock.Advance(time.Minute)
	assert.Equal(t, RunSummary{Due: 1, Succeeded: 1}, runDueWithin(t, r, 5*time.Second))
	assert.Equal(t, 1, r.PendingRetries())
	exec.AssertExpectations(t)
}

func TestRunDue_CadenceFireReplacesPendingRetry(t *testing.T) {
	s := cronSchedule(2)
	s.RetryDelay = 10
	s.RetryDelayUnit = pipeline.RetryMinutes
	lister := new(mockLister)
	lister.On("ListDueSchedules", mock.Anything, mock.Anything, dueBatchSize).Return([]*pipeline.Schedule{s}, nil).Twice()
	lister.On("ListDueSchedules", mock.Anything, mock.Anything, dueBatchSize).Return([]*pipeline.Schedule{}, nil)
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, s.ID, pipeline.TriggerCron).Return(resultFailed).Once()
	exec.On("Execute", mock.Anything, s.ID, pipeline.TriggerCron).Return(resultOK).Once()

	r, clock := newTestRunner(lister, exec, 1)

	assert.Equal(t, RunSummary{Due: 1, Deferred: 1}, runDueWithin(t, r, 5*time.Second))
	clock.Advance(5 * time.Minute)
	assert.Equal(t, RunSummary{Due: 1, Succeeded: 1}, runDueWithin(t, r, 5*time.Second))
	assert.Zero(t, r.PendingRetries())

	clock.Advance(10 * time.Minute)
	assert.Equal(t, RunSummary{}, runDueWithin(t, r, 5*time.Second))
	exec.AssertNotCalled(t, "Execute", mock.Anything, s.ID, pipeline.TriggerRetry)
}

func TestRunDue_SkipsSchedulesAlreadyExecuting(t *testing.T) {
	s := cronSchedule(0)
	lister := new(mockLister)
	lister.On("ListDueSchedules", mock.Anything, mock.Anything, dueBatchSize).Return([]*pipeline.Schedule{s}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, s.ID, pipeline.TriggerCron).
		Run(func(mock.Arguments) {
			once.Do(func() { close(started) })
			<-release
		}).
		Return(resultOK).Once()

	r, _ := newTestRunner(lister, exec, 4)
	first := make(chan RunSummary)
	go func() {
		summary, _ := r.RunDue(context.Background())
		first <- summary
	}()
	<-started

	second, err := r.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Due: 1, Skipped: 1}, second)

	close(release)
	assert.Equal(t, RunSummary{Due: 1, Succeeded: 1}, <-first)
}

func TestRunDue_RespectsConcurrencyLimit(t *testing.T) {
	schedules := []*pipeline.Schedule{cronSchedule(0), cronSchedule(0), cronSchedule(0), cronSchedule(0)}
	lister := new(mockLister)
	lister.On("ListDueSchedules", mock.Anything, mock.Anything, dueBatchSize).Return(schedules, nil)

	var active, peak atomic.Int32
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything, pipeline.TriggerCron).
		Run(func(mock.Arguments) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
		}).
		Return(resultOK)

	r, _ := newTestRunner(lister, exec, 2)
	summary, err := r.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDueScheduleRunner_StartStop(t *testing.T) {
	s := cronSchedule(0)
	lister := new(mockLister)
	lister.On("ListDueSchedules", mock.Anything, mock.Anything, dueBatchSize).Return([]*pipeline.Schedule{s}, nil)
	executed := make(chan struct{}, 1)
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, s.ID, pipeline.TriggerCron).
		Run(func(mock.Arguments) {
			select {
			case executed <- struct{}{}:
			default:
			}
		}).
		Return(resultOK)

	r, clock := newTestRunner(lister, exec, 1)
	assert.ErrorIs(t, r.Stop(context.Background()), ErrRunnerNotRunning)

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()), "second start is a no-op")
	assert.True(t, r.IsRunning())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)

	select {
	case <-executed:
	case <-ctx.Done():
		t.Fatal("tick did not run due schedules")
	}

	require.NoError(t, r.Stop(ctx))
	assert.False(t, r.IsRunning())
}
