package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(maxConcurrent, maxRetries int) *JobScheduler {
	logger := testLogger()
	return NewJobScheduler(logger, domain.SchedulerConfig{
		MaxConcurrent: maxConcurrent,
		MaxRetries:    maxRetries,
	}, NewEventBus(logger), nil, nil)
}

func TestJobScheduler_PriorityOrder(t *testing.T) {
	s := newTestScheduler(2, 0)

	// Fill both slots so subsequent jobs queue up.
	fillerA := s.CreateJob("filler", nil, CreateJobOpts{})
	fillerB := s.CreateJob("filler", nil, CreateJobOpts{})

	low := s.CreateJob("work", nil, CreateJobOpts{Priority: domain.JobPriorityLow})
	critA := s.CreateJob("work", nil, CreateJobOpts{Priority: domain.JobPriorityCritical})
	normal := s.CreateJob("work", nil, CreateJobOpts{Priority: domain.JobPriorityNormal})
	high := s.CreateJob("work", nil, CreateJobOpts{Priority: domain.JobPriorityHigh})
	critB := s.CreateJob("work", nil, CreateJobOpts{Priority: domain.JobPriorityCritical})

	for _, id := range []domain.JobID{low.ID, critA.ID, normal.ID, high.ID, critB.ID} {
		job, err := s.GetJob(id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, job.Status)
	}

	require.NoError(t, s.CompleteJob(fillerA.ID, nil))
	require.NoError(t, s.CompleteJob(fillerB.ID, nil))

	// Both criticals claim the freed slots, everything else keeps waiting.
	for id, want := range map[domain.JobID]domain.JobStatus{
		critA.ID:  domain.JobStatusRunning,
		critB.ID:  domain.JobStatusRunning,
		high.ID:   domain.JobStatusQueued,
		normal.ID: domain.JobStatusQueued,
		low.ID:    domain.JobStatusQueued,
	} {
		job, err := s.GetJob(id)
		require.NoError(t, err)
		assert.Equal(t, want, job.Status, "job %s", id)
	}
}

func TestJobScheduler_FIFOWithinPriorityClass(t *testing.T) {
	s := newTestScheduler(1, 0)

	filler := s.CreateJob("filler", nil, CreateJobOpts{})
	first := s.CreateJob("work", nil, CreateJobOpts{Priority: domain.JobPriorityNormal})
	time.Sleep(2 * time.Millisecond)
	second := s.CreateJob("work", nil, CreateJobOpts{Priority: domain.JobPriorityNormal})

	require.NoError(t, s.CompleteJob(filler.ID, nil))

	job, err := s.GetJob(first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, job.Status)

	job, err = s.GetJob(second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
}

func TestJobScheduler_ConcurrencyLimit(t *testing.T) {
	s := newTestScheduler(2, 0)

	for i := 0; i < 5; i++ {
		s.CreateJob("work", nil, CreateJobOpts{})
	}

	stats := s.Stats()
	assert.Equal(t, 2, stats[string(domain.JobStatusRunning)])
	assert.Equal(t, 3, stats[string(domain.JobStatusQueued)])
}

func TestJobScheduler_CancelOnlyQueued(t *testing.T) {
	s := newTestScheduler(1, 0)

	running := s.CreateJob("work", nil, CreateJobOpts{})
	queued := s.CreateJob("work", nil, CreateJobOpts{})

	assert.False(t, s.CancelJob(running.ID), "running jobs cannot be cancelled")
	assert.True(t, s.CancelJob(queued.ID))
	assert.False(t, s.CancelJob(queued.ID), "cancel is not idempotent on terminal jobs")

	job, err := s.GetJob(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.True(t, job.Terminal())

	assert.False(t, s.CancelJob("no-such-job"))
}

func TestJobScheduler_FailRequeuesUntilBudgetSpent(t *testing.T) {
	s := newTestScheduler(5, 2)

	job := s.CreateJob("flaky", nil, CreateJobOpts{})

	require.NoError(t, s.FailJob(job.ID, "boom"))
	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	// First failure: requeued with a clean slate, dispatch promotes it again
	// immediately since slots are free.
	assert.Equal(t, 1, got.Retries)
	assert.Equal(t, "boom", got.Error)
	assert.False(t, got.Terminal())
	assert.Equal(t, domain.JobStatusRunning, got.Status)

	require.NoError(t, s.FailJob(job.ID, "boom again"))
	got, err = s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Retries)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.True(t, got.Terminal())
	require.NotNil(t, got.CompletedAt)
}

func TestJobScheduler_FailRequeueResetsExecutionState(t *testing.T) {
	s := newTestScheduler(0, 3) // 0 falls back to default 5
	job := s.CreateJob("flaky", nil, CreateJobOpts{})
	require.NoError(t, s.UpdateProgress(job.ID, 40))

	require.NoError(t, s.FailJob(job.ID, "transient"))

	// Requeued and re-promoted; the retry starts from scratch.
	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Progress)
}

func TestJobScheduler_ZeroRetriesFailsTerminally(t *testing.T) {
	s := newTestScheduler(5, 0)
	job := s.CreateJob("fragile", nil, CreateJobOpts{})

	require.NoError(t, s.FailJob(job.ID, "boom"))
	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.True(t, got.Terminal())
}

func TestJobScheduler_PerJobRetryOverride(t *testing.T) {
	s := newTestScheduler(5, 3)
	zero := 0
	job := s.CreateJob("fragile", nil, CreateJobOpts{MaxRetries: &zero})

	require.NoError(t, s.FailJob(job.ID, "boom"))
	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
}

func TestJobScheduler_CompleteIsTerminal(t *testing.T) {
	s := newTestScheduler(5, 3)
	job := s.CreateJob("work", nil, CreateJobOpts{})

	require.NoError(t, s.CompleteJob(job.ID, map[string]any{"answer": 42}))
	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.True(t, got.Terminal())
	assert.Equal(t, 42, got.Result["answer"])
}

func TestJobScheduler_CompleteRejectsQueuedJob(t *testing.T) {
	s := newTestScheduler(1, 0)
	filler := s.CreateJob("filler", nil, CreateJobOpts{})
	queued := s.CreateJob("work", nil, CreateJobOpts{})

	got, err := s.GetJob(filler.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusRunning, got.Status)

	// A completion report for a job that never started must not flip it
	// straight to completed.
	assert.ErrorIs(t, s.CompleteJob(queued.ID, nil), domain.ErrJobNotRunning)
	got, err = s.GetJob(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
}

func TestJobScheduler_FailRejectsCancelledJob(t *testing.T) {
	s := newTestScheduler(1, 5)
	s.CreateJob("filler", nil, CreateJobOpts{})
	job := s.CreateJob("work", nil, CreateJobOpts{})
	require.True(t, s.CancelJob(job.ID))

	// A late failure report must not resurrect the cancelled job into the
	// retry loop.
	assert.ErrorIs(t, s.FailJob(job.ID, "late report"), domain.ErrJobNotRunning)
	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
	assert.Equal(t, 0, got.Retries)
	assert.True(t, got.Terminal())
}

func TestJobScheduler_DuplicateCompletionRejected(t *testing.T) {
	logger := testLogger()
	registry := NewSubagentRegistry(logger)
	s := NewJobScheduler(logger, domain.SchedulerConfig{MaxConcurrent: 5}, NewEventBus(logger), registry, nil)

	sa := registry.CreateSubagent("builder", "coder", nil)
	job := s.CreateJob("work", nil, CreateJobOpts{SubagentID: sa.ID})
	require.NoError(t, s.CompleteJob(job.ID, map[string]any{"ok": true}))

	assert.ErrorIs(t, s.CompleteJob(job.ID, nil), domain.ErrJobNotRunning)
	assert.ErrorIs(t, s.FailJob(job.ID, "late"), domain.ErrJobNotRunning)

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, true, got.Result["ok"])

	// The subagent counter moved exactly once.
	agent, err := registry.GetSubagent(sa.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, agent.TasksCompleted)
	assert.Equal(t, 0, agent.TasksRunning)
}

func TestJobScheduler_UpdateProgressClamps(t *testing.T) {
	s := newTestScheduler(5, 0)
	job := s.CreateJob("work", nil, CreateJobOpts{})

	require.NoError(t, s.UpdateProgress(job.ID, 150))
	got, _ := s.GetJob(job.ID)
	assert.Equal(t, 100, got.Progress)

	require.NoError(t, s.UpdateProgress(job.ID, -5))
	got, _ = s.GetJob(job.ID)
	assert.Equal(t, 0, got.Progress)

	assert.ErrorIs(t, s.UpdateProgress("no-such-job", 10), domain.ErrJobNotFound)
}

func TestJobScheduler_ClearCompletedJobs(t *testing.T) {
	s := newTestScheduler(1, 0)

	done := s.CreateJob("work", nil, CreateJobOpts{})
	pending := s.CreateJob("work", nil, CreateJobOpts{})
	require.NoError(t, s.CompleteJob(done.ID, nil))

	assert.Equal(t, 0, s.ClearCompletedJobs(time.Hour), "fresh terminal jobs survive")

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, s.ClearCompletedJobs(0))

	_, err := s.GetJob(done.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = s.GetJob(pending.ID)
	assert.NoError(t, err, "non-terminal jobs are never pruned")
}

func TestJobScheduler_HandlerInvoked(t *testing.T) {
	s := newTestScheduler(2, 0)

	got := make(chan domain.Job, 1)
	s.Start(context.Background(), func(ctx context.Context, job domain.Job) {
		got <- job
	})

	created := s.CreateJob("work", map[string]any{"k": "v"}, CreateJobOpts{})

	select {
	case job := <-got:
		assert.Equal(t, created.ID, job.ID)
		assert.Equal(t, domain.JobStatusRunning, job.Status)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestJobScheduler_ConcurrentTriggersCollapse(t *testing.T) {
	s := newTestScheduler(3, 0)

	var started atomic.Int32
	s.Start(context.Background(), func(ctx context.Context, job domain.Job) {
		started.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.CreateJob("work", nil, CreateJobOpts{})
		}()
	}
	wg.Wait()

	// A burst of redundant triggers must neither deadlock nor promote a job
	// into more than one slot.
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Dispatch()
		}()
	}
	wg.Wait()

	require.True(t, waitFor(time.Second, func() bool {
		return started.Load() == 3
	}), "expected exactly 3 handler invocations, got %d", started.Load())
	stats := s.Stats()
	assert.Equal(t, 3, stats[string(domain.JobStatusRunning)])
	assert.Equal(t, 7, stats[string(domain.JobStatusQueued)])
}

func TestJobScheduler_CancelJobsForSubagent(t *testing.T) {
	logger := testLogger()
	registry := NewSubagentRegistry(logger)
	s := NewJobScheduler(logger, domain.SchedulerConfig{MaxConcurrent: 1}, NewEventBus(logger), registry, nil)

	sa := registry.CreateSubagent("builder", "coder", nil)
	running := s.CreateJob("work", nil, CreateJobOpts{SubagentID: sa.ID})
	queued := s.CreateJob("work", nil, CreateJobOpts{SubagentID: sa.ID})
	unrelated := s.CreateJob("work", nil, CreateJobOpts{})

	assert.Equal(t, 2, s.CancelJobsForSubagent(sa.ID))

	for _, id := range []domain.JobID{running.ID, queued.ID} {
		job, err := s.GetJob(id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCancelled, job.Status)
	}

	job, err := s.GetJob(unrelated.ID)
	require.NoError(t, err)
	assert.NotEqual(t, domain.JobStatusCancelled, job.Status)
}

func TestJobScheduler_StatusEvents(t *testing.T) {
	logger := testLogger()
	bus := NewEventBus(logger)
	s := NewJobScheduler(logger, domain.SchedulerConfig{MaxConcurrent: 1}, bus, nil, nil)

	filler := s.CreateJob("filler", nil, CreateJobOpts{})
	job := s.CreateJob("work", nil, CreateJobOpts{})

	ch, unsub := bus.Subscribe(job.ID)
	defer unsub()

	require.NoError(t, s.UpdateProgress(job.ID, 25))
	require.NoError(t, s.CompleteJob(filler.ID, nil))

	var types []EventType
	timeout := time.After(time.Second)
	for len(types) < 2 {
		select {
		case e := <-ch:
			types = append(types, e.Type)
		case <-timeout:
			t.Fatalf("expected 2 events, got %v", types)
		}
	}
	assert.Equal(t, EventTypeProgress, types[0])
	assert.Equal(t, EventTypeStatus, types[1], "promotion publishes a status event")
}
