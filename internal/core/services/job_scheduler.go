package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/bkowalski/fleetcore/internal/core/ports"
	"github.com/google/uuid"
)

// JobHandler executes one running job. It is invoked on its own goroutine
// and must report the outcome back through CompleteJob/FailJob.
type JobHandler func(ctx context.Context, job domain.Job)

// subagentBinder is the slice of the subagent registry the scheduler needs:
// counter updates when a bound job starts or finishes.
type subagentBinder interface {
	jobStarted(id domain.SubagentID, jobID domain.JobID)
	jobFinished(id domain.SubagentID, completed bool)
}

// CreateJobOpts tunes a new job. Zero values fall back to scheduler defaults.
type CreateJobOpts struct {
	Priority         domain.JobPriority
	MaxRetries       *int
	Timeout          time.Duration
	SubagentID       domain.SubagentID
	NotifyOnComplete bool
}

// JobScheduler owns the in-memory job table: priority queue, bounded
// concurrency and the retry state machine. Every mutation runs under one
// mutex so no dispatch pass ever observes a half-updated job. Dispatch is
// edge-triggered after create/complete/fail and guarded against re-entry;
// an overlapping trigger collapses into the pass already running, and the
// finishing event always re-triggers, so slots are eventually exhausted.
type JobScheduler struct {
	logger  *slog.Logger
	bus     *EventBus
	binder  subagentBinder
	history ports.HistoryRepository // optional

	mu              sync.Mutex
	jobs            map[domain.JobID]*domain.Job
	maxConcurrent   int
	maxRetries      int
	dispatching     bool
	dispatchPending bool

	handler JobHandler
	ctx     context.Context
}

func NewJobScheduler(logger *slog.Logger, cfg domain.SchedulerConfig, bus *EventBus, binder subagentBinder, history ports.HistoryRepository) *JobScheduler {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &JobScheduler{
		logger:        logger,
		bus:           bus,
		binder:        binder,
		history:       history,
		jobs:          make(map[domain.JobID]*domain.Job),
		maxConcurrent: maxConcurrent,
		maxRetries:    maxRetries,
		ctx:           context.Background(),
	}
}

// Start installs the execution handler. Jobs promoted before Start sit in
// running state until completed externally, which is what tests rely on.
func (s *JobScheduler) Start(ctx context.Context, handler JobHandler) {
	s.mu.Lock()
	s.ctx = ctx
	s.handler = handler
	s.mu.Unlock()
	s.Dispatch()
}

// CreateJob queues a new job and triggers a dispatch pass.
func (s *JobScheduler) CreateJob(jobType string, params map[string]any, opts CreateJobOpts) domain.Job {
	priority := opts.Priority
	if priority == "" {
		priority = domain.JobPriorityNormal
	}
	maxRetries := s.maxRetries
	if opts.MaxRetries != nil && *opts.MaxRetries >= 0 {
		maxRetries = *opts.MaxRetries
	}

	job := &domain.Job{
		ID:               domain.JobID(uuid.New().String()),
		Type:             jobType,
		Priority:         priority,
		Status:           domain.JobStatusQueued,
		Params:           params,
		SubagentID:       opts.SubagentID,
		MaxRetries:       maxRetries,
		Timeout:          opts.Timeout,
		NotifyOnComplete: opts.NotifyOnComplete,
		CreatedAt:        time.Now(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	snapshot := *job
	s.mu.Unlock()

	s.logger.Info("job created", "job_id", job.ID, "type", jobType, "priority", priority)
	s.publishStatus(snapshot)
	s.Dispatch()
	return snapshot
}

// CancelJob cancels a queued job. Running work cannot be interrupted
// mid-flight, so cancelling anything but a queued job returns false.
func (s *JobScheduler) CancelJob(id domain.JobID) bool {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusQueued {
		s.mu.Unlock()
		return false
	}
	now := time.Now()
	job.Status = domain.JobStatusCancelled
	job.CompletedAt = &now
	snapshot := *job
	s.mu.Unlock()

	s.logger.Info("job cancelled", "job_id", id)
	s.publishStatus(snapshot)
	s.record(snapshot)
	return true
}

// UpdateProgress clamps and stores job progress.
func (s *JobScheduler) UpdateProgress(id domain.JobID, progress int) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrJobNotFound
	}
	job.Progress = domain.ClampProgress(progress)
	snapshot := *job
	s.mu.Unlock()

	s.publishProgress(snapshot)
	return nil
}

// CompleteJob marks a running job completed. Completion is always terminal.
// Only running jobs can complete; a late or duplicate report for a job that
// was already cancelled, retried or finished is rejected so terminal states
// stay terminal.
func (s *JobScheduler) CompleteJob(id domain.JobID, result map[string]any) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusRunning {
		s.mu.Unlock()
		return fmt.Errorf("complete job %s in status %s: %w", id, job.Status, domain.ErrJobNotRunning)
	}
	now := time.Now()
	job.Status = domain.JobStatusCompleted
	job.Result = result
	job.Error = ""
	job.Progress = 100
	job.CompletedAt = &now
	snapshot := *job
	s.mu.Unlock()

	if snapshot.SubagentID != "" && s.binder != nil {
		s.binder.jobFinished(snapshot.SubagentID, true)
	}
	s.logger.Info("job completed", "job_id", id)
	s.publishStatus(snapshot)
	s.record(snapshot)
	s.Dispatch()
	return nil
}

// FailJob increments the retry counter and either requeues the job or, once
// the budget is spent, terminally fails it. A requeued job competes from
// scratch at the next dispatch pass — no priority boost for having failed.
func (s *JobScheduler) FailJob(id domain.JobID, errMsg string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusRunning {
		s.mu.Unlock()
		return fmt.Errorf("fail job %s in status %s: %w", id, job.Status, domain.ErrJobNotRunning)
	}
	job.Retries++
	job.Error = errMsg
	if job.Retries < job.MaxRetries {
		job.Status = domain.JobStatusQueued
		job.StartedAt = nil
		job.Progress = 0
	} else {
		now := time.Now()
		job.Status = domain.JobStatusFailed
		job.CompletedAt = &now
	}
	snapshot := *job
	s.mu.Unlock()

	if snapshot.SubagentID != "" && s.binder != nil {
		s.binder.jobFinished(snapshot.SubagentID, false)
	}
	if snapshot.Status == domain.JobStatusQueued {
		s.logger.Warn("job failed, requeued", "job_id", id, "retries", snapshot.Retries, "error", errMsg)
	} else {
		s.logger.Error("job failed terminally", "job_id", id, "retries", snapshot.Retries, "error", errMsg)
		s.record(snapshot)
	}
	s.publishStatus(snapshot)
	s.Dispatch()
	return nil
}

// Dispatch triggers a scheduling pass. A trigger arriving while a pass is
// in flight collapses into it: the running pass loops once more instead, so
// the edge is never lost and passes never overlap.
func (s *JobScheduler) Dispatch() {
	s.mu.Lock()
	if s.dispatching {
		s.dispatchPending = true
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	s.mu.Unlock()

	for {
		s.dispatchPass()

		s.mu.Lock()
		if !s.dispatchPending {
			s.dispatching = false
			s.mu.Unlock()
			return
		}
		s.dispatchPending = false
		s.mu.Unlock()
	}
}

// dispatchPass promotes the highest-weight queued jobs into the free
// concurrency slots, FIFO within a priority class.
func (s *JobScheduler) dispatchPass() {
	s.mu.Lock()
	running := 0
	var queued []*domain.Job
	for _, job := range s.jobs {
		switch job.Status {
		case domain.JobStatusRunning:
			running++
		case domain.JobStatusQueued:
			queued = append(queued, job)
		}
	}

	slots := s.maxConcurrent - running
	var promoted []domain.Job
	if slots > 0 && len(queued) > 0 {
		sort.SliceStable(queued, func(i, j int) bool {
			wi, wj := queued[i].Priority.Weight(), queued[j].Priority.Weight()
			if wi != wj {
				return wi > wj
			}
			return queued[i].CreatedAt.Before(queued[j].CreatedAt)
		})
		if slots > len(queued) {
			slots = len(queued)
		}
		for _, job := range queued[:slots] {
			now := time.Now()
			job.Status = domain.JobStatusRunning
			job.StartedAt = &now
			promoted = append(promoted, *job)
		}
	}

	handler := s.handler
	ctx := s.ctx
	s.mu.Unlock()

	for _, job := range promoted {
		if job.SubagentID != "" && s.binder != nil {
			s.binder.jobStarted(job.SubagentID, job.ID)
		}
		s.logger.Info("job dispatched", "job_id", job.ID, "priority", job.Priority)
		s.publishStatus(job)
		if handler != nil {
			go handler(ctx, job)
		}
	}
}

// GetJob returns a snapshot of the job.
func (s *JobScheduler) GetJob(id domain.JobID) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return *job, nil
}

// GetJobs returns snapshots of all jobs, newest first.
func (s *JobScheduler) GetJobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// JobsForSubagent returns snapshots of the subagent's jobs.
func (s *JobScheduler) JobsForSubagent(id domain.SubagentID) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.SubagentID == id {
			out = append(out, *job)
		}
	}
	return out
}

// CancelJobsForSubagent cancels every non-terminal job bound to the
// subagent, including running ones: the remote work itself cannot be
// interrupted, but the job records go terminal so the history is preserved.
func (s *JobScheduler) CancelJobsForSubagent(id domain.SubagentID) int {
	s.mu.Lock()
	var cancelled []domain.Job
	for _, job := range s.jobs {
		if job.SubagentID != id || job.Terminal() {
			continue
		}
		if job.Status == domain.JobStatusQueued || job.Status == domain.JobStatusRunning {
			now := time.Now()
			job.Status = domain.JobStatusCancelled
			job.CompletedAt = &now
			cancelled = append(cancelled, *job)
		}
	}
	s.mu.Unlock()

	for _, job := range cancelled {
		s.publishStatus(job)
		s.record(job)
	}
	if len(cancelled) > 0 {
		s.Dispatch()
	}
	return len(cancelled)
}

// ClearCompletedJobs removes terminal jobs whose completion is older than
// ttl. Queued and running jobs, and fresh terminal jobs, are untouched.
func (s *JobScheduler) ClearCompletedJobs(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Stats summarizes the job table by status.
func (s *JobScheduler) Stats() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := map[string]int{"total": len(s.jobs)}
	for _, job := range s.jobs {
		stats[string(job.Status)]++
	}
	return stats
}

func (s *JobScheduler) publishStatus(job domain.Job) {
	payload, err := json.Marshal(map[string]any{
		"status":   job.Status,
		"progress": job.Progress,
		"error":    job.Error,
		"retries":  job.Retries,
	})
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"status": %q}`, job.Status))
	}
	s.bus.Publish(Event{
		JobID:     job.ID,
		Type:      EventTypeStatus,
		Data:      string(payload),
		Timestamp: time.Now().Unix(),
	})
}

func (s *JobScheduler) publishProgress(job domain.Job) {
	s.bus.Publish(Event{
		JobID:     job.ID,
		Type:      EventTypeProgress,
		Data:      fmt.Sprintf(`{"progress": %d}`, job.Progress),
		Timestamp: time.Now().Unix(),
	})
}

// record appends a terminal job to the history store, off the hot path.
func (s *JobScheduler) record(job domain.Job) {
	if s.history == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.history.AppendJob(ctx, job); err != nil {
			s.logger.Error("failed to record job history", "job_id", job.ID, "error", err)
		}
	}()
}
