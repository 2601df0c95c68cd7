package services

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
)

// SubagentRegistry tracks the logical workers jobs are bound to. It owns
// only the subagent records; cross-entity operations like "stop a subagent
// and cancel its jobs" are composed by the orchestrator.
type SubagentRegistry struct {
	logger *slog.Logger

	mu        sync.Mutex
	subagents map[domain.SubagentID]*domain.Subagent
}

func NewSubagentRegistry(logger *slog.Logger) *SubagentRegistry {
	return &SubagentRegistry{
		logger:    logger,
		subagents: make(map[domain.SubagentID]*domain.Subagent),
	}
}

func (r *SubagentRegistry) CreateSubagent(name string, saType string, capabilities []string) domain.Subagent {
	now := time.Now()
	sa := &domain.Subagent{
		ID:           domain.NewSubagentID(),
		Name:         name,
		Type:         saType,
		Status:       domain.SubagentStatusIdle,
		Capabilities: capabilities,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	r.mu.Lock()
	r.subagents[sa.ID] = sa
	snapshot := *sa
	r.mu.Unlock()

	r.logger.Info("subagent created", "subagent_id", sa.ID, "name", name, "type", saType)
	return snapshot
}

func (r *SubagentRegistry) GetSubagent(id domain.SubagentID) (domain.Subagent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sa, ok := r.subagents[id]
	if !ok {
		return domain.Subagent{}, domain.ErrSubagentNotFound
	}
	return *sa, nil
}

func (r *SubagentRegistry) ListSubagents() []domain.Subagent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Subagent, 0, len(r.subagents))
	for _, sa := range r.subagents {
		out = append(out, *sa)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Stop marks the subagent stopped and zeroes its running counter. Cumulative
// history (TasksCompleted) is preserved. Returns false for unknown IDs.
func (r *SubagentRegistry) Stop(id domain.SubagentID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sa, ok := r.subagents[id]
	if !ok {
		return false
	}
	sa.Status = domain.SubagentStatusStopped
	sa.TasksRunning = 0
	sa.CurrentJobID = ""
	sa.LastActiveAt = time.Now()
	r.logger.Info("subagent stopped", "subagent_id", id)
	return true
}

// Remove deletes a stopped subagent from the registry.
func (r *SubagentRegistry) Remove(id domain.SubagentID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subagents[id]; !ok {
		return false
	}
	delete(r.subagents, id)
	r.logger.Info("subagent removed", "subagent_id", id)
	return true
}

// jobStarted bumps the running counter when a bound job is promoted.
// Status follows the counter unless a stopped/error override is in effect.
func (r *SubagentRegistry) jobStarted(id domain.SubagentID, jobID domain.JobID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sa, ok := r.subagents[id]
	if !ok {
		return
	}
	sa.TasksRunning++
	sa.CurrentJobID = jobID
	sa.LastActiveAt = time.Now()
	if sa.Status != domain.SubagentStatusStopped && sa.Status != domain.SubagentStatusError {
		sa.Status = domain.SubagentStatusBusy
	}
}

// jobFinished decrements the running counter when a bound job completes or
// fails, and counts completions.
func (r *SubagentRegistry) jobFinished(id domain.SubagentID, completed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sa, ok := r.subagents[id]
	if !ok {
		return
	}
	if sa.TasksRunning > 0 {
		sa.TasksRunning--
	}
	if completed {
		sa.TasksCompleted++
	}
	sa.LastActiveAt = time.Now()
	if sa.TasksRunning == 0 {
		sa.CurrentJobID = ""
		if sa.Status != domain.SubagentStatusStopped && sa.Status != domain.SubagentStatusError {
			sa.Status = domain.SubagentStatusIdle
		}
	}
}
