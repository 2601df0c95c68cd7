package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubagentID uniquely identifies a logical worker
type SubagentID string

// NewSubagentID generates a random subagent ID
func NewSubagentID() SubagentID {
	return SubagentID(uuid.New().String())
}

// SubagentStatus represents the lifecycle state of a subagent
type SubagentStatus string

const (
	SubagentStatusIdle    SubagentStatus = "idle"
	SubagentStatusBusy    SubagentStatus = "busy"
	SubagentStatusStopped SubagentStatus = "stopped"
	SubagentStatusError   SubagentStatus = "error"
)

// Subagent is a long-lived logical worker that jobs are bound to. It carries
// cumulative counters so a stopped subagent still tells its history.
// Invariant: Status is busy exactly when TasksRunning > 0, unless an explicit
// stopped/error override is in effect.
type Subagent struct {
	ID             SubagentID     `json:"id"`
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	Status         SubagentStatus `json:"status"`
	CurrentJobID   JobID          `json:"current_job_id,omitempty"`
	Capabilities   []string       `json:"capabilities,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActiveAt   time.Time      `json:"last_active_at"`
	TasksCompleted int            `json:"tasks_completed"`
	TasksRunning   int            `json:"tasks_running"`
}
