package domain

import (
	"errors"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

type JobPriority string

const (
	JobPriorityLow      JobPriority = "low"
	JobPriorityNormal   JobPriority = "normal"
	JobPriorityHigh     JobPriority = "high"
	JobPriorityCritical JobPriority = "critical"
)

// Weight returns the scheduling weight of a priority class. Unknown
// priorities weigh the same as normal.
func (p JobPriority) Weight() int {
	switch p {
	case JobPriorityCritical:
		return 1000
	case JobPriorityHigh:
		return 100
	case JobPriorityLow:
		return 1
	default:
		return 10
	}
}

// Job is a unit of orchestrated work with priority, bounded retries and an
// explicit lifecycle status. The Timeout field is advisory metadata only;
// hard deadlines live in the transports.
type Job struct {
	ID               JobID          `json:"id"`
	Type             string         `json:"type"`
	Priority         JobPriority    `json:"priority"`
	Status           JobStatus      `json:"status"`
	Progress         int            `json:"progress"`
	Params           map[string]any `json:"params,omitempty"`
	Result           map[string]any `json:"result,omitempty"`
	Error            string         `json:"error,omitempty"`
	SubagentID       SubagentID     `json:"subagent_id,omitempty"`
	Retries          int            `json:"retries"`
	MaxRetries       int            `json:"max_retries"`
	Timeout          time.Duration  `json:"timeout,omitempty"`
	NotifyOnComplete bool           `json:"notify_on_complete"`
	CreatedAt        time.Time      `json:"created_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a state it can never leave.
// A failed job is terminal only once its retry budget is exhausted; below
// that the failure is transient and the job is on its way back to the queue.
func (j *Job) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusCancelled:
		return true
	case JobStatusFailed:
		return j.Retries >= j.MaxRetries
	default:
		return false
	}
}

// ClampProgress bounds a progress value to [0,100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobNotRunning    = errors.New("job is not running")
	ErrSubagentNotFound = errors.New("subagent not found")
	ErrNodeNotFound     = errors.New("node not found")
)
