package ports

import (
	"context"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
)

// NodeDirectory is the read-only source of node descriptors. Persistent
// storage of node configuration lives behind this interface and is not
// FleetCore's concern.
type NodeDirectory interface {
	List(ctx context.Context) ([]domain.NodeDescriptor, error)
}

// Prober is a timed reachability check against host:port. It returns the
// observed round-trip latency, or an error when the target is unreachable
// within the timeout.
type Prober interface {
	Probe(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error)
}

// WakeSender emits a wake-on-LAN signal for the given hardware address,
// optionally relayed through another host. It only sends; whether the target
// actually comes up is the wake coordinator's poll to answer.
type WakeSender interface {
	Send(ctx context.Context, mac string, relay string) error
}

// ShellRunner executes a command on a remote POSIX host. Implementations
// carry process-wide key material; a nil ShellRunner on the executor means
// the key material was absent at startup.
type ShellRunner interface {
	Run(ctx context.Context, host string, port int, user string, command string) (stdout string, stderr string, exitCode int, err error)
}

// AgentResponse is the decoded reply from a Windows control-plane agent.
type AgentResponse struct {
	StatusCode int
	Body       string
}

// AgentClient talks to the HTTP control-plane agent on Windows hosts.
type AgentClient interface {
	Execute(ctx context.Context, desc domain.NodeDescriptor, command string) (AgentResponse, error)
	Health(ctx context.Context, desc domain.NodeDescriptor) (AgentResponse, error)
	Generate(ctx context.Context, desc domain.NodeDescriptor, payload map[string]any) (AgentResponse, error)
}

// AIProber checks one inference backend: a health endpoint for local
// providers, credential presence for cloud ones.
type AIProber interface {
	Probe(ctx context.Context, res *domain.AIResource) (domain.AIResourceStatus, time.Duration, error)
}

// TaskResult is what the task-execution collaborator hands back for a
// workflow operation.
type TaskResult struct {
	Success bool
	Output  string
	Result  map[string]any
	Error   string
}

// TaskRunner is the collaborator that actually performs coding-task
// workflows. Concrete backends (local toolchains, remote agents) are out of
// scope here; the orchestrator only drives jobs through this interface.
type TaskRunner interface {
	Execute(ctx context.Context, task string, params map[string]any) (TaskResult, error)
	DevelopFeature(ctx context.Context, description string, params map[string]any) (TaskResult, error)
	FixBugs(ctx context.Context, description string, params map[string]any) (TaskResult, error)
	ReviewCode(ctx context.Context, target string, params map[string]any) (TaskResult, error)
}

// ExecutionRecord is one appended row of execution history.
type ExecutionRecord struct {
	NodeID    domain.NodeID
	Action    domain.NodeAction
	Success   bool
	Output    string
	Error     string
	ElapsedMs int64
	At        time.Time
}

// HistoryRepository is the append-only audit store. It never feeds state
// back into the scheduler: jobs and subagents are not resurrected across
// restarts.
type HistoryRepository interface {
	AppendExecution(ctx context.Context, rec ExecutionRecord) error
	AppendJob(ctx context.Context, job domain.Job) error
	ListExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error)
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)
	Close() error
}
