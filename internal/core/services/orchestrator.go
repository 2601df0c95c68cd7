package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/bkowalski/fleetcore/internal/core/ports"
)

// Workflow job types driven by the background runner. Jobs of any other
// type are externally driven: whoever created them completes or fails them.
const (
	JobTypeExecuteTask    = "execute_task"
	JobTypeDevelopFeature = "develop_feature"
	JobTypeFixBugs        = "fix_bugs"
	JobTypeReviewCode     = "review_code"
)

// Orchestrator is the composition root of the engine: it owns the scheduler,
// the registries, the router, the wake coordinator and the executor, and is
// the only surface the outside world talks to. No call on it lets an error
// escape a remote operation as a panic or a naked transport failure.
type Orchestrator struct {
	logger    *slog.Logger
	cfg       *domain.AppConfig
	bus       *EventBus
	scheduler *JobScheduler
	subagents *SubagentRegistry
	nodes     *ClusterNodeRegistry
	router    *CapabilityRouter
	waker     *WakeCoordinator
	executor  *NodeExecutor
	selector  *AIResourceSelector
	runner    ports.TaskRunner // may be nil
	history   ports.HistoryRepository

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
}

// Deps carries the external collaborators the orchestrator is wired with.
type Deps struct {
	Directory ports.NodeDirectory
	Prober    ports.Prober
	Wake      ports.WakeSender
	Shell     ports.ShellRunner
	Agent     ports.AgentClient
	AIProber  ports.AIProber
	Runner    ports.TaskRunner
	History   ports.HistoryRepository
}

func NewOrchestrator(logger *slog.Logger, cfg *domain.AppConfig, deps Deps) *Orchestrator {
	if cfg == nil {
		cfg = domain.DefaultConfig()
	}
	catalog := domain.DefaultCatalog()

	bus := NewEventBus(logger)
	subagents := NewSubagentRegistry(logger)
	scheduler := NewJobScheduler(logger, cfg.Scheduler, bus, subagents, deps.History)
	nodes := NewClusterNodeRegistry(logger, deps.Directory, deps.Prober, catalog, cfg.CapabilityTable)
	waker := NewWakeCoordinator(logger, nodes, deps.Wake, deps.Prober)
	executor := NewNodeExecutor(logger, nodes, deps.Shell, deps.Agent, waker, deps.History)
	router := NewCapabilityRouter(logger, nodes, catalog, cfg.CapabilityTable, waker, executor)
	selector := NewAIResourceSelector(logger, deps.AIProber, cfg.AIResources)

	o := &Orchestrator{
		logger:    logger,
		cfg:       cfg,
		bus:       bus,
		scheduler: scheduler,
		subagents: subagents,
		nodes:     nodes,
		router:    router,
		waker:     waker,
		executor:  executor,
		selector:  selector,
		runner:    deps.Runner,
		history:   deps.History,
	}
	return o
}

// Start registers nodes from the directory and installs the workflow runner
// as the scheduler's execution handler.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.nodes.RegisterNodes(ctx); err != nil {
		return fmt.Errorf("register nodes: %w", err)
	}
	o.scheduler.Start(ctx, o.handleJob)
	return nil
}

// --- jobs ---

func (o *Orchestrator) CreateJob(jobType string, params map[string]any, opts CreateJobOpts) domain.Job {
	return o.scheduler.CreateJob(jobType, params, opts)
}

func (o *Orchestrator) CancelJob(id domain.JobID) bool { return o.scheduler.CancelJob(id) }

func (o *Orchestrator) GetJob(id domain.JobID) (domain.Job, error) { return o.scheduler.GetJob(id) }

func (o *Orchestrator) GetJobs() []domain.Job { return o.scheduler.GetJobs() }

func (o *Orchestrator) UpdateProgress(id domain.JobID, progress int) error {
	return o.scheduler.UpdateProgress(id, progress)
}

func (o *Orchestrator) CompleteJob(id domain.JobID, result map[string]any) error {
	return o.scheduler.CompleteJob(id, result)
}

func (o *Orchestrator) FailJob(id domain.JobID, errMsg string) error {
	return o.scheduler.FailJob(id, errMsg)
}

func (o *Orchestrator) ClearCompletedJobs(ttl time.Duration) int {
	return o.scheduler.ClearCompletedJobs(ttl)
}

// Subscribe streams events for one job; the returned function unsubscribes
// and may be called any number of times.
func (o *Orchestrator) Subscribe(id domain.JobID) (<-chan Event, func()) {
	return o.bus.Subscribe(id)
}

// --- subagents ---

func (o *Orchestrator) CreateSubagent(name string, saType string, capabilities []string) domain.Subagent {
	return o.subagents.CreateSubagent(name, saType, capabilities)
}

func (o *Orchestrator) GetSubagent(id domain.SubagentID) (domain.Subagent, error) {
	return o.subagents.GetSubagent(id)
}

func (o *Orchestrator) ListSubagents() []domain.Subagent { return o.subagents.ListSubagents() }

// StopSubagent stops the worker and cancels all of its queued and running
// jobs. History — counters and terminal job records — is preserved.
func (o *Orchestrator) StopSubagent(id domain.SubagentID) bool {
	if _, err := o.subagents.GetSubagent(id); err != nil {
		return false
	}
	cancelled := o.scheduler.CancelJobsForSubagent(id)
	o.subagents.Stop(id)
	o.logger.Info("subagent stopped", "subagent_id", id, "jobs_cancelled", cancelled)
	return true
}

// RemoveSubagent stops the subagent, then deletes it.
func (o *Orchestrator) RemoveSubagent(id domain.SubagentID) bool {
	if !o.StopSubagent(id) {
		return false
	}
	return o.subagents.Remove(id)
}

// --- nodes ---

func (o *Orchestrator) RegisterNodes(ctx context.Context) error { return o.nodes.RegisterNodes(ctx) }

func (o *Orchestrator) RefreshNodeStatus(ctx context.Context) error {
	return o.nodes.RefreshNodeStatus(ctx)
}

func (o *Orchestrator) GetNode(id domain.NodeID) (domain.ClusterNode, error) {
	return o.nodes.GetNode(id)
}

func (o *Orchestrator) GetNodes() []domain.ClusterNode { return o.nodes.GetNodes() }

func (o *Orchestrator) GetNodesByCapability(capability string) []domain.ClusterNode {
	return o.nodes.GetNodesByCapability(capability)
}

func (o *Orchestrator) GetClusterStatus() map[string]int { return o.nodes.ClusterStatus() }

func (o *Orchestrator) ExecuteOnNode(ctx context.Context, id domain.NodeID, action domain.NodeAction, params map[string]any) domain.ExecResult {
	return o.executor.ExecuteOnNode(ctx, id, action, params)
}

func (o *Orchestrator) WakeNode(ctx context.Context, id domain.NodeID) error {
	return o.waker.WakeNode(ctx, id)
}

func (o *Orchestrator) RouteAndExecute(ctx context.Context, capability string, action domain.NodeAction, params map[string]any, wakeIfSleeping bool) domain.ExecResult {
	return o.router.RouteAndExecute(ctx, capability, action, params, wakeIfSleeping)
}

// --- AI resources ---

func (o *Orchestrator) SelectBestResource(capability string, preferLocal bool) (domain.AIResource, bool) {
	return o.selector.SelectBestResource(capability, preferLocal)
}

func (o *Orchestrator) GetResources() []domain.AIResource { return o.selector.GetResources() }

func (o *Orchestrator) RefreshResourceStatus(ctx context.Context) error {
	return o.selector.RefreshResourceStatus(ctx)
}

func (o *Orchestrator) CheckAllAIServices(ctx context.Context) map[string]domain.AIResourceStatus {
	return o.selector.CheckAllAIServices(ctx)
}

// --- stats & monitoring ---

// GetStats aggregates job, subagent, cluster and AI resource summaries.
func (o *Orchestrator) GetStats() map[string]any {
	resources := o.selector.GetResources()
	available := 0
	for _, r := range resources {
		if r.Status == domain.AIResourceAvailable {
			available++
		}
	}
	return map[string]any{
		"jobs":      o.scheduler.Stats(),
		"subagents": len(o.subagents.ListSubagents()),
		"cluster":   o.nodes.ClusterStatus(),
		"ai_resources": map[string]int{
			"total":     len(resources),
			"available": available,
		},
	}
}

// StartResourceMonitoring begins a background loop that refreshes node and
// AI resource status every interval and prunes expired terminal jobs. A
// second call replaces the running loop.
func (o *Orchestrator) StartResourceMonitoring(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	o.monitorMu.Lock()
	if o.monitorCancel != nil {
		o.monitorCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	o.monitorCancel = cancel
	o.monitorMu.Unlock()

	o.logger.Info("resource monitoring started", "interval", interval)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				o.logger.Info("resource monitoring stopped")
				return
			case <-ticker.C:
				if err := o.nodes.RefreshNodeStatus(ctx); err != nil {
					o.logger.Error("node refresh failed", "error", err)
				}
				if err := o.selector.RefreshResourceStatus(ctx); err != nil {
					o.logger.Error("ai resource refresh failed", "error", err)
				}
				if removed := o.scheduler.ClearCompletedJobs(o.cfg.Scheduler.Retention); removed > 0 {
					o.logger.Info("pruned terminal jobs", "count", removed)
				}
			}
		}
	}()
}

// StopResourceMonitoring stops the monitoring loop if one is running.
func (o *Orchestrator) StopResourceMonitoring() {
	o.monitorMu.Lock()
	defer o.monitorMu.Unlock()
	if o.monitorCancel != nil {
		o.monitorCancel()
		o.monitorCancel = nil
	}
}

// History exposes the append-only execution audit store, when configured.
func (o *Orchestrator) History() ports.HistoryRepository { return o.history }

// --- workflow helpers ---

// ExecuteTask queues a generic coding task driven by the task runner.
func (o *Orchestrator) ExecuteTask(task string, params map[string]any, opts CreateJobOpts) domain.Job {
	params = withParam(params, "task", task)
	return o.scheduler.CreateJob(JobTypeExecuteTask, params, opts)
}

// DevelopFeature queues a feature-development workflow job.
func (o *Orchestrator) DevelopFeature(description string, params map[string]any, opts CreateJobOpts) domain.Job {
	params = withParam(params, "description", description)
	return o.scheduler.CreateJob(JobTypeDevelopFeature, params, opts)
}

// FixCodeBugs queues a bug-fixing workflow job.
func (o *Orchestrator) FixCodeBugs(description string, params map[string]any, opts CreateJobOpts) domain.Job {
	params = withParam(params, "description", description)
	return o.scheduler.CreateJob(JobTypeFixBugs, params, opts)
}

// ReviewCode queues a code-review workflow job.
func (o *Orchestrator) ReviewCode(target string, params map[string]any, opts CreateJobOpts) domain.Job {
	params = withParam(params, "target", target)
	return o.scheduler.CreateJob(JobTypeReviewCode, params, opts)
}

// handleJob is the scheduler's execution handler. Workflow jobs run through
// the task runner; jobs of unknown types are externally driven and are left
// running for their creator to complete or fail.
func (o *Orchestrator) handleJob(ctx context.Context, job domain.Job) {
	switch job.Type {
	case JobTypeExecuteTask, JobTypeDevelopFeature, JobTypeFixBugs, JobTypeReviewCode:
	default:
		return
	}

	if o.runner == nil {
		_ = o.scheduler.FailJob(job.ID, "task runner not configured")
		return
	}

	_ = o.scheduler.UpdateProgress(job.ID, 10)

	var (
		res ports.TaskResult
		err error
	)
	switch job.Type {
	case JobTypeExecuteTask:
		res, err = o.runner.Execute(ctx, stringParam(job.Params, "task", ""), job.Params)
	case JobTypeDevelopFeature:
		res, err = o.runner.DevelopFeature(ctx, stringParam(job.Params, "description", ""), job.Params)
	case JobTypeFixBugs:
		res, err = o.runner.FixBugs(ctx, stringParam(job.Params, "description", ""), job.Params)
	case JobTypeReviewCode:
		res, err = o.runner.ReviewCode(ctx, stringParam(job.Params, "target", ""), job.Params)
	}

	if err != nil {
		_ = o.scheduler.FailJob(job.ID, err.Error())
		return
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "task failed"
		}
		_ = o.scheduler.FailJob(job.ID, msg)
		return
	}

	_ = o.scheduler.UpdateProgress(job.ID, 90)
	result := res.Result
	if result == nil {
		result = map[string]any{}
	}
	if res.Output != "" {
		result["output"] = res.Output
	}
	_ = o.scheduler.CompleteJob(job.ID, result)
}

func withParam(params map[string]any, key string, value string) map[string]any {
	if params == nil {
		params = map[string]any{}
	}
	params[key] = value
	return params
}
