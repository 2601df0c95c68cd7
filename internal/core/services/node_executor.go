package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/bkowalski/fleetcore/internal/core/ports"
)

// nodeWaker is the slice of the wake coordinator the executor needs.
type nodeWaker interface {
	WakeNode(ctx context.Context, id domain.NodeID) error
}

// NodeExecutor executes actions against cluster nodes, branching by
// transport: SSH for Linux nodes, the control-plane agent for Windows nodes.
// Everything comes back in the uniform ExecResult envelope — callers never
// see transport detail, and no path returns a Go error for a remote failure.
type NodeExecutor struct {
	logger   *slog.Logger
	registry *ClusterNodeRegistry
	shell    ports.ShellRunner // nil when key material was absent at startup
	agent    ports.AgentClient
	waker    nodeWaker
	history  ports.HistoryRepository // optional
}

func NewNodeExecutor(logger *slog.Logger, registry *ClusterNodeRegistry, shell ports.ShellRunner, agent ports.AgentClient, waker nodeWaker, history ports.HistoryRepository) *NodeExecutor {
	return &NodeExecutor{
		logger:   logger,
		registry: registry,
		shell:    shell,
		agent:    agent,
		waker:    waker,
		history:  history,
	}
}

// ExecuteOnNode resolves the node and runs the action on it. A node that is
// not online only accepts the wake action; anything else fails immediately
// with the node's status and no transport call is made.
func (e *NodeExecutor) ExecuteOnNode(ctx context.Context, id domain.NodeID, action domain.NodeAction, params map[string]any) domain.ExecResult {
	node, err := e.registry.GetNode(id)
	if err != nil {
		return domain.Failure(fmt.Sprintf("node %s not found", id), 0)
	}

	if action == domain.ActionWake {
		return e.wake(ctx, node)
	}
	if node.Status != domain.NodeStatusOnline {
		return domain.Failure(fmt.Sprintf("node %s is %s, only wake is permitted", id, node.Status), 0)
	}

	start := time.Now()
	var result domain.ExecResult
	switch node.Type {
	case domain.NodeTypeLinux:
		result = e.executeLinux(ctx, node, action, params, start)
	case domain.NodeTypeWindows:
		result = e.executeWindows(ctx, node, action, params, start)
	default:
		result = domain.Failure(fmt.Sprintf("unsupported node type %q", node.Type), time.Since(start))
	}

	e.record(node.ID, action, result)
	return result
}

func (e *NodeExecutor) wake(ctx context.Context, node domain.ClusterNode) domain.ExecResult {
	start := time.Now()
	if err := e.waker.WakeNode(ctx, node.ID); err != nil {
		result := domain.Failure(err.Error(), time.Since(start))
		e.record(node.ID, domain.ActionWake, result)
		return result
	}
	result := domain.Successful(fmt.Sprintf("node %s is online", node.ID), time.Since(start))
	e.record(node.ID, domain.ActionWake, result)
	return result
}

// executeLinux maps the action onto a shell command and runs it over SSH.
func (e *NodeExecutor) executeLinux(ctx context.Context, node domain.ClusterNode, action domain.NodeAction, params map[string]any, start time.Time) domain.ExecResult {
	if e.shell == nil {
		return domain.Failure("ssh key material not available", time.Since(start))
	}

	command, err := linuxCommand(node, action, params)
	if err != nil {
		return domain.Failure(err.Error(), time.Since(start))
	}

	stdout, stderr, exitCode, err := e.shell.Run(ctx, node.Host, node.Port, node.Config.User, command)
	elapsed := time.Since(start)
	if err != nil {
		return domain.Failure(fmt.Sprintf("ssh: %v", err), elapsed)
	}
	if exitCode != 0 {
		msg := fmt.Sprintf("exit %d", exitCode)
		if s := strings.TrimSpace(stderr); s != "" {
			msg = fmt.Sprintf("exit %d: %s", exitCode, s)
		}
		result := domain.Failure(msg, elapsed)
		result.Output = stdout
		return result
	}
	return domain.Successful(stdout, elapsed)
}

// linuxCommand is the closed action→command mapping for POSIX nodes. An
// action outside it is an explicit error, never a passthrough.
func linuxCommand(node domain.ClusterNode, action domain.NodeAction, params map[string]any) (string, error) {
	switch action {
	case domain.ActionExecuteCommand:
		command := stringParam(params, "command", "")
		if command == "" {
			return "", fmt.Errorf("execute_command requires a command parameter")
		}
		return command, nil

	case domain.ActionDockerAction:
		verb := stringParam(params, "verb", "")
		container := stringParam(params, "container", "")
		if verb == "" || container == "" {
			return "", fmt.Errorf("docker_action requires verb and container parameters")
		}
		if verb == "logs" {
			lines := intParam(params, "lines", 100)
			return fmt.Sprintf("docker logs --tail %d %s", lines, container), nil
		}
		return fmt.Sprintf("docker %s %s", verb, container), nil

	case domain.ActionDeployService:
		path := stringParam(params, "path", node.Config.DeployPath)
		if path == "" {
			return "", fmt.Errorf("deploy_service requires a path (or a configured deploy path)")
		}
		if service := stringParam(params, "service", ""); service != "" {
			return fmt.Sprintf("cd %s && docker-compose up -d %s", path, service), nil
		}
		return fmt.Sprintf("cd %s && docker-compose up -d", path), nil

	case domain.ActionRestartService:
		service := stringParam(params, "service", "")
		if service == "" {
			return "", fmt.Errorf("restart_service requires a service parameter")
		}
		if boolParam(params, "container", false) {
			return fmt.Sprintf("docker restart %s", service), nil
		}
		return fmt.Sprintf("sudo systemctl restart %s", service), nil

	case domain.ActionGitPull:
		path := stringParam(params, "path", node.Config.DeployPath)
		if path == "" {
			return "", fmt.Errorf("git_pull requires a path (or a configured deploy path)")
		}
		return fmt.Sprintf("cd %s && git pull", path), nil

	case domain.ActionCheckStatus:
		return `docker ps --format "table {{.Names}}\t{{.Status}}\t{{.Ports}}"`, nil

	case domain.ActionVMControl:
		verb := stringParam(params, "verb", "")
		vm := stringParam(params, "vm", "")
		virshVerb, ok := map[string]string{
			"start":      "start",
			"stop":       "shutdown",
			"force-stop": "destroy",
			"status":     "dominfo",
			"list":       "list --all",
		}[verb]
		if !ok {
			return "", fmt.Errorf("vm_control: unknown verb %q", verb)
		}
		if verb == "list" {
			return "virsh list --all", nil
		}
		if vm == "" {
			return "", fmt.Errorf("vm_control %s requires a vm parameter", verb)
		}
		return fmt.Sprintf("virsh %s %s", virshVerb, vm), nil

	default:
		return "", fmt.Errorf("action %s is not supported on linux nodes", action)
	}
}

// executeWindows maps the action onto a control-plane agent call.
func (e *NodeExecutor) executeWindows(ctx context.Context, node domain.ClusterNode, action domain.NodeAction, params map[string]any, start time.Time) domain.ExecResult {
	if node.Config.AgentToken == "" {
		return domain.Failure("agent token not configured", time.Since(start))
	}

	var (
		resp ports.AgentResponse
		err  error
	)
	switch action {
	case domain.ActionExecuteCommand:
		command := stringParam(params, "command", "")
		if command == "" {
			return domain.Failure("execute_command requires a command parameter", time.Since(start))
		}
		resp, err = e.agent.Execute(ctx, node.Config, command)

	case domain.ActionCheckStatus:
		resp, err = e.agent.Health(ctx, node.Config)

	case domain.ActionAIGenerate:
		resp, err = e.agent.Generate(ctx, node.Config, params)

	case domain.ActionRestartService:
		service := stringParam(params, "service", "")
		if service == "" {
			return domain.Failure("restart_service requires a service parameter", time.Since(start))
		}
		resp, err = e.agent.Execute(ctx, node.Config, windowsRestartCommand(service))

	case domain.ActionGitPull:
		path := stringParam(params, "path", node.Config.DeployPath)
		if path == "" {
			return domain.Failure("git_pull requires a path (or a configured deploy path)", time.Since(start))
		}
		resp, err = e.agent.Execute(ctx, node.Config, fmt.Sprintf("cd %s && git pull", path))

	default:
		return domain.Failure(fmt.Sprintf("action %s is not supported on windows nodes", action), time.Since(start))
	}

	elapsed := time.Since(start)
	if err != nil {
		return domain.Failure(fmt.Sprintf("agent: %v", err), elapsed)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Failure(fmt.Sprintf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body)), elapsed)
	}
	return domain.Successful(resp.Body, elapsed)
}

// windowsRestartCommand prefers a service-specific restart where one is
// known and falls back to a generic stop/start pair.
func windowsRestartCommand(service string) string {
	specific := map[string]string{
		"agent":  `Restart-Service -Name "FleetAgent" -Force`,
		"ollama": `Restart-Service -Name "Ollama" -Force`,
	}
	if cmd, ok := specific[strings.ToLower(service)]; ok {
		return cmd
	}
	return fmt.Sprintf(`net stop "%s"; net start "%s"`, service, service)
}

func (e *NodeExecutor) record(id domain.NodeID, action domain.NodeAction, result domain.ExecResult) {
	if e.history == nil {
		return
	}
	rec := ports.ExecutionRecord{
		NodeID:    id,
		Action:    action,
		Success:   result.Success,
		Output:    result.Output,
		Error:     result.Error,
		ElapsedMs: result.Elapsed.Milliseconds(),
		At:        result.Timestamp,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.history.AppendExecution(ctx, rec); err != nil {
			e.logger.Error("failed to record execution", "node_id", id, "action", action, "error", err)
		}
	}()
}

func stringParam(params map[string]any, key string, fallback string) string {
	if params == nil {
		return fallback
	}
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intParam(params map[string]any, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	if params == nil {
		return fallback
	}
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}
