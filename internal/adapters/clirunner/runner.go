// Package clirunner delegates coding-task workflows to a local command-line
// agent. The binary, extra arguments and working directory come from
// configuration; the task prompt is appended as the final argument.
package clirunner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/bkowalski/fleetcore/internal/core/ports"
)

const (
	defaultTimeout = 10 * time.Minute
	maxOutputBytes = 64 * 1024
)

// Runner shells out to a configured coding-agent CLI for each workflow task.
type Runner struct {
	logger  *slog.Logger
	command string
	args    []string
	workDir string
	timeout time.Duration
}

var _ ports.TaskRunner = (*Runner)(nil)

func NewRunner(logger *slog.Logger, cfg domain.RunnerConfig) (*Runner, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("runner command is not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Runner{
		logger:  logger,
		command: cfg.Command,
		args:    cfg.Args,
		workDir: cfg.WorkDir,
		timeout: timeout,
	}, nil
}

func (r *Runner) Execute(ctx context.Context, task string, params map[string]any) (ports.TaskResult, error) {
	return r.run(ctx, task, params)
}

func (r *Runner) DevelopFeature(ctx context.Context, description string, params map[string]any) (ports.TaskResult, error) {
	return r.run(ctx, "Develop the following feature: "+description, params)
}

func (r *Runner) FixBugs(ctx context.Context, description string, params map[string]any) (ports.TaskResult, error) {
	return r.run(ctx, "Fix the following bugs: "+description, params)
}

func (r *Runner) ReviewCode(ctx context.Context, target string, params map[string]any) (ports.TaskResult, error) {
	return r.run(ctx, "Review the code at "+target+" and report issues", params)
}

func (r *Runner) run(ctx context.Context, prompt string, params map[string]any) (ports.TaskResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return ports.TaskResult{}, fmt.Errorf("empty task prompt")
	}

	workDir := r.workDir
	if dir, ok := params["work_dir"].(string); ok && dir != "" {
		workDir = dir
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append(append([]string(nil), r.args...), prompt)
	cmd := exec.CommandContext(runCtx, r.command, args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	output := truncate(stdout.String())
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return ports.TaskResult{}, fmt.Errorf("task timed out after %s", r.timeout)
		}
		detail := truncate(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		r.logger.Warn("task runner command failed", "command", r.command, "elapsed", elapsed, "error", err)
		return ports.TaskResult{
			Success: false,
			Output:  output,
			Error:   detail,
		}, nil
	}

	r.logger.Info("task runner command finished", "command", r.command, "elapsed", elapsed)
	return ports.TaskResult{
		Success: true,
		Output:  output,
		Result: map[string]any{
			"elapsed_ms": elapsed.Milliseconds(),
		},
	}, nil
}

func truncate(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes] + "\n... (output truncated)"
	}
	return strings.TrimSpace(s)
}
