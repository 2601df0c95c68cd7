package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/bkowalski/fleetcore/internal/core/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeDirectory hands out a fixed descriptor list.
type fakeDirectory struct {
	descriptors []domain.NodeDescriptor
	err         error
}

func (d *fakeDirectory) List(ctx context.Context) ([]domain.NodeDescriptor, error) {
	return d.descriptors, d.err
}

// fakeProber answers reachability per address. Addresses absent from the up
// set are unreachable.
type fakeProber struct {
	mu      sync.Mutex
	up      map[string]bool
	latency time.Duration
	calls   int
}

func newFakeProber(up ...string) *fakeProber {
	m := make(map[string]bool, len(up))
	for _, addr := range up {
		m[addr] = true
	}
	return &fakeProber{up: m, latency: 3 * time.Millisecond}
}

func (p *fakeProber) setUp(addr string, reachable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.up[addr] = reachable
}

func (p *fakeProber) Probe(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.up[addr] {
		return p.latency, nil
	}
	return 0, errors.New("connection refused")
}

// fakeWakeSender records the wake signals it was asked to emit.
type fakeWakeSender struct {
	mu    sync.Mutex
	macs  []string
	relay []string
	err   error
}

func (s *fakeWakeSender) Send(ctx context.Context, mac string, relay string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.macs = append(s.macs, mac)
	s.relay = append(s.relay, relay)
	return s.err
}

func (s *fakeWakeSender) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.macs)
}

// fakeShell records commands and plays back a scripted reply.
type fakeShell struct {
	mu       sync.Mutex
	commands []string
	stdout   string
	stderr   string
	exitCode int
	err      error
}

func (s *fakeShell) Run(ctx context.Context, host string, port int, user string, command string) (string, string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	return s.stdout, s.stderr, s.exitCode, s.err
}

func (s *fakeShell) lastCommand() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.commands) == 0 {
		return ""
	}
	return s.commands[len(s.commands)-1]
}

func (s *fakeShell) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands)
}

// fakeAgent records control-plane calls and plays back a scripted response.
type fakeAgent struct {
	mu       sync.Mutex
	commands []string
	payloads []map[string]any
	health   int
	resp     ports.AgentResponse
	err      error
}

func (a *fakeAgent) Execute(ctx context.Context, desc domain.NodeDescriptor, command string) (ports.AgentResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = append(a.commands, command)
	return a.resp, a.err
}

func (a *fakeAgent) Health(ctx context.Context, desc domain.NodeDescriptor) (ports.AgentResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.health++
	return a.resp, a.err
}

func (a *fakeAgent) Generate(ctx context.Context, desc domain.NodeDescriptor, payload map[string]any) (ports.AgentResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payloads = append(a.payloads, payload)
	return a.resp, a.err
}

func (a *fakeAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.commands) + len(a.payloads) + a.health
}

// fakeAIProber reports a fixed status per provider.
type fakeAIProber struct {
	mu       sync.Mutex
	statuses map[string]domain.AIResourceStatus
}

func (p *fakeAIProber) Probe(ctx context.Context, res *domain.AIResource) (domain.AIResourceStatus, time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status, ok := p.statuses[res.Provider]; ok {
		if status == domain.AIResourceOffline {
			return status, 0, errors.New("unreachable")
		}
		return status, 2 * time.Millisecond, nil
	}
	return domain.AIResourceAvailable, 2 * time.Millisecond, nil
}

// fakeTaskRunner returns a scripted result for every workflow call.
type fakeTaskRunner struct {
	mu      sync.Mutex
	prompts []string
	result  ports.TaskResult
	err     error
}

func (r *fakeTaskRunner) record(prompt string) (ports.TaskResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	return r.result, r.err
}

func (r *fakeTaskRunner) Execute(ctx context.Context, task string, params map[string]any) (ports.TaskResult, error) {
	return r.record(task)
}

func (r *fakeTaskRunner) DevelopFeature(ctx context.Context, description string, params map[string]any) (ports.TaskResult, error) {
	return r.record(description)
}

func (r *fakeTaskRunner) FixBugs(ctx context.Context, description string, params map[string]any) (ports.TaskResult, error) {
	return r.record(description)
}

func (r *fakeTaskRunner) ReviewCode(ctx context.Context, target string, params map[string]any) (ports.TaskResult, error) {
	return r.record(target)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
