package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bkowalski/fleetcore/internal/adapters/agenthttp"
	"github.com/bkowalski/fleetcore/internal/adapters/aiprobe"
	"github.com/bkowalski/fleetcore/internal/adapters/clirunner"
	"github.com/bkowalski/fleetcore/internal/adapters/directory"
	"github.com/bkowalski/fleetcore/internal/adapters/duckdb"
	"github.com/bkowalski/fleetcore/internal/adapters/sshexec"
	"github.com/bkowalski/fleetcore/internal/adapters/wol"
	appconfig "github.com/bkowalski/fleetcore/internal/config"
	"github.com/bkowalski/fleetcore/internal/core/ports"
	"github.com/bkowalski/fleetcore/internal/core/services"
	"github.com/bkowalski/fleetcore/pkg/kernel"
)

const monitorInterval = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting fleetcore")

	if err := run(logger); err != nil {
		logger.Error("fleetcore startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	configPath := flag.String("config", os.Getenv("FLEETCORE_CONFIG"), "path to config.yaml")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg, err := appconfig.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	history, err := duckdb.NewHistory(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("init history: %w", err)
	}
	defer history.Close()

	// The SSH transport is optional: without key material the Linux side is
	// unreachable but windows nodes and the scheduler still work.
	var shell ports.ShellRunner
	if cfg.SSH.PrivateKeyPath != "" {
		runner, err := sshexec.NewRunner(cfg.SSH.PrivateKeyPath, cfg.SSH.User)
		if err != nil {
			return fmt.Errorf("init ssh transport: %w", err)
		}
		shell = runner
	} else {
		logger.Warn("no ssh key configured, linux nodes will not be executable")
	}

	var taskRunner ports.TaskRunner
	if cfg.Runner.Command != "" {
		taskRunner, err = clirunner.NewRunner(logger, cfg.Runner)
		if err != nil {
			return fmt.Errorf("init task runner: %w", err)
		}
	} else {
		logger.Warn("no task runner configured, workflow jobs will fail")
	}

	orch := services.NewOrchestrator(logger, cfg, services.Deps{
		Directory: directory.NewStatic(cfg.Nodes),
		Prober:    wol.TCPProber{},
		Wake:      wol.NewSender(),
		Shell:     shell,
		Agent:     agenthttp.NewClient(),
		AIProber:  aiprobe.NewProber(),
		Runner:    taskRunner,
		History:   history,
	})

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	orch.StartResourceMonitoring(ctx, monitorInterval)
	defer orch.StopResourceMonitoring()

	apiServer := kernel.NewServer(logger, orch)
	handler, err := apiServer.Handler()
	if err != nil {
		return fmt.Errorf("init api server: %w", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: handler,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
