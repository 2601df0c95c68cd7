package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// Load reads YAML configuration from path. If path is empty, it resolves
// $XDG_CONFIG_HOME/fleetcore/config.yaml or ~/.config/fleetcore/config.yaml.
// Secrets are merged from the environment afterwards so tokens never have to
// live in the YAML file.
func Load(path string) (*domain.AppConfig, error) {
	if path == "" {
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
		path = filepath.Join(base, "fleetcore", "config.yaml")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := domain.DefaultConfig()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	mergeEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *domain.AppConfig) {
	if cfg.Scheduler.MaxConcurrent <= 0 {
		cfg.Scheduler.MaxConcurrent = 5
	}
	if cfg.Scheduler.MaxRetries < 0 {
		cfg.Scheduler.MaxRetries = 0
	}
	if cfg.Scheduler.Retention <= 0 {
		cfg.Scheduler.Retention = time.Hour
	}
	if cfg.CapabilityTable == nil {
		cfg.CapabilityTable = map[string][]string{}
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "fleetcore.db"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Runner.Timeout <= 0 {
		cfg.Runner.Timeout = 10 * time.Minute
	}
}

// mergeEnv overlays secrets from the environment. A token set via
// FLEETCORE_AGENT_TOKEN applies to every windows node that has none of its
// own; FLEETCORE_SSH_KEY overrides the configured private key path.
func mergeEnv(cfg *domain.AppConfig) {
	if v := os.Getenv("FLEETCORE_SSH_KEY"); v != "" {
		cfg.SSH.PrivateKeyPath = v
	}
	if tok := os.Getenv("FLEETCORE_AGENT_TOKEN"); tok != "" {
		for i := range cfg.Nodes {
			if cfg.Nodes[i].AgentToken == "" {
				cfg.Nodes[i].AgentToken = tok
			}
		}
	}
}

func validate(cfg *domain.AppConfig) error {
	seen := map[string]bool{}
	for _, n := range cfg.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %q: id is required", n.Name)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		switch domain.NodeType(n.Type) {
		case domain.NodeTypeLinux, domain.NodeTypeWindows:
		default:
			return fmt.Errorf("node %q: unsupported type %q", n.ID, n.Type)
		}
		if n.Host == "" {
			return fmt.Errorf("node %q: host is required", n.ID)
		}
	}
	for capability, ids := range cfg.CapabilityTable {
		for _, id := range ids {
			if !seen[id] {
				return fmt.Errorf("capability table %q references unknown node %q", capability, id)
			}
		}
	}
	return nil
}
