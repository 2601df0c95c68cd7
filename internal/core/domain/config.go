package domain

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the full kernel configuration, loaded once at startup from
// YAML with secrets merged in from the environment. The node list inside it
// is the read-only directory the registry builds cluster nodes from.
type AppConfig struct {
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Nodes     []NodeDescriptor `yaml:"nodes"`

	// CapabilityTable maps a capability name to the ordered node IDs that
	// serve it. Maintained by hand, independently of the per-type catalog.
	CapabilityTable map[string][]string `yaml:"capability_table"`

	AIResources []AIResource `yaml:"ai_resources"`

	SSH     SSHConfig     `yaml:"ssh"`
	History HistoryConfig `yaml:"history"`
	HTTP    HTTPConfig    `yaml:"http"`
	Runner  RunnerConfig  `yaml:"runner"`
}

// SchedulerConfig bounds the in-process scheduler.
type SchedulerConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxRetries    int           `yaml:"max_retries"`
	Retention     time.Duration `yaml:"-"`
}

// UnmarshalYAML accepts retention as a duration string ("30m", "1h").
// Fields absent from the document keep their current values.
func (c *SchedulerConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		MaxConcurrent int    `yaml:"max_concurrent"`
		MaxRetries    int    `yaml:"max_retries"`
		Retention     string `yaml:"retention"`
	}{
		MaxConcurrent: c.MaxConcurrent,
		MaxRetries:    c.MaxRetries,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.MaxConcurrent = raw.MaxConcurrent
	c.MaxRetries = raw.MaxRetries
	if raw.Retention != "" {
		d, err := time.ParseDuration(raw.Retention)
		if err != nil {
			return fmt.Errorf("scheduler retention: %w", err)
		}
		c.Retention = d
	}
	return nil
}

// SSHConfig locates the process-wide key material for the Linux transport.
type SSHConfig struct {
	PrivateKeyPath string `yaml:"private_key_path"`
	User           string `yaml:"user"`
}

// HistoryConfig locates the execution-history database.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig configures the kernel API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// RunnerConfig configures the local coding-agent CLI that workflow jobs are
// delegated to. Command is the binary to invoke; the task prompt is passed
// as the final argument.
type RunnerConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	WorkDir string        `yaml:"work_dir"`
	Timeout time.Duration `yaml:"-"`
}

// UnmarshalYAML accepts timeout as a duration string ("5m", "90s").
func (c *RunnerConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		Command string   `yaml:"command"`
		Args    []string `yaml:"args"`
		WorkDir string   `yaml:"work_dir"`
		Timeout string   `yaml:"timeout"`
	}{
		Command: c.Command,
		WorkDir: c.WorkDir,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Command = raw.Command
	c.Args = raw.Args
	c.WorkDir = raw.WorkDir
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("runner timeout: %w", err)
		}
		c.Timeout = d
	}
	return nil
}

// DefaultConfig returns a config with working defaults and no nodes.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Scheduler: SchedulerConfig{
			MaxConcurrent: 5,
			MaxRetries:    3,
			Retention:     time.Hour,
		},
		CapabilityTable: map[string][]string{},
		History:         HistoryConfig{Path: "fleetcore.db"},
		HTTP:            HTTPConfig{Addr: ":8080"},
		Runner:          RunnerConfig{Timeout: 10 * time.Minute},
	}
}
