// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/kittinap/kunnjae/internal/fam"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for sandboxcore.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Daemon configures cmd/sandboxcore itself.
	Daemon DaemonConfig `yaml:"daemon"`

	// Defaults holds the per-pip tunables loaded from the defaults
	// section. Nothing outside this package reads them: track_root takes
	// its tunables from the FAM manifest alone.
	Defaults DefaultsConfig `yaml:"defaults"`

	// EnvironmentOverrides contains per-environment overrides, applied
	// after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Daemon   *DaemonConfig   `yaml:"daemon,omitempty"`
	Defaults *DefaultsConfig `yaml:"defaults,omitempty"`
}

// DaemonConfig configures cmd/sandboxcore's control-plane listener.
type DaemonConfig struct {
	// SocketPath is the Unix socket path clients connect to.
	// Default: /run/sandboxcore/core.sock
	SocketPath string `yaml:"socket_path"`

	// LogLevel is the minimum log/slog level emitted: debug, info,
	// warn, or error.
	// Default: info
	LogLevel string `yaml:"log_level"`
}

// DefaultsConfig holds per-pip tunables parsed from the config file.
// The core does not apply them to track_root or to report-queue
// allocation.
type DefaultsConfig struct {
	// QueueSizeMiB is a report-queue size in MiB.
	// Default: reportqueue.DefaultQueueSizeMiB (16).
	QueueSizeMiB uint32 `yaml:"queue_size_mib"`

	// NestedProcessTerminationTimeoutMS bounds the Draining state:
	// how long a pip's surviving descendants may outlive its root.
	// Default: watchdog.DefaultNestedProcessTerminationTimeoutMS.
	NestedProcessTerminationTimeoutMS uint32 `yaml:"nested_process_termination_timeout_ms"`

	// ReportQueueStarvationTimeoutMS bounds how long a client may
	// leave reports queued without draining them.
	// Default: watchdog.DefaultReportQueueStarvationTimeoutMS.
	ReportQueueStarvationTimeoutMS uint32 `yaml:"report_queue_starvation_timeout_ms"`

	// FailUnexpected, ReportAll, MonitorChildren, LogProcessData, and
	// FailOnQueueOverflow mirror fam.Flags; [DefaultsConfig.Flags]
	// converts them to a fam.Flags bitmask.
	FailUnexpected      bool `yaml:"fail_unexpected"`
	ReportAll           bool `yaml:"report_all"`
	MonitorChildren     bool `yaml:"monitor_children"`
	LogProcessData      bool `yaml:"log_process_data"`
	FailOnQueueOverflow bool `yaml:"fail_on_queue_overflow"`
}

// Flags converts d's boolean toggles into a fam.Flags bitmask.
func (d DefaultsConfig) Flags() fam.Flags {
	var f fam.Flags
	if d.FailUnexpected {
		f |= fam.FailUnexpected
	}
	if d.ReportAll {
		f |= fam.ReportAll
	}
	if d.MonitorChildren {
		f |= fam.MonitorChildren
	}
	if d.LogProcessData {
		f |= fam.LogProcessData
	}
	if d.FailOnQueueOverflow {
		f |= fam.FailOnQueueOverflow
	}
	return f
}

// Default returns the default configuration. These defaults are used as
// a base before loading the config file; they exist primarily to ensure
// all fields have sensible zero-values, not as a fallback — the config
// file is required.
func Default() *Config {
	return &Config{
		Environment: Development,
		Daemon: DaemonConfig{
			SocketPath: "/run/sandboxcore/core.sock",
			LogLevel:   "info",
		},
		Defaults: DefaultsConfig{
			QueueSizeMiB:                      16,
			NestedProcessTerminationTimeoutMS: 30_000,
			ReportQueueStarvationTimeoutMS:    60_000,
			MonitorChildren:                   true,
		},
	}
}

// Load loads configuration from the SANDBOXCORE_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults — if SANDBOXCORE_CONFIG is not set,
// this fails. This ensures deterministic, auditable configuration with
// no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("SANDBOXCORE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SANDBOXCORE_CONFIG environment variable not set; " +
			"set it to the path of your sandboxcore.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values — this ensures deterministic, auditable
// configuration. The only expansion performed is ${HOME} and similar
// variables inside the socket path, for portability across machines.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production default: fail loudly on an unexpected access
		// rather than merely reporting it, unless the file already
		// said otherwise.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Defaults: &DefaultsConfig{FailUnexpected: true},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Daemon != nil {
		if overrides.Daemon.SocketPath != "" {
			c.Daemon.SocketPath = overrides.Daemon.SocketPath
		}
		if overrides.Daemon.LogLevel != "" {
			c.Daemon.LogLevel = overrides.Daemon.LogLevel
		}
	}

	if overrides.Defaults != nil {
		if overrides.Defaults.QueueSizeMiB != 0 {
			c.Defaults.QueueSizeMiB = overrides.Defaults.QueueSizeMiB
		}
		if overrides.Defaults.NestedProcessTerminationTimeoutMS != 0 {
			c.Defaults.NestedProcessTerminationTimeoutMS = overrides.Defaults.NestedProcessTerminationTimeoutMS
		}
		if overrides.Defaults.ReportQueueStarvationTimeoutMS != 0 {
			c.Defaults.ReportQueueStarvationTimeoutMS = overrides.Defaults.ReportQueueStarvationTimeoutMS
		}
		// Booleans are always applied from an override section that
		// exists at all, matching the teacher's AutoStart handling.
		c.Defaults.FailUnexpected = overrides.Defaults.FailUnexpected
		c.Defaults.ReportAll = overrides.Defaults.ReportAll
		c.Defaults.MonitorChildren = overrides.Defaults.MonitorChildren
		c.Defaults.LogProcessData = overrides.Defaults.LogProcessData
		c.Defaults.FailOnQueueOverflow = overrides.Defaults.FailOnQueueOverflow
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// socket path.
func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Daemon.SocketPath = expandVars(c.Daemon.SocketPath, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Daemon.SocketPath == "" {
		errs = append(errs, fmt.Errorf("daemon.socket_path is required"))
	}

	if !contains(validLogLevels, c.Daemon.LogLevel) {
		errs = append(errs, fmt.Errorf("daemon.log_level must be one of: %v", validLogLevels))
	}

	if c.Defaults.QueueSizeMiB == 0 {
		errs = append(errs, fmt.Errorf("defaults.queue_size_mib must be nonzero"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
