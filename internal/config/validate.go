package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"pr_wait.poll_interval_seconds":         c.PRWait.PollInterval,
		"pr_wait.timeout_hours":                 c.PRWait.TimeoutHours,
		"github.request_timeout_seconds":        c.GitHub.RequestTimeout,
		"notifications.request_timeout_seconds": c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateAgents()
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.tick_interval_seconds":    c.Pipeline.TickInterval,
		"pipeline.shutdown_timeout_seconds": c.Pipeline.ShutdownTimeout,
	}); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Pipeline.Stages))
	for _, stage := range c.Pipeline.Stages {
		if _, dup := seen[stage]; dup {
			return fmt.Errorf("pipeline.stages: duplicate stage %q", stage)
		}
		seen[stage] = struct{}{}
	}
	if _, ok := seen[c.Pipeline.FirstStage]; !ok {
		return fmt.Errorf("pipeline.first_stage %q is not a configured stage", c.Pipeline.FirstStage)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return fmt.Errorf("logging.retention_days: must be zero or positive")
	}
	return nil
}

func (c *Config) validateAgents() error {
	stages := make(map[string]struct{}, len(c.Pipeline.Stages))
	for _, stage := range c.Pipeline.Stages {
		stages[stage] = struct{}{}
	}
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := stages[name]; !ok {
			return fmt.Errorf("agents.%s: stage is not listed in pipeline.stages", name)
		}
		if len(c.Agents[name].Command) == 0 {
			return errors.New("agents." + name + ".command must not be empty")
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
