// Package config holds run configuration and its defaults.
package config

import (
	"fmt"
	"time"
)

// WorkloadSelection requests instances of one workload.
type WorkloadSelection struct {
	// Name is the registered workload name.
	Name string

	// Instances is the requested worker count.
	Instances int

	// MaxOps bounds each worker's bogo-op count. Zero falls back to
	// the run-wide MaxOps, and zero there means unbounded.
	MaxOps int64

	// Options holds workload option overrides.
	Options map[string]string
}

// RunConfig describes one end-to-end run. It is immutable for the
// run's duration once handed to the coordinator.
type RunConfig struct {
	Workloads []WorkloadSelection

	// Timeout is the global wall-clock deadline, zero meaning none.
	Timeout time.Duration

	// MaxOps is the run-wide per-worker op bound, zero meaning none.
	MaxOps int64

	// Verify enables workload self-verification.
	Verify bool

	// EscalationThreshold is the fatal failure count that aborts the
	// run. Zero disables escalation.
	EscalationThreshold int64

	PollInterval   time.Duration
	StartupTimeout time.Duration
	UnwindGrace    time.Duration

	// SpawnAttempts, SpawnInitialBackoff and SpawnMaxBackoff shape
	// the retry schedule for transient spawn failures.
	SpawnAttempts       int
	SpawnInitialBackoff time.Duration
	SpawnMaxBackoff     time.Duration

	// OOMRestartLimit caps OOM respawns per restart-eligible slot.
	OOMRestartLimit int

	// OOMAvoidance hints adaptive workloads to back off allocations.
	OOMAvoidance bool

	// HandleSignals installs SIGINT/SIGTERM handling for operator
	// interrupts. Disabled in tests.
	HandleSignals bool

	// ForkWorkers permits fork-per-worker execution for descriptors
	// that request it. When false every worker runs in-process.
	ForkWorkers bool
}

// DefaultRunConfig returns a config with conservative defaults and no
// workload selections.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		EscalationThreshold: DefaultEscalationThreshold,
		PollInterval:        DefaultPollInterval,
		StartupTimeout:      DefaultStartupTimeout,
		UnwindGrace:         DefaultUnwindGrace,
		SpawnAttempts:       DefaultSpawnAttempts,
		SpawnInitialBackoff: DefaultSpawnInitialBackoff,
		SpawnMaxBackoff:     DefaultSpawnMaxBackoff,
		OOMRestartLimit:     DefaultOOMRestartLimit,
		HandleSignals:       true,
		ForkWorkers:         true,
	}
}

// Normalize fills zero-valued tuning fields with defaults and resolves
// per-workload MaxOps fallbacks.
func (c *RunConfig) Normalize() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.UnwindGrace <= 0 {
		c.UnwindGrace = DefaultUnwindGrace
	}
	if c.SpawnAttempts <= 0 {
		c.SpawnAttempts = DefaultSpawnAttempts
	}
	if c.SpawnInitialBackoff <= 0 {
		c.SpawnInitialBackoff = DefaultSpawnInitialBackoff
	}
	if c.SpawnMaxBackoff <= 0 {
		c.SpawnMaxBackoff = DefaultSpawnMaxBackoff
	}
	if c.OOMRestartLimit < 0 {
		c.OOMRestartLimit = DefaultOOMRestartLimit
	}
	for i := range c.Workloads {
		if c.Workloads[i].MaxOps == 0 {
			c.Workloads[i].MaxOps = c.MaxOps
		}
	}
}

// Validate rejects configs the coordinator cannot run.
func (c *RunConfig) Validate() error {
	if len(c.Workloads) == 0 {
		return fmt.Errorf("config: no workloads selected")
	}
	for _, w := range c.Workloads {
		if w.Name == "" {
			return fmt.Errorf("config: workload selection with empty name")
		}
		if w.Instances <= 0 {
			return fmt.Errorf("config: workload %q: instances must be positive, got %d", w.Name, w.Instances)
		}
		if w.MaxOps < 0 {
			return fmt.Errorf("config: workload %q: max-ops cannot be negative", w.Name)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout cannot be negative")
	}
	// A run with neither a deadline nor an op bound is valid: it runs
	// until an operator interrupt or caller cancellation.
	return nil
}
