package config

import "time"

// Default configuration constants for run orchestration and telemetry.
const (
	// DefaultPollInterval is how often the coordinator samples worker
	// liveness and control flags. Operator interrupts are observed
	// within one interval.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultStartupTimeout bounds the wait for all workers to reach
	// the start barrier, guarding against a worker that died before
	// registering.
	DefaultStartupTimeout = 5 * time.Second

	// DefaultUnwindGrace bounds the voluntary-exit window after a
	// termination request before a forked worker is killed.
	DefaultUnwindGrace = 2 * time.Second

	// DefaultEscalationThreshold is the fatal failure count that
	// aborts a run.
	DefaultEscalationThreshold = 8

	// DefaultSpawnAttempts caps retries of a worker spawn that failed
	// with a transient resource error.
	DefaultSpawnAttempts = 10

	// DefaultSpawnInitialBackoff and DefaultSpawnMaxBackoff shape the
	// capped exponential spawn retry schedule.
	DefaultSpawnInitialBackoff = 100 * time.Millisecond
	DefaultSpawnMaxBackoff     = 2 * time.Second

	// DefaultOOMRestartLimit caps respawns of a restart-eligible
	// worker after OOM kills.
	DefaultOOMRestartLimit = 3

	// DefaultFrameFlushOps is how many bogo-ops a forked worker
	// accumulates between counter frames on its telemetry pipe.
	DefaultFrameFlushOps = 1000
)
