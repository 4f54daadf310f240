// Package events provides structured logging for key events in
// stressforge. The logger doubles as the harness's failure sink: it
// exposes a count of fatal-class events that the escalation policy
// reads.
package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// EventLogger writes JSON events with run-scoped base attributes and
// counts fatal-class events as they are written.
type EventLogger struct {
	logger *slog.Logger
	runID  string
	fatals atomic.Int64
}

// NewEventLogger creates a new EventLogger with JSON output to stderr.
// It includes the base attribute run_id.
func NewEventLogger(runID string) *EventLogger {
	return NewEventLoggerWithWriter(runID, os.Stderr)
}

// NewEventLoggerWithWriter creates a new EventLogger with JSON output
// to a custom writer. Useful for testing or redirecting output.
func NewEventLoggerWithWriter(runID string, w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler).With("run_id", runID)
	return &EventLogger{
		logger: logger,
		runID:  runID,
	}
}

// FatalCount returns the number of fatal-class events written so far.
func (el *EventLogger) FatalCount() int64 {
	return el.fatals.Load()
}

// LogWorkerSpawned logs worker creation.
// event: "worker_spawned"
// Attributes: worker, pid, mode
func (el *EventLogger) LogWorkerSpawned(worker string, pid int, mode string) {
	el.logger.Info("worker_spawned",
		"worker", worker,
		"pid", pid,
		"mode", mode,
	)
}

// LogWorkerExit logs a reaped worker with its classified exit.
// event: "worker_exit"
// Attributes: worker, status, reason, bogo_ops
func (el *EventLogger) LogWorkerExit(worker, status, reason string, ops int64) {
	el.logger.Info("worker_exit",
		"worker", worker,
		"status", status,
		"reason", reason,
		"bogo_ops", ops,
	)
}

// LogVerifyFailure logs a workload verification failure. This is a
// fatal-class event and increments the fatal counter.
// event: "verify_failure"
// Attributes: worker, detail
func (el *EventLogger) LogVerifyFailure(worker, detail string) {
	el.fatals.Add(1)
	el.logger.Error("verify_failure",
		"worker", worker,
		"detail", detail,
	)
}

// LogSpawnRetry logs a retried worker spawn after a transient failure.
// event: "spawn_retry"
// Attributes: worker, attempt, backoff_ms, error
func (el *EventLogger) LogSpawnRetry(worker string, attempt int, backoffMs int64, err error) {
	el.logger.Warn("spawn_retry",
		"worker", worker,
		"attempt", attempt,
		"backoff_ms", backoffMs,
		"error", err.Error(),
	)
}

// LogOOMRestart logs a worker respawn after an OOM kill.
// event: "oom_restart"
// Attributes: worker, restart
func (el *EventLogger) LogOOMRestart(worker string, restart int) {
	el.logger.Warn("oom_restart",
		"worker", worker,
		"restart", restart,
	)
}

// LogEscalation logs the one-time transition into the escalated state.
// event: "failure_escalation"
// Attributes: failures, threshold
func (el *EventLogger) LogEscalation(failures, threshold int64) {
	el.logger.Error("failure_escalation",
		"failures", failures,
		"threshold", threshold,
	)
}

// LogDeadline logs expiry of the global wall-clock deadline.
// event: "deadline_expired"
func (el *EventLogger) LogDeadline(timeoutMs int64) {
	el.logger.Info("deadline_expired",
		"timeout_ms", timeoutMs,
	)
}

// LogInterrupt logs an operator interrupt.
// event: "operator_interrupt"
func (el *EventLogger) LogInterrupt(signal string) {
	el.logger.Warn("operator_interrupt",
		"signal", signal,
	)
}

// LogBarrierRelease logs the start barrier release.
// event: "barrier_release"
// Attributes: arrived, expected, timed_out
func (el *EventLogger) LogBarrierRelease(arrived, expected int, timedOut bool) {
	el.logger.Info("barrier_release",
		"arrived", arrived,
		"expected", expected,
		"timed_out", timedOut,
	)
}

// LogUnsupported logs a workload skipped by its supported check.
// event: "workload_unsupported"
func (el *EventLogger) LogUnsupported(workload, reason string) {
	el.logger.Info("workload_unsupported",
		"workload", workload,
		"reason", reason,
	)
}

// LogRunVerdict logs the final run verdict.
// event: "run_verdict"
// Attributes: failed, total_bogo_ops, verify_failures
func (el *EventLogger) LogRunVerdict(failed bool, totalOps, failures int64) {
	el.logger.Info("run_verdict",
		"failed", failed,
		"total_bogo_ops", totalOps,
		"verify_failures", failures,
	)
}

// Global logger management
var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex

	noopLogger *EventLogger
	noopOnce   sync.Once
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance.
// If no logger is set, returns a no-op logger.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}

// NoopEventLogger returns a shared event logger that discards all
// events. Useful for testing or when event logging is disabled.
func NoopEventLogger() *EventLogger {
	noopOnce.Do(func() {
		handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
		noopLogger = &EventLogger{logger: slog.New(handler)}
	})
	return noopLogger
}
