package harness

import (
	"fmt"
	"time"

	"github.com/bc-dunia/stressforge/internal/stressor"
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

// ExitReason classifies how a worker left the run.
type ExitReason int

const (
	// ReasonNormal is a voluntary run-loop exit.
	ReasonNormal ExitReason = iota
	// ReasonSignaled is termination by a signal other than OOM.
	ReasonSignaled
	// ReasonOOMKilled is termination by the host's OOM reclaim.
	ReasonOOMKilled
	// ReasonSkipped is a workload whose supported check declined.
	ReasonSkipped
	// ReasonSpawnFailed is a worker that could not be created after
	// retries were exhausted.
	ReasonSpawnFailed
	// ReasonHung is an in-process worker that ignored the termination
	// request beyond the unwind grace.
	ReasonHung
)

func (r ExitReason) String() string {
	switch r {
	case ReasonNormal:
		return "normal"
	case ReasonSignaled:
		return "signaled"
	case ReasonOOMKilled:
		return "oom_killed"
	case ReasonSkipped:
		return "skipped"
	case ReasonSpawnFailed:
		return "spawn_failed"
	case ReasonHung:
		return "hung"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// WorkerResult is the classified outcome of one worker slot.
type WorkerResult struct {
	Worker   string
	Workload string
	Instance int
	Status   stressor.ExitStatus
	Reason   ExitReason
	Ops      int64
	Restarts int
	Signal   string
	Err      error
}

// Failed reports whether this worker counts toward the run verdict.
// Unsupported workers are reported distinctly and never count.
func (w WorkerResult) Failed() bool {
	if w.Status == stressor.StatusUnsupported {
		return false
	}
	return w.Status != stressor.StatusSuccess || w.Reason == ReasonSpawnFailed || w.Reason == ReasonHung
}

// RunResult is the final aggregated verdict of one run.
type RunResult struct {
	RunID     string
	Started   time.Time
	Finished  time.Time
	Failed    bool
	Escalated bool
	Failures  int64
	TotalOps  int64
	Workers   []WorkerResult
	Metrics   []telemetry.MetricReport
}

// Elapsed returns the wall-clock run duration.
func (r *RunResult) Elapsed() time.Duration {
	return r.Finished.Sub(r.Started)
}

// ExitCode maps the verdict onto the program exit code.
func (r *RunResult) ExitCode() int {
	if r.Failed {
		return 1
	}
	return 0
}

// WorkloadOps sums bogo-ops per workload name.
func (r *RunResult) WorkloadOps() map[string]int64 {
	out := make(map[string]int64)
	for _, w := range r.Workers {
		out[w.Workload] += w.Ops
	}
	return out
}
