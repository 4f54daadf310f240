package workload

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/bc-dunia/stressforge/internal/hostinfo"
	"github.com/bc-dunia/stressforge/internal/stressor"
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

// ChildExitMode is the hidden CLI mode under which fork-churn children
// re-execute this binary and exit immediately.
const ChildExitMode = "__child-exit"

func init() {
	stressor.MustRegister(&stressor.Descriptor{
		Name: "fork",
		Tags: stressor.NewTagSet(stressor.ClassOS, stressor.ClassScheduler),
		Options: []stressor.OptionSpec{
			{Name: "fork-batch", Usage: "children spawned per bogo-op", Default: "4"},
		},
		Supported: func(info hostinfo.Info) (bool, string) {
			if info.OS == "windows" {
				return false, "process-group churn requires a POSIX host"
			}
			return true, ""
		},
		Run: runFork,
	})
}

func runFork(ctx context.Context, inv *stressor.Invocation) stressor.ExitStatus {
	self, err := os.Executable()
	if err != nil {
		return stressor.StatusNoResource
	}

	batch := int(inv.OptionInt64("fork-batch", 4))
	if batch < 1 {
		batch = 1
	}

	status := stressor.StatusSuccess
	start := time.Now()
	var spawned int64

loop:
	for inv.Recorder.ShouldContinue() {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		cmds := make([]*exec.Cmd, 0, batch)
		for i := 0; i < batch; i++ {
			cmd := exec.CommandContext(ctx, self, ChildExitMode)
			if err := cmd.Start(); err != nil {
				// Process-table pressure is the expected failure mode
				// here; back off rather than fail the workload.
				time.Sleep(10 * time.Millisecond)
				continue
			}
			cmds = append(cmds, cmd)
		}

		for _, cmd := range cmds {
			err := cmd.Wait()
			spawned++
			if inv.Verify && err != nil {
				inv.Fail("fork child pid %d: %v", cmd.Process.Pid, err)
				status = stressor.StatusFailure
			}
		}

		inv.Recorder.RecordOp()
	}

	if elapsed := time.Since(start).Seconds(); elapsed > 0 && spawned > 0 {
		rate := float64(spawned) / elapsed
		_ = inv.Recorder.RecordMetric("fork-rate", rate, telemetry.ReduceSum)
	}
	return status
}
