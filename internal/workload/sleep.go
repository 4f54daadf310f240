package workload

import (
	"context"
	"time"

	"github.com/bc-dunia/stressforge/internal/stressor"
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

func init() {
	stressor.MustRegister(&stressor.Descriptor{
		Name: "sleep",
		Tags: stressor.NewTagSet(stressor.ClassInterrupt, stressor.ClassOS),
		Options: []stressor.OptionSpec{
			{Name: "sleep-interval", Usage: "timer interval per bogo-op", Default: "1ms"},
		},
		Run: runSleep,
	})
}

// runSleep exercises the timer path: one short timer per bogo-op,
// measuring wakeup latency overshoot.
func runSleep(ctx context.Context, inv *stressor.Invocation) stressor.ExitStatus {
	interval := inv.OptionDuration("sleep-interval", time.Millisecond)
	if interval <= 0 {
		interval = time.Millisecond
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	var worstOvershoot time.Duration

loop:
	for inv.Recorder.ShouldContinue() {
		before := time.Now()
		timer.Reset(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			break loop
		}

		if overshoot := time.Since(before) - interval; overshoot > worstOvershoot {
			worstOvershoot = overshoot
		}
		inv.Recorder.RecordOp()
	}

	_ = inv.Recorder.RecordMetric("sleep-overshoot-us", float64(worstOvershoot.Microseconds()), telemetry.ReduceMax)
	return stressor.StatusSuccess
}
