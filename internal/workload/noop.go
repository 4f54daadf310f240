package workload

import (
	"context"
	"runtime"

	"github.com/bc-dunia/stressforge/internal/stressor"
)

func init() {
	stressor.MustRegister(&stressor.Descriptor{
		Name: "noop",
		Tags: stressor.NewTagSet(stressor.ClassOS),
		Run:  runNoop,
	})
}

// runNoop counts as fast as the loop predicate allows. Useful for
// exercising the harness itself.
func runNoop(ctx context.Context, inv *stressor.Invocation) stressor.ExitStatus {
	for inv.Recorder.ShouldContinue() {
		select {
		case <-ctx.Done():
			return stressor.StatusSuccess
		default:
		}
		inv.Recorder.RecordOp()
		if inv.Recorder.Ops()%4096 == 0 {
			runtime.Gosched()
		}
	}
	return stressor.StatusSuccess
}
