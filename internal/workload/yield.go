package workload

import (
	"context"
	"runtime"

	"github.com/bc-dunia/stressforge/internal/stressor"
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

func init() {
	stressor.MustRegister(&stressor.Descriptor{
		Name: "yield",
		Tags: stressor.NewTagSet(stressor.ClassScheduler),
		Options: []stressor.OptionSpec{
			{Name: "yield-hops", Usage: "channel round trips per bogo-op", Default: "64"},
		},
		Run: runYield,
	})
}

// runYield stresses the scheduler with channel ping-pong between a
// goroutine pair, yielding after every round trip.
func runYield(ctx context.Context, inv *stressor.Invocation) stressor.ExitStatus {
	hops := int(inv.OptionInt64("yield-hops", 64))
	if hops < 1 {
		hops = 1
	}

	ping := make(chan int)
	pong := make(chan int)
	echoCtx, stopEcho := context.WithCancel(ctx)
	defer stopEcho()

	go func() {
		for {
			select {
			case v := <-ping:
				select {
				case pong <- v + 1:
				case <-echoCtx.Done():
					return
				}
			case <-echoCtx.Done():
				return
			}
		}
	}()

	status := stressor.StatusSuccess

loop:
	for inv.Recorder.ShouldContinue() {
		for i := 0; i < hops; i++ {
			select {
			case ping <- i:
			case <-ctx.Done():
				break loop
			}
			select {
			case v := <-pong:
				if inv.Verify && v != i+1 {
					inv.Fail("yield round trip %d: got %d want %d", i, v, i+1)
					status = stressor.StatusFailure
				}
			case <-ctx.Done():
				break loop
			}
			runtime.Gosched()
		}
		inv.Recorder.RecordOp()
	}

	_ = inv.Recorder.RecordMetric("yield-hops", float64(hops)*float64(inv.Recorder.Ops()), telemetry.ReduceSum)
	return status
}
