package workload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bc-dunia/stressforge/internal/hostinfo"
	"github.com/bc-dunia/stressforge/internal/stressor"
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

// vmMinAvailable is the floor of probed available memory below which
// the vm workload declines to run.
const vmMinAvailable = 16 << 20

func init() {
	stressor.MustRegister(&stressor.Descriptor{
		Name: "vm",
		Tags: stressor.NewTagSet(stressor.ClassVM, stressor.ClassMemory),
		Options: []stressor.OptionSpec{
			{Name: "vm-bytes", Usage: "buffer size per worker (k/m/g suffixes)", Default: "64m"},
		},
		Supported: func(info hostinfo.Info) (bool, string) {
			if info.MemAvailable > 0 && info.MemAvailable < vmMinAvailable {
				return false, fmt.Sprintf("available memory %d below %d", info.MemAvailable, int64(vmMinAvailable))
			}
			return true, ""
		},
		Setup:         setupVM,
		Teardown:      teardownVM,
		Run:           runVM,
		RestartOnOOM:  true,
		ForkPerWorker: true,
	})
}

// vmState is the worker's buffer, allocated in Setup so the page-in
// cost lands before the start barrier.
type vmState struct {
	buf      []byte
	pageSize int
}

// vmStates holds per-invocation buffers. Each worker's Setup, Run and
// Teardown execute sequentially on its own invocation; the mutex
// covers concurrent workers of the same process.
var (
	vmStatesMu sync.Mutex
	vmStates   = map[*stressor.Invocation]*vmState{}
)

func vmStateFor(inv *stressor.Invocation) *vmState {
	vmStatesMu.Lock()
	defer vmStatesMu.Unlock()
	return vmStates[inv]
}

func setupVM(inv *stressor.Invocation) error {
	spec, ok := inv.Option("vm-bytes")
	if !ok {
		spec = "64m"
	}
	size, err := parseSize(spec)
	if err != nil {
		return fmt.Errorf("vm-bytes: %w", err)
	}

	// Cap the buffer so the requested total across instances leaves
	// headroom on a memory-constrained host.
	if avail := inv.Host.MemAvailable; avail > 0 {
		perWorker := int64(avail) / int64(2*maxInt(inv.Instances, 1))
		if size > perWorker && perWorker >= vmMinAvailable/4 {
			size = perWorker
		}
	}

	pageSize := inv.Host.PageSize
	if pageSize <= 0 {
		pageSize = 4096
	}

	// Under OOM avoidance, work in half the buffer the caps allow.
	if inv.OOMAvoidance && size >= 2*int64(pageSize) {
		size /= 2
	}

	buf := make([]byte, size)
	vmStatesMu.Lock()
	vmStates[inv] = &vmState{buf: buf, pageSize: pageSize}
	vmStatesMu.Unlock()
	return nil
}

func teardownVM(inv *stressor.Invocation) {
	vmStatesMu.Lock()
	delete(vmStates, inv)
	vmStatesMu.Unlock()
}

func runVM(ctx context.Context, inv *stressor.Invocation) stressor.ExitStatus {
	st := vmStateFor(inv)
	if st == nil {
		return stressor.StatusNoResource
	}

	buf, pageSize := st.buf, st.pageSize
	pages := len(buf) / pageSize
	if pages == 0 {
		return stressor.StatusNoResource
	}

	status := stressor.StatusSuccess
	pattern := byte(inv.Instance + 1)
	start := time.Now()
	var pagesTouched int64

loop:
	for inv.Recorder.ShouldContinue() {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		// Write a rotating pattern page by page, then read it back.
		for p := 0; p < pages; p++ {
			buf[p*pageSize] = pattern + byte(p)
		}
		pagesTouched += int64(pages)

		if inv.Verify {
			for p := 0; p < pages; p++ {
				want := pattern + byte(p)
				if got := buf[p*pageSize]; got != want {
					inv.Fail("vm page %d corrupt: got %#x want %#x", p, got, want)
					status = stressor.StatusFailure
				}
			}
		}

		pattern++
		inv.Recorder.RecordOp()
	}

	if elapsed := time.Since(start).Seconds(); elapsed > 0 && pagesTouched > 0 {
		rate := float64(pagesTouched) / elapsed
		_ = inv.Recorder.RecordMetric("vm-page-touch-rate", rate, telemetry.ReduceHarmonicMean)
	}
	return status
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
