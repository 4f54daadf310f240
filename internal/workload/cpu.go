package workload

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/bc-dunia/stressforge/internal/stressor"
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

func init() {
	stressor.MustRegister(&stressor.Descriptor{
		Name: "cpu",
		Tags: stressor.NewTagSet(stressor.ClassCPU),
		Options: []stressor.OptionSpec{
			{Name: "cpu-method", Usage: "compute kernel: fib, sqrt, matrix, prime or all", Default: "all"},
		},
		Run: runCPU,
	})
}

// cpuKernel is one deterministic compute kernel. Determinism is what
// makes self-verification possible: the checksum for a given kernel
// never changes between iterations.
type cpuKernel func() uint64

var cpuKernels = map[string]cpuKernel{
	"fib":    kernelFib,
	"sqrt":   kernelSqrt,
	"matrix": kernelMatrix,
	"prime":  kernelPrime,
}

func runCPU(ctx context.Context, inv *stressor.Invocation) stressor.ExitStatus {
	method, _ := inv.Option("cpu-method")
	if method == "" {
		method = "all"
	}

	var names []string
	if method == "all" {
		for name := range cpuKernels {
			names = append(names, name)
		}
		sort.Strings(names)
	} else {
		if _, ok := cpuKernels[method]; !ok {
			inv.Fail("unknown cpu method %q", method)
			return stressor.StatusFailure
		}
		names = []string{method}
	}

	// Reference checksums from the first pass; later passes must match.
	reference := make(map[string]uint64, len(names))
	for _, name := range names {
		reference[name] = cpuKernels[name]()
	}

	start := time.Now()
loop:
	for inv.Recorder.ShouldContinue() {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		for _, name := range names {
			sum := cpuKernels[name]()
			if inv.Verify && sum != reference[name] {
				inv.Fail("cpu %s checksum mismatch: got %#x want %#x", name, sum, reference[name])
			}
		}
		inv.Recorder.RecordOp()
	}

	if elapsed := time.Since(start).Seconds(); elapsed > 0 {
		rate := float64(inv.Recorder.Ops()) / elapsed
		_ = inv.Recorder.RecordMetric("cpu-ops-per-sec", rate, telemetry.ReduceSum)
	}
	return stressor.StatusSuccess
}

func kernelFib() uint64 {
	var a, b uint64 = 0, 1
	for i := 0; i < 1000; i++ {
		a, b = b, a+b
	}
	return a
}

func kernelSqrt() uint64 {
	var sum float64
	for i := 1; i <= 4096; i++ {
		sum += math.Sqrt(float64(i))
	}
	return math.Float64bits(sum)
}

func kernelMatrix() uint64 {
	const n = 24
	var a, b, c [n][n]float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a[i][j] = float64(i + j)
			b[i][j] = float64(i - j)
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var sum float64
			for k := 0; k < n; k++ {
				sum += a[i][k] * b[k][j]
			}
			c[i][j] = sum
		}
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += c[i][i]
	}
	return math.Float64bits(sum)
}

func kernelPrime() uint64 {
	var count uint64
	for candidate := 2; candidate < 2048; candidate++ {
		prime := true
		for d := 2; d*d <= candidate; d++ {
			if candidate%d == 0 {
				prime = false
				break
			}
		}
		if prime {
			count++
		}
	}
	return count
}
