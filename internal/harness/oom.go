package harness

import (
	"syscall"

	"github.com/shirou/gopsutil/v3/mem"
)

// WaitInfo is the platform-neutral summary of a reaped worker's wait
// status, extracted by the supervisor.
type WaitInfo struct {
	Signaled bool
	Signal   syscall.Signal
	ExitCode int
}

// OOMClassifier decides whether a reaped worker was OOM-killed, so
// the restart policy can distinguish it from ordinary signal death.
// It is an explicit, injectable policy rather than an exit-code
// inference.
type OOMClassifier interface {
	OOMKilled(pid int, wait WaitInfo) bool
}

// OOMClassifierFunc adapts a function to OOMClassifier.
type OOMClassifierFunc func(pid int, wait WaitInfo) bool

// OOMKilled reports whether the worker was OOM-killed.
func (f OOMClassifierFunc) OOMKilled(pid int, wait WaitInfo) bool {
	return f(pid, wait)
}

// memPressureOOMThreshold is the host memory used-percent above which
// a SIGKILL'd worker is attributed to the OOM reclaimer.
const memPressureOOMThreshold = 90.0

// DefaultOOMClassifier attributes a SIGKILL to the kernel OOM
// reclaimer when the host is under memory pressure at reap time. The
// kernel does not report the kill cause in the wait status, so this is
// a heuristic; tests inject a deterministic classifier.
func DefaultOOMClassifier() OOMClassifier {
	return OOMClassifierFunc(func(pid int, wait WaitInfo) bool {
		if !wait.Signaled || wait.Signal != syscall.SIGKILL {
			return false
		}
		vm, err := mem.VirtualMemory()
		if err != nil || vm == nil {
			// Cannot probe pressure; assume the SIGKILL was an OOM
			// kill so restart-eligible workloads get their retry.
			return true
		}
		return vm.UsedPercent >= memPressureOOMThreshold
	})
}
