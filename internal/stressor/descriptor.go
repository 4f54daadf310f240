// Package stressor defines the uniform contract between the harness
// and the compiled-in workload table.
package stressor

import (
	"context"
	"fmt"
	"sort"

	"github.com/bc-dunia/stressforge/internal/hostinfo"
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

// ExitStatus is the terminal status a workload run loop reports.
type ExitStatus int

const (
	StatusSuccess ExitStatus = iota
	StatusFailure
	StatusUnsupported
	StatusNoResource
)

func (s ExitStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusUnsupported:
		return "unsupported"
	case StatusNoResource:
		return "no_resource"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ExitCode maps the status onto the process exit code convention used
// by forked workers.
func (s ExitStatus) ExitCode() int {
	return int(s)
}

// StatusFromExitCode reverses ExitCode. Unknown codes classify as
// failure.
func StatusFromExitCode(code int) ExitStatus {
	switch code {
	case 0:
		return StatusSuccess
	case 1:
		return StatusFailure
	case 2:
		return StatusUnsupported
	case 3:
		return StatusNoResource
	default:
		return StatusFailure
	}
}

// ClassTag labels the OS subsystem a workload exercises.
type ClassTag string

const (
	ClassCPU       ClassTag = "cpu"
	ClassMemory    ClassTag = "memory"
	ClassVM        ClassTag = "vm"
	ClassIO        ClassTag = "io"
	ClassScheduler ClassTag = "scheduler"
	ClassOS        ClassTag = "os"
	ClassInterrupt ClassTag = "interrupt"
)

// TagSet is the capability class set of one workload.
type TagSet map[ClassTag]struct{}

// NewTagSet builds a tag set from its members.
func NewTagSet(tags ...ClassTag) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

// Has reports tag membership.
func (s TagSet) Has(tag ClassTag) bool {
	_, ok := s[tag]
	return ok
}

// Strings returns the sorted tag names.
func (s TagSet) Strings() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// RunFunc is a workload's run loop entry point. It must call
// inv.Recorder.RecordOp after each logical unit of work and return
// promptly once inv.Recorder.ShouldContinue reports false or ctx is
// cancelled.
type RunFunc func(ctx context.Context, inv *Invocation) ExitStatus

// Descriptor is the static, compiled-in description of one workload.
type Descriptor struct {
	// Name identifies the workload, e.g. "cpu".
	Name string

	// Tags is the capability class set.
	Tags TagSet

	// Supported probes whether the workload can run on this host.
	// Nil means always supported. The returned string is the skip
	// reason when unsupported.
	Supported func(info hostinfo.Info) (bool, string)

	// Options lists the configuration options the workload recognizes.
	Options []OptionSpec

	// Setup runs once per worker before the run loop. Optional.
	Setup func(inv *Invocation) error

	// Teardown runs once per worker after the run loop. Optional.
	Teardown func(inv *Invocation)

	// Run is the workload's run loop.
	Run RunFunc

	// RestartOnOOM marks the workload eligible for respawn after an
	// OOM kill.
	RestartOnOOM bool

	// ForkPerWorker runs each worker in its own OS process so a
	// blocked worker can be terminated within bounded time.
	ForkPerWorker bool
}

// IsSupported evaluates the supported probe.
func (d *Descriptor) IsSupported(info hostinfo.Info) (bool, string) {
	if d.Supported == nil {
		return true, ""
	}
	return d.Supported(info)
}

// Recorder is the narrow slot surface a run loop writes through. The
// in-process implementation is telemetry.SlotHandle; forked workers
// use a pipe-backed recorder.
type Recorder interface {
	RecordOp() int64
	Ops() int64
	RecordMetric(label string, value float64, reduce telemetry.Reduction) error
	ShouldContinue() bool
}
