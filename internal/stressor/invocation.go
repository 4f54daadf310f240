package stressor

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bc-dunia/stressforge/internal/hostinfo"
)

// Invocation is the per-worker argument bundle passed into a
// workload's run loop. It lives exactly as long as the run loop.
type Invocation struct {
	// Worker is the worker name, e.g. "cpu-2".
	Worker string

	// PID is the worker's process id.
	PID int

	// Instance is this worker's ordinal among Instances workers of
	// the same workload.
	Instance  int
	Instances int

	// Host is the host snapshot taken at run start.
	Host hostinfo.Info

	// MaxOps bounds the bogo-op count for this worker, zero meaning
	// unbounded.
	MaxOps int64

	// Verify enables workload self-verification.
	Verify bool

	// OOMAvoidance hints adaptive workloads to back off allocations.
	OOMAvoidance bool

	// Options holds the resolved workload option values.
	Options map[string]string

	// Recorder is the worker's single-writer slot surface.
	Recorder Recorder

	// OnVerifyFailure routes a detected verification failure to the
	// escalation sink. The worker keeps running; escalation decides
	// whether the run aborts.
	OnVerifyFailure func(detail string)
}

// Fail reports a verification failure without stopping the worker.
func (inv *Invocation) Fail(format string, args ...interface{}) {
	if inv.OnVerifyFailure != nil {
		inv.OnVerifyFailure(fmt.Sprintf(format, args...))
	}
}

// Option returns the named option value and whether it was set.
func (inv *Invocation) Option(name string) (string, bool) {
	v, ok := inv.Options[name]
	return v, ok
}

// OptionInt64 returns the named option parsed as int64, or fallback.
func (inv *Invocation) OptionInt64(name string, fallback int64) int64 {
	v, ok := inv.Options[name]
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// OptionDuration returns the named option parsed as a duration, or
// fallback.
func (inv *Invocation) OptionDuration(name string, fallback time.Duration) time.Duration {
	v, ok := inv.Options[name]
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// OptionSpec describes one recognized workload option.
type OptionSpec struct {
	Name    string
	Usage   string
	Default string
}
