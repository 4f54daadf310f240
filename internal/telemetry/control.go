package telemetry

import "sync/atomic"

// GlobalControl carries the run-wide control flags shared by the
// coordinator and every worker. Workers only read the continue and
// abort flags; the failure counter is incremented through the
// escalation sink. A GlobalControl is scoped to one run and is passed
// explicitly rather than held as a singleton, so independent runs can
// coexist in one test process.
type GlobalControl struct {
	running      atomic.Bool
	abort        atomic.Bool
	failures     atomic.Int64
	oomAvoidance atomic.Bool
}

// NewGlobalControl returns a control block in the running state.
func NewGlobalControl() *GlobalControl {
	c := &GlobalControl{}
	c.running.Store(true)
	return c
}

// ShouldContinue reports whether workers should keep running.
func (c *GlobalControl) ShouldContinue() bool {
	return c.running.Load()
}

// RequestStop clears the continue flag. The transition is irreversible
// for the remainder of the run.
func (c *GlobalControl) RequestStop() {
	c.running.Store(false)
}

// RequestAbort sets the abort flag and stops the run. Called by the
// failure escalation sink once its threshold is crossed.
func (c *GlobalControl) RequestAbort() {
	c.abort.Store(true)
	c.running.Store(false)
}

// AbortRequested reports whether an abort has been requested.
func (c *GlobalControl) AbortRequested() bool {
	return c.abort.Load()
}

// AddFailure increments the accumulated fatal failure count and
// returns the new total.
func (c *GlobalControl) AddFailure() int64 {
	return c.failures.Add(1)
}

// Failures returns the accumulated fatal failure count.
func (c *GlobalControl) Failures() int64 {
	return c.failures.Load()
}

// SetOOMAvoidance toggles the OOM-avoidance hint read by workloads
// that can adapt their allocation behavior.
func (c *GlobalControl) SetOOMAvoidance(on bool) {
	c.oomAvoidance.Store(on)
}

// OOMAvoidance reports whether OOM avoidance is enabled.
func (c *GlobalControl) OOMAvoidance() bool {
	return c.oomAvoidance.Load()
}
