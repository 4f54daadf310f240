package harness

import (
	"sync"
	"sync/atomic"

	"github.com/bc-dunia/stressforge/internal/events"
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

// FailureEscalation converts repeated verification failures into a
// run-wide abort, independent of the deadline and op-count mechanisms.
// The transition from counting to escalated is one-way; further
// failures are still counted but trigger no additional action.
type FailureEscalation struct {
	threshold int64
	control   *telemetry.GlobalControl
	events    *events.EventLogger

	count    atomic.Int64
	escalate sync.Once
	tripped  atomic.Bool
}

// NewFailureEscalation creates an escalation sink. A threshold of zero
// disables escalation; failures are still counted and logged.
func NewFailureEscalation(threshold int64, control *telemetry.GlobalControl, log *events.EventLogger) *FailureEscalation {
	if log == nil {
		log = events.NoopEventLogger()
	}
	return &FailureEscalation{
		threshold: threshold,
		control:   control,
		events:    log,
	}
}

// RecordFailure logs one verification failure and escalates if the
// threshold is reached.
func (f *FailureEscalation) RecordFailure(worker, detail string) {
	f.events.LogVerifyFailure(worker, detail)
	n := f.count.Add(1)
	f.control.AddFailure()

	if f.threshold > 0 && n >= f.threshold {
		f.escalate.Do(func() {
			f.tripped.Store(true)
			f.control.RequestAbort()
			f.events.LogEscalation(n, f.threshold)
		})
	}
}

// Failures returns the accumulated failure count.
func (f *FailureEscalation) Failures() int64 {
	return f.count.Load()
}

// Escalated reports whether the abort threshold has been crossed.
func (f *FailureEscalation) Escalated() bool {
	return f.tripped.Load()
}

// Threshold returns the configured abort threshold.
func (f *FailureEscalation) Threshold() int64 {
	return f.threshold
}
