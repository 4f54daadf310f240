// Package procworker implements the telemetry channel between a
// forked worker process and its supervisor: JSON-line frames on the
// worker's stdout, a one-byte start release on its stdin, and an exit
// code carrying the workload's terminal status.
package procworker

import (
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

// FrameType discriminates the frame variants on the worker pipe.
type FrameType string

const (
	// FrameOps carries the worker's absolute bogo-op counter.
	FrameOps FrameType = "ops"
	// FrameMetric carries one metric sample.
	FrameMetric FrameType = "metric"
	// FrameState carries a lifecycle state transition.
	FrameState FrameType = "state"
	// FrameFail carries a verification failure for the escalation
	// sink.
	FrameFail FrameType = "fail"
)

// Frame is one JSON line on the worker's stdout. The op counter is
// absolute, not a delta, so a lost frame cannot understate the count.
type Frame struct {
	Type FrameType `json:"type"`

	Ops int64 `json:"ops,omitempty"`

	Label  string              `json:"label,omitempty"`
	Value  float64             `json:"value,omitempty"`
	Reduce telemetry.Reduction `json:"reduce,omitempty"`

	State string `json:"state,omitempty"`

	Detail string `json:"detail,omitempty"`
}
