// Package telemetry holds the canonical per-worker slot table for one
// run. Workers mutate their own slot through a single-writer handle;
// sub-process workers ship updates to their supervisor, which applies
// them as the slot's only writer. The coordinator reads counters and
// states while the run is live and owns the final lifecycle transition
// on reap.
package telemetry

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// SlotState is the lifecycle state of one worker slot. Transitions are
// strictly forward: Init -> SyncWait -> Running -> Deinit -> Exited.
type SlotState int32

const (
	StateInit SlotState = iota
	StateSyncWait
	StateRunning
	StateDeinit
	StateExited
)

func (s SlotState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSyncWait:
		return "sync_wait"
	case StateRunning:
		return "running"
	case StateDeinit:
		return "deinit"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ParseSlotState maps a state name back to its SlotState. Used when
// decoding state frames from sub-process workers.
func ParseSlotState(name string) (SlotState, bool) {
	switch name {
	case "init":
		return StateInit, true
	case "sync_wait":
		return StateSyncWait, true
	case "running":
		return StateRunning, true
	case "deinit":
		return StateDeinit, true
	case "exited":
		return StateExited, true
	default:
		return StateInit, false
	}
}

// Reduction selects how metric samples with the same label are
// combined across slots at the end of a run.
type Reduction string

const (
	ReduceSum          Reduction = "sum"
	ReduceHarmonicMean Reduction = "harmonic_mean"
	ReduceMax          Reduction = "max"
)

// MaxMetricsPerSlot bounds the number of distinct metric labels one
// worker may accumulate.
const MaxMetricsPerSlot = 8

// ErrBadTransition is returned when a slot state transition would move
// backward or skip the terminal ordering.
var ErrBadTransition = fmt.Errorf("telemetry: backward slot state transition")

// ErrMetricSlotsExhausted is returned when a worker records more
// distinct metric labels than a slot can hold.
var ErrMetricSlotsExhausted = fmt.Errorf("telemetry: metric slots exhausted")

// ErrBadSample is returned for samples a reduction cannot accept, such
// as non-positive values under harmonic mean.
var ErrBadSample = fmt.Errorf("telemetry: invalid metric sample")

// ErrReductionMismatch is returned when a label is recorded with a
// different reduction kind than its first sample.
var ErrReductionMismatch = fmt.Errorf("telemetry: reduction mismatch for metric label")

// metricAccum is one named metric accumulator inside a slot. For
// ReduceSum the value is the running sum, for ReduceMax the running
// maximum, and for ReduceHarmonicMean the running sum of reciprocals.
type metricAccum struct {
	Label   string
	Reduce  Reduction
	Value   float64
	Samples int64
}

// WorkerSlot is one entry in the region: the canonical record for one
// worker instance. The bogo-op counter and metric accumulators are
// written only by the owning worker (or its supervisor, for forked
// workers); the coordinator reads them and performs the final
// transition to StateExited on reap.
type WorkerSlot struct {
	Workload string
	Instance int

	pid   atomic.Int64
	state atomic.Int32
	ops   atomic.Int64

	// Metric accumulators are off the hot path; the mutex also covers
	// the aggregation read after the slot has reached StateDeinit.
	mu      sync.Mutex
	metrics []metricAccum
}

// Name returns the worker name, e.g. "cpu-2".
func (s *WorkerSlot) Name() string {
	return fmt.Sprintf("%s-%d", s.Workload, s.Instance)
}

// State returns the current lifecycle state.
func (s *WorkerSlot) State() SlotState {
	return SlotState(s.state.Load())
}

// Transition advances the slot to a later lifecycle state. Backward
// transitions are rejected; repeating the current state is a no-op.
func (s *WorkerSlot) Transition(to SlotState) error {
	for {
		cur := s.state.Load()
		if int32(to) < cur {
			return ErrBadTransition
		}
		if int32(to) == cur {
			return nil
		}
		if s.state.CompareAndSwap(cur, int32(to)) {
			return nil
		}
	}
}

// Ops returns the bogo-op counter.
func (s *WorkerSlot) Ops() int64 {
	return s.ops.Load()
}

// SetPID records the owning process id. Zero means in-process.
func (s *WorkerSlot) SetPID(pid int) {
	s.pid.Store(int64(pid))
}

// PID returns the recorded process id.
func (s *WorkerSlot) PID() int {
	return int(s.pid.Load())
}

// Region is the slot table for one run, sized once at allocation to
// the total worker count.
type Region struct {
	control *GlobalControl
	slots   []*WorkerSlot
}

// SlotAssignment requests a number of slots for one workload.
type SlotAssignment struct {
	Workload  string
	Instances int
}

// NewRegion allocates a region with one slot per requested worker
// instance, in assignment order.
func NewRegion(control *GlobalControl, assignments []SlotAssignment) *Region {
	r := &Region{control: control}
	for _, a := range assignments {
		for i := 0; i < a.Instances; i++ {
			r.slots = append(r.slots, &WorkerSlot{
				Workload: a.Workload,
				Instance: i,
			})
		}
	}
	return r
}

// Control returns the run's control block.
func (r *Region) Control() *GlobalControl {
	return r.control
}

// Slots returns all slots in allocation order.
func (r *Region) Slots() []*WorkerSlot {
	return r.slots
}

// Slot returns the slot at index i.
func (r *Region) Slot(i int) *WorkerSlot {
	return r.slots[i]
}

// Len returns the total worker count.
func (r *Region) Len() int {
	return len(r.slots)
}

// TotalOps returns the sum of all slot counters.
func (r *Region) TotalOps() int64 {
	var total int64
	for _, s := range r.slots {
		total += s.Ops()
	}
	return total
}

// Handle returns the single-writer handle for slot i. maxOps of zero
// means no per-worker operation bound.
func (r *Region) Handle(i int, maxOps int64) *SlotHandle {
	return &SlotHandle{
		slot:    r.slots[i],
		control: r.control,
		maxOps:  maxOps,
	}
}

// SlotHandle is the mutation surface handed to a worker (or to the
// supervisor pumping a forked worker's frames). It is the only writer
// of its slot's counter and metric accumulators.
type SlotHandle struct {
	slot    *WorkerSlot
	control *GlobalControl
	maxOps  int64
}

// RecordOp increments the bogo-op counter and returns the new value.
func (h *SlotHandle) RecordOp() int64 {
	return h.slot.ops.Add(1)
}

// Ops returns the current counter value.
func (h *SlotHandle) Ops() int64 {
	return h.slot.ops.Load()
}

// StoreOps raises the counter to n. Used when applying absolute
// counter frames from a forked worker; the counter never moves
// backward.
func (h *SlotHandle) StoreOps(n int64) {
	for {
		cur := h.slot.ops.Load()
		if n <= cur {
			return
		}
		if h.slot.ops.CompareAndSwap(cur, n) {
			return
		}
	}
}

// MaxOps returns the per-worker operation bound, zero if unbounded.
func (h *SlotHandle) MaxOps() int64 {
	return h.maxOps
}

// ShouldContinue is the worker's loop predicate: true while the global
// continue flag is set and the per-worker op bound, if any, has not
// been reached.
func (h *SlotHandle) ShouldContinue() bool {
	if !h.control.ShouldContinue() {
		return false
	}
	if h.maxOps > 0 && h.slot.ops.Load() >= h.maxOps {
		return false
	}
	return true
}

// RecordMetric folds one sample into the named accumulator, creating
// it on first use. The reduction kind is fixed by the first sample for
// a label.
func (h *SlotHandle) RecordMetric(label string, value float64, reduce Reduction) error {
	if reduce == ReduceHarmonicMean && value <= 0 {
		return ErrBadSample
	}

	s := h.slot
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.metrics {
		if s.metrics[i].Label != label {
			continue
		}
		if s.metrics[i].Reduce != reduce {
			return ErrReductionMismatch
		}
		switch reduce {
		case ReduceSum:
			s.metrics[i].Value += value
		case ReduceMax:
			if value > s.metrics[i].Value {
				s.metrics[i].Value = value
			}
		case ReduceHarmonicMean:
			s.metrics[i].Value += 1 / value
		}
		s.metrics[i].Samples++
		return nil
	}

	if len(s.metrics) >= MaxMetricsPerSlot {
		return ErrMetricSlotsExhausted
	}

	s.metrics = append(s.metrics, metricAccum{
		Label:   label,
		Reduce:  reduce,
		Value:   value,
		Samples: 1,
	})
	if reduce == ReduceHarmonicMean {
		s.metrics[len(s.metrics)-1].Value = 1 / value
	}
	return nil
}

// Slot returns the underlying slot. Intended for the supervisor that
// owns this handle, not for workloads.
func (h *SlotHandle) Slot() *WorkerSlot {
	return h.slot
}
