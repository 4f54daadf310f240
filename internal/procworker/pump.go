package procworker

import (
	"bufio"
	"encoding/json"
	"io"
	"sync/atomic"

	"github.com/bc-dunia/stressforge/internal/telemetry"
)

// Pump applies a forked worker's frames to the canonical slot. The
// supervisor that owns the pump is the slot's only writer, preserving
// the single-writer discipline across the process boundary. The base
// offset carries the counter across OOM restarts so the slot counter
// stays non-decreasing for the slot's lifetime.
type Pump struct {
	handle *telemetry.SlotHandle
	base   int64

	// OnVerifyFailure receives fail frames. Set by the supervisor to
	// route child verification failures into the escalation sink.
	OnVerifyFailure func(detail string)

	sawSync atomic.Bool
	syncCh  chan struct{}
}

// NewPump creates a pump for one worker process. base is the slot's
// counter value at spawn time (non-zero after an OOM restart).
func NewPump(handle *telemetry.SlotHandle, base int64) *Pump {
	return &Pump{
		handle: handle,
		base:   base,
		syncCh: make(chan struct{}),
	}
}

// SyncWait is closed once the worker reports its sync_wait state.
func (p *Pump) SyncWait() <-chan struct{} {
	return p.syncCh
}

// Run decodes frames until the pipe closes. Malformed lines are
// skipped; the exit status carries the authoritative outcome.
func (p *Pump) Run(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			continue
		}
		p.apply(&frame)
	}
}

func (p *Pump) apply(frame *Frame) {
	switch frame.Type {
	case FrameOps:
		p.handle.StoreOps(p.base + frame.Ops)
	case FrameMetric:
		_ = p.handle.RecordMetric(frame.Label, frame.Value, frame.Reduce)
	case FrameState:
		state, ok := telemetry.ParseSlotState(frame.State)
		if !ok {
			return
		}
		if state == telemetry.StateSyncWait && !p.sawSync.Swap(true) {
			close(p.syncCh)
		}
		// The supervisor owns SyncWait and the coordinator owns
		// Exited; only the measured-phase transitions pass through.
		if state == telemetry.StateRunning || state == telemetry.StateDeinit {
			_ = p.handle.Slot().Transition(state)
		}
	case FrameFail:
		if p.OnVerifyFailure != nil {
			p.OnVerifyFailure(frame.Detail)
		}
	}
}
