package procworker

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/bc-dunia/stressforge/internal/config"
	"github.com/bc-dunia/stressforge/internal/hostinfo"
	"github.com/bc-dunia/stressforge/internal/stressor"
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

// PipeRecorder is the child-side stressor.Recorder: it keeps a local
// op counter and ships frames to the supervisor on stdout. A parent
// termination signal flips the stop flag, which ShouldContinue
// observes at the next loop boundary.
type PipeRecorder struct {
	mu     sync.Mutex
	enc    *json.Encoder
	ops    atomic.Int64
	maxOps int64
	flush  int64
	stop   atomic.Bool
}

// NewPipeRecorder creates a recorder writing frames to w.
func NewPipeRecorder(w io.Writer, maxOps, flushEvery int64) *PipeRecorder {
	if flushEvery <= 0 {
		flushEvery = config.DefaultFrameFlushOps
	}
	return &PipeRecorder{
		enc:    json.NewEncoder(w),
		maxOps: maxOps,
		flush:  flushEvery,
	}
}

// RecordOp increments the local counter, shipping an absolute counter
// frame every flush interval.
func (p *PipeRecorder) RecordOp() int64 {
	n := p.ops.Add(1)
	if n%p.flush == 0 {
		p.emit(&Frame{Type: FrameOps, Ops: n})
	}
	return n
}

// Ops returns the local counter.
func (p *PipeRecorder) Ops() int64 {
	return p.ops.Load()
}

// RecordMetric ships one metric sample to the supervisor, which folds
// it into the canonical slot.
func (p *PipeRecorder) RecordMetric(label string, value float64, reduce telemetry.Reduction) error {
	if reduce == telemetry.ReduceHarmonicMean && value <= 0 {
		return telemetry.ErrBadSample
	}
	p.emit(&Frame{Type: FrameMetric, Label: label, Value: value, Reduce: reduce})
	return nil
}

// ShouldContinue is the child's loop predicate.
func (p *PipeRecorder) ShouldContinue() bool {
	if p.stop.Load() {
		return false
	}
	if p.maxOps > 0 && p.ops.Load() >= p.maxOps {
		return false
	}
	return true
}

// Stop flips the stop flag. Called from the signal handler.
func (p *PipeRecorder) Stop() {
	p.stop.Store(true)
}

// Fail ships a verification failure frame.
func (p *PipeRecorder) Fail(detail string) {
	p.emit(&Frame{Type: FrameFail, Detail: detail})
}

// FlushOps ships the final absolute counter.
func (p *PipeRecorder) FlushOps() {
	p.emit(&Frame{Type: FrameOps, Ops: p.ops.Load()})
}

func (p *PipeRecorder) emitState(state telemetry.SlotState) {
	p.emit(&Frame{Type: FrameState, State: state.String()})
}

func (p *PipeRecorder) emit(frame *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(frame)
}

type optionFlags map[string]string

func (o optionFlags) String() string { return "" }

func (o optionFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("option must be name=value, got %q", v)
	}
	o[name] = value
	return nil
}

// Main is the hidden worker-mode entry point. It parses the spawn
// arguments, runs the workload against a pipe recorder, and returns
// the process exit code.
func Main(registry *stressor.Registry, args []string) int {
	fs := flag.NewFlagSet("__worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	workload := fs.String("workload", "", "workload name")
	instance := fs.Int("instance", 0, "instance index")
	instances := fs.Int("instances", 1, "total instance count")
	maxOps := fs.Int64("max-ops", 0, "bogo-op bound, 0 for unbounded")
	verify := fs.Bool("verify", false, "enable self-verification")
	oomAvoidance := fs.Bool("oom-avoidance", false, "back off allocations under memory pressure")
	flushEvery := fs.Int64("frame-flush-ops", config.DefaultFrameFlushOps, "ops between counter frames")
	options := optionFlags{}
	fs.Var(options, "option", "workload option name=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return stressor.StatusFailure.ExitCode()
	}

	desc, ok := registry.Get(*workload)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown workload %q\n", *workload)
		return stressor.StatusFailure.ExitCode()
	}

	host := hostinfo.Probe()
	if supported, reason := desc.IsSupported(host); !supported {
		fmt.Fprintf(os.Stderr, "workload %q unsupported: %s\n", *workload, reason)
		return stressor.StatusUnsupported.ExitCode()
	}

	recorder := NewPipeRecorder(os.Stdout, *maxOps, *flushEvery)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		recorder.Stop()
		cancel()
	}()

	inv := &stressor.Invocation{
		Worker:          fmt.Sprintf("%s-%d", desc.Name, *instance),
		PID:             os.Getpid(),
		Instance:        *instance,
		Instances:       *instances,
		Host:            host,
		MaxOps:          *maxOps,
		Verify:          *verify,
		OOMAvoidance:    *oomAvoidance,
		Options:         options,
		Recorder:        recorder,
		OnVerifyFailure: recorder.Fail,
	}

	if desc.Setup != nil {
		if err := desc.Setup(inv); err != nil {
			fmt.Fprintf(os.Stderr, "workload %q setup: %v\n", desc.Name, err)
			return stressor.StatusNoResource.ExitCode()
		}
	}

	recorder.emitState(telemetry.StateSyncWait)
	if !awaitRelease(ctx) {
		recorder.FlushOps()
		return stressor.StatusSuccess.ExitCode()
	}

	recorder.emitState(telemetry.StateRunning)
	status := desc.Run(ctx, inv)

	recorder.emitState(telemetry.StateDeinit)
	recorder.FlushOps()
	if desc.Teardown != nil {
		desc.Teardown(inv)
	}

	return status.ExitCode()
}

// awaitRelease blocks on the one-byte start release from the
// supervisor. Returns false if the worker was told to stop (or stdin
// closed without a release byte) before the release arrived.
func awaitRelease(ctx context.Context) bool {
	released := make(chan bool, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := io.ReadFull(os.Stdin, buf)
		released <- err == nil
	}()

	select {
	case ok := <-released:
		return ok
	case <-ctx.Done():
		return false
	}
}
