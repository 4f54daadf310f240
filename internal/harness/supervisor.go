package harness

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/bc-dunia/stressforge/internal/events"
	"github.com/bc-dunia/stressforge/internal/hostinfo"
	"github.com/bc-dunia/stressforge/internal/otel"
	"github.com/bc-dunia/stressforge/internal/procworker"
	"github.com/bc-dunia/stressforge/internal/stressor"
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

// WorkerMode is the hidden CLI mode under which forked workers
// re-execute this binary.
const WorkerMode = "__worker"

// Supervisor owns exactly one worker's lifecycle: spawn, barrier
// rendezvous, run-loop invocation, termination and exit
// classification. Workers run in-process by default; descriptors
// flagged ForkPerWorker run in their own OS process so that a worker
// blocked in a syscall can still be terminated within bounded time.
type Supervisor struct {
	Desc       *stressor.Descriptor
	Slot       *telemetry.WorkerSlot
	Handle     *telemetry.SlotHandle
	Barrier    *StartBarrier
	Escalation *FailureEscalation
	Events     *events.EventLogger
	Host       hostinfo.Info
	Verify     bool
	Options    map[string]string

	// OOMAvoidance is the run-wide hint telling adaptive workloads to
	// back off allocations.
	OOMAvoidance bool

	// Instances is the total worker count for this workload, made
	// visible to the run loop through its invocation.
	Instances int

	UnwindGrace time.Duration
	SpawnPolicy SpawnPolicy

	// Fork selects sub-process execution. ExecPath is the binary to
	// re-execute; empty means os.Executable.
	Fork     bool
	ExecPath string

	// BaseOps is the slot counter at spawn time, non-zero when this
	// supervisor replaces an OOM-killed predecessor.
	BaseOps int64

	// Classifier attributes signal deaths to the OOM reclaimer.
	Classifier OOMClassifier

	// SpawnGate is an optional admission hook invoked before the
	// worker starts. A transient error from it is retried under
	// SpawnPolicy; tests use it to simulate resource exhaustion.
	SpawnGate func() error
}

// Run drives the worker to completion and returns its classified
// result. The context carries the run deadline and termination
// requests; the worker's voluntary-exit window after cancellation is
// bounded by UnwindGrace.
func (s *Supervisor) Run(ctx context.Context) WorkerResult {
	result := WorkerResult{
		Worker:   s.Slot.Name(),
		Workload: s.Desc.Name,
		Instance: s.Slot.Instance,
	}

	if s.Fork {
		s.runForked(ctx, &result)
	} else {
		if s.SpawnGate != nil {
			err := retrySpawn(ctx, s.SpawnPolicy, s.Events, result.Worker, s.SpawnGate)
			if err != nil {
				result.Status = stressor.StatusFailure
				result.Reason = ReasonSpawnFailed
				result.Err = err
				return result
			}
		}
		s.runInline(ctx, &result)
	}

	result.Ops = s.Slot.Ops()
	return result
}

func (s *Supervisor) runInline(ctx context.Context, result *WorkerResult) {
	inv := &stressor.Invocation{
		Worker:       result.Worker,
		PID:          os.Getpid(),
		Instance:     s.Slot.Instance,
		Instances:    s.instances(),
		Host:         s.Host,
		MaxOps:       s.Handle.MaxOps(),
		Verify:       s.Verify,
		OOMAvoidance: s.OOMAvoidance,
		Options:      s.Options,
		Recorder:     s.Handle,
		OnVerifyFailure: func(detail string) {
			s.recordFailure(result.Worker, detail)
		},
	}

	if s.Desc.Setup != nil {
		if err := s.Desc.Setup(inv); err != nil {
			result.Status = stressor.StatusNoResource
			result.Reason = ReasonNormal
			result.Err = err
			return
		}
	}

	s.Events.LogWorkerSpawned(result.Worker, inv.PID, "inline")
	_ = s.Slot.Transition(telemetry.StateSyncWait)
	if err := s.Barrier.ArriveAndWait(ctx); err != nil {
		_ = s.Slot.Transition(telemetry.StateDeinit)
		result.Status = stressor.StatusSuccess
		result.Reason = ReasonNormal
		return
	}
	_ = s.Slot.Transition(telemetry.StateRunning)

	statusCh := make(chan stressor.ExitStatus, 1)
	go func() {
		statusCh <- s.Desc.Run(ctx, inv)
	}()

	var status stressor.ExitStatus
	select {
	case status = <-statusCh:
	case <-ctx.Done():
		// Termination requested; the loop predicate is already
		// false, so wait out the bounded unwind.
		select {
		case status = <-statusCh:
		case <-time.After(s.UnwindGrace):
			result.Status = stressor.StatusFailure
			result.Reason = ReasonHung
			return
		}
	}

	_ = s.Slot.Transition(telemetry.StateDeinit)
	if s.Desc.Teardown != nil {
		s.Desc.Teardown(inv)
	}
	result.Status = status
	result.Reason = ReasonNormal
}

func (s *Supervisor) runForked(ctx context.Context, result *WorkerResult) {
	execPath := s.ExecPath
	if execPath == "" {
		p, err := os.Executable()
		if err != nil {
			result.Status = stressor.StatusFailure
			result.Reason = ReasonSpawnFailed
			result.Err = err
			return
		}
		execPath = p
	}

	args := []string{
		WorkerMode,
		"--workload", s.Desc.Name,
		"--instance", strconv.Itoa(s.Slot.Instance),
		"--instances", strconv.Itoa(s.instances()),
		"--max-ops", strconv.FormatInt(s.Handle.MaxOps(), 10),
	}
	if s.Verify {
		args = append(args, "--verify")
	}
	if s.OOMAvoidance {
		args = append(args, "--oom-avoidance")
	}
	for name, value := range s.Options {
		args = append(args, "--option", name+"="+value)
	}

	// Each attempt gets its own command and pipes: a failed Start
	// closes the previous attempt's descriptors, so reusing them would
	// hand the worker dead plumbing.
	var (
		cmd    *exec.Cmd
		stdin  io.WriteCloser
		stdout io.ReadCloser
	)
	spawn := func() error {
		if s.SpawnGate != nil {
			if err := s.SpawnGate(); err != nil {
				return err
			}
		}
		cmd = exec.Command(execPath, args...)
		cmd.Stderr = os.Stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		var err error
		if stdin, err = cmd.StdinPipe(); err != nil {
			return err
		}
		if stdout, err = cmd.StdoutPipe(); err != nil {
			return err
		}
		return cmd.Start()
	}

	if err := retrySpawn(ctx, s.SpawnPolicy, s.Events, result.Worker, spawn); err != nil {
		result.Status = stressor.StatusFailure
		result.Reason = ReasonSpawnFailed
		result.Err = err
		return
	}

	pid := cmd.Process.Pid
	s.Slot.SetPID(pid)
	s.Events.LogWorkerSpawned(result.Worker, pid, "forked")

	pump := procworker.NewPump(s.Handle, s.BaseOps)
	pump.OnVerifyFailure = func(detail string) {
		s.recordFailure(result.Worker, detail)
	}
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		pump.Run(stdout)
	}()

	go s.sampleRSS(ctx, pid, pumpDone)

	// The child reports sync_wait once its setup is done, so fork and
	// page-in latency land before the barrier, not inside the
	// measured phase.
	select {
	case <-pump.SyncWait():
	case <-pumpDone:
	case <-ctx.Done():
	}

	_ = s.Slot.Transition(telemetry.StateSyncWait)
	if err := s.Barrier.ArriveAndWait(ctx); err == nil {
		_, _ = stdin.Write([]byte{1})
	}
	stdin.Close()

	killDone := make(chan struct{})
	go func() {
		defer close(killDone)
		select {
		case <-pumpDone:
		case <-ctx.Done():
			// Two-step teardown: ask the worker's process group to
			// unwind, then force the issue after the grace window.
			_ = syscall.Kill(-pid, syscall.SIGTERM)
			select {
			case <-pumpDone:
			case <-time.After(s.UnwindGrace):
				_ = syscall.Kill(-pid, syscall.SIGKILL)
			}
		}
	}()

	waitErr := cmd.Wait()
	<-pumpDone
	<-killDone

	s.classifyExit(pid, waitErr, result)
}

func (s *Supervisor) classifyExit(pid int, waitErr error, result *WorkerResult) {
	if waitErr == nil {
		result.Status = stressor.StatusSuccess
		result.Reason = ReasonNormal
		return
	}

	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		result.Status = stressor.StatusFailure
		result.Reason = ReasonNormal
		result.Err = waitErr
		return
	}

	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		result.Status = stressor.StatusFailure
		result.Reason = ReasonNormal
		result.Err = waitErr
		return
	}

	if ws.Signaled() {
		wait := WaitInfo{Signaled: true, Signal: ws.Signal()}
		result.Signal = ws.Signal().String()
		result.Status = stressor.StatusFailure
		if s.Classifier != nil && s.Classifier.OOMKilled(pid, wait) {
			result.Reason = ReasonOOMKilled
		} else {
			result.Reason = ReasonSignaled
		}
		result.Err = fmt.Errorf("worker killed by %s", result.Signal)
		return
	}

	result.Status = stressor.StatusFromExitCode(ws.ExitStatus())
	result.Reason = ReasonNormal
	if result.Status == stressor.StatusUnsupported {
		result.Reason = ReasonSkipped
	}
}

func (s *Supervisor) instances() int {
	if s.Instances > 0 {
		return s.Instances
	}
	return 1
}

// recordFailure routes a verification failure to the escalation sink
// and the telemetry counter.
func (s *Supervisor) recordFailure(worker, detail string) {
	s.Escalation.RecordFailure(worker, detail)
	otel.GetGlobalMetrics().RecordVerifyFailure(context.Background(), s.Desc.Name)
}

// rssSampleInterval paces supervisor-side process sampling for forked
// workers.
const rssSampleInterval = time.Second

// sampleRSS folds the forked worker's resident set size into the
// "worker-rss" metric while the worker is alive. Sampling stops once
// the worker's pipe closes; a probe error ends sampling quietly since
// the process has usually exited.
func (s *Supervisor) sampleRSS(ctx context.Context, pid int, done <-chan struct{}) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}

	ticker := time.NewTicker(rssSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		mi, err := proc.MemoryInfo()
		if err != nil || mi == nil {
			return
		}
		_ = s.Handle.RecordMetric("worker-rss", float64(mi.RSS), telemetry.ReduceMax)
	}
}
