package workload

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/bc-dunia/stressforge/internal/stressor"
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

// fakeRecorder is an in-memory stressor.Recorder for run-loop tests.
type fakeRecorder struct {
	ops     atomic.Int64
	maxOps  int64
	metrics []recordedMetric
}

type recordedMetric struct {
	label  string
	value  float64
	reduce telemetry.Reduction
}

func (f *fakeRecorder) RecordOp() int64 { return f.ops.Add(1) }
func (f *fakeRecorder) Ops() int64      { return f.ops.Load() }

func (f *fakeRecorder) RecordMetric(label string, value float64, reduce telemetry.Reduction) error {
	f.metrics = append(f.metrics, recordedMetric{label, value, reduce})
	return nil
}

func (f *fakeRecorder) ShouldContinue() bool {
	return f.maxOps <= 0 || f.ops.Load() < f.maxOps
}

func (f *fakeRecorder) metric(label string) (recordedMetric, bool) {
	for _, m := range f.metrics {
		if m.label == label {
			return m, true
		}
	}
	return recordedMetric{}, false
}

func newInvocation(rec *fakeRecorder, options map[string]string) *stressor.Invocation {
	return &stressor.Invocation{
		Worker:    "test-0",
		Instance:  0,
		Instances: 1,
		Options:   options,
		Recorder:  rec,
	}
}

func TestBuiltinsRegistered(t *testing.T) {
	for _, name := range []string{"cpu", "vm", "fork", "yield", "sleep", "noop"} {
		if _, ok := stressor.Get(name); !ok {
			t.Errorf("workload %q not registered", name)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"4k", 4 << 10, false},
		{"64m", 64 << 20, false},
		{"2g", 2 << 30, false},
		{"64M", 64 << 20, false},
		{" 8k ", 8 << 10, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-5m", 0, true},
		{"0", 0, true},
	}
	for _, tt := range tests {
		got, err := parseSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("parseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCPUKernelsDeterministic(t *testing.T) {
	for name, kernel := range cpuKernels {
		if first, second := kernel(), kernel(); first != second {
			t.Errorf("kernel %s not deterministic: %#x vs %#x", name, first, second)
		}
	}
}

func TestRunCPU_OpBound(t *testing.T) {
	rec := &fakeRecorder{maxOps: 5}
	inv := newInvocation(rec, nil)
	inv.Verify = true

	status := runCPU(context.Background(), inv)

	if status != stressor.StatusSuccess {
		t.Fatalf("expected success, got %s", status)
	}
	if rec.Ops() != 5 {
		t.Errorf("expected 5 ops, got %d", rec.Ops())
	}
	if _, ok := rec.metric("cpu-ops-per-sec"); !ok {
		t.Error("expected cpu-ops-per-sec metric")
	}
}

func TestRunCPU_UnknownMethod(t *testing.T) {
	rec := &fakeRecorder{maxOps: 5}
	inv := newInvocation(rec, map[string]string{"cpu-method": "quantum"})

	var detail string
	inv.OnVerifyFailure = func(d string) { detail = d }

	if status := runCPU(context.Background(), inv); status != stressor.StatusFailure {
		t.Fatalf("expected failure, got %s", status)
	}
	if detail == "" {
		t.Error("expected failure detail for unknown method")
	}
}

func TestRunCPU_SingleMethod(t *testing.T) {
	rec := &fakeRecorder{maxOps: 3}
	inv := newInvocation(rec, map[string]string{"cpu-method": "fib"})

	if status := runCPU(context.Background(), inv); status != stressor.StatusSuccess {
		t.Fatalf("expected success, got %s", status)
	}
	if rec.Ops() != 3 {
		t.Errorf("expected 3 ops, got %d", rec.Ops())
	}
}

func TestVM_SetupRunTeardown(t *testing.T) {
	desc, ok := stressor.Get("vm")
	if !ok {
		t.Fatal("vm not registered")
	}

	rec := &fakeRecorder{maxOps: 3}
	inv := newInvocation(rec, map[string]string{"vm-bytes": "64k"})
	inv.Verify = true

	if err := desc.Setup(inv); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if vmStateFor(inv) == nil {
		t.Fatal("setup did not allocate a buffer")
	}

	status := desc.Run(context.Background(), inv)
	if status != stressor.StatusSuccess {
		t.Fatalf("expected success, got %s", status)
	}
	if rec.Ops() != 3 {
		t.Errorf("expected 3 ops, got %d", rec.Ops())
	}
	if m, ok := rec.metric("vm-page-touch-rate"); !ok || m.reduce != telemetry.ReduceHarmonicMean {
		t.Errorf("expected harmonic vm-page-touch-rate metric, got %+v ok=%v", m, ok)
	}

	desc.Teardown(inv)
	if vmStateFor(inv) != nil {
		t.Error("teardown did not release the buffer")
	}
}

func TestVM_RunWithoutSetup(t *testing.T) {
	rec := &fakeRecorder{maxOps: 1}
	inv := newInvocation(rec, nil)

	if status := runVM(context.Background(), inv); status != stressor.StatusNoResource {
		t.Errorf("expected no_resource without setup, got %s", status)
	}
}

func TestVM_OOMAvoidanceHalvesBuffer(t *testing.T) {
	inv := newInvocation(&fakeRecorder{maxOps: 1}, map[string]string{"vm-bytes": "64k"})
	if err := setupVM(inv); err != nil {
		t.Fatalf("setup: %v", err)
	}
	full := len(vmStateFor(inv).buf)
	teardownVM(inv)

	avoiding := newInvocation(&fakeRecorder{maxOps: 1}, map[string]string{"vm-bytes": "64k"})
	avoiding.OOMAvoidance = true
	if err := setupVM(avoiding); err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer teardownVM(avoiding)

	if got := len(vmStateFor(avoiding).buf); got != full/2 {
		t.Errorf("expected buffer halved to %d under OOM avoidance, got %d", full/2, got)
	}
}

func TestVM_BadSizeOption(t *testing.T) {
	inv := newInvocation(&fakeRecorder{maxOps: 1}, map[string]string{"vm-bytes": "lots"})
	if err := setupVM(inv); err == nil {
		t.Error("expected setup error for invalid vm-bytes")
	}
}

func TestRunSleep_OpBound(t *testing.T) {
	rec := &fakeRecorder{maxOps: 2}
	inv := newInvocation(rec, map[string]string{"sleep-interval": "1ms"})

	if status := runSleep(context.Background(), inv); status != stressor.StatusSuccess {
		t.Fatalf("expected success, got %s", status)
	}
	if rec.Ops() != 2 {
		t.Errorf("expected 2 ops, got %d", rec.Ops())
	}
	if m, ok := rec.metric("sleep-overshoot-us"); !ok || m.reduce != telemetry.ReduceMax {
		t.Errorf("expected max sleep-overshoot-us metric, got %+v ok=%v", m, ok)
	}
}

func TestRunYield_OpBound(t *testing.T) {
	rec := &fakeRecorder{maxOps: 2}
	inv := newInvocation(rec, map[string]string{"yield-hops": "4"})
	inv.Verify = true

	if status := runYield(context.Background(), inv); status != stressor.StatusSuccess {
		t.Fatalf("expected success, got %s", status)
	}
	if rec.Ops() != 2 {
		t.Errorf("expected 2 ops, got %d", rec.Ops())
	}
}

func TestRunNoop_ContextCancel(t *testing.T) {
	rec := &fakeRecorder{}
	inv := newInvocation(rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if status := runNoop(ctx, inv); status != stressor.StatusSuccess {
		t.Fatalf("expected success on cancel, got %s", status)
	}
}
