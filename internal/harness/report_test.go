package harness

import (
	"strings"
	"testing"
	"time"

	"github.com/bc-dunia/stressforge/internal/stressor"
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

func sampleResult() *RunResult {
	started := time.Now().Add(-2 * time.Second)
	return &RunResult{
		RunID:    "run-abc",
		Started:  started,
		Finished: started.Add(2 * time.Second),
		TotalOps: 300,
		Workers: []WorkerResult{
			{Worker: "vm-1", Workload: "vm", Instance: 1, Status: stressor.StatusSuccess, Reason: ReasonNormal, Ops: 100, Restarts: 1},
			{Worker: "cpu-0", Workload: "cpu", Instance: 0, Status: stressor.StatusSuccess, Reason: ReasonNormal, Ops: 200},
		},
		Metrics: []telemetry.MetricReport{
			{Label: "cpu-ops-per-sec", Reduce: telemetry.ReduceSum, Value: 123.4, Samples: 2, Slots: 2},
		},
	}
}

func TestWriteReport_Passed(t *testing.T) {
	var sb strings.Builder
	if err := WriteReport(&sb, sampleResult()); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	out := sb.String()

	for _, want := range []string{
		"run run-abc",
		"300 bogo-ops",
		"cpu-0",
		"vm-1",
		"WORKLOAD",
		"cpu-ops-per-sec",
		"verdict: passed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	// Workers sort by workload then instance.
	if strings.Index(out, "cpu-0") > strings.Index(out, "vm-1") {
		t.Errorf("worker rows out of order:\n%s", out)
	}
}

func TestWriteReport_EscalatedVerdict(t *testing.T) {
	r := sampleResult()
	r.Failed = true
	r.Escalated = true
	r.Failures = 9

	var sb strings.Builder
	if err := WriteReport(&sb, r); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	out := sb.String()

	if !strings.Contains(out, "verdict: FAILED (escalated after 9 verification failures)") {
		t.Errorf("unexpected verdict line:\n%s", out)
	}
}
