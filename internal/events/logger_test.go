package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("malformed log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestEventLogger_RunIDOnEveryEvent(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLoggerWithWriter("run-123", &buf)

	el.LogWorkerSpawned("cpu-0", 4242, "forked")
	el.LogWorkerExit("cpu-0", "success", "normal", 1000)

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 events, got %d", len(lines))
	}
	for i, line := range lines {
		if line["run_id"] != "run-123" {
			t.Errorf("event %d missing run_id: %v", i, line)
		}
	}
	if lines[0]["msg"] != "worker_spawned" || lines[0]["pid"] != float64(4242) {
		t.Errorf("unexpected spawn event: %v", lines[0])
	}
	if lines[1]["msg"] != "worker_exit" || lines[1]["bogo_ops"] != float64(1000) {
		t.Errorf("unexpected exit event: %v", lines[1])
	}
}

func TestEventLogger_VerifyFailureCountsFatal(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLoggerWithWriter("run-123", &buf)

	if el.FatalCount() != 0 {
		t.Fatalf("expected 0 fatals at start, got %d", el.FatalCount())
	}

	el.LogVerifyFailure("vm-1", "page 3 corrupt")
	el.LogVerifyFailure("vm-1", "page 9 corrupt")

	if el.FatalCount() != 2 {
		t.Errorf("expected 2 fatals, got %d", el.FatalCount())
	}

	lines := decodeLines(t, &buf)
	if lines[0]["level"] != "ERROR" {
		t.Errorf("expected ERROR level, got %v", lines[0]["level"])
	}
	if lines[0]["worker"] != "vm-1" || lines[0]["detail"] != "page 3 corrupt" {
		t.Errorf("unexpected verify failure event: %v", lines[0])
	}
}

func TestEventLogger_SpawnRetry(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLoggerWithWriter("run-123", &buf)

	el.LogSpawnRetry("cpu-2", 3, 400, errors.New("fork: EAGAIN"))

	lines := decodeLines(t, &buf)
	if lines[0]["msg"] != "spawn_retry" || lines[0]["attempt"] != float64(3) {
		t.Errorf("unexpected retry event: %v", lines[0])
	}
	if lines[0]["backoff_ms"] != float64(400) {
		t.Errorf("expected backoff 400ms, got %v", lines[0]["backoff_ms"])
	}
}

func TestEventLogger_RunVerdict(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLoggerWithWriter("run-123", &buf)

	el.LogRunVerdict(true, 123456, 9)

	lines := decodeLines(t, &buf)
	line := lines[0]
	if line["msg"] != "run_verdict" || line["failed"] != true {
		t.Errorf("unexpected verdict event: %v", line)
	}
	if line["total_bogo_ops"] != float64(123456) || line["verify_failures"] != float64(9) {
		t.Errorf("unexpected verdict counters: %v", line)
	}
}

func TestGlobalEventLogger(t *testing.T) {
	defer SetGlobalEventLogger(nil)

	if GetGlobalEventLogger() == nil {
		t.Fatal("expected noop fallback, got nil")
	}

	var buf bytes.Buffer
	el := NewEventLoggerWithWriter("run-xyz", &buf)
	SetGlobalEventLogger(el)
	if GetGlobalEventLogger() != el {
		t.Error("expected configured global logger")
	}
}

func TestNoopEventLogger_Shared(t *testing.T) {
	if NoopEventLogger() != NoopEventLogger() {
		t.Error("expected shared noop instance")
	}
	// Writing to the noop logger must be safe and side-effect free
	// aside from the fatal counter.
	NoopEventLogger().LogWorkerSpawned("cpu-0", 1, "inline")
}
