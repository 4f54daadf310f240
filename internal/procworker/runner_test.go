package procworker

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/bc-dunia/stressforge/internal/telemetry"
)

func decodeFrames(t *testing.T, buf *bytes.Buffer) []Frame {
	t.Helper()
	var frames []Frame
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			t.Fatalf("malformed frame %q: %v", scanner.Text(), err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestPipeRecorder_FlushInterval(t *testing.T) {
	var buf bytes.Buffer
	rec := NewPipeRecorder(&buf, 0, 10)

	for i := 0; i < 25; i++ {
		rec.RecordOp()
	}

	frames := decodeFrames(t, &buf)
	if len(frames) != 2 {
		t.Fatalf("expected 2 counter frames for 25 ops at flush 10, got %d", len(frames))
	}
	if frames[0].Ops != 10 || frames[1].Ops != 20 {
		t.Errorf("expected absolute counters 10 and 20, got %d and %d", frames[0].Ops, frames[1].Ops)
	}

	rec.FlushOps()
	frames = decodeFrames(t, &buf)
	if last := frames[len(frames)-1]; last.Ops != 25 {
		t.Errorf("expected final counter 25, got %d", last.Ops)
	}
}

func TestPipeRecorder_ShouldContinueOpBound(t *testing.T) {
	var buf bytes.Buffer
	rec := NewPipeRecorder(&buf, 3, 100)

	for rec.ShouldContinue() {
		rec.RecordOp()
	}

	if rec.Ops() != 3 {
		t.Errorf("expected exactly 3 ops, got %d", rec.Ops())
	}
}

func TestPipeRecorder_StopFlag(t *testing.T) {
	var buf bytes.Buffer
	rec := NewPipeRecorder(&buf, 0, 100)

	if !rec.ShouldContinue() {
		t.Fatal("expected ShouldContinue true before stop")
	}
	rec.Stop()
	if rec.ShouldContinue() {
		t.Fatal("expected ShouldContinue false after stop")
	}
}

func TestPipeRecorder_MetricFrame(t *testing.T) {
	var buf bytes.Buffer
	rec := NewPipeRecorder(&buf, 0, 100)

	if err := rec.RecordMetric("rate", 12.5, telemetry.ReduceSum); err != nil {
		t.Fatalf("record: %v", err)
	}

	frames := decodeFrames(t, &buf)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.Type != FrameMetric || f.Label != "rate" || f.Value != 12.5 || f.Reduce != telemetry.ReduceSum {
		t.Errorf("unexpected metric frame %+v", f)
	}
}

func TestPipeRecorder_HarmonicRejectsNonPositive(t *testing.T) {
	var buf bytes.Buffer
	rec := NewPipeRecorder(&buf, 0, 100)

	if err := rec.RecordMetric("rate", 0, telemetry.ReduceHarmonicMean); err == nil {
		t.Fatal("expected rejection of non-positive harmonic sample")
	}
	if buf.Len() != 0 {
		t.Error("rejected sample must not emit a frame")
	}
}

func TestPipeRecorder_FailFrame(t *testing.T) {
	var buf bytes.Buffer
	rec := NewPipeRecorder(&buf, 0, 100)

	rec.Fail("page 3 corrupt")

	frames := decodeFrames(t, &buf)
	if len(frames) != 1 || frames[0].Type != FrameFail || frames[0].Detail != "page 3 corrupt" {
		t.Errorf("unexpected fail frame %+v", frames)
	}
}

func TestPipeRecorder_RoundTripThroughPump(t *testing.T) {
	var buf bytes.Buffer
	rec := NewPipeRecorder(&buf, 0, 5)

	for i := 0; i < 12; i++ {
		rec.RecordOp()
	}
	if err := rec.RecordMetric("rate", 4, telemetry.ReduceMax); err != nil {
		t.Fatalf("record: %v", err)
	}
	rec.FlushOps()

	handle, slot := newTestHandle()
	p := NewPump(handle, 0)
	p.Run(&buf)

	if slot.Ops() != 12 {
		t.Errorf("expected 12 ops after pump, got %d", slot.Ops())
	}
}
