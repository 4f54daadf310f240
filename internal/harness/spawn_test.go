package harness

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bc-dunia/stressforge/internal/events"
)

func testPolicy(attempts int) SpawnPolicy {
	return SpawnPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestRetrySpawn_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := retrySpawn(context.Background(), testPolicy(3), nil, "cpu-0", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetrySpawn_RetriesTransient(t *testing.T) {
	calls := 0
	err := retrySpawn(context.Background(), testPolicy(5), nil, "cpu-0", func() error {
		calls++
		if calls < 3 {
			return ErrResourceExhausted
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetrySpawn_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retrySpawn(context.Background(), testPolicy(4), nil, "cpu-0", func() error {
		calls++
		return ErrResourceExhausted
	})
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestRetrySpawn_PermanentErrorNoRetry(t *testing.T) {
	boom := errors.New("executable not found")
	calls := 0
	err := retrySpawn(context.Background(), testPolicy(5), nil, "cpu-0", func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetrySpawn_NilLoggerUsesGlobal(t *testing.T) {
	var buf bytes.Buffer
	events.SetGlobalEventLogger(events.NewEventLoggerWithWriter("run-spawn", &buf))
	defer events.SetGlobalEventLogger(nil)

	calls := 0
	err := retrySpawn(context.Background(), testPolicy(3), nil, "cpu-0", func() error {
		calls++
		if calls == 1 {
			return ErrResourceExhausted
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !strings.Contains(buf.String(), "spawn_retry") {
		t.Errorf("expected spawn_retry event through the global logger, got %q", buf.String())
	}
}

func TestRetrySpawn_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retrySpawn(ctx, testPolicy(5), nil, "cpu-0", func() error {
		return ErrResourceExhausted
	})
	if err == nil {
		t.Fatal("expected error under cancelled context")
	}
}
