package stressor

import (
	"context"
	"testing"
)

func testDescriptor(name string) *Descriptor {
	return &Descriptor{
		Name: name,
		Run: func(ctx context.Context, inv *Invocation) ExitStatus {
			return StatusSuccess
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(testDescriptor("cpu")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("expected count 1, got %d", r.Count())
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(testDescriptor("cpu")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(testDescriptor("cpu")); err == nil {
		t.Fatal("expected error for duplicate registration")
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(nil); err == nil {
		t.Error("expected error for nil descriptor")
	}
	if err := r.Register(&Descriptor{Run: testDescriptor("x").Run}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register(&Descriptor{Name: "norun"}); err == nil {
		t.Error("expected error for nil run function")
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testDescriptor("vm")); err != nil {
		t.Fatalf("register: %v", err)
	}

	d, ok := r.Get("vm")
	if !ok || d.Name != "vm" {
		t.Errorf("expected vm descriptor, got %v ok=%v", d, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("expected miss for unknown name")
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"vm", "cpu", "sleep"} {
		if err := r.Register(testDescriptor(name)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	names := r.Names()
	want := []string{"cpu", "sleep", "vm"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	r := NewRegistry()
	defer func() {
		if recover() == nil {
			t.Error("expected panic from MustRegister on invalid descriptor")
		}
	}()
	r.MustRegister(&Descriptor{})
}

func TestDescriptor_IsSupportedNilProbe(t *testing.T) {
	d := testDescriptor("cpu")
	if ok, _ := d.IsSupported(hostInfoStub()); !ok {
		t.Error("nil supported probe must default to supported")
	}
}

func TestExitStatus_RoundTrip(t *testing.T) {
	for _, status := range []ExitStatus{StatusSuccess, StatusFailure, StatusUnsupported, StatusNoResource} {
		if got := StatusFromExitCode(status.ExitCode()); got != status {
			t.Errorf("round trip failed for %s: got %s", status, got)
		}
	}
	if got := StatusFromExitCode(42); got != StatusFailure {
		t.Errorf("unknown exit code must classify as failure, got %s", got)
	}
}

func TestTagSet(t *testing.T) {
	tags := NewTagSet(ClassVM, ClassMemory)
	if !tags.Has(ClassVM) || !tags.Has(ClassMemory) {
		t.Error("expected tag membership")
	}
	if tags.Has(ClassCPU) {
		t.Error("unexpected cpu tag")
	}
	strs := tags.Strings()
	if len(strs) != 2 || strs[0] != "memory" || strs[1] != "vm" {
		t.Errorf("expected sorted tag names, got %v", strs)
	}
}
