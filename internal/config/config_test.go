package config

import (
	"testing"
	"time"
)

func TestRunConfig_NormalizeFillsDefaults(t *testing.T) {
	cfg := &RunConfig{
		Workloads: []WorkloadSelection{{Name: "cpu", Instances: 1}},
		MaxOps:    100,
	}
	cfg.Normalize()

	if cfg.PollInterval != DefaultPollInterval {
		t.Errorf("expected default poll interval, got %v", cfg.PollInterval)
	}
	if cfg.StartupTimeout != DefaultStartupTimeout {
		t.Errorf("expected default startup timeout, got %v", cfg.StartupTimeout)
	}
	if cfg.UnwindGrace != DefaultUnwindGrace {
		t.Errorf("expected default unwind grace, got %v", cfg.UnwindGrace)
	}
	if cfg.SpawnAttempts != DefaultSpawnAttempts {
		t.Errorf("expected default spawn attempts, got %d", cfg.SpawnAttempts)
	}
}

func TestRunConfig_NormalizeMaxOpsFallback(t *testing.T) {
	cfg := &RunConfig{
		MaxOps: 500,
		Workloads: []WorkloadSelection{
			{Name: "cpu", Instances: 1},
			{Name: "vm", Instances: 1, MaxOps: 100},
		},
	}
	cfg.Normalize()

	if cfg.Workloads[0].MaxOps != 500 {
		t.Errorf("expected run-wide fallback 500, got %d", cfg.Workloads[0].MaxOps)
	}
	if cfg.Workloads[1].MaxOps != 100 {
		t.Errorf("per-workload bound overwritten: %d", cfg.Workloads[1].MaxOps)
	}
}

func TestRunConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RunConfig
		wantErr bool
	}{
		{
			name:    "no workloads",
			cfg:     RunConfig{},
			wantErr: true,
		},
		{
			name: "empty workload name",
			cfg: RunConfig{
				Timeout:   time.Second,
				Workloads: []WorkloadSelection{{Instances: 1}},
			},
			wantErr: true,
		},
		{
			name: "zero instances",
			cfg: RunConfig{
				Timeout:   time.Second,
				Workloads: []WorkloadSelection{{Name: "cpu"}},
			},
			wantErr: true,
		},
		{
			name: "negative max-ops",
			cfg: RunConfig{
				Timeout:   time.Second,
				Workloads: []WorkloadSelection{{Name: "cpu", Instances: 1, MaxOps: -1}},
			},
			wantErr: true,
		},
		{
			name: "negative timeout",
			cfg: RunConfig{
				Timeout:   -time.Second,
				Workloads: []WorkloadSelection{{Name: "cpu", Instances: 1, MaxOps: 10}},
			},
			wantErr: true,
		},
		{
			name: "unbounded run ended by interrupt",
			cfg: RunConfig{
				Workloads: []WorkloadSelection{{Name: "cpu", Instances: 1}},
			},
			wantErr: false,
		},
		{
			name: "bounded by timeout",
			cfg: RunConfig{
				Timeout:   time.Second,
				Workloads: []WorkloadSelection{{Name: "cpu", Instances: 1}},
			},
			wantErr: false,
		},
		{
			name: "bounded by op count",
			cfg: RunConfig{
				Workloads: []WorkloadSelection{{Name: "cpu", Instances: 1, MaxOps: 10}},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultRunConfig(t *testing.T) {
	cfg := DefaultRunConfig()
	if cfg.EscalationThreshold != DefaultEscalationThreshold {
		t.Errorf("expected default escalation threshold, got %d", cfg.EscalationThreshold)
	}
	if !cfg.ForkWorkers {
		t.Error("expected fork workers enabled by default")
	}
	if !cfg.HandleSignals {
		t.Error("expected signal handling enabled by default")
	}
}
