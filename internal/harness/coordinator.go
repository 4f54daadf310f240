// Package harness implements the run orchestration: worker
// supervision, the start barrier, failure escalation, spawn retry and
// the final verdict.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/bc-dunia/stressforge/internal/config"
	"github.com/bc-dunia/stressforge/internal/events"
	"github.com/bc-dunia/stressforge/internal/hostinfo"
	"github.com/bc-dunia/stressforge/internal/otel"
	"github.com/bc-dunia/stressforge/internal/stressor"
	"github.com/bc-dunia/stressforge/internal/telemetry"
)

// Coordinator owns one run end to end: it allocates the slot table,
// spawns one supervisor per worker, releases the start barrier, polls
// run health, reaps every worker and reduces the final verdict. A
// Coordinator is single-use.
type Coordinator struct {
	cfg      *config.RunConfig
	registry *stressor.Registry
	events   *events.EventLogger

	// ExecPath overrides the binary forked workers re-execute. Empty
	// means os.Executable.
	ExecPath string

	// Classifier attributes worker signal deaths to the OOM reclaimer.
	// Nil selects DefaultOOMClassifier.
	Classifier OOMClassifier

	// SpawnGate, when set, is invoked before each worker starts and may
	// return ErrResourceExhausted to exercise the spawn retry path.
	SpawnGate func(workload string, instance int) error
}

// NewCoordinator creates a coordinator for one run.
func NewCoordinator(cfg *config.RunConfig, registry *stressor.Registry, log *events.EventLogger) *Coordinator {
	if registry == nil {
		registry = stressor.DefaultRegistry
	}
	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		events:   log,
	}
}

// workerPlan is one resolved worker slot before spawn.
type workerPlan struct {
	desc      *stressor.Descriptor
	selection config.WorkloadSelection
	slotIndex int
	instance  int
}

// StartRun executes the configured run to completion and returns the
// aggregated result. The context bounds the whole run in addition to
// the configured timeout.
func (c *Coordinator) StartRun(ctx context.Context) (*RunResult, error) {
	if c.cfg == nil {
		return nil, fmt.Errorf("harness: nil run config")
	}
	c.cfg.Normalize()
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := c.events
	if log == nil {
		log = events.NewEventLogger(runID)
	}
	events.SetGlobalEventLogger(log)

	host := hostinfo.Probe()

	// Resolve selections against the workload table. Unsupported
	// workloads are reported without allocating slots; they never run.
	var plans []workerPlan
	var skipped []WorkerResult
	var assignments []telemetry.SlotAssignment
	for _, sel := range c.cfg.Workloads {
		desc, ok := c.registry.Get(sel.Name)
		if !ok {
			return nil, fmt.Errorf("harness: unknown workload %q", sel.Name)
		}
		if supported, reason := desc.IsSupported(host); !supported {
			log.LogUnsupported(sel.Name, reason)
			for i := 0; i < sel.Instances; i++ {
				skipped = append(skipped, WorkerResult{
					Worker:   fmt.Sprintf("%s-%d", sel.Name, i),
					Workload: sel.Name,
					Instance: i,
					Status:   stressor.StatusUnsupported,
					Reason:   ReasonSkipped,
				})
			}
			continue
		}
		for i := 0; i < sel.Instances; i++ {
			plans = append(plans, workerPlan{
				desc:      desc,
				selection: sel,
				slotIndex: len(plans),
				instance:  i,
			})
		}
		assignments = append(assignments, telemetry.SlotAssignment{
			Workload:  sel.Name,
			Instances: sel.Instances,
		})
	}

	control := telemetry.NewGlobalControl()
	control.SetOOMAvoidance(c.cfg.OOMAvoidance)
	region := telemetry.NewRegion(control, assignments)
	escalation := NewFailureEscalation(c.cfg.EscalationThreshold, control, log)

	classifier := c.Classifier
	if classifier == nil {
		classifier = DefaultOOMClassifier()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.cfg.Timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, c.cfg.Timeout)
		defer tcancel()
	}

	if c.cfg.HandleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				log.LogInterrupt(sig.String())
				control.RequestStop()
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	tracer := otel.GetGlobalTracer()
	runCtx, runSpan := tracer.StartRunSpan(runCtx, runID, len(plans))
	defer runSpan.End()

	result := &RunResult{
		RunID:   runID,
		Started: time.Now(),
	}

	barrier := NewStartBarrier(len(plans), c.cfg.StartupTimeout)
	go func() {
		select {
		case <-barrier.Done():
			log.LogBarrierRelease(barrier.Arrived(), barrier.Expected(), barrier.TimedOut())
		case <-runCtx.Done():
		}
	}()

	results := make([]WorkerResult, len(plans))
	var wg sync.WaitGroup
	for _, plan := range plans {
		wg.Add(1)
		go func(plan workerPlan) {
			defer wg.Done()
			results[plan.slotIndex] = c.superviseSlot(runCtx, plan, region, barrier, escalation, log, host, classifier, runID)
		}(plan)
	}

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		c.monitor(runCtx, cancel, plans, region, control, escalation, log)
	}()

	wg.Wait()
	control.RequestStop()
	cancel()
	<-monitorDone

	result.Finished = time.Now()
	result.Workers = append(results, skipped...)
	result.TotalOps = region.TotalOps()
	result.Metrics = telemetry.Aggregate(region)
	result.Escalated = escalation.Escalated()
	result.Failures = escalation.Failures()

	for _, wr := range result.Workers {
		if wr.Failed() {
			result.Failed = true
			break
		}
	}
	if result.Escalated {
		result.Failed = true
	}

	metrics := otel.GetGlobalMetrics()
	metrics.SetTotalOps(result.TotalOps)

	log.LogRunVerdict(result.Failed, result.TotalOps, result.Failures)
	return result, nil
}

// superviseSlot runs one slot's supervisor, respawning after OOM kills
// up to the configured limit. The coordinator owns the slot's final
// transition to StateExited.
func (c *Coordinator) superviseSlot(
	ctx context.Context,
	plan workerPlan,
	region *telemetry.Region,
	barrier *StartBarrier,
	escalation *FailureEscalation,
	log *events.EventLogger,
	host hostinfo.Info,
	classifier OOMClassifier,
	runID string,
) WorkerResult {
	slot := region.Slot(plan.slotIndex)
	maxOps := plan.selection.MaxOps
	handle := region.Handle(plan.slotIndex, maxOps)
	fork := c.cfg.ForkWorkers && plan.desc.ForkPerWorker

	tracer := otel.GetGlobalTracer()
	ctx, span := tracer.StartWorkerSpan(ctx, otel.WorkerSpanOptions{
		RunID:    runID,
		Worker:   slot.Name(),
		Workload: plan.desc.Name,
		Instance: plan.instance,
		Forked:   fork,
	})
	defer span.End()

	metrics := otel.GetGlobalMetrics()
	metrics.WorkerStarted(ctx, plan.desc.Name)
	defer metrics.WorkerStopped(ctx, plan.desc.Name)

	policy := SpawnPolicy{
		MaxAttempts:     c.cfg.SpawnAttempts,
		InitialInterval: c.cfg.SpawnInitialBackoff,
		MaxInterval:     c.cfg.SpawnMaxBackoff,
	}

	var gate func() error
	if c.SpawnGate != nil {
		gate = func() error {
			return c.SpawnGate(plan.desc.Name, plan.instance)
		}
	}

	restarts := 0
	var baseOps int64
	var result WorkerResult
	for {
		sup := &Supervisor{
			Desc:         plan.desc,
			Slot:         slot,
			Handle:       handle,
			Barrier:      barrier,
			Escalation:   escalation,
			Events:       log,
			Host:         host,
			Verify:       c.cfg.Verify,
			OOMAvoidance: region.Control().OOMAvoidance(),
			Options:      plan.selection.Options,
			Instances:    plan.selection.Instances,
			UnwindGrace:  c.cfg.UnwindGrace,
			SpawnPolicy:  policy,
			Fork:         fork,
			ExecPath:     c.ExecPath,
			BaseOps:      baseOps,
			Classifier:   classifier,
			SpawnGate:    gate,
		}

		result = sup.Run(ctx)
		result.Restarts = restarts

		if result.Reason == ReasonOOMKilled &&
			plan.desc.RestartOnOOM &&
			restarts < c.cfg.OOMRestartLimit &&
			ctx.Err() == nil {
			restarts++
			baseOps = slot.Ops()
			log.LogOOMRestart(result.Worker, restarts)
			otel.RecordRestart(span, restarts, result.Reason.String())
			metrics.RecordRestart(ctx, plan.desc.Name)
			continue
		}
		break
	}

	_ = slot.Transition(telemetry.StateExited)
	metrics.RecordOps(ctx, plan.desc.Name, result.Ops)
	if result.Err != nil {
		otel.RecordError(span, result.Err, result.Reason.String(), false)
	}
	log.LogWorkerExit(result.Worker, result.Status.String(), result.Reason.String(), result.Ops)
	return result
}

// monitor polls run health until the run context ends: it converts an
// escalation abort into cancellation, stops the run once every bounded
// worker has met its op bound, and logs deadline expiry.
func (c *Coordinator) monitor(
	ctx context.Context,
	cancel context.CancelFunc,
	plans []workerPlan,
	region *telemetry.Region,
	control *telemetry.GlobalControl,
	escalation *FailureEscalation,
	log *events.EventLogger,
) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && c.cfg.Timeout > 0 {
				log.LogDeadline(c.cfg.Timeout.Milliseconds())
			}
			return
		case <-ticker.C:
		}

		if control.AbortRequested() || escalation.Escalated() {
			cancel()
			return
		}
		if allBoundsMet(plans, region) {
			control.RequestStop()
		}
	}
}

// allBoundsMet reports whether every slot carries an op bound and has
// reached it. Unbounded slots make it trivially false.
func allBoundsMet(plans []workerPlan, region *telemetry.Region) bool {
	if len(plans) == 0 {
		return false
	}
	for _, plan := range plans {
		if plan.selection.MaxOps <= 0 {
			return false
		}
		if region.Slot(plan.slotIndex).Ops() < plan.selection.MaxOps {
			return false
		}
	}
	return true
}
