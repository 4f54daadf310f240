// Package otel provides OpenTelemetry metrics and tracing integration
// for stressforge.
package otel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "stressforge",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics functionality with
// stressforge-specific helpers.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error
	mu            sync.RWMutex

	totalOps       atomic.Int64
	opsGauge       metric.Int64ObservableGauge
	opsGaugeReg    metric.Registration
	bogoOps        metric.Int64Counter
	activeWorkers  metric.Int64UpDownCounter
	workerRestarts metric.Int64Counter
	verifyFailures metric.Int64Counter
}

// globalMetrics is the singleton metrics instance.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		// Use no-op meter when disabled
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// createResource creates the OpenTelemetry resource with service information.
func (m *Metrics) createResource(cfg *MetricsConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	m.bogoOps, err = m.meter.Int64Counter(
		"stressforge.bogo_ops",
		metric.WithDescription("Count of completed bogo-operations by workload"),
	)
	if err != nil {
		return fmt.Errorf("failed to create bogo-op counter: %w", err)
	}

	m.activeWorkers, err = m.meter.Int64UpDownCounter(
		"stressforge.workers.active",
		metric.WithDescription("Number of live workers"),
	)
	if err != nil {
		return fmt.Errorf("failed to create active workers counter: %w", err)
	}

	m.workerRestarts, err = m.meter.Int64Counter(
		"stressforge.workers.restarts",
		metric.WithDescription("Count of worker respawns after OOM kills"),
	)
	if err != nil {
		return fmt.Errorf("failed to create worker restart counter: %w", err)
	}

	m.verifyFailures, err = m.meter.Int64Counter(
		"stressforge.verify_failures",
		metric.WithDescription("Count of workload verification failures"),
	)
	if err != nil {
		return fmt.Errorf("failed to create verify failure counter: %w", err)
	}

	m.opsGauge, err = m.meter.Int64ObservableGauge(
		"stressforge.bogo_ops.total",
		metric.WithDescription("Total bogo-operations across all workers"),
	)
	if err != nil {
		return fmt.Errorf("failed to create total ops gauge: %w", err)
	}

	m.opsGaugeReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.opsGauge, m.totalOps.Load())
			return nil
		},
		m.opsGauge,
	)
	if err != nil {
		return fmt.Errorf("failed to register total ops gauge callback: %w", err)
	}

	return nil
}

// RecordOps adds completed bogo-ops for a workload.
func (m *Metrics) RecordOps(ctx context.Context, workload string, n int64) {
	if m.bogoOps == nil {
		return
	}

	m.bogoOps.Add(ctx, n, metric.WithAttributes(
		attribute.String("workload", workload),
	))
}

// WorkerStarted increments the active workers counter.
func (m *Metrics) WorkerStarted(ctx context.Context, workload string) {
	if m.activeWorkers == nil {
		return
	}

	m.activeWorkers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workload", workload),
	))
}

// WorkerStopped decrements the active workers counter.
func (m *Metrics) WorkerStopped(ctx context.Context, workload string) {
	if m.activeWorkers == nil {
		return
	}

	m.activeWorkers.Add(ctx, -1, metric.WithAttributes(
		attribute.String("workload", workload),
	))
}

// RecordRestart increments the OOM restart counter.
func (m *Metrics) RecordRestart(ctx context.Context, workload string) {
	if m.workerRestarts == nil {
		return
	}

	m.workerRestarts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workload", workload),
	))
}

// RecordVerifyFailure increments the verification failure counter.
func (m *Metrics) RecordVerifyFailure(ctx context.Context, workload string) {
	if m.verifyFailures == nil {
		return
	}

	m.verifyFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workload", workload),
	))
}

// SetTotalOps publishes the run-wide bogo-op total for the observable
// gauge. This is thread-safe and read by the gauge callback.
func (m *Metrics) SetTotalOps(n int64) {
	m.totalOps.Store(n)
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opsGaugeReg != nil {
		if err := m.opsGaugeReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister total ops callback: %w", err)
		}
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the global metrics instance.
// Returns a no-op metrics instance if none has been set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		return NoopMetrics()
	}

	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
