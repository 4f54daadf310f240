package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bc-dunia/stressforge/internal/config"
	"github.com/bc-dunia/stressforge/internal/harness"
	"github.com/bc-dunia/stressforge/internal/otel"
	"github.com/bc-dunia/stressforge/internal/procworker"
	"github.com/bc-dunia/stressforge/internal/stressor"
	"github.com/bc-dunia/stressforge/internal/workload"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	switch args[0] {
	case harness.WorkerMode:
		// Hidden mode: this process is a forked worker.
		return procworker.Main(stressor.DefaultRegistry, args[1:])
	case workload.ChildExitMode:
		// Hidden mode: fork-churn child, exits immediately.
		return 0
	case "run":
		return runCmd(args[1:])
	case "list":
		return listCmd()
	case "version":
		fmt.Printf("stressforge %s\n", version)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: stressforge <command> [flags]

Commands:
  run      execute a stress run
  list     list available workloads
  version  print the version

Run 'stressforge run -h' for run flags.
`)
}

// workloadFlags accumulates repeated --workload name[:instances]
// selections.
type workloadFlags []config.WorkloadSelection

func (w *workloadFlags) String() string { return "" }

func (w *workloadFlags) Set(v string) error {
	name, countSpec, hasCount := strings.Cut(v, ":")
	if name == "" {
		return fmt.Errorf("workload name missing in %q", v)
	}
	instances := 1
	if hasCount {
		n, err := strconv.Atoi(countSpec)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid instance count in %q", v)
		}
		instances = n
	}
	*w = append(*w, config.WorkloadSelection{Name: name, Instances: instances})
	return nil
}

// optionFlags accumulates repeated --option name=value overrides.
type optionFlags map[string]string

func (o optionFlags) String() string { return "" }

func (o optionFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("option must be name=value, got %q", v)
	}
	o[name] = value
	return nil
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var workloads workloadFlags
	fs.Var(&workloads, "workload", "workload selection name[:instances] (repeatable)")
	options := optionFlags{}
	fs.Var(options, "option", "workload option name=value (repeatable)")

	timeout := fs.Duration("timeout", 0, "global wall-clock deadline, 0 for none")
	maxOps := fs.Int64("max-ops", 0, "per-worker bogo-op bound, 0 for unbounded")
	verify := fs.Bool("verify", false, "enable workload self-verification")
	escalation := fs.Int64("escalation-threshold", config.DefaultEscalationThreshold, "verification failures before abort, 0 to disable")
	pollInterval := fs.Duration("poll-interval", config.DefaultPollInterval, "coordinator poll interval")
	startupTimeout := fs.Duration("startup-timeout", config.DefaultStartupTimeout, "start barrier timeout")
	unwindGrace := fs.Duration("unwind-grace", config.DefaultUnwindGrace, "voluntary-exit window after termination request")
	oomRestartLimit := fs.Int("oom-restart-limit", config.DefaultOOMRestartLimit, "respawns per OOM-killed worker")
	oomAvoidance := fs.Bool("oom-avoidance", false, "hint adaptive workloads to back off allocations")
	noFork := fs.Bool("no-fork", false, "run every worker in-process")

	otelExporter := fs.String("otel-exporter", "none", "telemetry exporter: none, stdout, otlp-grpc or otlp-http")
	otelEndpoint := fs.String("otel-endpoint", "", "OTLP endpoint")
	otelInsecure := fs.Bool("otel-insecure", false, "disable TLS for OTLP")
	traceSample := fs.Float64("trace-sample", 1.0, "trace sampling rate")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.DefaultRunConfig()
	cfg.Workloads = workloads
	cfg.Timeout = *timeout
	cfg.MaxOps = *maxOps
	cfg.Verify = *verify
	cfg.EscalationThreshold = *escalation
	cfg.PollInterval = *pollInterval
	cfg.StartupTimeout = *startupTimeout
	cfg.UnwindGrace = *unwindGrace
	cfg.OOMRestartLimit = *oomRestartLimit
	cfg.OOMAvoidance = *oomAvoidance
	cfg.ForkWorkers = !*noFork
	for i := range cfg.Workloads {
		cfg.Workloads[i].Options = options
	}

	ctx := context.Background()

	if exporter := otel.ExporterType(*otelExporter); exporter != otel.ExporterNone {
		tracer, err := otel.NewTracer(ctx, &otel.Config{
			Enabled:        true,
			ServiceName:    "stressforge",
			ServiceVersion: version,
			ExporterType:   exporter,
			OTLPEndpoint:   *otelEndpoint,
			OTLPInsecure:   *otelInsecure,
			SampleRate:     *traceSample,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "tracer init: %v\n", err)
			return 1
		}
		otel.SetGlobalTracer(tracer)
		defer shutdownQuiet(tracer.Shutdown)

		metrics, err := otel.NewMetrics(ctx, &otel.MetricsConfig{
			Enabled:        true,
			ServiceName:    "stressforge",
			ServiceVersion: version,
			ExporterType:   exporter,
			OTLPEndpoint:   *otelEndpoint,
			OTLPInsecure:   *otelInsecure,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "metrics init: %v\n", err)
			return 1
		}
		otel.SetGlobalMetrics(metrics)
		defer shutdownQuiet(metrics.Shutdown)
	}

	coord := harness.NewCoordinator(cfg, stressor.DefaultRegistry, nil)
	result, err := coord.StartRun(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stressforge: %v\n", err)
		return 1
	}

	if err := harness.WriteReport(os.Stdout, result); err != nil {
		fmt.Fprintf(os.Stderr, "stressforge: report: %v\n", err)
		return 1
	}
	return result.ExitCode()
}

func shutdownQuiet(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = fn(ctx)
}

func listCmd() int {
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKLOAD\tCLASSES\tOPTIONS\tFLAGS")
	for _, d := range stressor.DefaultRegistry.List() {
		var opts []string
		for _, o := range d.Options {
			opts = append(opts, fmt.Sprintf("%s=%s", o.Name, o.Default))
		}
		var flags []string
		if d.ForkPerWorker {
			flags = append(flags, "fork")
		}
		if d.RestartOnOOM {
			flags = append(flags, "oom-restart")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			d.Name,
			strings.Join(d.Tags.Strings(), ","),
			strings.Join(opts, " "),
			strings.Join(flags, ","),
		)
	}
	tw.Flush()
	return 0
}
