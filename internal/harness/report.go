package harness

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"
)

// WriteReport renders the human-readable run summary: the per-worker
// table, the reduced metrics and the verdict line.
func WriteReport(w io.Writer, r *RunResult) error {
	elapsed := r.Elapsed()
	var rate float64
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(r.TotalOps) / secs
	}
	fmt.Fprintf(w, "run %s: %s, %d workers, %d bogo-ops (%.1f/s)\n\n",
		r.RunID, elapsed.Round(time.Millisecond), len(r.Workers), r.TotalOps, rate)

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tSTATUS\tREASON\tBOGO-OPS\tRESTARTS")
	for _, wr := range sortedWorkers(r.Workers) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
			wr.Worker, wr.Status, wr.Reason, wr.Ops, wr.Restarts)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	totals := r.WorkloadOps()
	if len(totals) > 0 {
		names := make([]string, 0, len(totals))
		for name := range totals {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "WORKLOAD\tBOGO-OPS")
		for _, name := range names {
			fmt.Fprintf(tw, "%s\t%d\n", name, totals[name])
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Metrics) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "METRIC\tREDUCTION\tVALUE\tSAMPLES\tWORKERS")
		for _, m := range r.Metrics {
			fmt.Fprintf(tw, "%s\t%s\t%.4g\t%d\t%d\n",
				m.Label, m.Reduce, m.Value, m.Samples, m.Slots)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)
	if r.Failed {
		fmt.Fprintf(w, "verdict: FAILED")
		if r.Escalated {
			fmt.Fprintf(w, " (escalated after %d verification failures)", r.Failures)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "verdict: passed")
	}
	return nil
}

// sortedWorkers orders results by workload then instance for stable
// output across runs.
func sortedWorkers(workers []WorkerResult) []WorkerResult {
	out := make([]WorkerResult, len(workers))
	copy(out, workers)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Workload != out[j].Workload {
			return out[i].Workload < out[j].Workload
		}
		return out[i].Instance < out[j].Instance
	})
	return out
}
