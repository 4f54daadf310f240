package telemetry

import "sort"

// MetricReport is the cross-slot reduction of one metric label.
type MetricReport struct {
	Label   string
	Reduce  Reduction
	Value   float64
	Samples int64
	Slots   int
}

// Aggregate reduces the metric accumulators of all slots that have
// reached StateDeinit or later into one report per distinct label.
// Slots that never wrote a label contribute nothing to its reduction,
// and slots that died before reaching StateDeinit are skipped
// entirely. Aggregate only reads, so repeated calls over a quiescent
// region yield identical reports.
func Aggregate(r *Region) []MetricReport {
	type accum struct {
		reduce  Reduction
		value   float64
		samples int64
		slots   int
	}
	byLabel := make(map[string]*accum)

	for _, slot := range r.Slots() {
		if slot.State() < StateDeinit {
			continue
		}
		slot.mu.Lock()
		for _, m := range slot.metrics {
			a, ok := byLabel[m.Label]
			if !ok {
				a = &accum{reduce: m.Reduce}
				byLabel[m.Label] = a
			}
			if a.reduce != m.Reduce {
				// First writer wins; mismatched slots are skipped the
				// same way RecordMetric rejects them.
				continue
			}
			switch m.Reduce {
			case ReduceSum, ReduceHarmonicMean:
				a.value += m.Value
			case ReduceMax:
				if a.slots == 0 || m.Value > a.value {
					a.value = m.Value
				}
			}
			a.samples += m.Samples
			a.slots++
		}
		slot.mu.Unlock()
	}

	reports := make([]MetricReport, 0, len(byLabel))
	for label, a := range byLabel {
		value := a.value
		if a.reduce == ReduceHarmonicMean && a.value > 0 {
			value = float64(a.samples) / a.value
		}
		reports = append(reports, MetricReport{
			Label:   label,
			Reduce:  a.reduce,
			Value:   value,
			Samples: a.samples,
			Slots:   a.slots,
		})
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Label < reports[j].Label
	})
	return reports
}
