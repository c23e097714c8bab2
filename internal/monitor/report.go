package monitor

import (
	"fmt"
	"io"
	"time"

	"github.com/montanaflynn/stats"
)

// Report summarizes the phases between checkpoints.
type Report struct {
	Checkpoints []Checkpoint  `json:"checkpoints"`
	Total       time.Duration `json:"total"`
	MeanPhase   time.Duration `json:"mean_phase"`
	MedianPhase time.Duration `json:"median_phase"`
	MaxPhase    time.Duration `json:"max_phase"`
	SlowestStep string        `json:"slowest_step"`
	HeapPeak    uint64        `json:"heap_peak"`
}

// Report builds a summary of everything recorded so far.
func (m *Monitor) Report() (Report, error) {
	cps := m.Checkpoints()
	r := Report{Checkpoints: cps}
	if len(cps) == 0 {
		return r, nil
	}

	phases := make(stats.Float64Data, len(cps))
	for i, c := range cps {
		phases[i] = float64(c.Phase)
		r.HeapPeak = max(r.HeapPeak, c.HeapPeak)
	}
	r.Total = cps[len(cps)-1].Elapsed

	mean, err := phases.Mean()
	if err != nil {
		return Report{}, err
	}
	median, err := phases.Median()
	if err != nil {
		return Report{}, err
	}
	maxPhase, err := phases.Max()
	if err != nil {
		return Report{}, err
	}
	r.MeanPhase = time.Duration(mean)
	r.MedianPhase = time.Duration(median)
	r.MaxPhase = time.Duration(maxPhase)
	for _, c := range cps {
		if float64(c.Phase) == maxPhase {
			r.SlowestStep = c.Label
			break
		}
	}
	return r, nil
}

// WriteTo prints the report as a table.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	var n int64
	write := func(format string, args ...any) error {
		k, err := fmt.Fprintf(w, format, args...)
		n += int64(k)
		return err
	}

	if err := write("%-28s %12s %12s %10s %10s\n", "checkpoint", "elapsed(ms)", "phase(ms)", "heap(MB)", "Δheap(MB)"); err != nil {
		return n, err
	}
	for _, c := range r.Checkpoints {
		err := write("%-28s %12.3f %12.3f %10.2f %+10.2f\n", c.Label,
			ms(c.Elapsed), ms(c.Phase), mb(c.HeapAlloc), float64(c.HeapDelta)/(1<<20))
		if err != nil {
			return n, err
		}
	}
	err := write("total %.3f ms, mean phase %.3f ms, median %.3f ms, slowest %q (%.3f ms), peak heap %.2f MB\n",
		ms(r.Total), ms(r.MeanPhase), ms(r.MedianPhase), r.SlowestStep, ms(r.MaxPhase), mb(r.HeapPeak))
	return n, err
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }
