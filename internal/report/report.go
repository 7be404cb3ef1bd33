// Package report reduces interval summaries to the final energy figures of a run.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"codeberg.org/mutker/cpuwatt/internal/delta"
)

const (
	joulesPerKWh = 3_600_000
	msPerHour    = 3_600_000

	// DefaultElapsedDivisor normalises summed core time into the elapsed figure.
	DefaultElapsedDivisor = 16
)

// Summary holds the aggregate figures of a run. Energy figures are derived
// from the intervals only; run metadata is filled in by the caller.
type Summary struct {
	Workers   int    `json:"workers"`
	UseCase   string `json:"useCase"`
	Completed int    `json:"completed"`
	Faulted   int    `json:"faulted"`
	Complete  bool   `json:"complete"`

	Intervals int `json:"intervals"`
	Anomalies int `json:"anomalies"`

	TotalEnergyJoules   float64 `json:"totalEnergyJoules"`
	TotalActiveMs       int64   `json:"totalActiveMs"`
	TotalMs             int64   `json:"totalMs"`
	AvgJoulesPerMs      float64 `json:"avgJoulesPerMs"`
	AvgWatts            float64 `json:"avgWatts"`
	KWh                 float64 `json:"kWh"`
	KWhPerMs            float64 `json:"kWhPerMs"`
	ProjectedKWhPerHour float64 `json:"projectedKWhPerHour"`
	GPUEnergyJoules     float64 `json:"gpuEnergyJoules,omitempty"`
	NormalizedElapsedMs float64 `json:"normalizedElapsedMs"`

	TotalSum float64       `json:"totalSum"`
	WallTime time.Duration `json:"wallTime"`
}

// Summarize computes the energy figures over intervals. divisor scales the
// summed core time into NormalizedElapsedMs; a non-positive divisor leaves it
// unscaled. Every ratio is 0 when its denominator is 0.
func Summarize(intervals []delta.IntervalSummary, divisor float64) Summary {
	s := Summary{Intervals: len(intervals)}

	for _, interval := range intervals {
		s.TotalEnergyJoules += interval.EnergyJoules
		s.TotalActiveMs += interval.ActiveTimeMs
		s.TotalMs += interval.TotalMs
		s.GPUEnergyJoules += interval.GPUEnergyJoules
	}

	s.KWh = s.TotalEnergyJoules / joulesPerKWh
	if s.TotalActiveMs > 0 {
		s.AvgJoulesPerMs = s.TotalEnergyJoules / float64(s.TotalActiveMs)
		s.AvgWatts = s.AvgJoulesPerMs * 1000
		s.KWhPerMs = s.KWh / float64(s.TotalActiveMs)
		s.ProjectedKWhPerHour = s.KWhPerMs * msPerHour
	}

	if divisor <= 0 {
		divisor = 1
	}
	s.NormalizedElapsedMs = float64(s.TotalMs) / divisor

	return s
}

// Render writes s as an aligned two-column table.
func (s Summary) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	status := "complete"
	if !s.Complete {
		status = "INCOMPLETE (partial report)"
	}

	rows := [][2]string{
		{"Status", status},
		{"Use case", s.UseCase},
		{"Workers", fmt.Sprintf("%d completed, %d faulted of %d", s.Completed, s.Faulted, s.Workers)},
		{"Wall time", s.WallTime.Round(time.Millisecond).String()},
		{"Intervals", fmt.Sprintf("%d (%d anomalies)", s.Intervals, s.Anomalies)},
		{"Total sum", fmt.Sprintf("%.0f", s.TotalSum)},
		{"Energy", fmt.Sprintf("%.3f J over %d ms active", s.TotalEnergyJoules, s.TotalActiveMs)},
		{"Normalised elapsed", fmt.Sprintf("%.0f ms", s.NormalizedElapsedMs)},
		{"Average", fmt.Sprintf("%.6f J/ms = %.2f W", s.AvgJoulesPerMs, s.AvgWatts)},
		{"Energy (kWh)", fmt.Sprintf("%.8f", s.KWh)},
		{"Projected per hour", fmt.Sprintf("%.6f kWh", s.ProjectedKWhPerHour)},
	}
	if s.GPUEnergyJoules > 0 {
		rows = append(rows, [2]string{"GPU energy", fmt.Sprintf("%.3f J", s.GPUEnergyJoules)})
	}

	for _, row := range rows {
		if _, err := fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}

	return tw.Flush()
}
