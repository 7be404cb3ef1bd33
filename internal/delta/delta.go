// Package delta turns a snapshot series into per-core deltas and per-interval
// energy summaries.
package delta

import (
	"fmt"
	"time"

	"codeberg.org/mutker/cpuwatt/internal/cpustat"
	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/power"
)

// TimesDelta is next minus previous per state. Values are non-negative unless
// a counter regressed.
type TimesDelta struct {
	User int64 `json:"user"`
	Nice int64 `json:"nice"`
	Sys  int64 `json:"sys"`
	Idle int64 `json:"idle"`
	IRQ  int64 `json:"irq"`
}

func (d TimesDelta) regressed() bool {
	return d.User < 0 || d.Nice < 0 || d.Sys < 0 || d.Idle < 0 || d.IRQ < 0
}

// CoreDelta is the change of one core between two adjacent snapshots.
type CoreDelta struct {
	Core                 int        `json:"core"`
	SpeedDelta           float64    `json:"speedDelta"`
	TimesDelta           TimesDelta `json:"timesDelta"`
	ActiveTimeMs         int64      `json:"activeTimeMs"`
	TotalMs              int64      `json:"totalMs"`
	LoadPercent          float64    `json:"loadPercent"`
	EnergyJoules         float64    `json:"energyJoules"`
	EnergyJoulesPer100ms float64    `json:"energyJoulesPer100ms"`
}

// IntervalSummary aggregates all cores between two adjacent snapshots.
type IntervalSummary struct {
	Start           time.Time   `json:"start"`
	End             time.Time   `json:"end"`
	ActiveTimeMs    int64       `json:"activeTimeMs"`
	TotalMs         int64       `json:"totalMs"`
	EnergyJoules    float64     `json:"energyJoules"`
	GPUEnergyJoules float64     `json:"gpuEnergyJoules,omitempty"`
	Cores           []CoreDelta `json:"-"`
}

// Anomaly records a pair of snapshots that could not be used as-is.
type Anomaly struct {
	// Index is the position of the earlier snapshot in the series.
	Index   int              `json:"index"`
	Core    int              `json:"core"`
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

func (a Anomaly) Error() string {
	return fmt.Sprintf("%s at snapshot %d: %s", a.Code, a.Index, a.Message)
}

// Result is the output of Compute.
type Result struct {
	Intervals []IntervalSummary `json:"intervals"`
	Anomalies []Anomaly         `json:"anomalies,omitempty"`
}

// Skipped returns how many intervals were excluded as inconsistent.
func (r Result) Skipped() int {
	n := 0
	for _, a := range r.Anomalies {
		if a.Code == errors.ErrSnapshotInconsistency {
			n++
		}
	}
	return n
}

// Engine computes deltas with a fixed power model. It holds no state between calls.
type Engine struct {
	model power.Interpolator
}

// NewEngine returns an Engine using model for energy rates.
func NewEngine(model power.Interpolator) *Engine {
	return &Engine{model: model}
}

// Compute walks adjacent snapshot pairs in order. The series is only read.
func (e *Engine) Compute(series []cpustat.Snapshot) Result {
	var res Result
	if len(series) < 2 {
		return res
	}

	res.Intervals = make([]IntervalSummary, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		previous, next := series[i-1], series[i]

		if err := checkLayout(previous, next); err != nil {
			res.Anomalies = append(res.Anomalies, Anomaly{
				Index:   i - 1,
				Core:    -1,
				Code:    errors.ErrSnapshotInconsistency,
				Message: err.Error(),
			})
			continue
		}

		summary := IntervalSummary{
			Start: previous.Timestamp,
			End:   next.Timestamp,
			Cores: make([]CoreDelta, len(next.Cores)),
		}

		for c := range next.Cores {
			d := e.CoreDelta(previous.Cores[c], next.Cores[c])
			if d.TimesDelta.regressed() {
				res.Anomalies = append(res.Anomalies, Anomaly{
					Index:   i - 1,
					Core:    d.Core,
					Code:    errors.ErrCounterRegression,
					Message: fmt.Sprintf("times delta %+v", d.TimesDelta),
				})
			}

			summary.Cores[c] = d
			summary.ActiveTimeMs += d.ActiveTimeMs
			summary.TotalMs += d.TotalMs
			summary.EnergyJoules += d.EnergyJoules
		}

		summary.GPUEnergyJoules = gpuEnergy(previous, next)
		res.Intervals = append(res.Intervals, summary)
	}

	return res
}

// CoreDelta computes the delta of a single core.
func (e *Engine) CoreDelta(previous, next cpustat.CoreSample) CoreDelta {
	td := TimesDelta{
		User: diff(next.Times.User, previous.Times.User),
		Nice: diff(next.Times.Nice, previous.Times.Nice),
		Sys:  diff(next.Times.Sys, previous.Times.Sys),
		Idle: diff(next.Times.Idle, previous.Times.Idle),
		IRQ:  diff(next.Times.IRQ, previous.Times.IRQ),
	}

	active := td.User + td.Nice + td.Sys + td.IRQ
	total := active + td.Idle

	var load float64
	if total > 0 {
		load = float64(active) / float64(total) * 100
	}

	var energy, per100ms float64
	if active > 0 {
		energy = e.model.Interpolate(load) * float64(active)
		if energy > 0 {
			per100ms = energy / float64(active) * 100
		}
	}

	return CoreDelta{
		Core:                 next.Core,
		SpeedDelta:           next.SpeedMHz - previous.SpeedMHz,
		TimesDelta:           td,
		ActiveTimeMs:         active,
		TotalMs:              total,
		LoadPercent:          load,
		EnergyJoules:         energy,
		EnergyJoulesPer100ms: per100ms,
	}
}

func diff(next, previous uint64) int64 {
	return int64(next) - int64(previous)
}

func checkLayout(previous, next cpustat.Snapshot) error {
	if len(previous.Cores) != len(next.Cores) {
		return fmt.Errorf("core count changed from %d to %d", len(previous.Cores), len(next.Cores))
	}
	for i := range next.Cores {
		if previous.Cores[i].Core != next.Cores[i].Core {
			return fmt.Errorf("position %d holds core %d, previously core %d",
				i, next.Cores[i].Core, previous.Cores[i].Core)
		}
	}
	return nil
}

// gpuEnergy integrates board power over the interval with the trapezoid rule.
func gpuEnergy(previous, next cpustat.Snapshot) float64 {
	if len(previous.GPUs) == 0 || len(previous.GPUs) != len(next.GPUs) {
		return 0
	}
	seconds := next.Timestamp.Sub(previous.Timestamp).Seconds()
	if seconds <= 0 {
		return 0
	}

	var joules float64
	for i := range next.GPUs {
		if previous.GPUs[i].Index != next.GPUs[i].Index {
			return 0
		}
		avgWatts := (float64(previous.GPUs[i].PowerMilliwatts) + float64(next.GPUs[i].PowerMilliwatts)) / 2 / 1000
		joules += avgWatts * seconds
	}
	return joules
}
