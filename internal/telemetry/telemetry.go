// Package telemetry exposes run progress and results as Prometheus metrics.
package telemetry

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"codeberg.org/mutker/cpuwatt/internal/cpustat"
	"codeberg.org/mutker/cpuwatt/internal/delta"
	"codeberg.org/mutker/cpuwatt/internal/power"
	"codeberg.org/mutker/cpuwatt/internal/report"
	"codeberg.org/mutker/cpuwatt/internal/workload"
)

const namespace = "cpuwatt"

const (
	outcomeCompleted = "completed"
	outcomeFaulted   = "faulted"
)

// Collector turns run events into metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry
	engine   *delta.Engine

	mu       sync.Mutex
	previous *cpustat.Snapshot

	snapshots      prometheus.Counter
	coreLoad       *prometheus.GaugeVec
	intervalEnergy prometheus.Gauge
	runEnergy      prometheus.Gauge
	projectedKWh   prometheus.Gauge
	workerResults  *prometheus.CounterVec
	anomalies      *prometheus.CounterVec
}

// New creates a Collector that estimates live interval energy with model.
func New(model power.Interpolator) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		engine:   delta.NewEngine(model),

		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Number of CPU counter snapshots taken",
		}),
		coreLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "core_load_percent",
			Help:      "Load of each core over the latest sampling interval",
		}, []string{"core"}),
		intervalEnergy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interval_energy_joules",
			Help:      "Estimated CPU energy of the latest sampling interval",
		}),
		runEnergy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_energy_joules",
			Help:      "Estimated CPU energy of the last finished run",
		}),
		projectedKWh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_projected_kwh_per_hour",
			Help:      "Energy of the last finished run extrapolated to one hour",
		}),
		workerResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_results_total",
			Help:      "Worker outcomes by kind",
		}, []string{"outcome"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Snapshot pairs reported as anomalous, by error code",
		}, []string{"code"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.snapshots,
		c.coreLoad,
		c.intervalEnergy,
		c.runEnergy,
		c.projectedKWh,
		c.workerResults,
		c.anomalies,
	)

	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveSnapshot updates per-core load and interval energy against the
// previous snapshot. A snapshot with a different core layout only resets the
// baseline.
func (c *Collector) ObserveSnapshot(s cpustat.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshots.Inc()

	previous := c.previous
	c.previous = &s
	if previous == nil || !sameLayout(*previous, s) {
		return
	}

	var joules float64
	for i := range s.Cores {
		d := c.engine.CoreDelta(previous.Cores[i], s.Cores[i])
		c.coreLoad.WithLabelValues(strconv.Itoa(d.Core)).Set(d.LoadPercent)
		joules += d.EnergyJoules
	}
	c.intervalEnergy.Set(joules)
}

func (c *Collector) ObserveResult(workload.Result) {
	c.workerResults.WithLabelValues(outcomeCompleted).Inc()
}

func (c *Collector) ObserveFault(workload.Fault) {
	c.workerResults.WithLabelValues(outcomeFaulted).Inc()
}

// ObserveRun publishes the final figures of a run.
func (c *Collector) ObserveRun(s report.Summary, anomalies []delta.Anomaly) {
	c.runEnergy.Set(s.TotalEnergyJoules)
	c.projectedKWh.Set(s.ProjectedKWhPerHour)
	for _, a := range anomalies {
		c.anomalies.WithLabelValues(string(a.Code)).Inc()
	}
}

func sameLayout(a, b cpustat.Snapshot) bool {
	if len(a.Cores) != len(b.Cores) {
		return false
	}
	for i := range a.Cores {
		if a.Cores[i].Core != b.Cores[i].Core {
			return false
		}
	}
	return true
}
