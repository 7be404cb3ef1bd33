// Package cpustat holds the per-core CPU time model and reads it from the OS.
package cpustat

import "time"

// State names one of the recognised CPU time states.
type State string

const (
	StateUser State = "user"
	StateNice State = "nice"
	StateSys  State = "sys"
	StateIdle State = "idle"
	StateIRQ  State = "irq"
)

// States lists the recognised states in reporting order.
var States = []State{StateUser, StateNice, StateSys, StateIdle, StateIRQ}

// Times holds cumulative milliseconds spent per state since boot. Counters are
// monotonically non-decreasing for a given core.
type Times struct {
	User uint64 `json:"user"`
	Nice uint64 `json:"nice"`
	Sys  uint64 `json:"sys"`
	Idle uint64 `json:"idle"`
	IRQ  uint64 `json:"irq"`
}

// Get returns the counter for state, or 0 for an unknown state.
func (t Times) Get(state State) uint64 {
	switch state {
	case StateUser:
		return t.User
	case StateNice:
		return t.Nice
	case StateSys:
		return t.Sys
	case StateIdle:
		return t.Idle
	case StateIRQ:
		return t.IRQ
	default:
		return 0
	}
}

// CoreSample is one reading of a logical core.
type CoreSample struct {
	Core     int     `json:"core"`
	SpeedMHz float64 `json:"speed"`
	Times    Times   `json:"times"`
}

// GPUSample is one board power reading of a GPU.
type GPUSample struct {
	Index           int    `json:"index"`
	PowerMilliwatts uint32 `json:"powerMilliwatts"`
}

// Snapshot is an immutable, timestamped reading of every core. Core positions
// map to the same core index in every snapshot of a series.
type Snapshot struct {
	Timestamp time.Time    `json:"timestamp"`
	Cores     []CoreSample `json:"cpuMetrics"`
	GPUs      []GPUSample  `json:"gpuMetrics,omitempty"`
}

// Source returns the current cumulative counters of every logical core. It must
// not have side effects on the system.
type Source interface {
	Read() ([]CoreSample, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() ([]CoreSample, error)

func (f SourceFunc) Read() ([]CoreSample, error) {
	return f()
}
