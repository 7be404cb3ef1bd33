// Package power maps CPU load to an energy rate using a piecewise-linear table.
package power

import (
	"fmt"
	"math"
	"os"

	"codeberg.org/mutker/cpuwatt/internal/errors"
	"gopkg.in/yaml.v2"
)

// Entry is one calibration point of the power table.
type Entry struct {
	LoadPercent float64 `yaml:"load" json:"load"`
	JoulesPerMs float64 `yaml:"joules_per_ms" json:"joulesPerMs"`
}

// Table is sorted ascending by LoadPercent. The first entry is at 0% and the
// last at 100%. A Table is read-only once validated and safe for concurrent use.
type Table []Entry

// Interpolator yields an energy rate in joules per millisecond for a load percentage.
type Interpolator interface {
	Interpolate(loadPercent float64) float64
}

// DefaultTable returns the built-in hand-tuned table.
func DefaultTable() Table {
	return Table{
		{LoadPercent: 0, JoulesPerMs: 0.0001},
		{LoadPercent: 10, JoulesPerMs: 0.00015},
		{LoadPercent: 20, JoulesPerMs: 0.00025},
		{LoadPercent: 30, JoulesPerMs: 0.00040},
		{LoadPercent: 40, JoulesPerMs: 0.00060},
		{LoadPercent: 50, JoulesPerMs: 0.00090},
		{LoadPercent: 60, JoulesPerMs: 0.00130},
		{LoadPercent: 70, JoulesPerMs: 0.00200},
		{LoadPercent: 80, JoulesPerMs: 0.00300},
		{LoadPercent: 90, JoulesPerMs: 0.00500},
		{LoadPercent: 100, JoulesPerMs: 0.00650},
	}
}

// Interpolate returns the energy rate for loadPercent. Loads at or above the
// last entry return its rate; negative or NaN loads are treated as 0%.
func (t Table) Interpolate(loadPercent float64) float64 {
	if len(t) == 0 {
		return 0
	}

	last := t[len(t)-1]
	if math.IsNaN(loadPercent) || loadPercent < 0 {
		loadPercent = 0
	}
	if loadPercent >= last.LoadPercent {
		return last.JoulesPerMs
	}

	rate := t[0].JoulesPerMs
	previous := t[0]
	for i := 1; i < len(t); i++ {
		entry := t[i]
		if loadPercent <= entry.LoadPercent {
			if loadPercent == entry.LoadPercent {
				rate = entry.JoulesPerMs
				break
			}
			loadDiff := entry.LoadPercent - previous.LoadPercent
			rateDiff := entry.JoulesPerMs - previous.JoulesPerMs
			rate = previous.JoulesPerMs + rateDiff*(loadPercent-previous.LoadPercent)/loadDiff
			break
		}
		previous = entry
	}

	return math.Min(rate, last.JoulesPerMs)
}

// Validate checks the structural invariants Interpolate relies on.
func (t Table) Validate() error {
	errFactory := errors.New()

	if len(t) < 2 {
		return errFactory.WithMessage(errors.ErrInvalidPowerTable, "power table needs at least two entries")
	}
	if t[0].LoadPercent != 0 {
		return errFactory.WithData(errors.ErrInvalidPowerTable,
			fmt.Sprintf("first entry must be at 0%% load, got %g", t[0].LoadPercent))
	}
	if t[len(t)-1].LoadPercent != 100 {
		return errFactory.WithData(errors.ErrInvalidPowerTable,
			fmt.Sprintf("last entry must be at 100%% load, got %g", t[len(t)-1].LoadPercent))
	}

	for i, e := range t {
		if math.IsNaN(e.JoulesPerMs) || math.IsInf(e.JoulesPerMs, 0) || e.JoulesPerMs < 0 {
			return errFactory.WithData(errors.ErrInvalidPowerTable,
				fmt.Sprintf("entry %d: rate must be a non-negative number, got %g", i, e.JoulesPerMs))
		}
		if i > 0 && e.LoadPercent <= t[i-1].LoadPercent {
			return errFactory.WithData(errors.ErrInvalidPowerTable,
				fmt.Sprintf("entry %d: load %g is not above %g", i, e.LoadPercent, t[i-1].LoadPercent))
		}
	}

	return nil
}

// MaxRate returns the rate of the last entry.
func (t Table) MaxRate() float64 {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].JoulesPerMs
}

type tableFile struct {
	Points Table `yaml:"points"`
}

// LoadTable reads a YAML power table of the form
//
//	points:
//	  - load: 0
//	    joules_per_ms: 0.0001
//	  - load: 100
//	    joules_per_ms: 0.0065
func LoadTable(path string) (Table, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	var file tableFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidPowerTable, err)
	}

	if err := file.Points.Validate(); err != nil {
		return nil, err
	}

	return file.Points, nil
}
