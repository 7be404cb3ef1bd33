package cpustat

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"codeberg.org/mutker/cpuwatt/internal/errors"
)

const (
	defaultStatPath    = "/proc/stat"
	defaultCPUInfoPath = "/proc/cpuinfo"
	defaultFreqPattern = "/sys/devices/system/cpu/cpu%d/cpufreq/scaling_cur_freq"

	// cpuN user nice system idle iowait irq ...
	minStatFields = 7
)

// ClockTicks returns the number of jiffies per second. CLK_TCK overrides the
// usual USER_HZ of 100, which avoids cgo for sysconf(_SC_CLK_TCK).
func ClockTicks() int {
	v, _ := strconv.Atoi(os.Getenv("CLK_TCK"))
	if v > 0 {
		return v
	}
	return 100
}

// ProcSource reads per-core counters from procfs and clock speeds from cpufreq.
type ProcSource struct {
	StatPath    string
	CPUInfoPath string
	// FreqPattern is a fmt pattern taking the core index.
	FreqPattern string
	Ticks       int
}

// NewProcSource returns a ProcSource reading the standard Linux paths.
func NewProcSource() *ProcSource {
	return &ProcSource{
		StatPath:    defaultStatPath,
		CPUInfoPath: defaultCPUInfoPath,
		FreqPattern: defaultFreqPattern,
		Ticks:       ClockTicks(),
	}
}

// Read implements Source.
func (p *ProcSource) Read() ([]CoreSample, error) {
	errFactory := errors.New()

	f, err := os.Open(p.StatPath)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrReadCounters, err)
	}
	defer f.Close()

	ticks := p.Ticks
	if ticks <= 0 {
		ticks = ClockTicks()
	}

	cores, err := ParseStat(f, ticks)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrReadCounters, err)
	}

	p.fillSpeeds(cores)

	return cores, nil
}

func (p *ProcSource) fillSpeeds(cores []CoreSample) {
	var fallback map[int]float64
	for i := range cores {
		if mhz, ok := p.readFreq(cores[i].Core); ok {
			cores[i].SpeedMHz = mhz
			continue
		}
		if fallback == nil {
			fallback = p.readCPUInfo()
		}
		cores[i].SpeedMHz = fallback[cores[i].Core]
	}
}

func (p *ProcSource) readFreq(core int) (float64, bool) {
	if p.FreqPattern == "" {
		return 0, false
	}
	data, err := os.ReadFile(fmt.Sprintf(p.FreqPattern, core))
	if err != nil {
		return 0, false
	}
	khz, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, false
	}
	return khz / 1000, true
}

func (p *ProcSource) readCPUInfo() map[int]float64 {
	f, err := os.Open(p.CPUInfoPath)
	if err != nil {
		return map[int]float64{}
	}
	defer f.Close()

	speeds, err := ParseCPUInfoMHz(f)
	if err != nil {
		return map[int]float64{}
	}
	return speeds
}

// ParseStat parses the per-core lines of /proc/stat, converting jiffies to
// milliseconds. The aggregate "cpu" line is ignored.
func ParseStat(r io.Reader, ticks int) ([]CoreSample, error) {
	if ticks <= 0 {
		return nil, fmt.Errorf("cpustat: invalid clock ticks %d", ticks)
	}

	toMs := func(jiffies uint64) uint64 {
		return jiffies * 1000 / uint64(ticks)
	}

	var cores []CoreSample
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || !strings.HasPrefix(fields[0], "cpu") || fields[0] == "cpu" {
			continue
		}

		index, err := strconv.Atoi(strings.TrimPrefix(fields[0], "cpu"))
		if err != nil {
			continue
		}
		if len(fields) < minStatFields {
			return nil, fmt.Errorf("cpustat: short line for %s: %d fields", fields[0], len(fields))
		}

		vals := make([]uint64, minStatFields-1)
		for i := range vals {
			v, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cpustat: %s field %d: %w", fields[0], i+1, err)
			}
			vals[i] = v
		}

		// vals: user nice system idle iowait irq
		cores = append(cores, CoreSample{
			Core: index,
			Times: Times{
				User: toMs(vals[0]),
				Nice: toMs(vals[1]),
				Sys:  toMs(vals[2]),
				Idle: toMs(vals[3]),
				IRQ:  toMs(vals[5]),
			},
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("cpustat: no per-core lines")
	}

	return cores, nil
}

// ParseCPUInfoMHz extracts the "cpu MHz" value of every processor in /proc/cpuinfo.
func ParseCPUInfoMHz(r io.Reader) (map[int]float64, error) {
	speeds := make(map[int]float64)
	current := -1

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "processor":
			id, err := strconv.Atoi(value)
			if err != nil {
				current = -1
				continue
			}
			current = id
		case "cpu MHz":
			if current < 0 {
				continue
			}
			if mhz, err := strconv.ParseFloat(value, 64); err == nil {
				speeds[current] = mhz
			}
		}
	}

	return speeds, sc.Err()
}
