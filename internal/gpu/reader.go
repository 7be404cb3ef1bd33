// Package gpu samples NVIDIA board power through NVML so a run can report GPU
// energy next to the CPU estimate.
package gpu

import (
	"sync"

	"codeberg.org/mutker/cpuwatt/internal/cpustat"
	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// Reader reads the current board power of every visible GPU.
type Reader struct {
	ctrl    nvmlController
	devices []powerDevice
	logger  logger.Logger
	mu      sync.Mutex
}

// New initializes NVML and enumerates the visible devices.
func New(log logger.Logger) (*Reader, error) {
	return newReader(&nvmlWrapper{}, log)
}

func newReader(ctrl nvmlController, log logger.Logger) (*Reader, error) {
	errFactory := errors.New()

	if err := ctrl.Initialize(); err != nil {
		return nil, err
	}

	count, err := ctrl.GetDeviceCount()
	if err != nil {
		_ = ctrl.Shutdown()
		return nil, err
	}
	if count == 0 {
		_ = ctrl.Shutdown()
		return nil, errFactory.New(ErrNoDevices)
	}

	r := &Reader{
		ctrl:    ctrl,
		devices: make([]powerDevice, 0, count),
		logger:  log,
	}

	for i := 0; i < count; i++ {
		device, err := ctrl.GetDevice(i)
		if err != nil {
			_ = ctrl.Shutdown()
			return nil, err
		}
		if name, ret := device.GetName(); IsNVMLSuccess(ret) {
			log.Info().Int("index", i).Str("name", name).Msg("Detected GPU")
		} else {
			log.Warn().Int("index", i).Msgf("Failed to get GPU name: %v", nvml.ErrorString(ret))
		}
		r.devices = append(r.devices, device)
	}

	return r, nil
}

// Count returns the number of sampled devices.
func (r *Reader) Count() int {
	return len(r.devices)
}

// Read returns one sample per device. A device that fails to report power
// fails the whole read so snapshots never carry a partial GPU list.
func (r *Reader) Read() ([]cpustat.GPUSample, error) {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.devices == nil {
		return nil, errFactory.New(ErrNotInitialized)
	}

	samples := make([]cpustat.GPUSample, 0, len(r.devices))
	for i, device := range r.devices {
		mw, ret := device.GetPowerUsage()
		if !IsNVMLSuccess(ret) {
			return nil, errFactory.WithData(ErrPowerUsageFailed, struct {
				Index int
				Error string
			}{
				Index: i,
				Error: nvml.ErrorString(ret),
			})
		}
		samples = append(samples, cpustat.GPUSample{Index: i, PowerMilliwatts: mw})
	}

	return samples, nil
}

// Shutdown releases NVML. Further reads fail.
func (r *Reader) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = nil
	return r.ctrl.Shutdown()
}
