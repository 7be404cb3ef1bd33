package gpu

import (
	"testing"

	"codeberg.org/mutker/cpuwatt/internal/cpustat"
	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	name     string
	power    uint32
	powerRet nvml.Return
}

func (d *fakeDevice) GetName() (string, nvml.Return) {
	return d.name, nvml.SUCCESS
}

func (d *fakeDevice) GetPowerUsage() (uint32, nvml.Return) {
	return d.power, d.powerRet
}

type fakeController struct {
	devices     []*fakeDevice
	initErr     error
	initialized bool
	shutdowns   int
}

func (c *fakeController) Initialize() error {
	if c.initErr != nil {
		return c.initErr
	}
	c.initialized = true
	return nil
}

func (c *fakeController) Shutdown() error {
	c.shutdowns++
	c.initialized = false
	return nil
}

func (c *fakeController) GetDeviceCount() (int, error) {
	return len(c.devices), nil
}

func (c *fakeController) GetDevice(index int) (powerDevice, error) {
	return c.devices[index], nil
}

func TestReaderRead(t *testing.T) {
	ctrl := &fakeController{devices: []*fakeDevice{
		{name: "GeForce RTX 3080", power: 95_000, powerRet: nvml.SUCCESS},
		{name: "GeForce RTX 3070", power: 40_500, powerRet: nvml.SUCCESS},
	}}

	r, err := newReader(ctrl, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, r.Count())

	samples, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, []cpustat.GPUSample{
		{Index: 0, PowerMilliwatts: 95_000},
		{Index: 1, PowerMilliwatts: 40_500},
	}, samples)

	require.NoError(t, r.Shutdown())
	assert.Equal(t, 1, ctrl.shutdowns)

	_, err = r.Read()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrNotInitialized))
}

func TestReaderPowerFailure(t *testing.T) {
	ctrl := &fakeController{devices: []*fakeDevice{
		{name: "ok", power: 10_000, powerRet: nvml.SUCCESS},
		{name: "broken", powerRet: nvml.ERROR_NOT_SUPPORTED},
	}}

	r, err := newReader(ctrl, logger.Nop())
	require.NoError(t, err)

	samples, err := r.Read()
	require.Error(t, err)
	assert.Nil(t, samples)
	assert.True(t, errors.HasCode(err, ErrPowerUsageFailed))
}

func TestReaderNoDevices(t *testing.T) {
	ctrl := &fakeController{}

	_, err := newReader(ctrl, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrNoDevices))
	assert.Equal(t, 1, ctrl.shutdowns)
}

func TestReaderInitFailure(t *testing.T) {
	ctrl := &fakeController{initErr: errors.New().New(ErrInitFailed)}

	_, err := newReader(ctrl, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrInitFailed))
}
