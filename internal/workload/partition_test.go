package workload

import (
	"testing"

	"codeberg.org/mutker/cpuwatt/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionScenario(t *testing.T) {
	ranges, err := Partition(100, 3)
	require.NoError(t, err)

	assert.Equal(t, []Range{{0, 33}, {33, 66}, {66, 100}}, ranges)
	assert.Equal(t, int64(34), ranges[2].Len())
	assert.Equal(t, "[66,100)", ranges[2].String())
}

func TestPartitionCoversRangeExactly(t *testing.T) {
	totals := []int64{0, 1, 2, 7, 99, 100, 101, 1000, 12345}
	workers := []int{1, 2, 3, 4, 7, 16, 64}

	for _, total := range totals {
		for _, n := range workers {
			ranges, err := Partition(total, n)
			require.NoError(t, err)
			require.Len(t, ranges, n)

			size := total / int64(n)
			var next, covered int64
			for i, r := range ranges {
				assert.Equal(t, next, r.Start, "total=%d workers=%d range=%d contiguous", total, n, i)
				assert.GreaterOrEqual(t, r.End, r.Start)
				if i < n-1 {
					assert.Equal(t, size, r.Len())
				}
				covered += r.Len()
				next = r.End
			}
			assert.Equal(t, total, next, "total=%d workers=%d", total, n)
			assert.Equal(t, total, covered, "total=%d workers=%d", total, n)
		}
	}
}

func TestPartitionInvalid(t *testing.T) {
	_, err := Partition(100, 0)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

	_, err = Partition(100, -2)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

	_, err = Partition(-1, 2)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}
