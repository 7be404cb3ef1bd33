package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, 250*time.Millisecond, c.Since(start.Add(-250*time.Millisecond)))

	next := c.Advance(100 * time.Millisecond)
	assert.Equal(t, start.Add(100*time.Millisecond), next)
	assert.Equal(t, 100*time.Millisecond, c.Since(start))

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestRealClockMonotonic(t *testing.T) {
	var c Clock = RealClock{}
	a := c.Now()
	assert.GreaterOrEqual(t, c.Since(a), time.Duration(0))
}

func TestMockTimer(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	timer := c.NewTimer(time.Second)
	c.Advance(999 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(time.Millisecond)
	select {
	case got := <-timer.C():
		assert.Equal(t, start.Add(time.Second), got)
	default:
		t.Fatal("timer did not fire")
	}
	assert.False(t, timer.Stop())

	stopped := c.NewTimer(time.Second)
	assert.True(t, stopped.Stop())
	c.Advance(time.Hour)
	select {
	case <-stopped.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	ticker := c.NewTicker(100 * time.Millisecond)

	fired := 0
	for range 3 {
		c.Advance(100 * time.Millisecond)
		select {
		case <-ticker.C():
			fired++
		default:
		}
	}
	assert.Equal(t, 3, fired)

	ticker.Stop()
	c.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestRealTimer(t *testing.T) {
	var c Clock = RealClock{}
	timer := c.NewTimer(time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(2 * time.Second):
		t.Fatal("real timer did not fire")
	}

	ticker := c.NewTicker(time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(2 * time.Second):
		t.Fatal("real ticker did not fire")
	}
}
