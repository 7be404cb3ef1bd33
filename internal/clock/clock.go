package clock

import (
	"sync"
	"time"
)

// Clock wraps time functions so measurement code can be driven from tests.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer is the part of *time.Timer the measurement code uses.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Ticker is the part of *time.Ticker the measurement code uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock with the wall clock. time.Now carries a monotonic
// reading, so Since and Sub are immune to wall-clock steps.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (RealClock) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// MockClock is a manually advanced Clock, safe for concurrent use. Timers and
// tickers fire when Advance or Set moves the clock past their deadline.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*mockWaiter
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *MockClock) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *MockClock) NewTimer(d time.Duration) Timer {
	return mockTimer{m.addWaiter(d, 0)}
}

// NewTicker panics on a non-positive period, like time.NewTicker.
func (m *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	return mockTicker{m.addWaiter(d, d)}
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
	m.fire()
}

// Advance moves the clock forward by d and returns the new time.
func (m *MockClock) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	m.fire()
	return m.now
}

func (m *MockClock) addWaiter(d, period time.Duration) *mockWaiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := &mockWaiter{
		clock:    m,
		deadline: m.now.Add(d),
		period:   period,
		ch:       make(chan time.Time, 1),
	}
	m.waiters = append(m.waiters, w)
	m.fire()
	return w
}

// fire delivers every due tick. Like the real ticker, a tick is dropped when
// the previous one has not been received. Caller holds mu.
func (m *MockClock) fire() {
	kept := m.waiters[:0]
	for _, w := range m.waiters {
		for !w.deadline.After(m.now) {
			select {
			case w.ch <- m.now:
			default:
			}
			if w.period == 0 {
				w.stopped = true
				break
			}
			w.deadline = w.deadline.Add(w.period)
		}
		if !w.stopped {
			kept = append(kept, w)
		}
	}
	m.waiters = kept
}

func (m *MockClock) remove(w *mockWaiter) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w.stopped {
		return false
	}
	w.stopped = true
	for i, other := range m.waiters {
		if other == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			break
		}
	}
	return true
}

type mockWaiter struct {
	clock    *MockClock
	deadline time.Time
	period   time.Duration
	ch       chan time.Time
	stopped  bool
}

type mockTimer struct{ w *mockWaiter }

func (t mockTimer) C() <-chan time.Time { return t.w.ch }

// Stop reports whether the call stopped a pending timer.
func (t mockTimer) Stop() bool { return t.w.clock.remove(t.w) }

type mockTicker struct{ w *mockWaiter }

func (t mockTicker) C() <-chan time.Time { return t.w.ch }
func (t mockTicker) Stop()               { t.w.clock.remove(t.w) }
