package orchestrator

import (
	"sync"

	"codeberg.org/mutker/cpuwatt/internal/workload"
)

// State is the completion state of a Barrier.
type State int

const (
	// Running means fewer than all workers have completed.
	Running State = iota
	// AllComplete is terminal: every worker delivered a completed result.
	AllComplete
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case AllComplete:
		return "all_complete"
	default:
		return "unknown"
	}
}

// Barrier counts worker completions and releases exactly once when all of
// them have completed. Deliveries may arrive from any goroutine in any order;
// a second delivery for the same worker is ignored.
type Barrier struct {
	mu        sync.Mutex
	total     int
	seen      map[int]struct{}
	completed int
	faulted   int
	sum       float64
	state     State
	done      chan struct{}
}

// NewBarrier returns a Barrier waiting for n completions.
func NewBarrier(n int) *Barrier {
	return &Barrier{
		total: n,
		seen:  make(map[int]struct{}, n),
		done:  make(chan struct{}),
	}
}

// RecordCompletion counts r and adds its sum. It returns true only for the
// call that moves the barrier to AllComplete.
func (b *Barrier) RecordCompletion(r workload.Result) bool {
	if !r.Completed {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == AllComplete || !b.claim(r.WorkerID) {
		return false
	}

	b.completed++
	b.sum += r.Sum

	if b.completed == b.total {
		b.state = AllComplete
		close(b.done)
		return true
	}

	return false
}

// RecordFault marks the worker as settled without counting it as complete.
// A barrier with a faulted worker never reaches AllComplete.
func (b *Barrier) RecordFault(f workload.Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == AllComplete || !b.claim(f.WorkerID) {
		return
	}
	b.faulted++
}

// claim must be called with mu held.
func (b *Barrier) claim(workerID int) bool {
	if _, ok := b.seen[workerID]; ok {
		return false
	}
	b.seen[workerID] = struct{}{}
	return true
}

// Done is closed on the transition to AllComplete.
func (b *Barrier) Done() <-chan struct{} {
	return b.done
}

// Settled reports whether every worker has either completed or faulted.
func (b *Barrier) Settled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed+b.faulted >= b.total
}

func (b *Barrier) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Barrier) Completed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

func (b *Barrier) Faulted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.faulted
}

// TotalSum returns the sum of all counted results.
func (b *Barrier) TotalSum() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sum
}
