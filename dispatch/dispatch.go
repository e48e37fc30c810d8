// Package dispatch implements the cooperative, single-consumer, multi-
// priority task system described in spec §4.3 and §5: three bounded
// priority queues, strict priority draining one task per step, and the
// 10ms/100ms periodic timers that feed it.
package dispatch

import (
	"sync"
	"time"
)

// Priority identifies one of the three task queues. Higher numeric value
// drains first.
type Priority int

const (
	// PriorityPeriodic carries second-granularity housekeeping: time
	// update, UART bridging, display refresh, sensor periodics, Wi-Fi
	// watchdog.
	PriorityPeriodic Priority = 0
	// PriorityCommand carries received-command and background work.
	PriorityCommand Priority = 1
	// PriorityFast carries UART/fast I/O events.
	PriorityFast Priority = 2
)

const numPriorities = 3

// capacities mirrors spec §3: queue lengths 32 (fast), 32 (command), 2
// (periodic), indexed by Priority.
var capacities = [numPriorities]int{
	PriorityPeriodic: 2,
	PriorityCommand:  32,
	PriorityFast:     32,
}

// Task is one posted unit of work: an opaque signal and a single integer
// parameter, matching spec's `(priority, signal: u32, parameter: u32)`.
type Task struct {
	Signal    uint32
	Parameter uint32
}

type ring struct {
	buf        []Task
	head, size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Task, capacity)}
}

func (r *ring) push(t Task) bool {
	if r.size == len(r.buf) {
		return false
	}
	tail := (r.head + r.size) % len(r.buf)
	r.buf[tail] = t
	r.size++
	return true
}

func (r *ring) pop() (Task, bool) {
	if r.size == 0 {
		return Task{}, false
	}
	t := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return t, true
}

// Dispatcher holds the three priority queues and the post-failed counters.
// Posting is safe from any goroutine (network callbacks, timers); draining
// must happen from a single consumer goroutine per spec's cooperative,
// non-preemptive scheduling model.
type Dispatcher struct {
	mu         sync.Mutex
	queues     [numPriorities]*ring
	postFailed [numPriorities]uint32
}

// New constructs a Dispatcher with the fixed capacities from spec §3.
func New() *Dispatcher {
	d := &Dispatcher{}
	for p := range d.queues {
		d.queues[p] = newRing(capacities[p])
	}
	return d
}

// Post enqueues a task at the given priority. On overflow the task is
// dropped and the priority's post_failed counter is incremented; Post
// reports whether the task was accepted.
func (d *Dispatcher) Post(prio Priority, signal, parameter uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ok := d.queues[prio].push(Task{Signal: signal, Parameter: parameter})
	if !ok {
		d.postFailed[prio]++
	}
	return ok
}

// PostFailed returns the current drop counter for a priority (diagnostic
// use, e.g. stats-counters).
func (d *Dispatcher) PostFailed(prio Priority) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.postFailed[prio]
}

// Handler processes one drained task.
type Handler func(prio Priority, t Task)

// Step drains exactly one task from the highest-priority non-empty queue
// and invokes handler with it. Reports whether a task was found. This is
// the cooperative drain step: across queues, the head of any lower queue
// is preempted by a higher queue on the next Step, never mid-handler;
// within one queue, FIFO.
func (d *Dispatcher) Step(handler Handler) bool {
	d.mu.Lock()
	var (
		prio Priority
		t    Task
		ok   bool
	)
	for p := numPriorities - 1; p >= 0; p-- {
		if t, ok = d.queues[p].pop(); ok {
			prio = Priority(p)
			break
		}
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	handler(prio, t)
	return true
}

// Run drains cooperatively until the stop channel is closed,
// sleeping idle for idleSleep between empty polls. It is the explicit
// event loop called for by spec §9 ("no async runtime required").
func (d *Dispatcher) Run(stop <-chan struct{}, idleSleep time.Duration, handler Handler) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !d.Step(handler) {
			time.Sleep(idleSleep)
		}
	}
}
