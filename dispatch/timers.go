package dispatch

import "time"

// Signal values posted by the timer wheel. These are the only signals the
// dispatch package itself defines; application-level signals (received
// command, UART bridge, disassociation alert, ...) are defined by their
// owning packages and are opaque uint32s to Dispatcher.
const (
	SigFastTick uint32 = iota + 1
	SigSlowTick
)

// FastTickInterval is the 10ms "fast" periodic tick (spec §4.3).
const FastTickInterval = 10 * time.Millisecond

// SlowTickInterval is the 100ms "slow" periodic tick that drives
// second-granularity housekeeping (spec §4.3).
const SlowTickInterval = 100 * time.Millisecond

// TimerWheel periodically posts SigFastTick at PriorityFast and
// SigSlowTick at PriorityPeriodic. Timers only ever post tasks; they never
// invoke handlers directly (spec §5: "Timers always post, never run
// handlers").
type TimerWheel struct {
	d          *Dispatcher
	fastTicker *time.Ticker
	slowTicker *time.Ticker
	stop       chan struct{}
}

// NewTimerWheel constructs (but does not start) a timer wheel bound to d.
func NewTimerWheel(d *Dispatcher) *TimerWheel {
	return &TimerWheel{d: d, stop: make(chan struct{})}
}

// Start launches the fast and slow ticks in a background goroutine. The
// goroutine only posts tasks, it never executes handler logic itself.
func (w *TimerWheel) Start() {
	w.fastTicker = time.NewTicker(FastTickInterval)
	w.slowTicker = time.NewTicker(SlowTickInterval)
	go func() {
		for {
			select {
			case <-w.stop:
				w.fastTicker.Stop()
				w.slowTicker.Stop()
				return
			case <-w.fastTicker.C:
				w.d.Post(PriorityFast, SigFastTick, 0)
			case <-w.slowTicker.C:
				w.d.Post(PriorityPeriodic, SigSlowTick, 0)
			}
		}
	}()
}

// Stop halts the timer goroutine.
func (w *TimerWheel) Stop() {
	close(w.stop)
}
