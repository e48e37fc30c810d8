// Package timekeeper implements the three independent clocks of spec
// §4.8: a wraparound-counting microsecond uptime clock, an RTC-backed wall
// clock that survives warm resets, and an SNTP-synchronised clock, plus
// the time_get() precedence rule between them.
package timekeeper

import "time"

// UptimeClock tracks elapsed microseconds since boot using a monotonic
// source that itself wraps at 32 bits (the teacher's `system_get_time`
// equivalent), counting wraps the way original_source/time.c's
// uptime_periodic does. NowFunc is swappable for tests.
type UptimeClock struct {
	NowFunc func() uint32 // returns a free-running microsecond counter

	baseUs uint32
	lastUs uint32
	wraps  uint32
	inited bool
}

// NewUptimeClock creates an UptimeClock sourced from now, which must
// return a monotonically free-running microsecond tick that wraps at
// 2^32 (matching the hardware timer this models).
func NewUptimeClock(now func() uint32) *UptimeClock {
	return &UptimeClock{NowFunc: now}
}

// Tick samples the counter and must be called periodically (from the fast
// dispatcher tick) so wraps are not missed between Uptime() calls.
func (u *UptimeClock) Tick() {
	now := u.NowFunc()
	if !u.inited {
		u.baseUs = now
		u.lastUs = now
		u.inited = true
		return
	}
	if now < u.lastUs {
		u.wraps++
	}
	u.lastUs = now
}

// Uptime returns elapsed time since boot as a 64-bit microsecond count
// reconstructed from the wrapped 32-bit counter and the wrap tally.
func (u *UptimeClock) Uptime() uint64 {
	if !u.inited {
		u.Tick()
	}
	raw := (uint64(u.wraps) << 32) | uint64(u.lastUs)
	return raw - uint64(u.baseUs)
}

// Wraps reports how many times the underlying counter has wrapped,
// surfaced by stats-time for diagnostics.
func (u *UptimeClock) Wraps() uint32 { return u.wraps }

// RTCClock is a wall clock seeded from an RTC register that survives a
// warm reset, plus an optional software-set offset (time-set-stamp /
// time-set-hms).
type RTCClock struct {
	NowFunc  func() uint32 // RTC seconds-since-arbitrary-epoch register
	baseSecs uint32        // offset applied by SetStamp
}

// NewRTCClock creates an RTCClock sourced from an RTC register read.
func NewRTCClock(now func() uint32) *RTCClock {
	return &RTCClock{NowFunc: now}
}

// SetStamp re-bases the wall clock to stamp (seconds since Unix epoch),
// the effect of the time-set-stamp / time-set-hms commands.
func (r *RTCClock) SetStamp(stamp uint32) {
	r.baseSecs = stamp - r.NowFunc()
}

// Seconds returns the current wall-clock time in Unix seconds.
func (r *RTCClock) Seconds() uint32 {
	return r.baseSecs + r.NowFunc()
}

// SNTPClock tracks whether the device has ever synchronised to an NTP
// server and, if so, the base Unix timestamp from the last sync plus
// elapsed ticks since.
type SNTPClock struct {
	synced   bool
	baseSecs uint32
	tickSecs uint32 // elapsed whole seconds since the last sync, from periodic ticks
}

// Sync records a fresh NTP reply's transmit timestamp (already converted
// from 1900-epoch to Unix epoch by the caller).
func (s *SNTPClock) Sync(unixSecs uint32) {
	s.synced = true
	s.baseSecs = unixSecs
	s.tickSecs = 0
}

// Tick advances the post-sync elapsed-seconds counter; called once per
// slow dispatcher tick (100ms) after accumulating ten ticks to a second,
// matching the decisecond tick in original_source/time.c's timer_periodic.
func (s *SNTPClock) Tick() {
	if s.synced {
		s.tickSecs++
	}
}

// Synchronised reports whether at least one successful NTP exchange has
// occurred since boot.
func (s *SNTPClock) Synchronised() bool { return s.synced }

// Seconds returns the current Unix time as of the last sync plus elapsed
// ticks. Only meaningful when Synchronised() is true.
func (s *SNTPClock) Seconds() uint32 {
	return s.baseSecs + s.tickSecs
}

// Source names which clock time_get() drew from, for stats/log display.
type Source string

const (
	SourceSNTP Source = "ntp"
	SourceRTC  Source = "rtc"
	SourceBoot Source = "boot"
)

// Keeper composes the three clocks and implements time_get()'s precedence
// rule: SNTP if ever synchronised, else RTC, else boot-relative uptime.
type Keeper struct {
	Uptime *UptimeClock
	RTC    *RTCClock
	SNTP   *SNTPClock
}

// NewKeeper wires the three clocks together.
func NewKeeper(uptime *UptimeClock, rtc *RTCClock, sntp *SNTPClock) *Keeper {
	return &Keeper{Uptime: uptime, RTC: rtc, SNTP: sntp}
}

// Now returns the current wall-clock time (best available source) and
// which source supplied it.
func (k *Keeper) Now() (time.Time, Source) {
	switch {
	case k.SNTP.Synchronised():
		return time.Unix(int64(k.SNTP.Seconds()), 0).UTC(), SourceSNTP
	case k.RTC != nil:
		return time.Unix(int64(k.RTC.Seconds()), 0).UTC(), SourceRTC
	default:
		secs := int64(k.Uptime.Uptime() / 1_000_000)
		return time.Unix(secs, 0).UTC(), SourceBoot
	}
}
