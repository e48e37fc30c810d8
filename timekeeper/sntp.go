package timekeeper

import (
	"encoding/binary"
	"errors"
	"time"
)

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// InitialBurstInterval / SteadyInterval are the SNTP client's send cadence
// per spec §4.8: every 5s until the first reply, then every 10 minutes.
const (
	InitialBurstInterval = 5 * time.Second
	SteadyInterval       = 10 * time.Minute
)

// ErrShortPacket is returned by ParseReply when the packet is smaller
// than a standard 48-byte NTP payload.
var ErrShortPacket = errors.New("timekeeper: sntp reply shorter than 48 bytes")

// BuildRequest returns a standard 48-byte NTPv4 client request packet
// (LI=0, VN=4, Mode=3, all other fields zero).
func BuildRequest() [48]byte {
	var pkt [48]byte
	pkt[0] = (0 << 6) | (4 << 3) | 3 // LI=0 VN=4 Mode=client
	return pkt
}

// ParseReply extracts the transmit timestamp from an SNTP server reply and
// converts it from seconds-since-1900 to seconds-since-Unix-epoch.
func ParseReply(pkt []byte) (unixSecs uint32, err error) {
	if len(pkt) < 48 {
		return 0, ErrShortPacket
	}
	// Transmit Timestamp occupies bytes 40..47, seconds in the first 4.
	ntpSecs := binary.BigEndian.Uint32(pkt[40:44])
	return ntpSecs - ntpEpochOffset, nil
}

// Scheduler decides when the next SNTP request should be sent, per spec's
// initial-burst-then-steady-cadence rule.
type Scheduler struct {
	synced bool
}

// NextInterval returns how long to wait before the next request.
func (s *Scheduler) NextInterval() time.Duration {
	if s.synced {
		return SteadyInterval
	}
	return InitialBurstInterval
}

// OnReply marks that a reply has been received, switching the scheduler
// to steady cadence from now on.
func (s *Scheduler) OnReply() {
	s.synced = true
}
