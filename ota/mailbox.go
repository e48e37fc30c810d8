package ota

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"sync"

	"openenterprise/iobridge/flashbuf"
)

// MailboxState is the per-transaction device-side state machine from spec
// §4.6.
type MailboxState int

const (
	MailboxIdle MailboxState = iota
	MailboxReceiving
	MailboxReceived
	MailboxCommandRunning
)

func (s MailboxState) String() string {
	switch s {
	case MailboxIdle:
		return "idle"
	case MailboxReceiving:
		return "receiving"
	case MailboxReceived:
		return "received"
	case MailboxCommandRunning:
		return "command-running"
	default:
		return "unknown"
	}
}

// ErrProtocolState is returned when a mailbox command is issued in a state
// that cannot satisfy it (spec §7 "Protocol state error").
var ErrProtocolState = errors.New("ota: mailbox protocol state error")

// WriteResult is the reply payload for mailbox-write/mailbox-simulate.
type WriteResult struct {
	Sector   uint32
	Erased   bool
	Skipped  bool
	Checksum [20]byte
}

// ReadResult is the reply payload for mailbox-read.
type ReadResult struct {
	Sector   uint32
	Checksum [20]byte
	Data     [flashbuf.SectorSize]byte
}

// Mailbox implements the device side of the UDP sector-transfer protocol.
// A received sector is consumed exactly once; see spec §4.6 invariants.
type Mailbox struct {
	dev flashbuf.Device

	mu     sync.Mutex
	state  MailboxState
	buffer [flashbuf.SectorSize]byte
	got    int
}

// NewMailbox constructs a Mailbox over the given flash device. The mailbox
// does not itself own the shared sector buffer arbiter — its staging
// buffer is private, since it is filled directly from UDP datagrams, not
// borrowed from the arbiter (the boot-config writer, the config store,
// the flash-* commands and the display share that one).
func NewMailbox(dev flashbuf.Device) *Mailbox {
	return &Mailbox{dev: dev}
}

// State reports the current transaction state (diagnostic use).
func (m *Mailbox) State() MailboxState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Feed accumulates raw bytes received on the mailbox UDP port. It reports
// ack when the accumulation has just reached exactly 4096 bytes — the
// signal for the caller to emit the literal "ACK" datagram. Per spec §9's
// resolution of the UDP-fragmentation open question, only the transition
// that reaches exactly SectorSize triggers an ack; bytes beyond that are
// ignored until a mailbox-write, mailbox-simulate or mailbox-bench 1
// consumes the sector or Reset discards it. The first bytes fed in Idle
// start a fresh sector.
func (m *Mailbox) Feed(p []byte) (ack bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == MailboxIdle {
		m.state = MailboxReceiving
		m.got = 0
	}
	if m.state != MailboxReceiving {
		return false
	}
	room := flashbuf.SectorSize - m.got
	n := len(p)
	if n > room {
		n = room
	}
	copy(m.buffer[m.got:], p[:n])
	m.got += n
	if m.got == flashbuf.SectorSize {
		m.state = MailboxReceived
		return true
	}
	return false
}

// Reset returns the mailbox to Idle from any state and discards any
// partially or fully buffered sector (spec §4.6). A failed mailbox-write,
// mailbox-simulate or mailbox-read also leaves the mailbox in Idle.
func (m *Mailbox) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = MailboxIdle
	m.got = 0
}

// compareAgainstFlash implements the erase/skip decision shared by Write
// and Simulate: erase is needed if any buffered byte is not 0xFF (would
// require clearing bits the flash cannot clear without an erase), skip
// means the buffered payload is already identical to what is on flash.
func compareAgainstFlash(buffer, existing *[flashbuf.SectorSize]byte) (erase, skip bool) {
	skip = true
	for i := range buffer {
		if buffer[i] != existing[i] {
			skip = false
		}
		if buffer[i] != 0xFF {
			erase = true
		}
	}
	if skip {
		erase = false
	}
	return erase, skip
}

// Write performs mailbox-write <sector>: requires a fully buffered sector
// (state Received), decides erase/skip, performs the flash operation,
// reads back and SHA-1-hashes the result.
func (m *Mailbox) Write(sector uint32) (WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != MailboxReceived {
		return WriteResult{}, ErrProtocolState
	}
	m.state = MailboxCommandRunning

	addr := sector * flashbuf.SectorSize
	var existing [flashbuf.SectorSize]byte
	if err := m.dev.ReadSector(addr, &existing); err != nil {
		m.state = MailboxIdle
		return WriteResult{}, fmt.Errorf("ota: mailbox-write read: %w", err)
	}

	erase, skip := compareAgainstFlash(&m.buffer, &existing)
	if erase {
		if err := m.dev.EraseSector(addr); err != nil {
			m.state = MailboxIdle
			return WriteResult{}, fmt.Errorf("ota: mailbox-write erase: %w", err)
		}
	}
	if !skip {
		if err := m.dev.WriteSector(addr, &m.buffer); err != nil {
			m.state = MailboxIdle
			return WriteResult{}, fmt.Errorf("ota: mailbox-write write: %w", err)
		}
	}

	var after [flashbuf.SectorSize]byte
	if err := m.dev.ReadSector(addr, &after); err != nil {
		m.state = MailboxIdle
		return WriteResult{}, fmt.Errorf("ota: mailbox-write verify: %w", err)
	}

	m.state = MailboxIdle
	m.got = 0
	return WriteResult{Sector: sector, Erased: erase, Skipped: skip, Checksum: sha1.Sum(after[:])}, nil
}

// Simulate performs the same comparison as Write but never touches flash;
// the reported checksum is of the received payload itself (spec's worked
// example: the host's local SHA-1 of the bytes it sent).
func (m *Mailbox) Simulate(sector uint32) (WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != MailboxReceived {
		return WriteResult{}, ErrProtocolState
	}
	m.state = MailboxCommandRunning

	addr := sector * flashbuf.SectorSize
	var existing [flashbuf.SectorSize]byte
	if err := m.dev.ReadSector(addr, &existing); err != nil {
		m.state = MailboxIdle
		return WriteResult{}, fmt.Errorf("ota: mailbox-simulate read: %w", err)
	}
	erase, skip := compareAgainstFlash(&m.buffer, &existing)
	sum := sha1.Sum(m.buffer[:])

	m.state = MailboxIdle
	m.got = 0
	return WriteResult{Sector: sector, Erased: erase, Skipped: skip, Checksum: sum}, nil
}

// Read performs mailbox-read <sector>: hashes and returns the on-flash
// sector for the caller to stream over the mailbox UDP port.
func (m *Mailbox) Read(sector uint32) (ReadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != MailboxIdle {
		return ReadResult{}, ErrProtocolState
	}
	m.state = MailboxCommandRunning

	var data [flashbuf.SectorSize]byte
	if err := m.dev.ReadSector(sector*flashbuf.SectorSize, &data); err != nil {
		m.state = MailboxIdle
		return ReadResult{}, fmt.Errorf("ota: mailbox-read: %w", err)
	}
	m.state = MailboxIdle
	return ReadResult{Sector: sector, Checksum: sha1.Sum(data[:]), Data: data}, nil
}

// Checksum performs mailbox-checksum <start> <count>: the SHA-1 of the
// concatenation of count consecutive sectors as currently on flash.
func (m *Mailbox) Checksum(start, count uint32) ([20]byte, error) {
	h := sha1.New()
	var buf [flashbuf.SectorSize]byte
	for i := uint32(0); i < count; i++ {
		if err := m.dev.ReadSector((start+i)*flashbuf.SectorSize, &buf); err != nil {
			return [20]byte{}, fmt.Errorf("ota: mailbox-checksum: %w", err)
		}
		h.Write(buf[:])
	}
	var sum [20]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// Bench performs mailbox-bench <0|1>: direction 0 returns a full-sector
// test pattern (device -> host) but sends nothing itself, and the
// mailbox-bench command handler does not transmit it; direction 1
// discards a buffered sector (host -> device).
func (m *Mailbox) Bench(direction int) ([flashbuf.SectorSize]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [flashbuf.SectorSize]byte
	switch direction {
	case 0:
		for i := range out {
			out[i] = byte(i)
		}
		return out, nil
	case 1:
		if m.state == MailboxReceived {
			m.state = MailboxIdle
			m.got = 0
		}
		return out, nil
	default:
		return out, fmt.Errorf("ota: invalid bench direction %d", direction)
	}
}
