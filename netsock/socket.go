// Package netsock implements the per-listener socket abstraction of spec
// §3 ("Socket S") and §4.4: a TCP listen/accept pair and a UDP endpoint
// sharing one receive buffer and one send buffer, with the lock/unlock
// backpressure contract and the fragmented send path. The wiring onto a
// real transport (lneto/tcp for TinyGo) lives in tinygo_transport.go; this
// file is pure, host-testable logic.
package netsock

import (
	"errors"
	"net/netip"

	"openenterprise/iobridge/strbuf"
)

// Proto identifies which transport last delivered data to a Socket.
type Proto int

const (
	ProtoNone Proto = iota
	ProtoTCP
	ProtoUDP
)

// Peer is the remote endpoint a Socket is currently addressing sends to,
// set from the most recent receive (UDP) or the accepted connection (TCP).
type Peer struct {
	Proto Proto
	Addr  netip.Addr
	Port  uint16
}

// UDPMaxDatagram / TCPMaxSegment are the fragmentation limits from spec
// §4.4.
const (
	UDPMaxDatagram = 1472
	TCPMaxSegment  = 1460
)

// ErrSendBusy is returned by Send when a previous send is still in flight
// (spec §8: "A socket's send invoked while sending_remaining+sent_remaining
// > 0 fails and does not mutate the peer or buffers").
var ErrSendBusy = errors.New("netsock: send already in flight")

// ErrReceiveLocked is returned by Deliver when the receive buffer is
// currently locked; per spec §4.4 the network layer simply will not
// append more bytes until Unlock is called, so this is not logged as an
// application error, only reported to the caller (typically the
// transport's read callback) so it can choose to retry later.
var ErrReceiveLocked = errors.New("netsock: receive buffer locked")

// Transport is the platform boundary a Socket sends through: one call per
// UDP datagram or TCP segment. WriteSegment's more flag marks all but the
// last segment of a send, per spec's TCP write path.
type Transport interface {
	WriteDatagram(to netip.AddrPort, data []byte) error
	WriteSegment(data []byte, more bool) error
	Flush() error
	AbortAccepted() error
	CloseGraceful() error
}

// Socket mirrors spec's Socket S record. Fields are exported for the
// command engine and OTA mailbox to drive directly (e.g. setting
// UDPTermEmpty, reading Peer), matching the "single owned system struct"
// redesign note in spec §9.
type Socket struct {
	ReceiveBuf *strbuf.Buf
	SendBuf    *strbuf.Buf

	Peer Peer

	SendingRemaining int
	SentRemaining    int

	ReceiveLocked bool
	RebootPending bool
	UDPTermEmpty  bool

	OnDataReceived func(s *Socket, n int)

	transport Transport
}

// New constructs a Socket with the given buffer capacities, bound to a
// Transport.
func New(recvCap, sendCap int, t Transport) *Socket {
	return &Socket{
		ReceiveBuf: strbuf.New(recvCap),
		SendBuf:    strbuf.New(sendCap),
		transport:  t,
	}
}

// Deliver appends newly arrived bytes to the receive buffer, records the
// peer, locks the buffer, and invokes OnDataReceived. If the buffer is
// already locked the bytes are not appended — the caller (transport layer)
// must not have delivered in that state; Deliver returns ErrReceiveLocked
// as a programming-error signal, not a user-facing error.
func (s *Socket) Deliver(proto Proto, peer Peer, data []byte) error {
	if s.ReceiveLocked {
		return ErrReceiveLocked
	}
	n := s.ReceiveBuf.Append(data)
	s.Peer = Peer{Proto: proto, Addr: peer.Addr, Port: peer.Port}
	s.ReceiveLocked = true
	if s.OnDataReceived != nil {
		s.OnDataReceived(s, n)
	}
	return nil
}

// Unlock releases the receive buffer so the transport may append further
// bytes. The application must call this exactly once per Deliver.
func (s *Socket) Unlock() {
	s.ReceiveLocked = false
}

// Send transmits SendBuf's contents to Peer, fragmenting per spec §4.4.
// It fails without mutating anything if a previous send has not fully
// completed.
func (s *Socket) Send() error {
	if s.SendingRemaining > 0 || s.SentRemaining > 0 {
		return ErrSendBusy
	}

	data := s.SendBuf.Bytes()
	switch s.Peer.Proto {
	case ProtoUDP:
		return s.sendUDP(data)
	case ProtoTCP:
		return s.sendTCP(data)
	default:
		return nil
	}
}

func (s *Socket) sendUDP(data []byte) error {
	chunks := FragmentUDP(data, UDPMaxDatagram)
	s.SendingRemaining = len(chunks)
	to := netip.AddrPortFrom(s.Peer.Addr, s.Peer.Port)
	for _, c := range chunks {
		if err := s.transport.WriteDatagram(to, c); err != nil {
			s.resetSendCounters()
			return err
		}
		s.SendingRemaining--
	}
	if s.UDPTermEmpty {
		if err := s.transport.WriteDatagram(to, nil); err != nil {
			s.resetSendCounters()
			return err
		}
	}
	s.resetSendCounters()
	return nil
}

func (s *Socket) sendTCP(data []byte) error {
	segments := FragmentTCP(data, TCPMaxSegment)
	s.SendingRemaining = len(segments)
	for i, seg := range segments {
		more := i < len(segments)-1
		if err := s.transport.WriteSegment(seg, more); err != nil {
			s.resetSendCounters()
			return err
		}
		s.SendingRemaining--
	}
	if err := s.transport.Flush(); err != nil {
		s.resetSendCounters()
		return err
	}
	s.resetSendCounters()
	return nil
}

func (s *Socket) resetSendCounters() {
	s.SendingRemaining = 0
	s.SentRemaining = 0
}

// Close implements spec's close path: abort any accepted TCP endpoint and
// reset send counters; if RebootPending is set, attempt a graceful TCP
// close instead (the caller resets when that close completes). For UDP,
// the caller must post an explicit reset task since UDP has no "sent"
// confirmation to hang a reset off of.
func (s *Socket) Close() error {
	s.resetSendCounters()
	if s.RebootPending && s.Peer.Proto == ProtoTCP {
		return s.transport.CloseGraceful()
	}
	return s.transport.AbortAccepted()
}

// AcceptTCP binds a newly accepted TCP connection to this socket. Per
// spec §4.4 a listener holds at most one accepted TCP endpoint at a time;
// if one is already live, it is aborted first. The receive buffer is
// cleared so a previous peer's leftover bytes never leak to the new one.
func (s *Socket) AcceptTCP(t Transport, peer Peer) error {
	if s.Peer.Proto == ProtoTCP && s.transport != nil {
		if err := s.transport.AbortAccepted(); err != nil {
			return err
		}
	}
	s.transport = t
	s.Peer = Peer{Proto: ProtoTCP, Addr: peer.Addr, Port: peer.Port}
	s.ReceiveBuf.Clear()
	s.ReceiveLocked = false
	s.resetSendCounters()
	return nil
}

// SetTransport rebinds the socket's UDP transport, used when the same
// listener serves UDP datagrams through a shared endpoint rather than a
// per-connection object.
func (s *Socket) SetTransport(t Transport) {
	s.transport = t
}
