//go:build tinygo

package netsock

import (
	"errors"
	"net/netip"

	"github.com/soypat/lneto/tcp"
)

// tcpTransport adapts a *tcp.Conn (lneto) to the Transport interface. One
// instance is created per accepted connection; UDP traffic on the same
// listener uses udpTransport instead, both backing the same Socket so
// receive/send buffers are shared per spec §4.4.
type tcpTransport struct {
	conn *tcp.Conn
}

// NewTCPTransport wraps an accepted lneto TCP connection.
func NewTCPTransport(conn *tcp.Conn) Transport {
	return &tcpTransport{conn: conn}
}

var errWrongProto = errors.New("netsock: datagram write on a TCP transport")

func (t *tcpTransport) WriteDatagram(to netip.AddrPort, data []byte) error {
	// A TCP-bound socket never emits UDP datagrams; this path only exists
	// to satisfy the Transport interface for sockets that never switch
	// proto under this transport.
	return errWrongProto
}

func (t *tcpTransport) WriteSegment(data []byte, more bool) error {
	_, err := t.conn.Write(data)
	return err
}

func (t *tcpTransport) Flush() error {
	return nil
}

func (t *tcpTransport) AbortAccepted() error {
	t.conn.Abort()
	return nil
}

func (t *tcpTransport) CloseGraceful() error {
	return t.conn.Close()
}

// RemoteTCPAddr reports the connected peer's IPv4 address, used to
// populate Peer on accept. lneto's tcp.Conn.RemoteAddr returns the raw
// 4-byte IPv4 address.
func RemoteTCPAddr(conn *tcp.Conn) netip.Addr {
	raw := conn.RemoteAddr()
	if len(raw) == 4 {
		return netip.AddrFrom4([4]byte{raw[0], raw[1], raw[2], raw[3]})
	}
	return netip.Addr{}
}
