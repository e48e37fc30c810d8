//go:build tinygo

package netsock

import (
	"net/netip"

	"github.com/soypat/lneto/x/xnet"
)

// udpTransport adapts a bound UDP endpoint on the shared network stack to
// the Transport interface, used for the mailbox socket, which never
// accepts a TCP connection.
type udpTransport struct {
	stack *xnet.StackAsync
	local netip.AddrPort
}

// NewUDPTransport binds a Transport to a local UDP port on stack, used by
// netsock.Socket for the mailbox port's raw datagram exchange.
func NewUDPTransport(stack *xnet.StackAsync, local netip.AddrPort) Transport {
	return &udpTransport{stack: stack, local: local}
}

func (u *udpTransport) WriteDatagram(to netip.AddrPort, data []byte) error {
	return u.stack.SendUDP(u.local, to, data)
}

func (u *udpTransport) WriteSegment(data []byte, more bool) error {
	return errWrongProto
}

func (u *udpTransport) Flush() error {
	return nil
}

func (u *udpTransport) AbortAccepted() error {
	return nil
}

func (u *udpTransport) CloseGraceful() error {
	return nil
}

// RecvUDP polls stack for one pending datagram addressed to local, mirroring
// the non-blocking poll shape of StackAsync.RecvAndSend used by the network
// background loop. ok is false when nothing was pending.
func RecvUDP(stack *xnet.StackAsync, local netip.AddrPort, buf []byte) (n int, from netip.AddrPort, ok bool) {
	n, from, err := stack.RecvUDP(local, buf)
	if err != nil || n == 0 {
		return 0, netip.AddrPort{}, false
	}
	return n, from, true
}
