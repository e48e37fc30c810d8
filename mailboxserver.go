//go:build tinygo

package main

import (
	"log/slog"
	"net/netip"
	"time"

	"openenterprise/iobridge/netsock"
	"openenterprise/iobridge/ota"

	"github.com/soypat/lneto/x/xnet"
)

// mailboxPort is the spec's default mailbox port (§4.6).
const mailboxPort = uint16(26)

// mailboxServer polls the mailbox UDP endpoint and feeds every datagram to
// the mailbox protocol state machine (spec §4.6), replying with the literal
// "ACK" datagram when a datagram completes a 4096-byte sector; other
// datagrams get no reply. This adapts the teacher's
// otaServerInit chunked-receive loop from a whole-image TCP push onto the
// spec's per-sector UDP mailbox exchange.
func mailboxServer(stack *xnet.StackAsync, mailbox *ota.Mailbox, logger *slog.Logger) {
	local := netip.AddrPortFrom(stack.Addr(), mailboxPort)
	transport := netsock.NewUDPTransport(stack, local)
	sock := netsock.New(4096+64, 4096+64, transport)

	var buf [4096 + 64]byte
	logger.Info("mailbox:listening", slog.String("addr", local.String()))

	for {
		n, from, ok := netsock.RecvUDP(stack, local, buf[:])
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}

		peer := netsock.Peer{Proto: netsock.ProtoUDP, Addr: from.Addr(), Port: from.Port()}
		if err := sock.Deliver(netsock.ProtoUDP, peer, buf[:n]); err != nil {
			logger.Error("mailbox:deliver-failed", slog.String("err", err.Error()))
			continue
		}

		ack := mailbox.Feed(sock.ReceiveBuf.Bytes())
		sock.ReceiveBuf.Clear()
		sock.Unlock()

		if !ack {
			continue
		}
		sock.SendBuf.Clear()
		sock.SendBuf.AppendString("ACK")
		if err := sock.Send(); err != nil {
			logger.Error("mailbox:send-failed", slog.String("err", err.Error()))
		}
	}
}
