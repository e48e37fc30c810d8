//go:build tinygo

package main

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"openenterprise/iobridge/command"
	"openenterprise/iobridge/credentials"
	"openenterprise/iobridge/netsock"
	"openenterprise/iobridge/ota"
	"openenterprise/iobridge/strbuf"

	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
)

const (
	consolePort = uint16(23) // telnet, spec §4.4 command port
	// consoleBufSize must hold a whole flash-send assembly line (header
	// plus a full 4 KiB sector), since §4.5's "assembly over the command
	// port" streams a sector as one long line rather than raw bytes.
	consoleBufSize = flashSendHeaderRoom + 4096
	flashSendHeaderRoom = 64
)

var startTime time.Time

// Authentication state for brute-force protection.
var (
	authFailures    int
	lastFailureTime time.Time
)

// consoleServer runs the command-port TCP listener (spec §4.4/§4.5):
// accept, authenticate, then repeatedly accumulate a line and run it
// through the shared command engine.
func consoleServer(stack *xnet.StackAsync, engine *command.Engine, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("console:panic-recovered")
		}
	}()

	var rxBuf, txBuf [consoleBufSize]byte
	var conn tcp.Conn
	if err := conn.Configure(tcp.ConnConfig{
		RxBuf:             rxBuf[:],
		TxBuf:             txBuf[:],
		TxPacketQueueSize: 3,
	}); err != nil {
		logger.Error("console:configure-failed", slog.String("err", err.Error()))
		return
	}

	sock := netsock.New(consoleBufSize, consoleBufSize, netsock.NewTCPTransport(&conn))

	ourAddr := netip.AddrPortFrom(stack.Addr(), consolePort)
	logger.Info("console:listening", slog.String("addr", ourAddr.String()))

	for {
		conn.Abort()
		time.Sleep(100 * time.Millisecond)

		if checkLockout() {
			remaining := getLockoutDuration() - time.Since(lastFailureTime)
			logger.Info("console:lockout", slog.Int("failures", authFailures), slog.Duration("remaining", remaining))
			time.Sleep(1 * time.Second)
			continue
		}

		if err := stack.ListenTCP(&conn, consolePort); err != nil {
			logger.Error("console:listen-failed", slog.String("err", err.Error()))
			time.Sleep(3 * time.Second)
			continue
		}

		waitCount := 0
		for conn.State().IsPreestablished() && waitCount < 6000 {
			time.Sleep(10 * time.Millisecond)
			waitCount++
		}
		if !conn.State().IsSynchronized() {
			conn.Abort()
			continue
		}

		peerAddr := netsock.RemoteTCPAddr(&conn)
		logger.Info("console:connected", slog.String("ip", peerAddr.String()))
		if err := sock.AcceptTCP(netsock.NewTCPTransport(&conn), netsock.Peer{Proto: netsock.ProtoTCP, Addr: peerAddr, Port: 0}); err != nil {
			logger.Error("console:accept-failed", slog.String("err", err.Error()))
			conn.Abort()
			continue
		}

		if !authenticateConsole(&conn) {
			logger.Info("console:auth-failed", slog.Int("failures", authFailures))
			conn.Close()
			for i := 0; i < 10 && !conn.State().IsClosed(); i++ {
				time.Sleep(100 * time.Millisecond)
			}
			conn.Abort()
			continue
		}
		logger.Info("console:authenticated")

		conn.Write([]byte("iobridge command port\r\nType 'help' for commands\r\n> "))
		conn.Flush()

		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("console:session-panic")
				}
			}()
			runConsoleSession(&conn, sock, engine, logger)
		}()

		conn.Close()
		for i := 0; i < 30 && !conn.State().IsClosed(); i++ {
			time.Sleep(100 * time.Millisecond)
		}
		conn.Abort()
		logger.Info("console:disconnected")
	}
}

// runConsoleSession accumulates inbound bytes into lines and dispatches
// each complete line through engine, writing the reply back through sock.
// A `flash-send <offset> <length>` line (spec §4.5) switches it into raw
// byte accumulation via a FlashSendAssembler for exactly length bytes,
// bypassing line framing, before resuming normal dispatch.
func runConsoleSession(conn *tcp.Conn, sock *netsock.Socket, engine *command.Engine, logger *slog.Logger) {
	line := strbuf.New(consoleBufSize)
	var assembler command.FlashSendAssembler
	var readBuf [64]byte

	for {
		if conn.State().IsClosed() || conn.State().IsClosing() || !conn.State().RxDataOpen() {
			return
		}

		n, err := conn.Read(readBuf[:])
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			return
		}
		if n == 0 {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		chunk := readBuf[:n]
		for len(chunk) > 0 {
			if assembler.Active() {
				room := assembler.Length() - len(assembler.Data())
				take := room
				if take > len(chunk) {
					take = len(chunk)
				}
				done := assembler.Feed(chunk[:take])
				chunk = chunk[take:]
				if done {
					completeFlashSend(sock, engine, &assembler, logger)
					conn.Write([]byte("> "))
					conn.Flush()
					time.Sleep(10 * time.Millisecond)
				}
				continue
			}

			b := chunk[0]
			chunk = chunk[1:]
			if b == '\n' || b == '\r' {
				if line.Len() == 0 {
					continue
				}
				if offset, length, ok := command.Detect(line.Bytes()); ok {
					if err := assembler.Begin(offset, length, chunk); err != nil {
						conn.Write([]byte("\r\nERROR: " + err.Error() + "\r\n> "))
						conn.Flush()
						line.Clear()
						continue
					}
					consumed := length
					if consumed > len(chunk) {
						consumed = len(chunk)
					}
					chunk = chunk[consumed:]
					line.Clear()
					if len(assembler.Data()) >= assembler.Length() {
						// Begin already completed the assembly from
						// bytes trailing the header in this same read.
						completeFlashSend(sock, engine, &assembler, logger)
						conn.Write([]byte("> "))
						conn.Flush()
					}
					continue
				}
				dispatchConsoleLine(sock, engine, line.Bytes(), logger)
				line.Clear()
				conn.Write([]byte("> "))
				conn.Flush()
				time.Sleep(10 * time.Millisecond)
				continue
			}
			if line.Len() >= consoleBufSize-1 {
				conn.Write([]byte("\r\nline too long\r\n> "))
				line.Clear()
				continue
			}
			line.AppendByte(b)
		}
	}
}

// completeFlashSend re-synthesizes the assembled flash-send line — header
// tokens followed immediately by the raw payload bytes — and dispatches it
// through the normal engine path, matching the "fsd" handler's contract.
func completeFlashSend(sock *netsock.Socket, engine *command.Engine, a *command.FlashSendAssembler, logger *slog.Logger) {
	raw := append([]byte(fmt.Sprintf("flash-send %d %d ", a.Offset(), a.Length())), a.Data()...)
	dispatchConsoleLine(sock, engine, raw, logger)
	a.Reset()
}

func dispatchConsoleLine(sock *netsock.Socket, engine *command.Engine, raw []byte, logger *slog.Logger) {
	if err := sock.Deliver(netsock.ProtoTCP, sock.Peer, raw); err != nil {
		logger.Error("console:deliver-failed", slog.String("err", err.Error()))
		return
	}
	sock.SendBuf.Clear()
	action, dropped := engine.DispatchWithBackpressure(sock.ReceiveBuf.Bytes(), sock.SendBuf, sock.SendingRemaining > 0 || sock.SentRemaining > 0)
	sock.ReceiveBuf.Clear()
	sock.Unlock()
	if dropped {
		return
	}
	sock.SendBuf.Append([]byte("\r\n"))
	if err := sock.Send(); err != nil {
		logger.Error("console:send-failed", slog.String("err", err.Error()))
	}
	switch action {
	case command.ActionDisconnect:
		sock.RebootPending = false
		sock.Close()
	case command.ActionReset:
		sock.RebootPending = true
		sock.Close()
		ota.Reboot()
	}
}

func getLockoutDuration() time.Duration {
	switch {
	case authFailures >= 10:
		return 5 * time.Minute
	case authFailures >= 5:
		return 30 * time.Second
	case authFailures >= 3:
		return 5 * time.Second
	default:
		return 0
	}
}

func checkLockout() bool {
	lockout := getLockoutDuration()
	if lockout == 0 {
		return false
	}
	return time.Since(lastFailureTime) < lockout
}

func recordFailure() {
	authFailures++
	lastFailureTime = time.Now()
}

func resetFailures() { authFailures = 0 }

var (
	telnetWillEcho = []byte{0xFF, 0xFB, 0x01}
	telnetWontEcho = []byte{0xFF, 0xFC, 0x01}
)

// authenticateConsole prompts for the console password with echo
// suppressed, comparing in constant time.
func authenticateConsole(conn *tcp.Conn) bool {
	conn.Write(telnetWillEcho)
	conn.Write([]byte("Password: "))
	conn.Flush()

	var passBuf, readBuf [64]byte
	var passLen int
	deadline := time.Now().Add(10 * time.Second)

	restoreEcho := func() {
		conn.Write(telnetWontEcho)
		conn.Write([]byte("\r\n"))
		conn.Flush()
	}

	for time.Now().Before(deadline) {
		if conn.State().IsClosed() || conn.State().IsClosing() || !conn.State().RxDataOpen() {
			restoreEcho()
			return false
		}
		n, err := conn.Read(readBuf[:])
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			restoreEcho()
			return false
		}
		if n == 0 {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		for i := 0; i < n && passLen < len(passBuf)-1; i++ {
			b := readBuf[i]
			if b == '\n' || b == '\r' {
				restoreEcho()
				expected := []byte(credentials.ConsolePassword())
				if subtle.ConstantTimeCompare(passBuf[:passLen], expected) == 1 {
					resetFailures()
					return true
				}
				recordFailure()
				return false
			}
			passBuf[passLen] = b
			passLen++
		}
		if passLen >= len(passBuf)-1 {
			restoreEcho()
			recordFailure()
			return false
		}
	}
	restoreEcho()
	recordFailure()
	return false
}

func initConsole() {
	startTime = time.Now()
}
