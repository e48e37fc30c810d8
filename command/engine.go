package command

import (
	"sync/atomic"

	"openenterprise/iobridge/strbuf"
)

// StatusTrigger is invoked once per dispatched line if configured, mirroring
// the original's optional "trigger a user-configured GPIO as a status
// indicator" step.
type StatusTrigger func()

// Engine couples a command Table to the telnet-stripping and
// backpressure rules of spec §4.5.
type Engine struct {
	Table Table

	StripTelnet   bool
	StatusTrigger StatusTrigger

	telnet TelnetStripper

	sendBufferOverflow uint32
}

// SendBufferOverflowCount returns the number of commands dropped because
// the send buffer was still busy when a line arrived (the
// cmd_send_buffer_overflow counter, surfaced by stats-counters).
func (e *Engine) SendBufferOverflowCount() uint32 {
	return atomic.LoadUint32(&e.sendBufferOverflow)
}

// Dispatch runs one received line through the engine without any
// send-buffer check; it never drops the line, so dropped is always false.
func (e *Engine) Dispatch(line []byte, dst *strbuf.Buf) (action Action, dropped bool) {
	return e.dispatch(line, dst, false)
}

// DispatchWithBackpressure is Dispatch plus the send-buffer-busy check from
// spec §4.5's "Backpressure contract with the socket". sendBufferBusy
// reflects the socket's current send-in-flight state (spec §4.4's
// sending_remaining/sent_remaining). When busy, the command is dropped:
// dropped is true, dst is left untouched, and the caller must still
// clear+unlock the receive buffer itself.
func (e *Engine) DispatchWithBackpressure(line []byte, dst *strbuf.Buf, sendBufferBusy bool) (action Action, dropped bool) {
	return e.dispatch(line, dst, sendBufferBusy)
}

func (e *Engine) dispatch(line []byte, dst *strbuf.Buf, sendBufferBusy bool) (Action, bool) {
	if sendBufferBusy {
		atomic.AddUint32(&e.sendBufferOverflow, 1)
		return ActionEmpty, true
	}

	work := line
	if e.StripTelnet {
		work = e.telnet.Feed(make([]byte, 0, len(line)), line)
	}

	if e.StatusTrigger != nil {
		e.StatusTrigger()
	}

	tok, ok := strbuf.Token(0, work, ' ')
	if !ok {
		dst.Clear()
		dst.AppendString("> empty command\n")
		return ActionEmpty, false
	}

	entry, found := e.Table.Find(string(tok))
	if !found {
		dst.Clear()
		dst.AppendString(string(tok))
		dst.AppendString(": command unknown\n")
		return ActionError, false
	}

	dst.Clear()
	action := entry.Handler(work, dst)
	applyActionSemantics(action, dst)
	return action, false
}

// applyActionSemantics implements spec §4.5's fixed replies for the three
// action codes that override whatever the handler wrote.
func applyActionSemantics(action Action, dst *strbuf.Buf) {
	switch action {
	case ActionEmpty:
		dst.Clear()
		dst.AppendString("> empty command\n")
	case ActionDisconnect:
		dst.Clear()
		dst.AppendString("> disconnect\n")
	case ActionReset:
		dst.Clear()
		dst.AppendString("> reset\n")
	}
}
