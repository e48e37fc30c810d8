package command

import (
	"errors"

	"openenterprise/iobridge/strbuf"
)

// ErrFlashSendBusy is returned by Begin when an assembly is already in
// progress.
var ErrFlashSendBusy = errors.New("command: flash-send assembly already in progress")

// FlashSendAssembler implements the "flash-send assembly" family (spec
// §4.5): a special command line `flash-send <offset> <length>` followed by
// exactly <length> raw bytes, which may arrive split across any number of
// socket read callbacks. The receive buffer is repeatedly unlocked while
// accumulating, since it is not yet a complete dispatchable line.
type FlashSendAssembler struct {
	active bool
	offset int
	length int
	data   []byte
}

// Detect inspects a just-received line for the `flash-send <offset>
// <length>` header. It does not mutate state; callers use it to decide
// whether to hand the remaining bytes of this read to Begin/Feed instead
// of the normal line dispatcher.
func Detect(line []byte) (offset, length int, ok bool) {
	tok, ok := strbuf.Token(0, line, ' ')
	if !ok || string(tok) != "flash-send" {
		return 0, 0, false
	}
	off, ok := strbuf.ParseUint(1, line, 10, ' ')
	if !ok {
		return 0, 0, false
	}
	ln, ok := strbuf.ParseUint(2, line, 10, ' ')
	if !ok {
		return 0, 0, false
	}
	return int(off), int(ln), true
}

// Begin starts accumulating length bytes destined for offset. Any bytes
// supplied beyond the header on the same read are passed as initial.
func (a *FlashSendAssembler) Begin(offset, length int, initial []byte) error {
	if a.active {
		return ErrFlashSendBusy
	}
	a.active = true
	a.offset = offset
	a.length = length
	a.data = make([]byte, 0, length)
	a.Feed(initial)
	return nil
}

// Active reports whether an assembly is in progress.
func (a *FlashSendAssembler) Active() bool { return a.active }

// Feed appends more raw bytes to the in-progress assembly, never exceeding
// the declared length. Returns whether the assembly is now complete.
func (a *FlashSendAssembler) Feed(p []byte) bool {
	if !a.active {
		return false
	}
	room := a.length - len(a.data)
	n := len(p)
	if n > room {
		n = room
	}
	a.data = append(a.data, p[:n]...)
	return len(a.data) >= a.length
}

// Offset, Length, Data expose the assembled state once Feed reports
// completion. Data aliases internal storage.
func (a *FlashSendAssembler) Offset() int   { return a.offset }
func (a *FlashSendAssembler) Length() int   { return a.length }
func (a *FlashSendAssembler) Data() []byte  { return a.data }

// Reset clears the assembler back to inactive, e.g. after dispatch or on
// error (spec: "Any error at any state returns to Idle").
func (a *FlashSendAssembler) Reset() {
	a.active = false
	a.offset = 0
	a.length = 0
	a.data = nil
}
