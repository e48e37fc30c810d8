package command

// TelnetState is the three-state FSM used to strip telnet IAC option
// negotiation triplets (0xFF <cmd> <opt>) from an inbound byte stream
// (spec §4.5, §9 "Telnet stripping state"), replacing both the original
// source's inline state tracking and the ad-hoc skip-counter the teacher
// used in its console.
type TelnetState int

const (
	// TelnetCopy is the steady state: bytes are passed through verbatim.
	TelnetCopy TelnetState = iota
	// TelnetDoDont follows an IAC byte: the next byte is the telnet
	// command (WILL/WONT/DO/DONT/...) and is itself dropped.
	TelnetDoDont
	// TelnetData follows any command byte: the next byte is treated as the
	// option and is dropped, then the FSM returns to TelnetCopy.
	TelnetData
)

const iac = 0xFF

// TelnetStripper strips IAC triplets across an arbitrary number of Feed
// calls, carrying FSM state between them (a single mailbox/console byte
// stream may split a triplet across separate reads).
type TelnetStripper struct {
	state TelnetState
}

// Feed appends src to dst with all IAC <cmd> <opt> triplets removed,
// returning dst. It is safe to call repeatedly across successive network
// reads; the stripper's internal state persists the position within a
// triplet that spans calls.
func (s *TelnetStripper) Feed(dst []byte, src []byte) []byte {
	for _, b := range src {
		switch s.state {
		case TelnetCopy:
			if b == iac {
				s.state = TelnetDoDont
			} else {
				dst = append(dst, b)
			}
		case TelnetDoDont:
			s.state = TelnetData
		case TelnetData:
			s.state = TelnetCopy
		}
	}
	return dst
}

// Reset returns the stripper to TelnetCopy, e.g. on new session.
func (s *TelnetStripper) Reset() { s.state = TelnetCopy }

// Strip is a convenience one-shot helper for callers with no
// cross-call state to carry (e.g. tests): it strips a single complete
// buffer and always starts from TelnetCopy.
func Strip(src []byte) []byte {
	var s TelnetStripper
	return s.Feed(make([]byte, 0, len(src)), src)
}
