package netsock

import (
	"errors"
	"net/netip"
)

var errTransportFailure = errors.New("fake transport: simulated failure")

// fakeTransport is a spy Transport for host tests: it records every call
// instead of touching real hardware or a network stack.
type fakeTransport struct {
	datagrams      []datagramCall
	segments       []segmentCall
	flushed        int
	aborted        int
	closedGraceful int

	failOn int // if >0, the nth WriteDatagram/WriteSegment call fails
	calls  int
}

type datagramCall struct {
	To   netip.AddrPort
	Data []byte
}

type segmentCall struct {
	Data []byte
	More bool
}

func (f *fakeTransport) WriteDatagram(to netip.AddrPort, data []byte) error {
	f.calls++
	if f.failOn > 0 && f.calls == f.failOn {
		return errTransportFailure
	}
	cp := append([]byte(nil), data...)
	f.datagrams = append(f.datagrams, datagramCall{To: to, Data: cp})
	return nil
}

func (f *fakeTransport) WriteSegment(data []byte, more bool) error {
	f.calls++
	if f.failOn > 0 && f.calls == f.failOn {
		return errTransportFailure
	}
	cp := append([]byte(nil), data...)
	f.segments = append(f.segments, segmentCall{Data: cp, More: more})
	return nil
}

func (f *fakeTransport) Flush() error {
	f.flushed++
	return nil
}

func (f *fakeTransport) AbortAccepted() error {
	f.aborted++
	return nil
}

func (f *fakeTransport) CloseGraceful() error {
	f.closedGraceful++
	return nil
}
