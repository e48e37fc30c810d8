package config

import (
	"testing"

	"openenterprise/iobridge/flashbuf"
)

func newTestStore(t *testing.T) (*Store, *fakeDevice, *flashbuf.Arbiter) {
	t.Helper()
	dev := newFakeDevice()
	arb := flashbuf.New()
	s, err := Open(dev, arb, 0x1000)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s, dev, arb
}

func TestSetCommitVisibleAfterClose(t *testing.T) {
	s, _, _ := newTestStore(t)
	if err := s.OpenWrite(); err != nil {
		t.Fatalf("openwrite: %v", err)
	}
	if err := s.Set("wlan.client.ssid", "example"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok := s.Get("wlan.client.ssid"); ok {
		t.Fatalf("value should not be visible before close_write")
	}
	if err := s.CloseWrite(); err != nil {
		t.Fatalf("closewrite: %v", err)
	}
	v, ok := s.Get("wlan.client.ssid")
	if !ok || v != "example" {
		t.Fatalf("get=%q ok=%v want example", v, ok)
	}
}

func TestAbortWriteDiscardsChanges(t *testing.T) {
	s, _, _ := newTestStore(t)
	if err := s.OpenWrite(); err != nil {
		t.Fatalf("openwrite: %v", err)
	}
	s.Set("k", "v")
	s.AbortWrite()
	if _, ok := s.Get("k"); ok {
		t.Fatalf("expected no value after abort")
	}
	if err := s.OpenWrite(); err != nil {
		t.Fatalf("openwrite after abort: %v", err)
	}
}

func TestPersistsAcrossReload(t *testing.T) {
	dev := newFakeDevice()
	arb := flashbuf.New()
	s, err := Open(dev, arb, 0x1000)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.OpenWrite()
	s.Set("uart.baud.0", "115200")
	if err := s.CloseWrite(); err != nil {
		t.Fatalf("closewrite: %v", err)
	}

	s2, err := Open(dev, arb, 0x1000)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, ok := s2.Get("uart.baud.0")
	if !ok || v != "115200" {
		t.Fatalf("get=%q ok=%v", v, ok)
	}
}

func TestEmptyValueIsDelete(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.OpenWrite()
	s.Set("bridge.port", "80")
	s.CloseWrite()

	s.OpenWrite()
	s.Set("bridge.port", "")
	s.CloseWrite()

	if _, ok := s.Get("bridge.port"); ok {
		t.Fatalf("expected key deleted by empty value")
	}
}

func TestDeleteWildcard(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.OpenWrite()
	s.Set("multicast-group.0", "239.0.0.1")
	s.Set("multicast-group.1", "239.0.0.2")
	s.Set("other.key", "x")
	s.CloseWrite()

	s.OpenWrite()
	n, err := s.Delete("multicast-group.", true, -1, -1)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 {
		t.Fatalf("n=%d want 2", n)
	}
	s.CloseWrite()

	if _, ok := s.Get("multicast-group.0"); ok {
		t.Fatalf("expected multicast-group.0 deleted")
	}
	if _, ok := s.Get("other.key"); !ok {
		t.Fatalf("expected other.key to survive wildcard delete")
	}
}

func TestDeleteExactRemovesOne(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.OpenWrite()
	s.Set("k1", "a")
	s.Set("k2", "b")
	s.CloseWrite()

	s.OpenWrite()
	n, err := s.Delete("k1", false, -1, -1)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("n=%d want 1", n)
	}
	s.CloseWrite()

	if _, ok := s.Get("k1"); ok {
		t.Fatalf("expected k1 deleted")
	}
	if _, ok := s.Get("k2"); !ok {
		t.Fatalf("expected k2 to survive")
	}
}

func TestExpandKeyTemplate(t *testing.T) {
	cases := []struct {
		name       string
		tmpl       string
		i1, i2     int
		want       string
	}{
		{"single-index", "uart.baud.%u", 0, -1, "uart.baud.0"},
		{"no-index", "bridge.port", -1, -1, "bridge.port"},
		{"two-indices", "io.%u.trigger.%u", 2, 5, "io.2.trigger.5"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ExpandKey(c.tmpl, c.i1, c.i2)
			if got != c.want {
				t.Fatalf("got %q want %q", got, c.want)
			}
		})
	}
}

func TestSetTemplate(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.OpenWrite()
	if err := s.SetTemplate("uart.baud.%u", 0, -1, "9600"); err != nil {
		t.Fatalf("settemplate: %v", err)
	}
	s.CloseWrite()
	v, ok := s.Get("uart.baud.0")
	if !ok || v != "9600" {
		t.Fatalf("get=%q ok=%v", v, ok)
	}
}

func TestWriteNotReentrant(t *testing.T) {
	s, _, _ := newTestStore(t)
	if err := s.OpenWrite(); err != nil {
		t.Fatalf("openwrite: %v", err)
	}
	if err := s.OpenWrite(); err != ErrWriteInProgress {
		t.Fatalf("err=%v want ErrWriteInProgress", err)
	}
}

func TestSetWithoutOpenWriteFails(t *testing.T) {
	s, _, _ := newTestStore(t)
	if err := s.Set("k", "v"); err != ErrNoWriteInProgress {
		t.Fatalf("err=%v want ErrNoWriteInProgress", err)
	}
}

func TestSeedDefaultFallback(t *testing.T) {
	s, _, _ := newTestStore(t)
	// sntp.server has no committed record; falls back to seed default if
	// the embedded seed file carries a non-empty value. With an empty
	// embed (as shipped, no secrets baked into the test build) the key is
	// simply absent — assert the absence is reported cleanly, not as an
	// empty string masquerading as a value.
	if v, ok := s.Get("sntp.server"); ok && v == "" {
		t.Fatalf("empty seed should not be reported as present")
	}
}
