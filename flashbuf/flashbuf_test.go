package flashbuf

import "testing"

func TestRequestReleaseCycle(t *testing.T) {
	a := New()
	h, err := a.Request(ConfigCache, "config")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if a.Owner() != ConfigCache {
		t.Fatalf("owner=%v want ConfigCache", a.Owner())
	}
	if err := a.Release(ConfigCache, "config"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if a.Owner() != Free {
		t.Fatalf("owner=%v want Free", a.Owner())
	}
	_ = h
}

func TestGrantPolicy(t *testing.T) {
	cases := []struct {
		name       string
		setup      Owner
		request    Owner
		wantGrant  bool
	}{
		{"free-to-ota", Free, Ota, true},
		{"free-to-config", Free, ConfigCache, true},
		{"config-evicted-by-ota", ConfigCache, Ota, true},
		{"config-evicted-by-display", ConfigCache, DisplayPicture, true},
		{"config-evicted-by-rboot", ConfigCache, Rboot, true},
		{"config-to-config-denied", ConfigCache, ConfigCache, false},
		{"ota-busy-denies-ota", Ota, Ota, false},
		{"ota-busy-denies-rboot", Ota, Rboot, false},
		{"rboot-busy-denies-config", Rboot, ConfigCache, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := New()
			if c.setup != Free {
				if _, err := a.Request(c.setup, "setup"); err != nil {
					t.Fatalf("setup request: %v", err)
				}
			}
			_, err := a.Request(c.request, "test")
			got := err == nil
			if got != c.wantGrant {
				t.Fatalf("grant=%v want %v (err=%v)", got, c.wantGrant, err)
			}
		})
	}
}

func TestReleaseMismatch(t *testing.T) {
	a := New()
	if _, err := a.Request(Ota, "ota"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := a.Release(Rboot, "ota"); err != ErrOwnerMismatch {
		t.Fatalf("err=%v want ErrOwnerMismatch", err)
	}
}

func TestHandleBytesIsSectorSized(t *testing.T) {
	a := New()
	h, err := a.Request(Ota, "ota")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(h.Bytes()) != SectorSize {
		t.Fatalf("len=%d want %d", len(h.Bytes()), SectorSize)
	}
}
