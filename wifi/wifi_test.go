package wifi

import (
	"testing"
	"time"

	"openenterprise/iobridge/dispatch"
)

type fakeRadio struct {
	candidates     []Candidate
	associateCalls []Candidate
	joined         [][4]byte
	openAPStarted  bool
	resets         int
}

func (f *fakeRadio) Scan(max int) ([]Candidate, error) {
	if len(f.candidates) > max {
		return f.candidates[:max], nil
	}
	return f.candidates, nil
}

func (f *fakeRadio) Associate(ssid string, bssid [6]byte, channel uint8) error {
	f.associateCalls = append(f.associateCalls, Candidate{SSID: ssid, BSSID: bssid, Channel: channel})
	return nil
}

func (f *fakeRadio) JoinMulticast(group [4]byte) error {
	f.joined = append(f.joined, group)
	return nil
}

func (f *fakeRadio) StartOpenAP(ssid, password string, channel uint8) error {
	f.openAPStarted = true
	return nil
}

func (f *fakeRadio) Reset() { f.resets++ }

func TestGotIPJoinsConfiguredMulticastGroups(t *testing.T) {
	radio := &fakeRadio{}
	m := New(radio, dispatch.New(), 8)
	m.SetMulticastGroups([][4]byte{{239, 0, 0, 1}, {239, 0, 0, 2}})

	m.HandleEvent(StaGotIP)

	if len(radio.joined) != 2 {
		t.Fatalf("joined=%d want 2", len(radio.joined))
	}
}

func TestMulticastGroupsTruncatedToMax(t *testing.T) {
	radio := &fakeRadio{}
	m := New(radio, dispatch.New(), 8)
	groups := make([][4]byte, 20)
	m.SetMulticastGroups(groups)
	if len(m.multicastGroups) != MaxMulticastGroups {
		t.Fatalf("groups=%d want %d", len(m.multicastGroups), MaxMulticastGroups)
	}
}

func TestDisconnectPostsDisassociationAlert(t *testing.T) {
	radio := &fakeRadio{}
	d := dispatch.New()
	m := New(radio, d, 8)
	m.HandleEvent(StaDisconnected)

	posted := false
	d.Step(func(prio dispatch.Priority, task dispatch.Task) {
		if task.Signal == SigDisassociationAlert {
			posted = true
		}
	})
	if !posted {
		t.Fatalf("expected disassociation alert task posted")
	}
}

func TestReselectPicksMaxRSSIAndReassociatesOnChange(t *testing.T) {
	radio := &fakeRadio{candidates: []Candidate{
		{SSID: "weak", BSSID: [6]byte{1}, RSSI: -80},
		{SSID: "strong", BSSID: [6]byte{2}, RSSI: -40, Channel: 6},
	}}
	m := New(radio, dispatch.New(), 8)

	if err := m.Reselect([6]byte{1}); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if len(radio.associateCalls) != 1 || radio.associateCalls[0].SSID != "strong" {
		t.Fatalf("expected reassociation to strong AP, got %+v", radio.associateCalls)
	}
}

func TestReselectSkipsWhenBestIsCurrent(t *testing.T) {
	radio := &fakeRadio{candidates: []Candidate{
		{SSID: "current", BSSID: [6]byte{9}, RSSI: -40},
	}}
	m := New(radio, dispatch.New(), 8)
	if err := m.Reselect([6]byte{9}); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if len(radio.associateCalls) != 0 {
		t.Fatalf("should not reassociate to the already-current AP")
	}
}

func TestCheckRecoveryStartsOpenAPAfter60sAndResetsAfter5Min(t *testing.T) {
	radio := &fakeRadio{}
	m := New(radio, dispatch.New(), 8)
	base := time.Now()
	m.nowFunc = func() time.Time { return base }
	m.NoteBoot()

	m.nowFunc = func() time.Time { return base.Add(30 * time.Second) }
	if reset := m.CheckRecovery("fallback", "password"); reset {
		t.Fatalf("should not reset at 30s")
	}
	if radio.openAPStarted {
		t.Fatalf("should not start fallback AP before 60s")
	}

	m.nowFunc = func() time.Time { return base.Add(61 * time.Second) }
	if reset := m.CheckRecovery("fallback", "password"); reset {
		t.Fatalf("should not reset at 61s")
	}
	if !radio.openAPStarted {
		t.Fatalf("expected fallback AP started at 61s")
	}
	if !m.InRecovery() {
		t.Fatalf("expected InRecovery true")
	}

	m.nowFunc = func() time.Time { return base.Add(6 * time.Minute) }
	if reset := m.CheckRecovery("fallback", "password"); !reset {
		t.Fatalf("expected reset signal after 5 minutes total without association")
	}
}

func TestCheckRecoverySkippedOnceAssociated(t *testing.T) {
	radio := &fakeRadio{}
	m := New(radio, dispatch.New(), 8)
	m.NoteBoot()
	m.HandleEvent(StaGotIP)

	m.nowFunc = func() time.Time { return time.Now().Add(10 * time.Minute) }
	if reset := m.CheckRecovery("fallback", "password"); reset {
		t.Fatalf("should never reset once associated")
	}
}
