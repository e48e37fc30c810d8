// Package wifi implements the lifecycle/association logic of spec §4.7:
// event ingestion from the network stack, multicast group join on
// association, active-scan AP reselection by RSSI, and the fallback
// open-AP recovery mode. Real scan/associate/join calls go through the
// Radio interface so this package stays host-testable; the TinyGo-side
// implementation backs Radio with github.com/soypat/cyw43439.
package wifi

import (
	"time"

	"openenterprise/iobridge/dispatch"
)

// Event is one of the lifecycle notifications the network stack posts.
type Event int

const (
	StaConnected Event = iota
	StaGotIP
	StaDisconnected
	ApStaConnected
	ApStaDisconnected
)

func (e Event) String() string {
	switch e {
	case StaConnected:
		return "sta-connected"
	case StaGotIP:
		return "sta-got-ip"
	case StaDisconnected:
		return "sta-disconnected"
	case ApStaConnected:
		return "ap-sta-connected"
	case ApStaDisconnected:
		return "ap-sta-disconnected"
	default:
		return "unknown"
	}
}

// MaxMulticastGroups bounds the multicast-group.<N> config keys per spec.
const MaxMulticastGroups = 8

// Candidate is one scan result considered during AP reselection.
type Candidate struct {
	SSID    string
	BSSID   [6]byte
	Channel uint8
	RSSI    int8
}

// Radio is the platform boundary for association control and multicast
// join; the disassociate GPIO alert is posted through the dispatcher and
// the SNTP kick-off is left to the OnGotIP hook, keeping Radio narrow.
type Radio interface {
	Scan(maxCandidates int) ([]Candidate, error)
	Associate(ssid string, bssid [6]byte, channel uint8) error
	JoinMulticast(group [4]byte) error
	StartOpenAP(ssid, password string, channel uint8) error
	Reset()
}

// SigDisassociationAlert is the dispatcher signal posted on StaDisconnected
// to drive the user-configured GPIO low.
const SigDisassociationAlert uint32 = 0x57_01

// DisassociationAlertSignal is kept as an alias for readability at call
// sites; both names resolve to the same dispatcher signal.
const DisassociationAlertSignal = SigDisassociationAlert

// Manager owns association state, the AP candidate table, and the
// fallback recovery timer.
type Manager struct {
	radio Radio
	d     *dispatch.Dispatcher

	associated      bool
	everAssociated  bool
	bootTime        time.Time
	recoveryMode    bool
	recoveryStarted time.Time

	multicastGroups [][4]byte

	OnGotIP   func()
	OnSNTPGo  func()
	nowFunc   func() time.Time
	accessPts int
}

// New constructs a Manager. accessPointsSize bounds scan results per
// spec's access_points_size.
func New(radio Radio, d *dispatch.Dispatcher, accessPointsSize int) *Manager {
	return &Manager{radio: radio, d: d, accessPts: accessPointsSize, nowFunc: time.Now}
}

// HandleEvent processes a lifecycle event from the network stack.
func (m *Manager) HandleEvent(ev Event) {
	switch ev {
	case StaConnected:
		m.associated = true
	case StaGotIP:
		m.associated = true
		m.everAssociated = true
		m.recoveryMode = false
		for _, g := range m.multicastGroups {
			m.radio.JoinMulticast(g)
		}
		if m.OnGotIP != nil {
			m.OnGotIP()
		}
	case StaDisconnected:
		m.associated = false
		m.d.Post(dispatch.PriorityFast, SigDisassociationAlert, 0)
	case ApStaConnected, ApStaDisconnected:
		// AP-mode client join/leave: no core action beyond logging, left
		// to the caller's event log.
	}
}

// SetMulticastGroups configures the groups joined on the next StaGotIP,
// truncated to MaxMulticastGroups.
func (m *Manager) SetMulticastGroups(groups [][4]byte) {
	if len(groups) > MaxMulticastGroups {
		groups = groups[:MaxMulticastGroups]
	}
	m.multicastGroups = groups
}

// Reselect performs an active scan and reassociates with the
// highest-RSSI candidate if it differs from the current association.
func (m *Manager) Reselect(currentBSSID [6]byte) error {
	candidates, err := m.radio.Scan(m.accessPts)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.RSSI > best.RSSI {
			best = c
		}
	}
	if best.BSSID == currentBSSID {
		return nil
	}
	return m.radio.Associate(best.SSID, best.BSSID, best.Channel)
}

// RecoveryThresholds are the spec §4.7 fallback timing constants.
const (
	RecoveryStartAfter = 60 * time.Second
	RecoveryResetAfter = 5 * time.Minute
)

// NoteBoot records the boot time, used by CheckRecovery.
func (m *Manager) NoteBoot() {
	m.bootTime = m.nowFunc()
}

// CheckRecovery is driven from the slow dispatcher tick. It starts the
// fallback open AP 60s after boot if never associated, and signals a
// reset 5 minutes after boot if still not associated.
func (m *Manager) CheckRecovery(ssid, password string) (shouldReset bool) {
	if m.everAssociated {
		return false
	}
	elapsed := m.nowFunc().Sub(m.bootTime)
	if elapsed >= RecoveryResetAfter {
		return true
	}
	if elapsed >= RecoveryStartAfter && !m.recoveryMode {
		m.recoveryMode = true
		m.recoveryStarted = m.nowFunc()
		m.radio.StartOpenAP(ssid, password, 1)
	}
	return false
}

// InRecovery reports whether the fallback AP is currently active; callers
// use this to gate UART log mirroring and UART-originated commands.
func (m *Manager) InRecovery() bool { return m.recoveryMode }

// Associated reports current STA association state.
func (m *Manager) Associated() bool { return m.associated }
