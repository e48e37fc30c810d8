//go:build tinygo

package wifi

import (
	"github.com/soypat/cyw43439"
	"github.com/soypat/cyw43439/examples/cywnet"
)

// picoRadio backs the Radio interface with the real cyw43439 driver and
// cywnet's association helpers, the way main.go brings the stack up.
type picoRadio struct {
	stack *cywnet.Stack
	dev   *cyw43439.Device
}

// NewPicoRadio wraps an already-initialised cywnet stack.
func NewPicoRadio(stack *cywnet.Stack, dev *cyw43439.Device) Radio {
	return &picoRadio{stack: stack, dev: dev}
}

func (r *picoRadio) Scan(maxCandidates int) ([]Candidate, error) {
	results, err := r.dev.Scan(maxCandidates)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(results))
	for _, res := range results {
		out = append(out, Candidate{
			SSID:    string(res.SSID[:res.SSIDLength]),
			BSSID:   res.BSSID,
			Channel: res.Channel,
			RSSI:    int8(res.RSSI),
		})
	}
	return out, nil
}

func (r *picoRadio) Associate(ssid string, bssid [6]byte, channel uint8) error {
	return r.dev.JoinNetworkBSSID(ssid, bssid, channel)
}

func (r *picoRadio) JoinMulticast(group [4]byte) error {
	return r.stack.JoinMulticastGroupV4(group)
}

func (r *picoRadio) StartOpenAP(ssid, password string, channel uint8) error {
	return r.dev.StartAP(ssid, password, channel)
}

func (r *picoRadio) Reset() {
	r.dev.Reset()
}
