// Package drivers provides in-memory stand-ins for the peripheral layer
// spec §1 places out of scope: the core only ever sees send/recv bytes
// and get/set on a pin, never real I2C/SPI/GPIO register access. These
// fakes let the command table's i2c-*/spi-*/io-*/display-* entries exist
// and round-trip in tests without touching real hardware.
package drivers

import "errors"

// ErrNoSuchPin / ErrNoSuchBus are returned when a command addresses an
// index outside the configured fake topology.
var (
	ErrNoSuchPin = errors.New("drivers: no such pin")
	ErrNoSuchBus = errors.New("drivers: no such bus")
)

// GPIO is a fake digital pin bank.
type GPIO struct {
	pins map[int]bool
}

// NewGPIO creates a bank of n pins, all initially low.
func NewGPIO(n int) *GPIO {
	g := &GPIO{pins: make(map[int]bool, n)}
	for i := 0; i < n; i++ {
		g.pins[i] = false
	}
	return g
}

// Set drives pin high (true) or low (false).
func (g *GPIO) Set(pin int, high bool) error {
	if _, ok := g.pins[pin]; !ok {
		return ErrNoSuchPin
	}
	g.pins[pin] = high
	return nil
}

// Get reads the current level of pin.
func (g *GPIO) Get(pin int) (bool, error) {
	v, ok := g.pins[pin]
	if !ok {
		return false, ErrNoSuchPin
	}
	return v, nil
}

// I2CBus is a fake I2C bus: a per-address byte-addressable register file,
// enough to exercise i2c-read/i2c-write/i2c-sensor-* handlers.
type I2CBus struct {
	devices map[uint8]map[uint8]byte
}

// NewI2CBus creates an empty bus; devices register lazily on first write.
func NewI2CBus() *I2CBus {
	return &I2CBus{devices: make(map[uint8]map[uint8]byte)}
}

// Send writes data starting at register reg on device addr.
func (b *I2CBus) Send(addr, reg uint8, data []byte) error {
	dev, ok := b.devices[addr]
	if !ok {
		dev = make(map[uint8]byte)
		b.devices[addr] = dev
	}
	for i, v := range data {
		dev[reg+uint8(i)] = v
	}
	return nil
}

// Recv reads n bytes starting at register reg on device addr.
func (b *I2CBus) Recv(addr, reg uint8, n int) ([]byte, error) {
	dev, ok := b.devices[addr]
	if !ok {
		return nil, ErrNoSuchBus
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = dev[reg+uint8(i)]
	}
	return out, nil
}

// SPIBus is a fake SPI bus modelled as a simple full-duplex byte echo
// with a per-chip-select register file, driven through Transfer.
type SPIBus struct {
	chips map[uint8][]byte
}

// NewSPIBus creates an empty bus.
func NewSPIBus() *SPIBus {
	return &SPIBus{chips: make(map[uint8][]byte)}
}

// Transfer writes out to chip cs and returns whatever was previously
// latched there (a trivial loopback fake, not a protocol model).
func (b *SPIBus) Transfer(cs uint8, out []byte) []byte {
	prev := b.chips[cs]
	cp := append([]byte(nil), out...)
	b.chips[cs] = cp
	return prev
}

// PWM is a fake PWM output bank, backing pwm-width.
type PWM struct {
	widths map[int]uint16
}

// NewPWM creates a bank of n channels, initially zero width.
func NewPWM(n int) *PWM {
	p := &PWM{widths: make(map[int]uint16, n)}
	for i := 0; i < n; i++ {
		p.widths[i] = 0
	}
	return p
}

// SetWidth sets channel ch's pulse width.
func (p *PWM) SetWidth(ch int, width uint16) error {
	if _, ok := p.widths[ch]; !ok {
		return ErrNoSuchPin
	}
	p.widths[ch] = width
	return nil
}

// Width reads channel ch's current pulse width.
func (p *PWM) Width(ch int) (uint16, error) {
	w, ok := p.widths[ch]
	if !ok {
		return 0, ErrNoSuchPin
	}
	return w, nil
}

// Display is a fake display panel backing display-* commands: a
// rectangular pixel buffer plus a "slot" concept for stored pictures.
type Display struct {
	Width, Height int
	pixels        []byte
	slots         map[int][]byte
}

// NewDisplay creates a display of the given dimensions (1 byte/pixel).
func NewDisplay(w, h int) *Display {
	return &Display{Width: w, Height: h, pixels: make([]byte, w*h), slots: make(map[int][]byte)}
}

// SetPixel sets the byte value at (x, y).
func (d *Display) SetPixel(x, y int, v byte) error {
	if x < 0 || x >= d.Width || y < 0 || y >= d.Height {
		return ErrNoSuchPin
	}
	d.pixels[y*d.Width+x] = v
	return nil
}

// StoreSlot copies the current frame buffer into slot n.
func (d *Display) StoreSlot(n int) {
	cp := append([]byte(nil), d.pixels...)
	d.slots[n] = cp
}

// LoadSlot restores frame buffer contents from slot n, if present.
func (d *Display) LoadSlot(n int) bool {
	cp, ok := d.slots[n]
	if !ok {
		return false
	}
	copy(d.pixels, cp)
	return true
}
