package config

import "openenterprise/iobridge/flashbuf"

// fakeDevice is an in-memory flashbuf.Device for tests, modeling addressed
// sectors as 0xFF-filled byte slices.
type fakeDevice struct {
	sectors map[uint32]*[flashbuf.SectorSize]byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{sectors: map[uint32]*[flashbuf.SectorSize]byte{}}
}

func (d *fakeDevice) sector(addr uint32) *[flashbuf.SectorSize]byte {
	s, ok := d.sectors[addr]
	if !ok {
		s = &[flashbuf.SectorSize]byte{}
		for i := range s {
			s[i] = 0xFF
		}
		d.sectors[addr] = s
	}
	return s
}

func (d *fakeDevice) ReadSector(addr uint32, dst *[flashbuf.SectorSize]byte) error {
	*dst = *d.sector(addr)
	return nil
}

func (d *fakeDevice) WriteSector(addr uint32, src *[flashbuf.SectorSize]byte) error {
	*d.sector(addr) = *src
	return nil
}

func (d *fakeDevice) EraseSector(addr uint32) error {
	s := d.sector(addr)
	for i := range s {
		s[i] = 0xFF
	}
	return nil
}
