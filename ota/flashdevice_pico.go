//go:build tinygo

package ota

import "unsafe"

// xipBase is the RP2350's memory-mapped flash read address; flash contents
// are readable as ordinary memory at this offset regardless of which XIP
// cache window GetPartitionXIPAddr reports for a given partition, since
// offsets passed to FlashDevice are always raw flash-relative addresses
// (the same convention WriteChunk/EraseSector already use).
const xipBase = 0x10000000

// FlashDevice implements flashbuf.Device on top of the ROM flash erase/
// program primitives above, so the config store and the flash-*/
// mailbox-* command families drive real flash through the same path the
// trial-boot/reboot logic uses, instead of a second flash abstraction.
type FlashDevice struct{}

// NewFlashDevice returns a FlashDevice bound to the chip's raw flash
// address space.
func NewFlashDevice() *FlashDevice {
	return &FlashDevice{}
}

// ReadSector reads directly from the XIP-mapped flash window; no ROM call
// is needed since flash is memory-mapped for reads.
func (FlashDevice) ReadSector(addr uint32, dst *[SectorSize]byte) error {
	src := (*[SectorSize]byte)(unsafe.Pointer(uintptr(xipBase + addr)))
	copy(dst[:], src[:])
	return nil
}

// WriteSector programs a full sector via the ROM flash_range_program path.
func (FlashDevice) WriteSector(addr uint32, src *[SectorSize]byte) error {
	return WriteChunk(addr, src[:])
}

// EraseSector erases one 4 KiB sector via the ROM flash_range_erase path.
func (FlashDevice) EraseSector(addr uint32) error {
	return EraseSector(addr)
}
