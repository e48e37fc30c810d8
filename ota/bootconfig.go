// Package ota implements the dual-slot OTA/flash/mailbox subsystem (spec
// §4.6): the boot configuration sector, the RTC-persistent trial-boot
// record, the mailbox UDP sector-transfer protocol, and the flash-*
// sector-splice command family that works through the shared arbiter.
package ota

import (
	"encoding/binary"
	"errors"
	"fmt"

	"openenterprise/iobridge/flashbuf"
)

const (
	// BootConfigMagic distinguishes a valid boot configuration record.
	BootConfigMagic uint8 = 0xe1
	// BootConfigVersion is the only layout version implemented.
	BootConfigVersion uint8 = 0x01

	// BootModeStandard boots slots[slot_current] normally.
	BootModeStandard uint8 = 0x00
	// BootModeTempROM is unused by this layout directly (the temp boot
	// path is carried by the RTC trial-boot record instead) but retained
	// for parity with the original field.
	BootModeTempROM uint8 = 0x02
)

// ErrBadMagic is returned when a boot config sector does not carry the
// expected magic byte.
var ErrBadMagic = errors.New("ota: boot config bad magic")

// ErrBadSlotCount is returned when SlotCount is outside {2,3,4} (spec's
// invariant on the Boot configuration struct).
var ErrBadSlotCount = errors.New("ota: slot count out of range")

// BootConfig mirrors the 64-byte on-flash struct from spec §6 /
// original_source's rboot_if_config_t.
type BootConfig struct {
	BootMode    uint8
	SlotCurrent uint8
	SlotCount   uint8
	Slots       [4]uint32
}

const bootConfigSize = 64

// Validate checks the invariants spec.md documents for Boot configuration:
// slot_count in {2,3,4} and slot_current indexing a defined slot.
func (c BootConfig) Validate() error {
	if c.SlotCount < 2 || c.SlotCount > 4 {
		return ErrBadSlotCount
	}
	if c.SlotCurrent >= c.SlotCount {
		return fmt.Errorf("ota: slot_current %d out of range [0,%d)", c.SlotCurrent, c.SlotCount)
	}
	return nil
}

// Encode serializes c into the 64-byte on-flash layout: magic, version,
// boot_mode, slot_current, unused, slot_count, unused*2, slots[4], padding.
func (c BootConfig) Encode() [bootConfigSize]byte {
	var out [bootConfigSize]byte
	out[0] = BootConfigMagic
	out[1] = BootConfigVersion
	out[2] = c.BootMode
	out[3] = c.SlotCurrent
	out[4] = 0
	out[5] = c.SlotCount
	out[6] = 0
	out[7] = 0
	for i, s := range c.Slots {
		binary.LittleEndian.PutUint32(out[8+i*4:], s)
	}
	return out
}

// DecodeBootConfig parses a 64-byte on-flash record. It fails closed on a
// bad magic byte so callers never silently run with garbage boot state.
func DecodeBootConfig(b []byte) (BootConfig, error) {
	if len(b) < bootConfigSize {
		return BootConfig{}, fmt.Errorf("ota: boot config record too short (%d bytes)", len(b))
	}
	if b[0] != BootConfigMagic {
		return BootConfig{}, ErrBadMagic
	}
	var c BootConfig
	c.BootMode = b[2]
	c.SlotCurrent = b[3]
	c.SlotCount = b[5]
	for i := range c.Slots {
		c.Slots[i] = binary.LittleEndian.Uint32(b[8+i*4:])
	}
	return c, nil
}

// ReadBootConfig reads and decodes the boot config sector at addr.
func ReadBootConfig(dev flashbuf.Device, addr uint32) (BootConfig, error) {
	var sector [flashbuf.SectorSize]byte
	if err := dev.ReadSector(addr, &sector); err != nil {
		return BootConfig{}, fmt.Errorf("ota: read boot config: %w", err)
	}
	return DecodeBootConfig(sector[:])
}

// WriteBootConfig claims the shared sector buffer with owner Rboot,
// serializes c into it (preserving the 0xFF fill beyond the 64-byte
// record), erases and rewrites the sector, then releases ownership.
func WriteBootConfig(dev flashbuf.Device, arb *flashbuf.Arbiter, addr uint32, c BootConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	handle, err := arb.Request(flashbuf.Rboot, "write-boot-config")
	if err != nil {
		return fmt.Errorf("ota: %w", err)
	}
	defer arb.Release(flashbuf.Rboot, "write-boot-config")

	buf := handle.Bytes()
	for i := range buf {
		buf[i] = 0xFF
	}
	record := c.Encode()
	copy(buf[:], record[:])

	if err := dev.EraseSector(addr); err != nil {
		return fmt.Errorf("ota: erase boot config: %w", err)
	}
	if err := dev.WriteSector(addr, buf); err != nil {
		return fmt.Errorf("ota: write boot config: %w", err)
	}
	return nil
}
