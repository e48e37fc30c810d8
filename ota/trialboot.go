package ota

import (
	"encoding/binary"
	"errors"
)

// TrialBootMagic identifies a valid RTC-persistent trial-boot record.
const TrialBootMagic uint32 = 0x2334ae68

// checksumSeed is the XOR checksum's initial value (spec §3, §6; original
// source's rboot_if_rtc_checksum_init).
const checksumSeed byte = 0xef

// ErrTrialBootBadMagic / ErrTrialBootBadChecksum are returned by
// DecodeTrialBoot when the RTC scratch does not hold a valid record —
// typically a cold boot with no prior trial-boot activity.
var (
	ErrTrialBootBadMagic    = errors.New("ota: trial-boot record bad magic")
	ErrTrialBootBadChecksum = errors.New("ota: trial-boot record checksum mismatch")
)

// BootMode values for TrialBootRecord.NextMode / LastMode.
const (
	TrialModeStandard uint8 = 0x00
	TrialModeTempROM  uint8 = 0x02
)

// TrialBootRecord is the 12-byte RTC-persistent scratch record (spec §3
// "Trial-boot record", §6 persistent state layout).
type TrialBootRecord struct {
	NextMode      uint8
	LastMode      uint8
	LastSlot      uint8
	TemporarySlot uint8
}

const trialBootSize = 12

// checksum computes the XOR checksum over all bytes preceding the
// checksum byte itself, seeded with checksumSeed, matching
// original_source/rboot-interface.c's checksum() function exactly.
func checksum(b []byte) byte {
	c := checksumSeed
	for _, x := range b {
		c ^= x
	}
	return c
}

// Encode serializes r into the 12-byte RTC record: magic (4 bytes LE),
// next_mode, last_mode, last_slot, temporary_slot, checksum.
func (r TrialBootRecord) Encode() [trialBootSize]byte {
	var out [trialBootSize]byte
	binary.LittleEndian.PutUint32(out[0:], TrialBootMagic)
	out[4] = r.NextMode
	out[5] = r.LastMode
	out[6] = r.LastSlot
	out[7] = r.TemporarySlot
	out[11] = checksum(out[:11])
	return out
}

// DecodeTrialBoot validates magic and checksum before returning a record.
// A failure here means "no valid trial-boot state", not a device error —
// callers should fall back to boot-config-only behavior.
func DecodeTrialBoot(b []byte) (TrialBootRecord, error) {
	if len(b) < trialBootSize {
		return TrialBootRecord{}, errors.New("ota: trial-boot record too short")
	}
	magic := binary.LittleEndian.Uint32(b[0:])
	if magic != TrialBootMagic {
		return TrialBootRecord{}, ErrTrialBootBadMagic
	}
	want := checksum(b[:11])
	if b[11] != want {
		return TrialBootRecord{}, ErrTrialBootBadChecksum
	}
	return TrialBootRecord{
		NextMode:      b[4],
		LastMode:      b[5],
		LastSlot:      b[6],
		TemporarySlot: b[7],
	}, nil
}

// RTCDevice is the platform boundary for the tiny battery/capacitor-backed
// RTC scratch memory the trial-boot record lives in.
type RTCDevice interface {
	ReadRTC(dst []byte) error
	WriteRTC(src []byte) error
}

// ReadTrialBoot reads and decodes the RTC scratch record.
func ReadTrialBoot(dev RTCDevice) (TrialBootRecord, error) {
	var b [trialBootSize]byte
	if err := dev.ReadRTC(b[:]); err != nil {
		return TrialBootRecord{}, err
	}
	return DecodeTrialBoot(b[:])
}

// WriteTrialBoot encodes and persists r to the RTC scratch area.
func WriteTrialBoot(dev RTCDevice, r TrialBootRecord) error {
	rec := r.Encode()
	return dev.WriteRTC(rec[:])
}
