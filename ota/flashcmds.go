package ota

import (
	"crypto/sha1"
	"fmt"

	"openenterprise/iobridge/flashbuf"
)

// FlashCommands implements the `flash-{info,erase,send,receive,read}`
// family (spec §4.5's "flash-send assembly", §6 command list): splicing a
// whole sector across several command-port lines rather than the
// mailbox's dedicated raw UDP path, working through the shared arbiter
// with owner Ota.
type FlashCommands struct {
	dev    flashbuf.Device
	arb    *flashbuf.Arbiter
	handle *flashbuf.Handle
	owned  bool
}

// NewFlashCommands constructs a FlashCommands bound to dev/arb.
func NewFlashCommands(dev flashbuf.Device, arb *flashbuf.Arbiter) *FlashCommands {
	return &FlashCommands{dev: dev, arb: arb}
}

func (f *FlashCommands) ensureOwned(tag string) error {
	if f.owned {
		return nil
	}
	h, err := f.arb.Request(flashbuf.Ota, tag)
	if err != nil {
		return fmt.Errorf("ota: %w", err)
	}
	f.handle = h
	f.owned = true
	return nil
}

// Send splices data into the shared staging buffer at offset, claiming Ota
// ownership on first use. Ownership is held across repeated Send calls
// until Commit or Abandon releases it.
func (f *FlashCommands) Send(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > flashbuf.SectorSize {
		return fmt.Errorf("ota: flash-send offset+length exceeds sector bounds")
	}
	if err := f.ensureOwned("flash-send"); err != nil {
		return err
	}
	copy(f.handle.Bytes()[offset:], data)
	return nil
}

// Receive splices length bytes out of the staging buffer starting at
// offset, for the host to read back (flash-receive).
func (f *FlashCommands) Receive(offset, length int) ([]byte, error) {
	if !f.owned {
		return nil, ErrProtocolState
	}
	if offset < 0 || offset+length > flashbuf.SectorSize {
		return nil, fmt.Errorf("ota: flash-receive offset+length exceeds sector bounds")
	}
	out := make([]byte, length)
	copy(out, f.handle.Bytes()[offset:offset+length])
	return out, nil
}

// Commit writes the staged buffer (assembled via Send) to the flash sector
// at addr, then releases ownership back to Free.
func (f *FlashCommands) Commit(addr uint32) error {
	if !f.owned {
		return ErrProtocolState
	}
	if err := f.dev.EraseSector(addr); err != nil {
		return fmt.Errorf("ota: flash-send commit erase: %w", err)
	}
	if err := f.dev.WriteSector(addr, f.handle.Bytes()); err != nil {
		return fmt.Errorf("ota: flash-send commit write: %w", err)
	}
	return f.release()
}

// Abandon releases ownership without committing, e.g. once flash-receive
// has delivered the full sector to the host, or on error.
func (f *FlashCommands) Abandon() error {
	return f.release()
}

func (f *FlashCommands) release() error {
	if !f.owned {
		return nil
	}
	err := f.arb.Release(flashbuf.Ota, "flash-send")
	f.owned = false
	f.handle = nil
	if err != nil {
		return fmt.Errorf("ota: %w", err)
	}
	return nil
}

// Erase erases every sector overlapping [addr, addr+length), rounding the
// start down and the end up to sector boundaries.
func (f *FlashCommands) Erase(addr, length uint32) error {
	start := addr - (addr % flashbuf.SectorSize)
	end := addr + length
	if rem := end % flashbuf.SectorSize; rem != 0 {
		end += flashbuf.SectorSize - rem
	}
	for a := start; a < end; a += flashbuf.SectorSize {
		if err := f.dev.EraseSector(a); err != nil {
			return fmt.Errorf("ota: flash-erase: %w", err)
		}
	}
	return nil
}

// ReadSectorHash computes the SHA-1 of a flash sector directly (flash-read),
// independent of the mailbox's own read path.
func (f *FlashCommands) ReadSectorHash(sector uint32) ([20]byte, error) {
	var buf [flashbuf.SectorSize]byte
	if err := f.dev.ReadSector(sector*flashbuf.SectorSize, &buf); err != nil {
		return [20]byte{}, fmt.Errorf("ota: flash-read: %w", err)
	}
	return sha1.Sum(buf[:]), nil
}

// FlashInfo is the reply payload for flash-info.
type FlashInfo struct {
	SectorSize         int
	SlotCount          uint8
	CurrentSlot        uint8
	SlotAddrs          [4]uint32
	PreferredChunkSize int
}

// Info builds a FlashInfo snapshot from the current boot configuration.
func Info(cfg BootConfig) FlashInfo {
	return FlashInfo{
		SectorSize:         flashbuf.SectorSize,
		SlotCount:          cfg.SlotCount,
		CurrentSlot:        cfg.SlotCurrent,
		SlotAddrs:          cfg.Slots,
		PreferredChunkSize: flashbuf.SectorSize,
	}
}
