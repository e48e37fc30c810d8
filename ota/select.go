package ota

import (
	"fmt"

	"openenterprise/iobridge/flashbuf"
)

// Select performs mailbox-select <slot> <permanent>. permanent==false is
// the trial-boot path: the RTC record is set so exactly the next boot uses
// slot, after which it reverts to the stored current_slot. permanent==true
// commits slot into the boot config sector so every subsequent boot uses
// it until another select.
func Select(dev flashbuf.Device, arb *flashbuf.Arbiter, rtc RTCDevice, bootCfgAddr uint32, slot uint8, permanent bool) error {
	cfg, err := ReadBootConfig(dev, bootCfgAddr)
	if err != nil {
		return fmt.Errorf("ota: select: %w", err)
	}
	if slot >= cfg.SlotCount {
		return fmt.Errorf("ota: select: slot %d out of range [0,%d)", slot, cfg.SlotCount)
	}

	if permanent {
		cfg.SlotCurrent = slot
		if err := WriteBootConfig(dev, arb, bootCfgAddr, cfg); err != nil {
			return fmt.Errorf("ota: select: %w", err)
		}
		rec := TrialBootRecord{
			NextMode:      TrialModeStandard,
			LastMode:      TrialModeStandard,
			LastSlot:      slot,
			TemporarySlot: slot,
		}
		return WriteTrialBoot(rtc, rec)
	}

	rec := TrialBootRecord{
		NextMode:      TrialModeTempROM,
		LastMode:      TrialModeStandard,
		LastSlot:      cfg.SlotCurrent,
		TemporarySlot: slot,
	}
	return WriteTrialBoot(rtc, rec)
}

// ConsumeTrialBoot is the early-boot decision described by spec §3's
// Trial-boot record invariant: if the RTC record requests a one-shot temp
// boot, it reports that slot and immediately resets the field so the next
// boot after this one falls back to the stored current_slot. A missing or
// invalid RTC record (cold boot, fresh device) is not an error — it simply
// means "use current_slot".
func ConsumeTrialBoot(dev flashbuf.Device, rtc RTCDevice, bootCfgAddr uint32) (uint8, error) {
	cfg, err := ReadBootConfig(dev, bootCfgAddr)
	if err != nil {
		return 0, fmt.Errorf("ota: consume trial boot: %w", err)
	}

	rec, err := ReadTrialBoot(rtc)
	if err != nil {
		return cfg.SlotCurrent, nil
	}
	if rec.NextMode != TrialModeTempROM {
		return cfg.SlotCurrent, nil
	}

	slot := rec.TemporarySlot
	rec.NextMode = TrialModeStandard
	if err := WriteTrialBoot(rtc, rec); err != nil {
		return 0, fmt.Errorf("ota: consume trial boot: reset field: %w", err)
	}
	return slot, nil
}
