package ota

import (
	"testing"

	"openenterprise/iobridge/flashbuf"
)

func setupSelectTest(t *testing.T) (*fakeDevice, *flashbuf.Arbiter, *fakeRTC, uint32) {
	t.Helper()
	dev := newFakeDevice()
	arb := flashbuf.New()
	rtc := &fakeRTC{}
	const bootCfgAddr = 0x4000
	cfg := BootConfig{BootMode: BootModeStandard, SlotCurrent: 0, SlotCount: 2, Slots: [4]uint32{0x2000, 0x102000}}
	if err := WriteBootConfig(dev, arb, bootCfgAddr, cfg); err != nil {
		t.Fatalf("seed boot config: %v", err)
	}
	return dev, arb, rtc, bootCfgAddr
}

func TestTrialSelectIsOneShot(t *testing.T) {
	dev, arb, rtc, addr := setupSelectTest(t)
	if err := Select(dev, arb, rtc, addr, 1, false); err != nil {
		t.Fatalf("select: %v", err)
	}

	slot, err := ConsumeTrialBoot(dev, rtc, addr)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if slot != 1 {
		t.Fatalf("slot=%d want 1", slot)
	}

	// The boot after that reverts to the stored current_slot (0), since
	// the trial-boot field was reset by the previous consume.
	slot, err = ConsumeTrialBoot(dev, rtc, addr)
	if err != nil {
		t.Fatalf("consume2: %v", err)
	}
	if slot != 0 {
		t.Fatalf("slot=%d want 0 (reverted)", slot)
	}
}

func TestPermanentSelectPersists(t *testing.T) {
	dev, arb, rtc, addr := setupSelectTest(t)
	if err := Select(dev, arb, rtc, addr, 1, true); err != nil {
		t.Fatalf("select: %v", err)
	}

	for i := 0; i < 3; i++ {
		slot, err := ConsumeTrialBoot(dev, rtc, addr)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if slot != 1 {
			t.Fatalf("iteration %d: slot=%d want 1 (permanent)", i, slot)
		}
	}
}

func TestSelectRejectsSlotOutOfRange(t *testing.T) {
	dev, arb, rtc, addr := setupSelectTest(t)
	if err := Select(dev, arb, rtc, addr, 5, false); err == nil {
		t.Fatalf("expected error for out-of-range slot")
	}
}

func TestColdBootNoTrialRecordUsesCurrentSlot(t *testing.T) {
	dev, _, rtc, addr := setupSelectTest(t)
	slot, err := ConsumeTrialBoot(dev, rtc, addr)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if slot != 0 {
		t.Fatalf("slot=%d want 0", slot)
	}
}
