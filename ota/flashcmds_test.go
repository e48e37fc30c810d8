package ota

import (
	"testing"

	"openenterprise/iobridge/flashbuf"
)

func TestFlashSendSpliceThenCommit(t *testing.T) {
	dev := newFakeDevice()
	arb := flashbuf.New()
	fc := NewFlashCommands(dev, arb)

	if err := fc.Send(0, []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if arb.Owner() != flashbuf.Ota {
		t.Fatalf("owner=%v want Ota while send in progress", arb.Owner())
	}
	if err := fc.Send(100, []byte("world")); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if err := fc.Commit(7 * flashbuf.SectorSize); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if arb.Owner() != flashbuf.Free {
		t.Fatalf("owner=%v want Free after commit", arb.Owner())
	}

	var sector [flashbuf.SectorSize]byte
	dev.ReadSector(7*flashbuf.SectorSize, &sector)
	if string(sector[0:5]) != "hello" || string(sector[100:105]) != "world" {
		t.Fatalf("committed sector missing spliced data")
	}
}

func TestFlashReceiveWithoutSendFails(t *testing.T) {
	dev := newFakeDevice()
	arb := flashbuf.New()
	fc := NewFlashCommands(dev, arb)
	if _, err := fc.Receive(0, 10); err != ErrProtocolState {
		t.Fatalf("err=%v want ErrProtocolState", err)
	}
}

func TestFlashSendBlocksOtherArbiterClaims(t *testing.T) {
	dev := newFakeDevice()
	arb := flashbuf.New()
	fc := NewFlashCommands(dev, arb)
	fc.Send(0, []byte("x"))

	if _, err := arb.Request(flashbuf.DisplayPicture, "display"); err == nil {
		t.Fatalf("expected busy while flash-send owns the buffer")
	}
}

func TestErasesRoundsToSectorBoundaries(t *testing.T) {
	dev := newFakeDevice()
	arb := flashbuf.New()
	fc := NewFlashCommands(dev, arb)

	// addr 100, length 10 should still erase the single sector at 0.
	if err := fc.Erase(100, 10); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if _, ok := dev.sectors[0]; !ok {
		t.Fatalf("expected sector 0 to have been touched by erase")
	}
}

func TestReadSectorHashMatchesContent(t *testing.T) {
	dev := newFakeDevice()
	arb := flashbuf.New()
	fc := NewFlashCommands(dev, arb)

	payload := fillPattern(5)
	dev.WriteSector(3*flashbuf.SectorSize, &payload)

	got, err := fc.ReadSectorHash(3)
	if err != nil {
		t.Fatalf("readsectorhash: %v", err)
	}
	want, err2 := NewMailbox(dev).Read(3)
	if err2 != nil {
		t.Fatalf("mailbox read: %v", err2)
	}
	if got != want.Checksum {
		t.Fatalf("checksum mismatch between flash-read and mailbox-read")
	}
}

func TestInfoReportsSlotLayout(t *testing.T) {
	cfg := BootConfig{SlotCount: 2, SlotCurrent: 1, Slots: [4]uint32{0x2000, 0x102000}}
	info := Info(cfg)
	if info.SlotCount != 2 || info.CurrentSlot != 1 {
		t.Fatalf("info=%+v", info)
	}
	if info.SlotAddrs[0] != 0x2000 || info.SlotAddrs[1] != 0x102000 {
		t.Fatalf("info=%+v", info)
	}
}
