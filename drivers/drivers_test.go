package drivers

import "testing"

func TestGPIOSetGet(t *testing.T) {
	g := NewGPIO(4)
	if err := g.Set(2, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := g.Get(2)
	if err != nil || !v {
		t.Fatalf("get=%v err=%v want true,nil", v, err)
	}
	if _, err := g.Get(9); err != ErrNoSuchPin {
		t.Fatalf("err=%v want ErrNoSuchPin", err)
	}
}

func TestI2CSendRecvRoundTrip(t *testing.T) {
	b := NewI2CBus()
	if err := b.Send(0x40, 0x00, []byte{1, 2, 3}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := b.Recv(0x40, 0x00, 3)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(got) != string([]byte{1, 2, 3}) {
		t.Fatalf("got=%v", got)
	}
}

func TestI2CRecvUnknownDeviceFails(t *testing.T) {
	b := NewI2CBus()
	if _, err := b.Recv(0x99, 0, 1); err != ErrNoSuchBus {
		t.Fatalf("err=%v want ErrNoSuchBus", err)
	}
}

func TestSPITransferReturnsPreviouslyLatched(t *testing.T) {
	b := NewSPIBus()
	first := b.Transfer(0, []byte{0xAA})
	if first != nil {
		t.Fatalf("expected nil on first transfer, got %v", first)
	}
	second := b.Transfer(0, []byte{0xBB})
	if string(second) != string([]byte{0xAA}) {
		t.Fatalf("second=%v want previous latch 0xAA", second)
	}
}

func TestPWMWidth(t *testing.T) {
	p := NewPWM(2)
	if err := p.SetWidth(1, 512); err != nil {
		t.Fatalf("set: %v", err)
	}
	w, err := p.Width(1)
	if err != nil || w != 512 {
		t.Fatalf("w=%d err=%v want 512,nil", w, err)
	}
}

func TestDisplaySlotRoundTrip(t *testing.T) {
	d := NewDisplay(4, 4)
	if err := d.SetPixel(1, 1, 0x7F); err != nil {
		t.Fatalf("setpixel: %v", err)
	}
	d.StoreSlot(0)
	d.SetPixel(1, 1, 0x00)
	if !d.LoadSlot(0) {
		t.Fatalf("expected slot 0 to load")
	}
	if d.pixels[1*4+1] != 0x7F {
		t.Fatalf("slot restore did not bring back pixel value")
	}
}

func TestDisplayLoadMissingSlotFails(t *testing.T) {
	d := NewDisplay(2, 2)
	if d.LoadSlot(5) {
		t.Fatalf("expected false for missing slot")
	}
}
