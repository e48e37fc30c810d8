package command

import "testing"

func TestDetectFlashSendHeader(t *testing.T) {
	offset, length, ok := Detect([]byte("flash-send 0 4096"))
	if !ok || offset != 0 || length != 4096 {
		t.Fatalf("offset=%d length=%d ok=%v", offset, length, ok)
	}
}

func TestDetectRejectsOtherCommands(t *testing.T) {
	if _, _, ok := Detect([]byte("flash-info")); ok {
		t.Fatalf("expected no match")
	}
}

func TestAssembleAcrossMultipleFeeds(t *testing.T) {
	var a FlashSendAssembler
	offset, length, ok := Detect([]byte("flash-send 512 8"))
	if !ok {
		t.Fatalf("detect failed")
	}
	if err := a.Begin(offset, length, []byte{1, 2, 3}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if a.Feed([]byte{4, 5}) {
		t.Fatalf("should not be complete yet")
	}
	complete := a.Feed([]byte{6, 7, 8})
	if !complete {
		t.Fatalf("expected complete")
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if string(a.Data()) != string(want) {
		t.Fatalf("data=%v want %v", a.Data(), want)
	}
	if a.Offset() != 512 || a.Length() != 8 {
		t.Fatalf("offset=%d length=%d", a.Offset(), a.Length())
	}
}

func TestBeginWhileActiveFails(t *testing.T) {
	var a FlashSendAssembler
	if err := a.Begin(0, 16, nil); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := a.Begin(0, 16, nil); err != ErrFlashSendBusy {
		t.Fatalf("err=%v want ErrFlashSendBusy", err)
	}
}

func TestResetAllowsRestart(t *testing.T) {
	var a FlashSendAssembler
	a.Begin(0, 4, []byte{1, 2, 3, 4})
	a.Reset()
	if a.Active() {
		t.Fatalf("expected inactive after reset")
	}
	if err := a.Begin(0, 4, nil); err != nil {
		t.Fatalf("begin after reset: %v", err)
	}
}
