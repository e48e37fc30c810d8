package command

import (
	"testing"

	"openenterprise/iobridge/config"
	"openenterprise/iobridge/dispatch"
	"openenterprise/iobridge/drivers"
	"openenterprise/iobridge/flashbuf"
	"openenterprise/iobridge/ota"
	"openenterprise/iobridge/strbuf"
)

// regFakeRTC backs the RTCDevice interface with a plain byte array, mirroring
// ota's own fakeRTC test helper.
type regFakeRTC struct {
	data [12]byte
}

func (r *regFakeRTC) ReadRTC(dst []byte) error {
	copy(dst, r.data[:])
	return nil
}

func (r *regFakeRTC) WriteRTC(src []byte) error {
	copy(r.data[:], src)
	return nil
}

const regTestBootCfgAddr = flashbuf.SectorSize

type regFakeDevice struct {
	sectors map[uint32]*[flashbuf.SectorSize]byte
}

func newRegFakeDevice() *regFakeDevice {
	return &regFakeDevice{sectors: make(map[uint32]*[flashbuf.SectorSize]byte)}
}

func (f *regFakeDevice) sector(addr uint32) *[flashbuf.SectorSize]byte {
	base := addr - (addr % flashbuf.SectorSize)
	s, ok := f.sectors[base]
	if !ok {
		s = &[flashbuf.SectorSize]byte{}
		for i := range s {
			s[i] = 0xFF
		}
		f.sectors[base] = s
	}
	return s
}

func (f *regFakeDevice) ReadSector(addr uint32, dst *[flashbuf.SectorSize]byte) error {
	*dst = *f.sector(addr)
	return nil
}

func (f *regFakeDevice) WriteSector(addr uint32, src *[flashbuf.SectorSize]byte) error {
	*f.sector(addr) = *src
	return nil
}

func (f *regFakeDevice) EraseSector(addr uint32) error {
	s := f.sector(addr)
	for i := range s {
		s[i] = 0xFF
	}
	return nil
}

func buildTestDeps(t *testing.T) Deps {
	t.Helper()
	dev := newRegFakeDevice()
	arb := flashbuf.New()
	cfgStore, err := config.Open(dev, arb, 0)
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	mailbox := ota.NewMailbox(dev)
	flash := ota.NewFlashCommands(dev, arb)
	bootCfg := ota.BootConfig{SlotCount: 2, SlotCurrent: 0, Slots: [4]uint32{0x2000, 0x102000}}
	if err := ota.WriteBootConfig(dev, arb, regTestBootCfgAddr, bootCfg); err != nil {
		t.Fatalf("seed boot config: %v", err)
	}
	return Deps{
		Config:      cfgStore,
		Mailbox:     mailbox,
		Flash:       flash,
		BootCfg:     bootCfg,
		Arbiter:     arb,
		Dev:         dev,
		RTC:         &regFakeRTC{},
		BootCfgAddr: regTestBootCfgAddr,
		Dispatcher:  dispatch.New(),
		GPIO:        drivers.NewGPIO(8),
		I2C:         drivers.NewI2CBus(),
		SPI:         drivers.NewSPIBus(),
		PWM:         drivers.NewPWM(4),
		Display:     drivers.NewDisplay(8, 8),
		Logs:        strbuf.New(1024),
	}
}

func TestEveryRegisteredCommandIsFindable(t *testing.T) {
	tbl := Build(buildTestDeps(t))
	if len(tbl) == 0 {
		t.Fatalf("expected a non-empty command table")
	}
	for _, e := range tbl {
		if _, ok := tbl.Find(e.Short); !ok {
			t.Fatalf("short name %q not findable", e.Short)
		}
		if _, ok := tbl.Find(e.Long); !ok {
			t.Fatalf("long name %q not findable", e.Long)
		}
	}
}

func TestHelpListsEveryCommand(t *testing.T) {
	tbl := Build(buildTestDeps(t))
	e, ok := tbl.Find("help")
	if !ok {
		t.Fatalf("help not found")
	}
	dst := strbuf.New(8192)
	e.Handler(nil, dst)
	if dst.Len() == 0 {
		t.Fatalf("expected non-empty help output")
	}
}

func TestConfigSetThenQueryStringRoundTrips(t *testing.T) {
	tbl := Build(buildTestDeps(t))
	set, _ := tbl.Find("config-set")
	dst := strbuf.New(256)
	if a := set.Handler([]byte("config-set greeting hello"), dst); a != ActionNormal {
		t.Fatalf("action=%v want Normal", a)
	}

	query, _ := tbl.Find("config-query-string")
	dst2 := strbuf.New(256)
	query.Handler([]byte("config-query-string greeting"), dst2)
	if string(dst2.Bytes()) != "hello" {
		t.Fatalf("got %q want %q", dst2.Bytes(), "hello")
	}
}

func TestIOWriteThenReadRoundTrips(t *testing.T) {
	deps := buildTestDeps(t)
	tbl := Build(deps)
	w, _ := tbl.Find("io-write")
	dst := strbuf.New(64)
	w.Handler([]byte("io-write 2 1"), dst)

	r, _ := tbl.Find("io-read")
	dst2 := strbuf.New(64)
	r.Handler([]byte("io-read 2"), dst2)
	if string(dst2.Bytes()) != "1" {
		t.Fatalf("got %q want 1", dst2.Bytes())
	}
}

func TestMailboxInfoReportsIdleInitially(t *testing.T) {
	tbl := Build(buildTestDeps(t))
	e, _ := tbl.Find("mailbox-info")
	dst := strbuf.New(64)
	e.Handler(nil, dst)
	if string(dst.Bytes()) != "idle" {
		t.Fatalf("got %q want idle", dst.Bytes())
	}
}

func TestFlashInfoReportsSlotCount(t *testing.T) {
	tbl := Build(buildTestDeps(t))
	e, _ := tbl.Find("flash-info")
	dst := strbuf.New(64)
	e.Handler(nil, dst)
	if len(dst.Bytes()) == 0 {
		t.Fatalf("expected flash-info output")
	}
}

func TestFlashSendSplicesPayloadIntoStagedSector(t *testing.T) {
	tbl := Build(buildTestDeps(t))
	send, _ := tbl.Find("flash-send")

	payload := []byte("flash-send 4 3 xyz")
	dst := strbuf.New(64)
	if a := send.Handler(payload, dst); a != ActionNormal {
		t.Fatalf("action=%v want Normal, reply=%q", a, dst.Bytes())
	}

	recv, _ := tbl.Find("flash-receive")
	dst2 := strbuf.New(64)
	recv.Handler([]byte("flash-receive 4 3"), dst2)
	if string(dst2.Bytes()) != "xyz" {
		t.Fatalf("got %q want xyz", dst2.Bytes())
	}
}

func TestFlashSendRejectsShortPayload(t *testing.T) {
	tbl := Build(buildTestDeps(t))
	send, _ := tbl.Find("flash-send")

	dst := strbuf.New(64)
	a := send.Handler([]byte("flash-send 0 10 ab"), dst)
	if a != ActionError {
		t.Fatalf("action=%v want ActionError", a)
	}
	if dst.Len() == 0 {
		t.Fatalf("expected an error reply for a short payload")
	}
}

func TestMailboxSelectTrialBootIsOneShot(t *testing.T) {
	deps := buildTestDeps(t)
	tbl := Build(deps)
	msel, _ := tbl.Find("mailbox-select")

	dst := strbuf.New(64)
	if a := msel.Handler([]byte("mailbox-select 1 0"), dst); a != ActionNormal {
		t.Fatalf("action=%v reply=%q", a, dst.Bytes())
	}

	slot, err := ota.ConsumeTrialBoot(deps.Dev, deps.RTC, deps.BootCfgAddr)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if slot != 1 {
		t.Fatalf("slot=%d want 1", slot)
	}

	slot, err = ota.ConsumeTrialBoot(deps.Dev, deps.RTC, deps.BootCfgAddr)
	if err != nil {
		t.Fatalf("consume2: %v", err)
	}
	if slot != 0 {
		t.Fatalf("slot=%d want 0 (reverted)", slot)
	}
}

func TestMailboxSelectPermanentPersists(t *testing.T) {
	deps := buildTestDeps(t)
	tbl := Build(deps)
	msel, _ := tbl.Find("mailbox-select")

	dst := strbuf.New(64)
	if a := msel.Handler([]byte("mailbox-select 1 1"), dst); a != ActionNormal {
		t.Fatalf("action=%v reply=%q", a, dst.Bytes())
	}

	for i := 0; i < 3; i++ {
		slot, err := ota.ConsumeTrialBoot(deps.Dev, deps.RTC, deps.BootCfgAddr)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if slot != 1 {
			t.Fatalf("iteration %d: slot=%d want 1 (permanent)", i, slot)
		}
	}
}

func TestMailboxSelectRejectsMissingArgs(t *testing.T) {
	tbl := Build(buildTestDeps(t))
	msel, _ := tbl.Find("mailbox-select")

	dst := strbuf.New(64)
	if a := msel.Handler([]byte("mailbox-select 1"), dst); a != ActionError {
		t.Fatalf("action=%v want ActionError", a)
	}
}

func TestFlashSelectPersistsSlot(t *testing.T) {
	deps := buildTestDeps(t)
	tbl := Build(deps)
	fsl, _ := tbl.Find("flash-select")

	dst := strbuf.New(64)
	if a := fsl.Handler([]byte("flash-select 1"), dst); a != ActionNormal {
		t.Fatalf("action=%v reply=%q", a, dst.Bytes())
	}

	slot, err := ota.ConsumeTrialBoot(deps.Dev, deps.RTC, deps.BootCfgAddr)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if slot != 1 {
		t.Fatalf("slot=%d want 1 (permanent)", slot)
	}
}

func TestFlashSelectOnceIsTrial(t *testing.T) {
	deps := buildTestDeps(t)
	tbl := Build(deps)
	fso, _ := tbl.Find("flash-select-once")

	dst := strbuf.New(64)
	if a := fso.Handler([]byte("flash-select-once 1"), dst); a != ActionNormal {
		t.Fatalf("action=%v reply=%q", a, dst.Bytes())
	}

	slot, _ := ota.ConsumeTrialBoot(deps.Dev, deps.RTC, deps.BootCfgAddr)
	if slot != 1 {
		t.Fatalf("slot=%d want 1", slot)
	}
	slot, _ = ota.ConsumeTrialBoot(deps.Dev, deps.RTC, deps.BootCfgAddr)
	if slot != 0 {
		t.Fatalf("slot=%d want 0 (reverted)", slot)
	}
}

func TestFlashSelectUnavailableWithoutDev(t *testing.T) {
	deps := buildTestDeps(t)
	deps.Dev = nil
	tbl := Build(deps)
	fsl, _ := tbl.Find("flash-select")

	dst := strbuf.New(64)
	if a := fsl.Handler([]byte("flash-select 1"), dst); a != ActionError {
		t.Fatalf("action=%v want ActionError", a)
	}
}

func TestUARTBaudrateRoundTripsAndElidesDefault(t *testing.T) {
	tbl := Build(buildTestDeps(t))
	ub, _ := tbl.Find("uart-baudrate")

	dst := strbuf.New(64)
	ub.Handler([]byte("uart-baudrate 0 115200"), dst)
	if string(dst.Bytes()) != "baudrate[0]: 115200" {
		t.Fatalf("got %q want baudrate[0]: 115200", dst.Bytes())
	}

	dst2 := strbuf.New(64)
	ub.Handler([]byte("uart-baudrate 0 115200"), dst2)
	if string(dst2.Bytes()) != "baudrate[0]: 115200" {
		t.Fatalf("got %q want baudrate[0]: 115200", dst2.Bytes())
	}
}

func TestUARTBaudrateNonDefaultPersists(t *testing.T) {
	deps := buildTestDeps(t)
	tbl := Build(deps)
	ub, _ := tbl.Find("uart-baudrate")

	dst := strbuf.New(64)
	ub.Handler([]byte("uart-baudrate 1 9600"), dst)
	if string(dst.Bytes()) != "baudrate[1]: 9600" {
		t.Fatalf("got %q want baudrate[1]: 9600", dst.Bytes())
	}
	if v, ok := deps.Config.GetUint("uart.baud.1"); !ok || v != 9600 {
		t.Fatalf("expected uart.baud.1=9600 persisted, got %v ok=%v", v, ok)
	}
}

func TestUARTBaudrateRejectsBadIndex(t *testing.T) {
	tbl := Build(buildTestDeps(t))
	ub, _ := tbl.Find("uart-baudrate")

	dst := strbuf.New(64)
	if a := ub.Handler([]byte("uart-baudrate 9 9600"), dst); a != ActionError {
		t.Fatalf("action=%v want ActionError", a)
	}
}

func TestFlagSetAndUnsetEchoTable(t *testing.T) {
	tbl := Build(buildTestDeps(t))
	fs, _ := tbl.Find("flag-set")
	fu, _ := tbl.Find("flag-unset")

	dst := strbuf.New(64)
	fs.Handler([]byte("flag-set beta"), dst)
	if string(dst.Bytes()) != "beta=1\n" {
		t.Fatalf("got %q want beta=1\\n", dst.Bytes())
	}

	dst2 := strbuf.New(64)
	fu.Handler([]byte("flag-unset beta"), dst2)
	if string(dst2.Bytes()) != "" {
		t.Fatalf("got %q want empty table after clearing the only flag", dst2.Bytes())
	}
}

func TestFlagSetTableShowsMultipleFlags(t *testing.T) {
	tbl := Build(buildTestDeps(t))
	fs, _ := tbl.Find("flag-set")

	fs.Handler([]byte("flag-set alpha"), strbuf.New(64))
	dst := strbuf.New(64)
	fs.Handler([]byte("flag-set beta"), dst)
	if string(dst.Bytes()) != "alpha=1\nbeta=1\n" {
		t.Fatalf("got %q want both flags listed", dst.Bytes())
	}
}

func TestStatsCountersReportsPostFailed(t *testing.T) {
	deps := buildTestDeps(t)
	tbl := Build(deps)

	for i := 0; i < 3; i++ {
		deps.Dispatcher.Post(dispatch.PriorityPeriodic, 1, 0)
	}

	stc, _ := tbl.Find("stats-counters")
	dst := strbuf.New(64)
	stc.Handler(nil, dst)
	if string(dst.Bytes()) != "post-failed periodic=1 command=0 fast=0\n" {
		t.Fatalf("got %q want post-failed periodic=1 command=0 fast=0", dst.Bytes())
	}
}

func TestStatsCountersUnavailableWithoutDispatcher(t *testing.T) {
	deps := buildTestDeps(t)
	deps.Dispatcher = nil
	tbl := Build(deps)

	stc, _ := tbl.Find("stats-counters")
	dst := strbuf.New(64)
	if a := stc.Handler(nil, dst); a != ActionError {
		t.Fatalf("action=%v want ActionError", a)
	}
}

func TestBridgePortBugDeletesKeyWhenCalledBare(t *testing.T) {
	deps := buildTestDeps(t)
	tbl := Build(deps)

	set, _ := tbl.Find("config-set")
	set.Handler([]byte("config-set bridge.port 1"), strbuf.New(64))

	bp, _ := tbl.Find("bridge-port")
	bp.Handler([]byte("bridge-port"), strbuf.New(64))

	query, _ := tbl.Find("config-query-string")
	dst := strbuf.New(64)
	a := query.Handler([]byte("config-query-string bridge.port"), dst)
	if a != ActionError {
		t.Fatalf("expected bridge.port to have been deleted by the bare bridge-port call, action=%v", a)
	}
}
