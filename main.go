//go:build tinygo

package main

// WARNING: default -scheduler=cores unsupported, compile with -scheduler=tasks set!

import (
	"log/slog"
	"machine"
	"net/netip"
	"runtime"
	"time"

	"openenterprise/iobridge/command"
	"openenterprise/iobridge/config"
	"openenterprise/iobridge/credentials"
	"openenterprise/iobridge/dispatch"
	"openenterprise/iobridge/drivers"
	"openenterprise/iobridge/flashbuf"
	"openenterprise/iobridge/ota"
	"openenterprise/iobridge/strbuf"
	"openenterprise/iobridge/telemetry"
	"openenterprise/iobridge/timekeeper"
	"openenterprise/iobridge/version"
	"openenterprise/iobridge/wifi"

	"github.com/soypat/cyw43439"
	"github.com/soypat/cyw43439/examples/cywnet"
	"github.com/soypat/lneto/x/xnet"
)

const pollTime = 5 * time.Millisecond

var requestedIP = [4]byte{192, 168, 1, 99}

// Reserved flash layout ahead of the RP2350 partition table the ROM
// manages for firmware slots themselves: one sector for the boot
// configuration record, one for the config key/value store.
const (
	bootConfigAddr = 0 * flashbuf.SectorSize
	configAddr     = 1 * flashbuf.SectorSize
)

const accessPointsSize = 16

// Global WiFi stack reference, kept for the same reason the teacher kept
// it: OTA's WiFi-shutdown callback needs it at reboot time.
var globalCyStack *cywnet.Stack

// Functional watchdog state: once unhealthy, stop feeding the watchdog so
// it resets the device rather than limping along.
var systemHealthy = true

// fatalError handles unrecoverable init errors by waiting for the
// watchdog to fire, falling back to a software reset if it doesn't.
func fatalError(msg string) {
	println(msg)
	systemHealthy = false
	for i := 0; i < 15; i++ {
		time.Sleep(time.Second)
	}
	println("watchdog timeout - forcing software reset...")
	ota.Reboot()
	for {
		time.Sleep(time.Second)
	}
}

// feedWatchdogIfHealthy only feeds the watchdog while systemHealthy holds;
// once false, the watchdog is left to expire and reset the device.
func feedWatchdogIfHealthy() {
	if systemHealthy {
		machine.Watchdog.Update()
	}
}

// sleepWithWatchdog sleeps in small chunks so the watchdog stays fed
// during long waits (DNS/NTP backoff).
func sleepWithWatchdog(d time.Duration) {
	for d > 0 {
		chunk := 2 * time.Second
		if d < chunk {
			chunk = d
		}
		time.Sleep(chunk)
		feedWatchdogIfHealthy()
		d -= chunk
	}
}

func main() {
	// CRITICAL: confirm the OTA partition immediately to prevent TBYB
	// auto-revert. Must happen within 16.7s of boot, before any delay.
	confirmResult := ota.ConfirmPartitionWithCode()

	time.Sleep(2 * time.Second) // let the USB monitor attach
	println("========================================")
	println("  iobridge")
	println("  Version:", version.Version)
	println("  Git SHA:", version.GitSHA)
	println("  Built:  ", version.BuildDate)
	println("========================================")

	currentPart := ota.GetCurrentPartition()
	blinks, interval := 2, 500*time.Millisecond
	if currentPart == ota.PartitionB {
		blinks, interval = 10, 100*time.Millisecond
	}
	machine.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for i := 0; i < blinks; i++ {
		machine.LED.High()
		time.Sleep(interval)
		machine.LED.Low()
		time.Sleep(interval)
	}
	if confirmResult != 0 {
		println("ota: partition confirm returned:", confirmResult)
	} else {
		println("ota: partition confirmed")
	}

	logRing := strbuf.New(4096)
	logger := slog.New(telemetry.NewSlogHandler(machine.Serial, logRing, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	netLogger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.Level(12), // above ERROR: suppress routine packet-drop noise
	}))

	initConsole()

	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 8000})
	machine.Watchdog.Start()
	logger.Info("init:watchdog-started")

	bootPartition := "A"
	if currentPart == ota.PartitionB {
		bootPartition = "B"
	}
	shortSHA := version.GitSHA
	if len(shortSHA) > 7 {
		shortSHA = shortSHA[:7]
	}
	logger.Info("init:complete",
		slog.String("version", version.Version),
		slog.String("sha", shortSHA),
		slog.String("partition", bootPartition),
	)

	// Flash-backed subsystems: arbiter, device, config store, boot config,
	// RTC trial-boot device, mailbox, flash-* command staging.
	flashDev := ota.NewFlashDevice()
	arb := flashbuf.New()
	rtc := ota.NewPicoRTC()

	cfgStore, err := config.Open(flashDev, arb, configAddr)
	if err != nil {
		logger.Error("config:open-failed", slog.String("err", err.Error()))
		fatalError("config store unreadable - waiting for reset...")
	}

	bootCfg, err := ota.ReadBootConfig(flashDev, bootConfigAddr)
	if err != nil {
		logger.Warn("ota:boot-config-unreadable", slog.String("err", err.Error()))
		bootCfg = ota.BootConfig{SlotCount: 2, SlotCurrent: 0}
	}
	if slot, err := ota.ConsumeTrialBoot(flashDev, rtc, bootConfigAddr); err == nil {
		bootCfg.SlotCurrent = slot
	}

	mailbox := ota.NewMailbox(flashDev)
	flashCmds := ota.NewFlashCommands(flashDev, arb)

	// Dispatcher, timers, and the in-memory fake peripherals backing the
	// i2c-*/spi-*/io-*/pwm-*/display-* command families.
	disp := dispatch.New()
	timers := dispatch.NewTimerWheel(disp)
	timers.Start()

	gpio := drivers.NewGPIO(32)
	i2c := drivers.NewI2CBus()
	spi := drivers.NewSPIBus()
	pwm := drivers.NewPWM(8)
	display := drivers.NewDisplay(128, 64)

	uptime := timekeeper.NewUptimeClock(func() uint32 { return uint32(time.Now().UnixMicro()) })
	rtcClock := timekeeper.NewRTCClock(func() uint32 { return uint32(time.Now().Unix()) })
	sntpClock := &timekeeper.SNTPClock{}
	keeper := timekeeper.NewKeeper(uptime, rtcClock, sntpClock)

	// Wi-Fi bring-up (quieter logger for network stack chatter).
	devcfg := cyw43439.DefaultWifiConfig()
	devcfg.Logger = netLogger
	cystack, err := cywnet.NewConfiguredPicoWithStack(
		credentials.SSID(),
		credentials.Password(),
		devcfg,
		cywnet.StackConfig{
			Hostname:    "iobridge",
			MaxTCPPorts: 3, // console + mailbox control-plane + future transfer
		},
	)
	if err != nil {
		logger.Error("wifi:setup-failed", slog.String("err", err.Error()))
		fatalError("WiFi setup failed - waiting for reset...")
	}
	globalCyStack = cystack

	ota.SetWiFiShutdown(func() {
		logger.Info("ota:wifi-shutdown")
		time.Sleep(100 * time.Millisecond) // drain pending packets
	})

	radio := wifi.NewPicoRadio(cystack, cystack.Device())
	wifiMgr := wifi.New(radio, disp, accessPointsSize)
	wifiMgr.NoteBoot()

	go loopForeverStack(cystack)

	dhcpResults, err := cystack.SetupWithDHCP(cywnet.DHCPConfig{
		RequestedAddr: netip.AddrFrom4(requestedIP),
	})
	if err != nil {
		logger.Error("dhcp:failed", slog.String("err", err.Error()))
		fatalError("DHCP failed - waiting for reset...")
	}
	logger.Info("dhcp:complete", slog.String("addr", dhcpResults.AssignedAddr.String()))
	dnsServers := dhcpResults.DNSServers

	stack := cystack.LnetoStack()

	ntpServer, _ := cfgStore.Get("sntp.server")
	logger.Info("ntp:init", slog.String("server", ntpServer))
	if _, err := syncNTP(stack, dnsServers, ntpServer, logger); err != nil {
		logger.Warn("ntp:init-failed", slog.String("err", err.Error()))
	} else {
		sntpClock.Sync(uint32(time.Now().Unix()))
	}

	if addrStr, ok := cfgStore.Get("telemetry.collector"); ok {
		if collectorAddr, err := netip.ParseAddrPort(addrStr); err == nil {
			if err := telemetry.Init(stack, logger, collectorAddr); err != nil {
				logger.Warn("telemetry:init-failed", slog.String("err", err.Error()))
			}
		} else {
			logger.Warn("telemetry:config-invalid", slog.String("err", err.Error()))
		}
	}
	if brokerStr, ok := cfgStore.Get("mqtt.broker"); ok {
		if brokerAddr, err := netip.ParseAddrPort(brokerStr); err == nil {
			telemetry.EnableMQTTEgress(brokerAddr)
		}
	}

	deps := command.Deps{
		Config:      cfgStore,
		Mailbox:     mailbox,
		Flash:       flashCmds,
		BootCfg:     bootCfg,
		Arbiter:     arb,
		Dev:         flashDev,
		RTC:         rtc,
		BootCfgAddr: bootConfigAddr,
		Dispatcher:  disp,
		GPIO:        gpio,
		I2C:         i2c,
		SPI:         spi,
		PWM:         pwm,
		Display:     display,
		WifiMgr:     wifiMgr,
		Keeper:      keeper,
		Logs:        logRing,
		RequestReset: func() {
			ota.Reboot()
		},
	}
	table := command.Build(deps)
	engine := &command.Engine{Table: table, StripTelnet: true}

	go consoleServer(stack, engine, logger)
	go mailboxServer(stack, mailbox, logger)
	go dispatchLoop(disp, uptime, sntpClock, wifiMgr, logger)

	logger.Info("init:services-started")

	for {
		feedWatchdogIfHealthy()
		time.Sleep(time.Second)
	}
}

// dispatchLoop is the single cooperative consumer goroutine draining the
// three priority queues (spec §4.3/§5): strict priority order, one task
// per Step, never blocking on a handler body.
func dispatchLoop(disp *dispatch.Dispatcher, uptime *timekeeper.UptimeClock, sntp *timekeeper.SNTPClock, wifiMgr *wifi.Manager, logger *slog.Logger) {
	for {
		handled := disp.Step(func(prio dispatch.Priority, t dispatch.Task) {
			switch t.Signal {
			case dispatch.SigFastTick:
				uptime.Tick()
			case dispatch.SigSlowTick:
				sntp.Tick()
				if wifiMgr.CheckRecovery(credentials.SSID(), credentials.Password()) {
					logger.Warn("wifi:recovery-reset")
					ota.Reboot()
				}
			case wifi.SigDisassociationAlert:
				logger.Warn("wifi:disassociated")
			}
		})
		if !handled {
			time.Sleep(pollTime)
		}
	}
}

// loopForeverStack processes network packets in the background and keeps
// the watchdog fed while doing so.
func loopForeverStack(stack *cywnet.Stack) {
	var count int
	for {
		send, recv, _ := stack.RecvAndSend()
		if send == 0 && recv == 0 {
			time.Sleep(pollTime)
		}
		count++
		if count >= 100 {
			feedWatchdogIfHealthy()
			count = 0
		}
	}
}

// ntpFallbackServers are tried in order if the configured server fails.
var ntpFallbackServers = []string{
	"time.cloudflare.com",
	"time.google.com",
	"pool.ntp.org",
}

// syncNTP resolves and queries NTP servers with exponential backoff,
// trying the configured server first and falling back to well-known
// public servers. Returns the applied time offset.
func syncNTP(stack *xnet.StackAsync, dnsServers []netip.Addr, configuredServer string, logger *slog.Logger) (time.Duration, error) {
	var servers []string
	if configuredServer != "" {
		servers = append(servers, configuredServer)
	}
	for _, fallback := range ntpFallbackServers {
		if len(servers) == 0 || fallback != servers[0] {
			servers = append(servers, fallback)
		}
	}

	rstack := stack.StackRetrying(pollTime)
	var lastErr error
	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for _, ntpHost := range servers {
		logger.Info("ntp:trying", slog.String("server", ntpHost))
		feedWatchdogIfHealthy()
		time.Sleep(100 * time.Millisecond)

		addrs, err := rstack.DoLookupIP(ntpHost, 5*time.Second, 2)
		if err != nil {
			logger.Warn("ntp:dns-failed", slog.String("server", ntpHost), slog.String("err", err.Error()))
			lastErr = err
			sleepWithWatchdog(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		for i, addr := range addrs {
			feedWatchdogIfHealthy()
			time.Sleep(200 * time.Millisecond)
			logger.Info("ntp:requesting", slog.String("addr", addr.String()), slog.Int("attempt", i+1))

			offset, err := rstack.DoNTP(addr, 5*time.Second, 3)
			if err != nil {
				logger.Warn("ntp:addr-failed", slog.String("addr", addr.String()), slog.String("err", err.Error()))
				lastErr = err
				sleepWithWatchdog(backoff)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}

			runtime.AdjustTimeOffset(int64(offset))
			logger.Info("ntp:synced",
				slog.String("server", ntpHost),
				slog.String("addr", addr.String()),
				slog.Duration("offset", offset),
			)
			return offset, nil
		}
	}

	logger.Error("ntp:all-failed", slog.Int("servers_tried", len(servers)))
	return 0, lastErr
}
