package config

import (
	_ "embed"
	"strings"
)

// Seed values baked into the image at build time. These back Get() for keys
// that have never been set (or have been deleted) in the flash-resident KV
// store — the store is authoritative once a record exists, the seed layer
// only supplies the factory defaults it shipped with.
//
// This package previously held go:embed text files consulted directly by
// application code (broker address, client ID, NTP server...). Those
// concerns now live as ordinary keys in the flash Store; the embedded
// values below are consulted by Store.Get only as a fallback, never
// bypassed by callers.
var (
	//go:embed broker.text
	seedBrokerAddr string

	//go:embed clientid.text
	seedClientID string

	//go:embed telemetry_collector.text
	seedTelemetryCollector string

	//go:embed wake_interval.text
	seedWakeInterval string

	//go:embed schedule_refresh_interval.text
	seedScheduleRefreshInterval string

	//go:embed ntp_server.text
	seedNTPServer string
)

// seedDefaults maps well-known config keys to their factory value, trimmed
// of surrounding whitespace. Empty entries are omitted so Get correctly
// reports "no default" rather than an empty string default.
func seedDefaults() map[string]string {
	m := map[string]string{}
	add := func(key, val string) {
		if v := strings.TrimSpace(val); v != "" {
			m[key] = v
		}
	}
	add("mqtt.broker", seedBrokerAddr)
	add("mqtt.client-id", seedClientID)
	add("telemetry.collector", seedTelemetryCollector)
	add("wake.interval", seedWakeInterval)
	add("schedule.refresh-interval", seedScheduleRefreshInterval)
	add("sntp.server", seedNTPServer)
	return m
}
