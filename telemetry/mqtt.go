//go:build tinygo

package telemetry

import (
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
	mqtt "github.com/soypat/natiu-mqtt"
)

// Optional MQTT egress: publishes flushed log lines to a broker topic
// alongside the HTTP collector, for deployments that
// already run an MQTT broker for other telemetry. Adapted from the
// teacher's MQTT dial/publish sequence in its schedule-fetch client.
const (
	mqttEgressTimeout = 10 * time.Second
	mqttEgressRetries = 3
)

var (
	mqttEgressTopic  = []byte("iobridge/logs")
	mqttEgressBroker netip.AddrPort
	mqttEgressOn     bool

	mqttTxBuf, mqttRxBuf [1024]byte
	mqttUserBuf          [256]byte
)

// EnableMQTTEgress turns on best-effort MQTT publishing of flushed log
// lines to brokerAddr. Safe to call even if the broker is unreachable;
// PublishLogLine simply logs and drops on failure.
func EnableMQTTEgress(brokerAddr netip.AddrPort) {
	mu.Lock()
	mqttEgressBroker = brokerAddr
	mqttEgressOn = true
	mu.Unlock()
}

// DisableMQTTEgress turns MQTT publishing back off.
func DisableMQTTEgress() {
	mu.Lock()
	mqttEgressOn = false
	mu.Unlock()
}

// PublishLogLine opens a short-lived MQTT connection, publishes one log
// line at QoS0, and disconnects. Called from flushLogs when MQTT egress
// is enabled, before the HTTP collector post, which flushLogs makes
// either way.
func PublishLogLine(line []byte) error {
	mu.Lock()
	s, broker, on := stack, mqttEgressBroker, mqttEgressOn
	mu.Unlock()
	if !on || s == nil {
		return nil
	}

	var conn tcp.Conn
	if err := conn.Configure(tcp.ConnConfig{
		RxBuf:             mqttRxBuf[:],
		TxBuf:             mqttTxBuf[:],
		TxPacketQueueSize: 3,
	}); err != nil {
		return err
	}

	cfg := mqtt.ClientConfig{Decoder: mqtt.DecoderNoAlloc{UserBuffer: mqttUserBuf[:]}}
	client := mqtt.NewClient(cfg)

	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte("iobridge"))

	rstack := s.StackRetrying(5 * time.Millisecond)
	lport := uint16(s.Prand32()>>17) + 1024
	if err := rstack.DoDialTCP(&conn, lport, broker, mqttEgressTimeout, mqttEgressRetries); err != nil {
		closeMQTTConn(&conn, s, broker)
		return err
	}

	conn.SetDeadline(time.Now().Add(mqttEgressTimeout))
	if err := client.StartConnect(&conn, &varconn); err != nil {
		closeMQTTConn(&conn, s, broker)
		return err
	}
	for i := 0; i < 20 && !client.IsConnected(); i++ {
		time.Sleep(50 * time.Millisecond)
		client.HandleNext()
	}
	if !client.IsConnected() {
		closeMQTTConn(&conn, s, broker)
		return errors.New("telemetry: mqtt connect timeout")
	}

	flags, _ := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	pubVar := mqtt.VariablesPublish{TopicName: mqttEgressTopic, PacketIdentifier: uint16(s.Prand32())}
	err := client.PublishPayload(flags, pubVar, line)
	client.Disconnect(errors.New("log published"))
	closeMQTTConn(&conn, s, broker)
	if err != nil && logger != nil {
		logger.Warn("telemetry:mqtt-publish-failed", slog.String("err", err.Error()))
	}
	return err
}

func closeMQTTConn(conn *tcp.Conn, s *xnet.StackAsync, addr netip.AddrPort) {
	conn.Close()
	for i := 0; i < 30 && !conn.State().IsClosed(); i++ {
		time.Sleep(50 * time.Millisecond)
	}
	conn.Abort()
	s.DiscardResolveHardwareAddress6(addr.Addr())
}
