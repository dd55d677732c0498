package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-ble-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     30,
		},
	}
}

// offlineClient returns a client that was never connected.
func offlineClient() *Client {
	cfg := testConfig()
	return newClient(cfg, buildClientOptions(cfg))
}

type recordingLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *recordingLogger) Info(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func TestBrokerURL(t *testing.T) {
	cfg := testConfig()
	if got := brokerURL(cfg); got != "tcp://127.0.0.1:1883" {
		t.Errorf("brokerURL() = %q", got)
	}
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	if got := brokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL() with TLS = %q", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "ble"
	cfg.Auth.Password = "secret"
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "graylogic-ble-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "ble" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Error("expected clean session with auto-reconnect")
	}
	if opts.MaxReconnectInterval != 30*time.Second {
		t.Errorf("MaxReconnectInterval = %v", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config should be set with a minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "graylogic-ble-test")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will = enabled %v retained %v qos %d", opts.WillEnabled, opts.WillRetained, opts.WillQos)
	}
	if opts.WillTopic != "graylogic/system/graylogic-ble-test/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var p StatusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if p.Status != StatusOffline || p.Reason != reasonUnexpected || p.ClientID != "graylogic-ble-test" {
		t.Errorf("will payload = %+v", p)
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339", p.Timestamp)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := offlineClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"bad qos", "graylogic/state/ble/AA", []byte("x"), 3, ErrInvalidQoS},
		{"too large", "graylogic/state/ble/AA", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "graylogic/state/ble/AA", []byte("x"), 1, ErrNotConnected},
		{"nil payload not connected", "graylogic/state/ble/AA", nil, 0, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := offlineClient()
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{"empty topic", "", 1, noop, ErrInvalidTopic},
		{"bad qos", "graylogic/command/ble/+", 5, noop, ErrInvalidQoS},
		{"nil handler", "graylogic/command/ble/+", 1, nil, ErrSubscribeFailed},
		{"not connected", "graylogic/command/ble/+", 1, noop, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
			if c.HasSubscription(tt.topic) {
				t.Error("failed subscription must not be tracked")
			}
		})
	}

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v", err)
	}
	if err := c.Unsubscribe("graylogic/command/ble/+"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c := offlineClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() with cancelled ctx error = %v", err)
	}
}

func TestClose_NotConnected(t *testing.T) {
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
	if err := offlineClient().Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestHandleDisconnect_NotifiesCallback(t *testing.T) {
	c := offlineClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var got error
	c.SetOnDisconnect(func(err error) { got = err })

	c.connected = true
	cause := errors.New("broker went away")
	c.handleDisconnect(cause)

	if got != cause {
		t.Errorf("callback error = %v, want %v", got, cause)
	}
	if c.IsConnected() {
		t.Error("client should report disconnected")
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one connection-lost warning", logger.warns)
	}
}

func TestDispatch(t *testing.T) {
	c := offlineClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)
	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)

	var seen string
	c.dispatch(func(topic string, payload []byte) error {
		seen = topic + "=" + string(payload)
		return nil
	}, "graylogic/command/ble/adapter", []byte("{}"))

	if len(logger.warns) != 1 || !strings.Contains(logger.warns[0], "error") {
		t.Errorf("warns = %v, want one handler error", logger.warns)
	}
	if len(logger.errors) != 1 || !strings.Contains(logger.errors[0], "panic") {
		t.Errorf("errors = %v, want one recovered panic", logger.errors)
	}
	if seen != "graylogic/command/ble/adapter={}" {
		t.Errorf("handler saw %q", seen)
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		got  string
		want string
	}{
		{topics.BridgeState("ble", "AA:BB:CC:DD:EE:FF"), "graylogic/state/ble/AA:BB:CC:DD:EE:FF"},
		{topics.BridgeCommand("ble", "adapter"), "graylogic/command/ble/adapter"},
		{topics.BridgeAck("ble", "AA:01"), "graylogic/ack/ble/AA:01"},
		{topics.BridgeHealth("ble"), "graylogic/health/ble"},
		{topics.BridgeCommands("ble"), "graylogic/command/ble/+"},
		{topics.CoreEvent("device.connected"), "graylogic/core/event/device.connected"},
		{topics.AllCoreEvents(), "graylogic/core/event/+"},
		{topics.SystemStatus("graylogic-ble"), "graylogic/system/graylogic-ble/status"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestParseBridgeTopic(t *testing.T) {
	tests := []struct {
		topic                  string
		category, protocol, id string
		ok                     bool
	}{
		{"graylogic/command/ble/AA:BB:CC:DD:EE:FF", "command", "ble", "AA:BB:CC:DD:EE:FF", true},
		{"graylogic/command/ble/adapter", "command", "ble", "adapter", true},
		{"graylogic/command/ble", "", "", "", false},
		{"graylogic/command/ble/a/b", "", "", "", false},
		{"other/command/ble/AA", "", "", "", false},
		{"graylogic//ble/AA", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			category, protocol, id, ok := ParseBridgeTopic(tt.topic)
			if ok != tt.ok || category != tt.category || protocol != tt.protocol || id != tt.id {
				t.Errorf("ParseBridgeTopic() = %q %q %q %v", category, protocol, id, ok)
			}
		})
	}
}
