package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fleetwatch/internal/infrastructure/config"
)

// testConfig returns a configuration pointing at a port nothing listens on.
// Tests in this file never need a broker; see integration_test.go.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     19999,
			ClientID: "fleetwatch-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "devices",
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprint(level, " ", msg, " ", args))
}

func (l *recordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args...) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args...) }

func (l *recordingLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// fakeMessage satisfies paho's Message interface.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestNew_NotConnected(t *testing.T) {
	client := New(testConfig())

	if client.IsConnected() {
		t.Error("IsConnected() = true before Connect")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestIsConnected_ZeroClient(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestConnect_UnreachableBrokerHonoursContext(t *testing.T) {
	client := New(testConfig())
	defer client.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.Connect(ctx)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Connect() took %v, should return when the context expires", elapsed)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after failed Connect")
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := New(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client := New(testConfig())

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 1, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "devices/a/commands", qos: 3, wantErr: ErrInvalidQoS},
		{name: "oversized payload", topic: "devices/a/commands", payload: make([]byte, maxPayloadSize+1), qos: 1, wantErr: ErrPublishFailed},
		{name: "disconnected", topic: "devices/a/commands", payload: []byte(`{}`), qos: 1, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := New(testConfig())
	noop := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("devices/+/status", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("devices/+/status", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after rejected subscribes, want 0", client.SubscriptionCount())
	}
}

func TestSubscribe_TrackedWhileDisconnected(t *testing.T) {
	client := New(testConfig())
	noop := func(string, []byte) error { return nil }
	topics := client.Topics()

	for _, kind := range []string{"status", "metrics", "logs"} {
		if err := client.Subscribe(topics.AllDevices(kind), 1, noop); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", kind, err)
		}
	}

	if client.SubscriptionCount() != 3 {
		t.Errorf("SubscriptionCount() = %d, want 3", client.SubscriptionCount())
	}
	if !client.HasSubscription("devices/+/metrics") {
		t.Error("HasSubscription(devices/+/metrics) = false, want true")
	}

	if err := client.Unsubscribe("devices/+/metrics"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription("devices/+/metrics") {
		t.Error("HasSubscription() = true after Unsubscribe")
	}
	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	client := New(testConfig())
	logger := &recordingLogger{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(string, []byte) error {
		panic("boom")
	})

	wrapped(nil, fakeMessage{topic: "devices/a/status", payload: []byte(`{}`)})

	if !logger.contains("panic recovered") {
		t.Error("expected panic to be logged")
	}
}

func TestWrapHandler_LogsError(t *testing.T) {
	client := New(testConfig())
	logger := &recordingLogger{}
	client.SetLogger(logger)

	var gotTopic string
	var gotPayload []byte
	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, payload
		return errors.New("handler error")
	})

	wrapped(nil, fakeMessage{topic: "devices/a/logs", payload: []byte(`{"message":"x"}`)})

	if gotTopic != "devices/a/logs" || string(gotPayload) != `{"message":"x"}` {
		t.Errorf("handler got (%q, %q)", gotTopic, gotPayload)
	}
	if !logger.contains("handler returned error") {
		t.Error("expected handler error to be logged")
	}
}

func TestCallbacks(t *testing.T) {
	client := New(testConfig())

	var connected, disconnected bool
	var lostErr error
	client.SetOnConnect(func() { connected = true })
	client.SetOnDisconnect(func(err error) {
		disconnected = true
		lostErr = err
	})

	client.handleDisconnect(errors.New("network down"))
	if !disconnected || lostErr == nil {
		t.Error("OnDisconnect callback not invoked with error")
	}

	client.callbackMu.RLock()
	cb := client.onConnect
	client.callbackMu.RUnlock()
	cb()
	if !connected {
		t.Error("OnConnect callback not stored")
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}

func TestTopics(t *testing.T) {
	topics := NewTopics("devices")

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Device", topics.Device("tablet-001", "status"), "devices/tablet-001/status"},
		{"AllDevices", topics.AllDevices("metrics"), "devices/+/metrics"},
		{"Command", topics.Command("tablet-001"), "devices/tablet-001/commands"},
		{"CustomPrefix", NewTopics("/fleet/").Command("k1"), "fleet/k1/commands"},
		{"EmptyPrefix", NewTopics("").AllDevices("logs"), "devices/+/logs"},
		{"ZeroValue", Topics{}.Device("a", "events"), "devices/a/events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestTopics_Split(t *testing.T) {
	topics := NewTopics("devices")

	tests := []struct {
		topic      string
		wantDevice string
		wantKind   string
		wantOK     bool
	}{
		{"devices/tablet-001/status", "tablet-001", "status", true},
		{"devices/tablet-001/unknown", "tablet-001", "unknown", true},
		{"devices//status", "", "", false},
		{"devices/tablet-001/", "", "", false},
		{"other/tablet-001/status", "", "", false},
		{"devices/tablet-001", "", "", false},
		{"devices/a/b/status", "", "", false},
		{ServiceStatusTopic, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			device, kind, ok := topics.Split(tt.topic)
			if ok != tt.wantOK || device != tt.wantDevice || kind != tt.wantKind {
				t.Errorf("Split(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.topic, device, kind, ok, tt.wantDevice, tt.wantKind, tt.wantOK)
			}
		})
	}
}
