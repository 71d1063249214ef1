//go:build integration

package mqtt

import (
	"context"
	"testing"
	"time"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
// Run with:
//
//	go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

func connectIntegration(t *testing.T, clientID string) *Client {
	t.Helper()

	cfg := testConfig()
	cfg.Broker.Port = 1883
	cfg.Broker.ClientID = clientID

	client := New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestIntegration_DeviceRoundtrip(t *testing.T) {
	sub := connectIntegration(t, "fleetwatch-int-sub")
	pub := connectIntegration(t, "fleetwatch-int-pub")

	type delivery struct {
		topic   string
		payload string
	}
	received := make(chan delivery, 1)

	err := sub.Subscribe(sub.Topics().AllDevices("status"), 1, func(topic string, payload []byte) error {
		select {
		case received <- delivery{topic, string(payload)}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	topic := pub.Topics().Device("int-tablet", "status")
	if err := pub.Publish(topic, []byte(`{"status":"ONLINE"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got.topic != topic || got.payload != `{"status":"ONLINE"}` {
			t.Errorf("received %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestIntegration_SubscribeBeforeConnect(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1883
	cfg.Broker.ClientID = "fleetwatch-int-early"

	client := New(cfg)
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup

	received := make(chan struct{}, 1)
	err := client.Subscribe(client.Topics().AllDevices("events"), 1, func(string, []byte) error {
		select {
		case received <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() before connect error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	pub := connectIntegration(t, "fleetwatch-int-early-pub")
	time.Sleep(200 * time.Millisecond)

	if err := pub.Publish(pub.Topics().Device("int-tablet", "events"), []byte(`{}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription registered before connect was not applied")
	}
}
