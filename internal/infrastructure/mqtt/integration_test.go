//go:build integration

package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Integration tests against a real broker.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func connectIntegration(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_RetainedReplayOnSubscribe(t *testing.T) {
	publisher := connectIntegration(t)
	subscriber := connectIntegration(t)

	topic := "tele/integration-" + publisher.ClientID() + "/LWT"
	if err := publisher.Publish(topic, []byte("Online"), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	// Clear the retained message afterwards.
	t.Cleanup(func() { publisher.Publish(topic, nil, 1, true) })

	received := make(chan string, 1)
	err := subscriber.Subscribe("tele/+/LWT", 1, func(got string, payload []byte) error {
		if got == topic {
			select {
			case received <- string(payload):
			default:
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case payload := <-received:
		if payload != "Online" {
			t.Errorf("payload = %q, want %q", payload, "Online")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained message was not replayed")
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client := connectIntegration(t)

	topics := []string{"stat/+/+", "tele/+/LWT"}
	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	if got := client.SubscriptionCount(); got != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", got, len(topics))
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics[0]) {
		t.Error("HasSubscription() = true after Unsubscribe")
	}
}

func TestIntegration_OrderedDelivery(t *testing.T) {
	client := connectIntegration(t)
	topic := "stat/integration-" + client.ClientID() + "/RESULT"

	const count = 20
	var mu sync.Mutex
	var got []byte
	done := make(chan struct{})

	err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, payload[0])
		if len(got) == count {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for i := 0; i < count; i++ {
		if err := client.Publish(topic, []byte{byte(i)}, 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("did not receive all messages")
	}

	for i, b := range got {
		if int(b) != i {
			t.Fatalf("message %d arrived out of order: %v", i, got)
		}
	}
}
