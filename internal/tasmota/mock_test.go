package tasmota

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tasmota-client/internal/infrastructure/mqtt"
)

// MockTransport implements Transport for testing. It behaves like a broker
// with a single client: retained messages are replayed on subscribe and
// injected messages reach every matching subscription.
type MockTransport struct {
	mu             sync.Mutex
	published      []mockPublish
	subscriptions  map[string]mqtt.MessageHandler
	retained       map[string][]byte
	publishErr     error
	subscribeErr   error
	subscribeErrOn string // limits subscribeErr to one filter when set
	onPublish      func(topic string, payload []byte)
	closed         bool
}

type mockPublish struct {
	Topic   string
	Payload []byte
	QoS     byte
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		subscriptions: make(map[string]mqtt.MessageHandler),
		retained:      make(map[string][]byte),
	}
}

func (m *MockTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return err
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos})
	hook := m.onPublish
	m.mu.Unlock()

	if hook != nil {
		hook(topic, payload)
	}
	return nil
}

func (m *MockTransport) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	if m.subscribeErr != nil && (m.subscribeErrOn == "" || m.subscribeErrOn == topic) {
		err := m.subscribeErr
		m.mu.Unlock()
		return err
	}
	m.subscriptions[topic] = handler

	var replay []mockPublish
	for t, payload := range m.retained {
		if mqtt.MatchTopic(topic, t) {
			replay = append(replay, mockPublish{Topic: t, Payload: payload})
		}
	}
	m.mu.Unlock()

	for _, msg := range replay {
		handler(msg.Topic, msg.Payload)
	}
	return nil
}

func (m *MockTransport) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, topic)
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Retain stores a retained message, replayed to later subscriptions.
func (m *MockTransport) Retain(topic, payload string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retained[topic] = []byte(payload)
}

// RetainPresence stores a retained last will for device on the default
// topic layout.
func (m *MockTransport) RetainPresence(device DeviceID, payload string) {
	m.Retain(DefaultTopics().PresenceTopic(device), payload)
}

// SimulateMessage delivers a message to every matching subscription.
func (m *MockTransport) SimulateMessage(topic string, payload string) {
	m.mu.Lock()
	var handlers []mqtt.MessageHandler
	for filter, handler := range m.subscriptions {
		if mqtt.MatchTopic(filter, topic) {
			handlers = append(handlers, handler)
		}
	}
	m.mu.Unlock()

	for _, handler := range handlers {
		handler(topic, []byte(payload))
	}
}

// OnPublish registers a device simulator called after every publish.
func (m *MockTransport) OnPublish(hook func(topic string, payload []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPublish = hook
}

func (m *MockTransport) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

func (m *MockTransport) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// PublishedTo returns the payloads published to topic, in order.
func (m *MockTransport) PublishedTo(topic string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var payloads []string
	for _, p := range m.published {
		if p.Topic == topic {
			payloads = append(payloads, string(p.Payload))
		}
	}
	return payloads
}

func (m *MockTransport) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscriptions)
}

func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var errBrokerDown = errors.New("broker down")

// newTestClient returns a client on a fresh MockTransport.
func newTestClient(t *testing.T, transport *MockTransport, timeout time.Duration) *Client {
	t.Helper()
	client, err := New(transport, Options{Timeout: timeout, QoS: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// receive reads one update or fails after a second.
func receive(t *testing.T, updates <-chan DeviceUpdate) DeviceUpdate {
	t.Helper()
	select {
	case update, ok := <-updates:
		if !ok {
			t.Fatal("device stream closed unexpectedly")
		}
		return update
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for device update")
	}
	return DeviceUpdate{}
}

// expectSilence fails if an update arrives within a short window.
func expectSilence(t *testing.T, updates <-chan DeviceUpdate) {
	t.Helper()
	select {
	case update, ok := <-updates:
		if ok {
			t.Fatalf("unexpected update %v", update)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
