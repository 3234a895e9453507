// Package mqtt provides MQTT broker connectivity for the Tasmota client.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Ordered, panic-safe delivery to message handlers
//   - Broker-side topic filter matching (MatchTopic)
//
// It is the transport the tasmota package is built on. Everything above
// bytes-on-topics (device presence, reply correlation) lives there.
//
// # Security Considerations
//
//   - TLS (ssl://) is used when cfg.Broker.TLS is set, minimum TLS 1.2
//   - Credentials are sent only when a username is configured
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("tele/+/LWT", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("%s = %s", topic, payload)
//	        return nil
//	    })
//
//	client.Publish("cmnd/sonoff-1/Power", []byte("TOGGLE"), 1, false)
package mqtt
