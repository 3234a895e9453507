package tasmota

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/tasmota-client/internal/infrastructure/mqtt"
)

// FullTopic tokens understood by the codec. Tasmota supports more
// (%hostname%, %id%), but those cannot be reversed into a device identifier.
const (
	tokenPrefix = "%prefix%"
	tokenTopic  = "%topic%"
)

// Topic suffixes and presence payloads defined by Tasmota.
const (
	suffixLWT    = "LWT"
	suffixResult = "RESULT"

	payloadOnline  = "Online"
	payloadOffline = "Offline"
)

// DefaultFullTopic is Tasmota's factory FullTopic.
const DefaultFullTopic = tokenPrefix + "/" + tokenTopic + "/"

// Topics maps device identifiers and query kinds to MQTT topics and back.
//
// A device's topics are its FullTopic template with %prefix% replaced by
// one of the three prefixes and %topic% by the device identifier, followed
// by a single suffix level (LWT, RESULT, a command name).
//
// All decode methods report "not applicable" with a false result instead of
// an error: the shared subscription carries many messages that belong to
// other devices, other kinds, or nobody at all.
type Topics struct {
	levels    []string
	command   string
	stat      string
	telemetry string
}

// DefaultTopics returns the codec for a factory-configured device:
// cmnd/stat/tele prefixes and FullTopic "%prefix%/%topic%/".
func DefaultTopics() Topics {
	topics, err := NewTopics(DefaultFullTopic, "cmnd", "stat", "tele")
	if err != nil {
		panic(err) // constant input
	}
	return topics
}

// NewTopics builds a codec for the given FullTopic template and prefixes.
//
// %prefix% and %topic% must each occupy a whole topic level exactly once,
// and the three prefixes must be distinct so presence and reply traffic
// never overlap.
func NewTopics(fullTopic, command, stat, telemetry string) (Topics, error) {
	levels := strings.Split(strings.Trim(fullTopic, "/"), "/")

	var prefixes, topics int
	for _, level := range levels {
		switch {
		case level == tokenPrefix:
			prefixes++
		case level == tokenTopic:
			topics++
		case level == "" || strings.ContainsAny(level, "%+#"):
			return Topics{}, fmt.Errorf("%w: unsupported level %q in %q", ErrInvalidFullTopic, level, fullTopic)
		}
	}
	if prefixes != 1 || topics != 1 {
		return Topics{}, fmt.Errorf("%w: %q needs exactly one %s and one %s level", ErrInvalidFullTopic, fullTopic, tokenPrefix, tokenTopic)
	}

	for _, p := range []string{command, stat, telemetry} {
		if p == "" || strings.ContainsAny(p, "/+#") {
			return Topics{}, fmt.Errorf("%w: invalid prefix %q", ErrInvalidFullTopic, p)
		}
	}
	if command == stat || stat == telemetry || command == telemetry {
		return Topics{}, fmt.Errorf("%w: prefixes must be distinct", ErrInvalidFullTopic)
	}

	return Topics{
		levels:    levels,
		command:   command,
		stat:      stat,
		telemetry: telemetry,
	}, nil
}

// build renders the template for prefix and device, then appends suffix.
func (t Topics) build(prefix string, device DeviceID, suffix string) string {
	parts := make([]string, 0, len(t.levels)+1)
	for _, level := range t.levels {
		switch level {
		case tokenPrefix:
			parts = append(parts, prefix)
		case tokenTopic:
			parts = append(parts, string(device))
		default:
			parts = append(parts, level)
		}
	}
	parts = append(parts, suffix)
	return strings.Join(parts, "/")
}

// parse reverses build for the given prefix.
func (t Topics) parse(prefix, topic string) (DeviceID, string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != len(t.levels)+1 {
		return "", "", false
	}

	var device DeviceID
	for i, level := range t.levels {
		switch level {
		case tokenPrefix:
			if parts[i] != prefix {
				return "", "", false
			}
		case tokenTopic:
			if parts[i] == "" {
				return "", "", false
			}
			device = DeviceID(parts[i])
		default:
			if parts[i] != level {
				return "", "", false
			}
		}
	}

	suffix := parts[len(parts)-1]
	if suffix == "" {
		return "", "", false
	}
	return device, suffix, true
}

// PresenceSubscription returns the filter covering every device's last will,
// e.g. "tele/+/LWT".
func (t Topics) PresenceSubscription() string {
	return t.build(t.telemetry, mqtt.SingleLevelWildcard, suffixLWT)
}

// ReplySubscription returns the filter covering every device's status
// topics, e.g. "stat/+/+". One subscription serves all pending queries.
func (t Topics) ReplySubscription() string {
	return t.build(t.stat, mqtt.SingleLevelWildcard, mqtt.SingleLevelWildcard)
}

// PresenceTopic returns a single device's last-will topic.
func (t Topics) PresenceTopic(device DeviceID) string {
	return t.build(t.telemetry, device, suffixLWT)
}

// DecodePresence extracts the device and its state from a last-will message.
//
// "Online" and "Offline" are matched case-insensitively. An empty payload
// is a cleared retained message and counts as Offline. Any other payload,
// or a topic that is not a last-will topic, is not applicable.
func (t Topics) DecodePresence(topic string, payload []byte) (DeviceID, PresenceState, bool) {
	device, suffix, ok := t.parse(t.telemetry, topic)
	if !ok || suffix != suffixLWT {
		return "", 0, false
	}

	switch text := strings.TrimSpace(string(payload)); {
	case text == "":
		return device, Offline, true
	case strings.EqualFold(text, payloadOnline):
		return device, Online, true
	case strings.EqualFold(text, payloadOffline):
		return device, Offline, true
	default:
		return "", 0, false
	}
}

// EncodeQuery returns the command topic and payload that ask device for kind.
func (t Topics) EncodeQuery(device DeviceID, kind Kind) (string, []byte) {
	return t.build(t.command, device, kind.Command), []byte(kind.Payload)
}

// ExpectedReply returns the topic on which device answers kind.
func (t Topics) ExpectedReply(device DeviceID, kind Kind) string {
	return t.build(t.stat, device, kind.replySuffix())
}

// MatchesReply reports whether topic is the reply topic of kind for device.
func (t Topics) MatchesReply(topic string, device DeviceID, kind Kind) bool {
	got, suffix, ok := t.parse(t.stat, topic)
	return ok && got == device && strings.EqualFold(suffix, kind.replySuffix())
}

// DecodeReply returns the JSON object in payload if it answers kind for device.
//
// The topic must be the device's reply topic and the payload a JSON object
// carrying the kind's result key (case-insensitive). Every Tasmota command
// answers on the same RESULT topic, so the key is what tells a DeviceName
// reply from an IPAddress reply.
func (t Topics) DecodeReply(topic string, payload []byte, device DeviceID, kind Kind) (json.RawMessage, bool) {
	if !t.MatchesReply(topic, device, kind) {
		return nil, false
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false
	}

	key := kind.resultKey()
	for name := range fields {
		if strings.EqualFold(name, key) {
			return json.RawMessage(bytes.Clone(trimmed)), true
		}
	}
	return nil, false
}

// validateCommand rejects command names that cannot be the last level of a
// publish topic. Brokers drop the connection on a wildcard publish.
func validateCommand(kind Kind) error {
	if kind.Command == "" || strings.ContainsAny(kind.Command, "/+#") {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, kind.Command)
	}
	return nil
}

// validateDevice rejects identifiers that cannot occupy a single topic level.
func validateDevice(device DeviceID) error {
	if device == "" || strings.ContainsAny(string(device), "/+#") {
		return fmt.Errorf("%w: %q", ErrInvalidDevice, device)
	}
	return nil
}
