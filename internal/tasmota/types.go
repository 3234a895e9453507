package tasmota

import "fmt"

// DeviceID is a device's MQTT topic name (the %topic% part of its FullTopic),
// for example "sonoff-1". It is case-sensitive.
type DeviceID string

// PresenceState is the level carried by a device's last-will topic.
type PresenceState int

// Presence states.
const (
	Offline PresenceState = iota
	Online
)

// String returns the Tasmota payload for the state.
func (s PresenceState) String() string {
	if s == Online {
		return payloadOnline
	}
	return payloadOffline
}

// UpdateKind tells whether a device appeared or disappeared.
type UpdateKind int

// Device update kinds.
const (
	Added UpdateKind = iota + 1
	Removed
)

// String returns "added" or "removed".
func (k UpdateKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("UpdateKind(%d)", int(k))
	}
}

// DeviceUpdate is an edge in a device's presence: it came online (Added)
// or went offline (Removed).
type DeviceUpdate struct {
	Kind   UpdateKind
	Device DeviceID
}

func (u DeviceUpdate) String() string {
	return fmt.Sprintf("%s %s", u.Kind, u.Device)
}

// Kind describes one query: the command sent to a device and how its
// answer is recognised.
type Kind struct {
	// Command is the topic suffix of the command, e.g. "DeviceName".
	Command string

	// Payload is sent as the command body. Empty queries the current value.
	Payload string

	// ResultKey is the JSON key that marks the answer. Defaults to Command.
	ResultKey string

	// ReplySuffix is the status topic suffix of the answer. Defaults to "RESULT".
	ReplySuffix string
}

// Built-in query kinds.
var (
	KindDeviceName = Kind{Command: "DeviceName"}

	// IPAddress answers with IPAddress1..4; slot 1 carries the active address.
	KindIPAddress = Kind{Command: "IPAddress", ResultKey: "IPAddress1"}

	// FileDownload replies go to their own topic rather than RESULT.
	KindFileDownload = Kind{Command: "FileDownload", ReplySuffix: "FILEDOWNLOAD"}
)

// CommandKind returns the kind for an arbitrary command. The reply is
// recognised by a result key equal to the command name.
func CommandKind(command, payload string) Kind {
	return Kind{Command: command, Payload: payload}
}

func (k Kind) resultKey() string {
	if k.ResultKey != "" {
		return k.ResultKey
	}
	return k.Command
}

func (k Kind) replySuffix() string {
	if k.ReplySuffix != "" {
		return k.ReplySuffix
	}
	return suffixResult
}
