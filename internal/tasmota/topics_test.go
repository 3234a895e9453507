package tasmota

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewTopics(t *testing.T) {
	tests := []struct {
		name      string
		fullTopic string
		prefixes  [3]string
		wantErr   bool
	}{
		{name: "factory default", fullTopic: "%prefix%/%topic%/", prefixes: [3]string{"cmnd", "stat", "tele"}},
		{name: "no trailing slash", fullTopic: "%prefix%/%topic%", prefixes: [3]string{"cmnd", "stat", "tele"}},
		{name: "extra literal level", fullTopic: "home/%topic%/%prefix%/", prefixes: [3]string{"cmnd", "stat", "tele"}},
		{name: "missing topic", fullTopic: "%prefix%/devices/", prefixes: [3]string{"cmnd", "stat", "tele"}, wantErr: true},
		{name: "token inside level", fullTopic: "%prefix%/dev-%topic%/", prefixes: [3]string{"cmnd", "stat", "tele"}, wantErr: true},
		{name: "unsupported token", fullTopic: "%prefix%/%hostname%/%topic%/", prefixes: [3]string{"cmnd", "stat", "tele"}, wantErr: true},
		{name: "wildcard literal", fullTopic: "+/%prefix%/%topic%/", prefixes: [3]string{"cmnd", "stat", "tele"}, wantErr: true},
		{name: "empty level", fullTopic: "%prefix%//%topic%/", prefixes: [3]string{"cmnd", "stat", "tele"}, wantErr: true},
		{name: "duplicate prefix", fullTopic: "%prefix%/%topic%/", prefixes: [3]string{"cmnd", "stat", "stat"}, wantErr: true},
		{name: "empty prefix", fullTopic: "%prefix%/%topic%/", prefixes: [3]string{"cmnd", "", "tele"}, wantErr: true},
		{name: "prefix with separator", fullTopic: "%prefix%/%topic%/", prefixes: [3]string{"cmnd", "st/at", "tele"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTopics(tt.fullTopic, tt.prefixes[0], tt.prefixes[1], tt.prefixes[2])
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidFullTopic) {
					t.Errorf("NewTopics() error = %v, want ErrInvalidFullTopic", err)
				}
				return
			}
			if err != nil {
				t.Errorf("NewTopics() unexpected error = %v", err)
			}
		})
	}
}

func TestSubscriptions(t *testing.T) {
	topics := DefaultTopics()

	if got := topics.PresenceSubscription(); got != "tele/+/LWT" {
		t.Errorf("PresenceSubscription() = %q, want tele/+/LWT", got)
	}
	if got := topics.ReplySubscription(); got != "stat/+/+" {
		t.Errorf("ReplySubscription() = %q, want stat/+/+", got)
	}

	custom, err := NewTopics("home/%topic%/%prefix%/", "c", "s", "t")
	if err != nil {
		t.Fatalf("NewTopics() error = %v", err)
	}
	if got := custom.PresenceSubscription(); got != "home/+/t/LWT" {
		t.Errorf("custom PresenceSubscription() = %q, want home/+/t/LWT", got)
	}

	if got := topics.PresenceTopic("sonoff-1"); got != "tele/sonoff-1/LWT" {
		t.Errorf("PresenceTopic() = %q, want tele/sonoff-1/LWT", got)
	}
	if got := custom.PresenceTopic("sonoff-1"); got != "home/sonoff-1/t/LWT" {
		t.Errorf("custom PresenceTopic() = %q, want home/sonoff-1/t/LWT", got)
	}
}

func TestDecodePresence(t *testing.T) {
	topics := DefaultTopics()

	tests := []struct {
		name       string
		topic      string
		payload    string
		wantDevice DeviceID
		wantState  PresenceState
		wantOK     bool
	}{
		{name: "online", topic: "tele/sonoff-1/LWT", payload: "Online", wantDevice: "sonoff-1", wantState: Online, wantOK: true},
		{name: "offline", topic: "tele/sonoff-1/LWT", payload: "Offline", wantDevice: "sonoff-1", wantState: Offline, wantOK: true},
		{name: "case insensitive", topic: "tele/plug/LWT", payload: "ONLINE", wantDevice: "plug", wantState: Online, wantOK: true},
		{name: "surrounding whitespace", topic: "tele/plug/LWT", payload: " offline\n", wantDevice: "plug", wantState: Offline, wantOK: true},
		{name: "cleared retained", topic: "tele/plug/LWT", payload: "", wantDevice: "plug", wantState: Offline, wantOK: true},
		{name: "unknown payload", topic: "tele/plug/LWT", payload: "Rebooting", wantOK: false},
		{name: "state topic", topic: "tele/plug/STATE", payload: "Online", wantOK: false},
		{name: "wrong prefix", topic: "stat/plug/LWT", payload: "Online", wantOK: false},
		{name: "too many levels", topic: "tele/a/b/LWT", payload: "Online", wantOK: false},
		{name: "empty device", topic: "tele//LWT", payload: "Online", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device, state, ok := topics.DecodePresence(tt.topic, []byte(tt.payload))
			if ok != tt.wantOK {
				t.Fatalf("DecodePresence() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if device != tt.wantDevice || state != tt.wantState {
				t.Errorf("DecodePresence() = (%q, %v), want (%q, %v)", device, state, tt.wantDevice, tt.wantState)
			}
		})
	}
}

func TestEncodeQuery(t *testing.T) {
	topics := DefaultTopics()

	topic, payload := topics.EncodeQuery("sonoff-1", KindDeviceName)
	if topic != "cmnd/sonoff-1/DeviceName" || len(payload) != 0 {
		t.Errorf("EncodeQuery(DeviceName) = (%q, %q)", topic, payload)
	}

	topic, payload = topics.EncodeQuery("sonoff-1", CommandKind("Power", "TOGGLE"))
	if topic != "cmnd/sonoff-1/Power" || string(payload) != "TOGGLE" {
		t.Errorf("EncodeQuery(Power) = (%q, %q)", topic, payload)
	}

	if got := topics.ExpectedReply("sonoff-1", KindIPAddress); got != "stat/sonoff-1/RESULT" {
		t.Errorf("ExpectedReply(IPAddress) = %q", got)
	}
	if got := topics.ExpectedReply("sonoff-1", KindFileDownload); got != "stat/sonoff-1/FILEDOWNLOAD" {
		t.Errorf("ExpectedReply(FileDownload) = %q", got)
	}
}

func TestDecodeReply(t *testing.T) {
	topics := DefaultTopics()

	tests := []struct {
		name    string
		topic   string
		payload string
		device  DeviceID
		kind    Kind
		wantOK  bool
	}{
		{name: "device name", topic: "stat/sonoff-1/RESULT", payload: `{"DeviceName":"Kitchen"}`, device: "sonoff-1", kind: KindDeviceName, wantOK: true},
		{name: "key case insensitive", topic: "stat/sonoff-1/RESULT", payload: `{"devicename":"Kitchen"}`, device: "sonoff-1", kind: KindDeviceName, wantOK: true},
		{name: "ip address", topic: "stat/sonoff-1/RESULT", payload: `{"IPAddress1":"0.0.0.0 (192.168.1.42)","IPAddress2":"0.0.0.0"}`, device: "sonoff-1", kind: KindIPAddress, wantOK: true},
		{name: "other device", topic: "stat/sonoff-2/RESULT", payload: `{"DeviceName":"Hall"}`, device: "sonoff-1", kind: KindDeviceName, wantOK: false},
		{name: "other kind", topic: "stat/sonoff-1/RESULT", payload: `{"POWER":"ON"}`, device: "sonoff-1", kind: KindDeviceName, wantOK: false},
		{name: "not json", topic: "stat/sonoff-1/RESULT", payload: `Kitchen`, device: "sonoff-1", kind: KindDeviceName, wantOK: false},
		{name: "truncated json", topic: "stat/sonoff-1/RESULT", payload: `{"DeviceName":`, device: "sonoff-1", kind: KindDeviceName, wantOK: false},
		{name: "wrong suffix", topic: "stat/sonoff-1/POWER", payload: `{"DeviceName":"x"}`, device: "sonoff-1", kind: KindDeviceName, wantOK: false},
		{name: "telemetry", topic: "tele/sonoff-1/RESULT", payload: `{"DeviceName":"x"}`, device: "sonoff-1", kind: KindDeviceName, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, ok := topics.DecodeReply(tt.topic, []byte(tt.payload), tt.device, tt.kind)
			if ok != tt.wantOK {
				t.Fatalf("DecodeReply() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !json.Valid(value) {
				t.Errorf("DecodeReply() value %q is not valid JSON", value)
			}
		})
	}
}

func TestValidateDevice(t *testing.T) {
	for _, device := range []DeviceID{"", "a/b", "+", "dev#"} {
		if err := validateDevice(device); !errors.Is(err, ErrInvalidDevice) {
			t.Errorf("validateDevice(%q) error = %v, want ErrInvalidDevice", device, err)
		}
	}
	if err := validateDevice("sonoff-1"); err != nil {
		t.Errorf("validateDevice(sonoff-1) error = %v", err)
	}
}
