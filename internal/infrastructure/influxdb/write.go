package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementPresence = "device_presence"
	measurementInfo     = "device_info"
	measurementBackup   = "config_backup"
)

// WritePresence records a device coming online or going offline.
//
// The event is the textual update kind ("added" or "removed"); the point
// carries it as a tag and an "online" boolean field for graphing.
//
// Example:
//
//	client.WritePresence("sonoff-1", "added", time.Now())
func (c *Client) WritePresence(device, event string, at time.Time) {
	c.writePoint(measurementPresence,
		map[string]string{
			"device": device,
			"event":  event,
		},
		map[string]interface{}{
			"online": event == "added",
		},
		at,
	)
}

// WriteDeviceInfo records what a device reported about itself.
// Empty values are omitted; nothing is written if both are empty.
func (c *Client) WriteDeviceInfo(device, name, ip string) {
	fields := make(map[string]interface{}, 2)
	if name != "" {
		fields["name"] = name
	}
	if ip != "" {
		fields["ip"] = ip
	}
	if len(fields) == 0 {
		return
	}

	c.writePoint(measurementInfo, map[string]string{"device": device}, fields, time.Now())
}

// WriteBackup records a completed settings backup.
func (c *Client) WriteBackup(device, file string, size int, md5 string) {
	c.writePoint(measurementBackup,
		map[string]string{"device": device},
		map[string]interface{}{
			"file":  file,
			"bytes": size,
			"md5":   md5,
		},
		time.Now(),
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
