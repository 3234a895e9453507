// Package tasmota is an MQTT client for Tasmota devices.
//
// It provides:
//   - Device discovery from retained last-will messages, as a stream of
//     deduplicated Added/Removed events (Devices, CurrentDevices)
//   - One-shot queries that publish a command and await the matching reply,
//     bounded by a timeout (DeviceName, DeviceIP, Command, Ask)
//   - Settings backup over Tasmota's chunked FileDownload protocol,
//     verified against the announced size and MD5 (BackupConfig)
//
// # Topics
//
// Tasmota addresses a device through its FullTopic template, by default
// "%prefix%/%topic%/". Commands go to cmnd/<device>/<Command>, replies come
// back on stat/<device>/RESULT and the last will is retained on
// tele/<device>/LWT with payload "Online" or "Offline". Topics encodes and
// decodes these; custom templates and prefixes are supported as long as
// each token occupies a whole topic level.
//
// # Correlation
//
// The client holds two subscriptions for its whole lifetime, one for all
// last-will topics and one for all status topics. Every inbound message is
// handed to the presence tracker and then offered to every outstanding
// query. A query completes on the first reply from its device that carries
// its result key; other messages are ignored. Concurrent queries for the
// same device and command are all answered by the same reply.
//
// # Usage
//
//	client, err := tasmota.Connect(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	for update := range client.Devices(ctx) {
//	    if update.Kind == tasmota.Added {
//	        name, err := client.DeviceName(ctx, update.Device)
//	        ...
//	    }
//	}
package tasmota
