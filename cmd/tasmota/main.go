// Command tasmota discovers Tasmota devices on an MQTT broker, queries them
// and backs up their settings.
//
// Configuration comes from an optional YAML file (--config or
// TASMOTA_CONFIG), environment variables and flags, in increasing order of
// precedence. See internal/infrastructure/config for the file format.
package main

import "github.com/nerrad567/tasmota-client/cmd/tasmota/cmd"

func main() {
	cmd.Execute()
}
