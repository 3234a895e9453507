package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tasmota-client/internal/tasmota"
)

var commandCmd = &cobra.Command{
	Use:   "command <device> <command> [payload...]",
	Short: "Send a command to a device and print its reply",
	Long: `Send a Tasmota command to a device and print the JSON reply.

The reply is the first message on the device's RESULT topic that carries
the command name as a key. Commands whose reply uses a different key
(e.g. "Status 0") time out.

Examples:
  tasmota command sonoff-1 Power            # query the relay state
  tasmota command sonoff-1 Power TOGGLE
  tasmota command sonoff-1 FriendlyName1 Kitchen Light`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCommand,
}

func init() {
	rootCmd.AddCommand(commandCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	device := tasmota.DeviceID(args[0])
	command := args[1]
	payload := strings.Join(args[2:], " ")

	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeClient(client)

	reply, err := client.Command(ctx, device, command, payload)
	if err != nil {
		return fmt.Errorf("%s %s: %w", device, command, err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, reply, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(reply)
	}
	fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
	return nil
}
