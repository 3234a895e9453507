package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tasmota-client/internal/tasmota"
)

// backupFileMode keeps settings dumps private; they contain Wi-Fi and MQTT credentials.
const backupFileMode = 0o600

var backupFlags struct {
	devicePassword string
	outputDir      string
	record         bool
}

var backupCmd = &cobra.Command{
	Use:   "backup <device>",
	Short: "Download a device's settings file",
	Long: `Download the settings (.dmp) of a device through Tasmota's FileDownload
command and save it under the name the device suggests.

The transfer is verified against the size and MD5 the device announces.

Examples:
  tasmota backup sonoff-1 --device-password admin
  tasmota backup sonoff-1 --device-password admin -o ./backups`,
	Args: cobra.ExactArgs(1),
	RunE: runBackup,
}

func init() {
	f := backupCmd.Flags()
	f.StringVar(&backupFlags.devicePassword, "device-password", "", "device web password")
	f.StringVarP(&backupFlags.outputDir, "output", "o", ".", "directory to save the file in")
	f.BoolVar(&backupFlags.record, "record", false, "record the backup in InfluxDB")
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	device := tasmota.DeviceID(args[0])

	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeClient(client)

	recorder, err := openRecorder(ctx, backupFlags.record)
	if err != nil {
		return err
	}
	defer closeRecorder(recorder)

	file, err := client.BackupConfig(ctx, device, backupFlags.devicePassword)
	if err != nil {
		return fmt.Errorf("backing up %s: %w", device, err)
	}

	path := backupPath(backupFlags.outputDir, device, file.Name)
	if err := os.WriteFile(path, file.Data, backupFileMode); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}

	if recorder != nil {
		recorder.WriteBackup(string(device), filepath.Base(path), len(file.Data), file.MD5)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "downloaded %s (%d bytes)\n", path, len(file.Data))
	return nil
}

// backupPath places the device-suggested name in dir. The name comes from
// the network, so only its final element is used.
func backupPath(dir string, device tasmota.DeviceID, name string) string {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == "" {
		base = string(device) + ".dmp"
	}
	return filepath.Join(dir, base)
}
