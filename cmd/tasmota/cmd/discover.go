package cmd

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/tasmota-client/internal/infrastructure/influxdb"
	"github.com/nerrad567/tasmota-client/internal/tasmota"
)

// identifyConcurrency caps parallel identification in --once mode.
const identifyConcurrency = 8

var discoverFlags struct {
	record bool
	once   bool
	settle time.Duration
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Watch devices come online and go offline",
	Long: `Watch the broker for Tasmota devices. Every device that comes online
is asked for its name and IP address; every device that goes offline is
reported. Runs until interrupted.

With --once, waits for the broker's retained announcements to settle,
prints the devices online at that point and exits.

Examples:
  tasmota discover --host broker.lan -u mqtt -p secret
  tasmota discover --once --settle 3s
  tasmota discover --record            # also write presence to InfluxDB`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	f := discoverCmd.Flags()
	f.BoolVar(&discoverFlags.record, "record", false, "record presence and device info in InfluxDB")
	f.BoolVar(&discoverFlags.once, "once", false, "print the devices online now and exit")
	f.DurationVar(&discoverFlags.settle, "settle", 2*time.Second, "how long --once waits for retained announcements")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeClient(client)

	recorder, err := openRecorder(ctx, discoverFlags.record)
	if err != nil {
		return err
	}
	defer closeRecorder(recorder)

	if discoverFlags.once {
		return listOnce(ctx, cmd.OutOrStdout(), client, recorder)
	}
	return watch(ctx, cmd.OutOrStdout(), client, recorder)
}

// watch prints presence changes until ctx is cancelled.
func watch(ctx context.Context, out io.Writer, client *tasmota.Client, recorder *influxdb.Client) error {
	for update := range client.Devices(ctx) {
		if recorder != nil {
			recorder.WritePresence(string(update.Device), update.Kind.String(), time.Now())
		}

		switch update.Kind {
		case tasmota.Added:
			info := identify(ctx, client, update.Device)
			fmt.Fprintln(out, info.discovered())
			info.record(recorder)
		case tasmota.Removed:
			fmt.Fprintf(out, "%s has gone offline\n", update.Device)
		}
	}

	log.Info("discovery stopped")
	return nil
}

// listOnce prints the devices online once retained messages have settled.
func listOnce(ctx context.Context, out io.Writer, client *tasmota.Client, recorder *influxdb.Client) error {
	select {
	case <-time.After(discoverFlags.settle):
	case <-ctx.Done():
		return ctx.Err()
	}

	devices := client.CurrentDevices()
	infos := make([]deviceInfo, len(devices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(identifyConcurrency)
	for i, device := range devices {
		g.Go(func() error {
			infos[i] = identify(gctx, client, device)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, info := range infos {
		fmt.Fprintln(out, info.discovered())
		info.record(recorder)
	}
	if len(devices) == 0 {
		fmt.Fprintln(out, "no devices online")
	}
	return nil
}

// deviceInfo is what a device reported about itself.
type deviceInfo struct {
	device tasmota.DeviceID
	name   string
	ip     netip.Addr
	err    error
}

// identify asks device for its name and IP address concurrently.
// Failures are kept in the result rather than returned.
func identify(ctx context.Context, client *tasmota.Client, device tasmota.DeviceID) deviceInfo {
	info := deviceInfo{device: device}

	var g errgroup.Group
	g.Go(func() error {
		var err error
		info.name, err = client.DeviceName(ctx, device)
		return err
	})
	g.Go(func() error {
		var err error
		info.ip, err = client.DeviceIP(ctx, device)
		return err
	})
	info.err = g.Wait()

	if info.err != nil {
		log.Warn("could not identify device", "device", device, "error", info.err)
	}
	return info
}

func (i deviceInfo) discovered() string {
	name := i.name
	if name == "" {
		name = "?"
	}
	ip := "unknown"
	if i.ip.IsValid() {
		ip = i.ip.String()
	}
	return fmt.Sprintf("discovered %s (%s) with ip %s", name, i.device, ip)
}

func (i deviceInfo) record(recorder *influxdb.Client) {
	if recorder == nil {
		return
	}
	var ip string
	if i.ip.IsValid() {
		ip = i.ip.String()
	}
	recorder.WriteDeviceInfo(string(i.device), i.name, ip)
}
