package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tasmota-client/internal/infrastructure/config"
	"github.com/nerrad567/tasmota-client/internal/infrastructure/logging"
	"github.com/nerrad567/tasmota-client/internal/tasmota"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X github.com/nerrad567/tasmota-client/cmd/tasmota/cmd.version=1.0.0"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// configEnv names the environment variable holding the config file path.
const configEnv = "TASMOTA_CONFIG"

// globalFlags holds the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	host       string
	port       int
	username   string
	password   string
	timeout    time.Duration
	logLevel   string
}

var (
	flags globalFlags

	// cfg and log are set by loadConfig before any command runs.
	cfg *config.Config
	log *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tasmota",
	Short: "Talk to Tasmota devices over MQTT",
	Long: `tasmota discovers Tasmota devices through their retained last-will
messages on an MQTT broker, queries them and backs up their settings.

Available commands:
  discover    Watch devices come online and go offline
  command     Send a command to a device and print its reply
  backup      Download a device's settings file

Configuration is read from --config (or $TASMOTA_CONFIG) when given, then
overridden by TASMOTA_* environment variables, then by flags.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command. Cobra has already printed any error.
func Execute() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}

// execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to YAML config file (default $"+configEnv+")")
	pf.StringVar(&flags.host, "host", "", "MQTT broker host")
	pf.IntVar(&flags.port, "port", 0, "MQTT broker port")
	pf.StringVarP(&flags.username, "username", "u", "", "MQTT username")
	pf.StringVarP(&flags.password, "password", "p", "", "MQTT password")
	pf.DurationVar(&flags.timeout, "timeout", 0, "per-query timeout (e.g. 2s)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// loadConfig resolves the configuration and logger for every command.
func loadConfig(cmd *cobra.Command, _ []string) error {
	path := flags.configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}

	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	applyFlagOverrides(cmd, cfg, flags)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	return nil
}

// applyFlagOverrides copies explicitly set flags into c.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config, f globalFlags) {
	changed := cmd.Flags().Changed

	if changed("host") {
		c.MQTT.Broker.Host = f.host
	}
	if changed("port") {
		c.MQTT.Broker.Port = f.port
	}
	if changed("username") {
		c.MQTT.Auth.Username = f.username
	}
	if changed("password") {
		c.MQTT.Auth.Password = f.password
	}
	if changed("timeout") {
		c.Tasmota.QueryTimeout = f.timeout
	}
	if changed("log-level") {
		c.Logging.Level = f.logLevel
	}
}

// connect opens a client for the resolved configuration.
func connect(ctx context.Context) (*tasmota.Client, error) {
	client, err := tasmota.Connect(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.BrokerAddress(), err)
	}
	if err := client.HealthCheck(ctx); err != nil {
		closeClient(client)
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return client, nil
}

// closeClient closes client, logging any error.
func closeClient(client *tasmota.Client) {
	if err := client.Close(); err != nil {
		log.Error("error closing MQTT", "error", err)
	}
}
