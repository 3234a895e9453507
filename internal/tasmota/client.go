package tasmota

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tasmota-client/internal/infrastructure/config"
	"github.com/nerrad567/tasmota-client/internal/infrastructure/mqtt"
)

// DefaultTimeout bounds a single query when no other timeout is configured.
const DefaultTimeout = time.Second

// Logger is the logging interface used by the client.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Transport is the MQTT connection the client runs on.
// *mqtt.Client satisfies it.
//
// Handlers registered with Subscribe must be called one message at a time,
// in arrival order. Retained messages must be delivered on subscribe.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Close() error
}

// Options configures a Client created with New.
type Options struct {
	// Topics is the topic codec. Zero value means DefaultTopics.
	Topics Topics

	// Timeout bounds each query. Zero means DefaultTimeout.
	Timeout time.Duration

	// QoS is used for every publish and subscription.
	QoS byte

	// Logger receives diagnostics. Nil disables logging.
	Logger Logger
}

// Client talks to Tasmota devices over MQTT.
//
// It tracks which devices are online from their retained last-will
// messages and answers one-shot queries (device name, IP address, any
// command) by publishing the command and awaiting the matching reply.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Any number of queries may be in flight at once.
type Client struct {
	transport Transport
	topics    Topics
	qos       byte
	logger    Logger

	presence *presenceTracker
	queries  *correlator

	timeout atomic.Int64

	closeOnce sync.Once
}

// Connect dials the broker described by cfg and starts tracking devices.
//
// Devices whose retained state is Online are reported by Devices shortly
// after Connect returns, as the broker replays the retained messages.
func Connect(ctx context.Context, cfg *config.Config, logger Logger) (*Client, error) {
	topics, err := NewTopics(cfg.Tasmota.FullTopic,
		cfg.Tasmota.Prefixes.Command,
		cfg.Tasmota.Prefixes.Stat,
		cfg.Tasmota.Prefixes.Telemetry,
	)
	if err != nil {
		return nil, err
	}

	transport, err := mqtt.Connect(ctx, cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if logger != nil {
		transport.SetLogger(logger)
		// Reconnects restore both subscriptions; the retained last wills
		// replayed then are deduplicated by the presence tracker.
		transport.SetOnConnect(func() {
			logger.Debug("MQTT connected")
		})
		transport.SetOnDisconnect(func(err error) {
			logger.Warn("MQTT disconnected", "error", err)
		})
	}

	client, err := New(transport, Options{
		Topics:  topics,
		Timeout: cfg.Tasmota.QueryTimeout,
		QoS:     byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2 by config
		Logger:  logger,
	})
	if err != nil {
		transport.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}

	if logger != nil {
		logger.Info("connected to MQTT broker",
			"broker", cfg.BrokerAddress(),
			"client_id", transport.ClientID(),
		)
	}
	return client, nil
}

// New starts a client on an existing transport. The client owns the
// transport from here on and closes it in Close.
func New(transport Transport, opts Options) (*Client, error) {
	if len(opts.Topics.levels) == 0 {
		opts.Topics = DefaultTopics()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}

	c := &Client{
		transport: transport,
		topics:    opts.Topics,
		qos:       opts.QoS,
		logger:    opts.Logger,
	}
	c.timeout.Store(int64(opts.Timeout))
	c.presence = newPresenceTracker(c.topics, c.logger)
	c.queries = newCorrelator(c.topics, c.publish, c.logger)

	// Replies first, so no answer to an early query can slip past.
	var subscribed []string
	for _, filter := range []string{c.topics.ReplySubscription(), c.topics.PresenceSubscription()} {
		if err := transport.Subscribe(filter, c.qos, c.dispatch); err != nil {
			for _, done := range subscribed {
				if uerr := transport.Unsubscribe(done); uerr != nil {
					c.logger.Debug("unsubscribe after failed start", "topic", done, "error", uerr)
				}
			}
			return nil, fmt.Errorf("%w: subscribing to %s: %w", ErrTransport, filter, err)
		}
		subscribed = append(subscribed, filter)
	}

	return c, nil
}

// dispatch is the single entry point for inbound messages.
func (c *Client) dispatch(topic string, payload []byte) error {
	c.presence.handle(topic, payload)
	c.queries.dispatch(topic, payload)
	return nil
}

func (c *Client) publish(topic string, payload []byte) error {
	return c.transport.Publish(topic, payload, c.qos, false)
}

// Topics returns the client's topic codec.
func (c *Client) Topics() Topics {
	return c.topics
}

// Devices streams presence changes until ctx is cancelled or the client is
// closed, at which point the channel is closed.
//
// The stream starts with an Added event for every device online at the
// moment of the call, followed by live changes. A device is never reported
// Added twice without a Removed in between. The stream is buffered without
// bound; callers should keep reading or cancel ctx.
func (c *Client) Devices(ctx context.Context) <-chan DeviceUpdate {
	id, box := c.presence.subscribe()
	out := make(chan DeviceUpdate)

	go func() {
		defer close(out)
		defer c.presence.unsubscribe(id)

		for {
			update, err := box.next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// CurrentDevices returns the devices online right now, sorted.
func (c *Client) CurrentDevices() []DeviceID {
	return c.presence.snapshot()
}

// IsOnline reports whether device is online right now.
func (c *Client) IsOnline(device DeviceID) bool {
	return c.presence.isOnline(device)
}

// Ask sends a query to device and returns the first matching reply.
//
// timeout bounds the wait; zero or negative means the client's timeout.
// The returned JSON is the complete reply object.
func (c *Client) Ask(ctx context.Context, device DeviceID, kind Kind, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.Timeout()
	}
	return c.queries.ask(ctx, device, kind, timeout)
}

// Command sends an arbitrary command to device and returns its reply.
// The reply is recognised by a result key equal to the command name,
// which holds for most Tasmota commands.
func (c *Client) Command(ctx context.Context, device DeviceID, command, payload string) (json.RawMessage, error) {
	return c.Ask(ctx, device, CommandKind(command, payload), 0)
}

// DeviceName returns the device's configured friendly name.
func (c *Client) DeviceName(ctx context.Context, device DeviceID) (string, error) {
	raw, err := c.Ask(ctx, device, KindDeviceName, 0)
	if err != nil {
		return "", err
	}

	value, err := stringField(raw, KindDeviceName.resultKey())
	if err != nil {
		return "", err
	}
	return value, nil
}

// DeviceIP returns the device's current IP address.
//
// Tasmota reports the configured and the active address together, for
// example "0.0.0.0 (192.168.1.42)" on DHCP; the active one is returned.
func (c *Client) DeviceIP(ctx context.Context, device DeviceID) (netip.Addr, error) {
	raw, err := c.Ask(ctx, device, KindIPAddress, 0)
	if err != nil {
		return netip.Addr{}, err
	}

	value, err := stringField(raw, KindIPAddress.resultKey())
	if err != nil {
		return netip.Addr{}, err
	}
	return parseReportedIP(value)
}

// HealthCheck reports a transport that has lost its broker connection.
// Transports that cannot tell are assumed healthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	checker, ok := c.transport.(interface {
		HealthCheck(ctx context.Context) error
	})
	if !ok {
		return nil
	}
	if err := checker.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// SetTimeout changes the timeout for subsequent queries. Queries already
// waiting keep their deadline. Non-positive values are ignored.
func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout.Store(int64(timeout))
	}
}

// Timeout returns the current query timeout.
func (c *Client) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// Close stops presence tracking, fails in-flight queries with ErrClosed and
// closes the transport. Device streams are closed. Calling Close more than
// once is safe.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for _, filter := range []string{c.topics.PresenceSubscription(), c.topics.ReplySubscription()} {
			if uerr := c.transport.Unsubscribe(filter); uerr != nil {
				c.logger.Debug("unsubscribe on close failed", "topic", filter, "error", uerr)
			}
		}

		c.presence.close()
		c.queries.close()

		if cerr := c.transport.Close(); cerr != nil {
			err = fmt.Errorf("%w: %w", ErrTransport, cerr)
		}
	})
	return err
}

// stringField extracts a string value from a reply object, matching the
// key case-insensitively.
func stringField(raw json.RawMessage, key string) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}

	for name, value := range fields {
		if !strings.EqualFold(name, key) {
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return "", fmt.Errorf("%w: %s is not a string: %w", ErrMalformedReply, key, err)
		}
		return s, nil
	}
	return "", fmt.Errorf("%w: missing %s", ErrMalformedReply, key)
}

// parseReportedIP returns the last address in value, ignoring parentheses.
func parseReportedIP(value string) (netip.Addr, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: empty IP address", ErrMalformedReply)
	}

	last := strings.Trim(fields[len(fields)-1], "()")
	addr, err := netip.ParseAddr(last)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	return addr, nil
}
