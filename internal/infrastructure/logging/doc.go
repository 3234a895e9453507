// Package logging provides structured logging for the Tasmota client.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the library and the CLI.
//
// # Features
//
//   - Text output by default, JSON when configured
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  output: "stderr"   # stderr, stdout, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connected", "broker", cfg.BrokerAddress())
//	logger.Error("query failed", "device", id, "error", err)
//
// # Security
//
// Never log broker passwords or device passwords.
package logging
