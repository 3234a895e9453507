package cmd

import (
	"context"
	"fmt"

	"github.com/nerrad567/tasmota-client/internal/infrastructure/influxdb"
)

// openRecorder connects to InfluxDB when requested by flag or enabled in
// the config file. It returns nil when recording is off.
func openRecorder(ctx context.Context, requested bool) (*influxdb.Client, error) {
	if !requested && !cfg.InfluxDB.Enabled {
		return nil, nil
	}

	influxCfg := cfg.InfluxDB
	influxCfg.Enabled = true
	if influxCfg.URL == "" || influxCfg.Bucket == "" {
		return nil, fmt.Errorf("--record needs influxdb.url and influxdb.bucket in the config file")
	}

	recorder, err := influxdb.Connect(ctx, influxCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	if err := recorder.HealthCheck(ctx); err != nil {
		recorder.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("InfluxDB health check failed: %w", err)
	}
	recorder.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", influxCfg.URL,
		"org", influxCfg.Org,
		"bucket", influxCfg.Bucket,
	)
	return recorder, nil
}

// closeRecorder flushes and closes recorder if it is open.
func closeRecorder(recorder *influxdb.Client) {
	if recorder == nil {
		return
	}
	recorder.Flush()
	if err := recorder.Close(); err != nil {
		log.Error("error closing InfluxDB", "error", err)
	}
}
