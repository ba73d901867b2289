package influxdb

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/ventoline/smartac-core/internal/infrastructure/config"
)

// Client wraps the InfluxDB v2 client for writing device state history.
//
// Writes go through the non-blocking WriteAPI so a slow or unreachable
// InfluxDB never stalls the reconciliation path. Write errors surface on
// an error channel and are logged, not returned to callers.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig
	logger   Logger
}

// Logger is the minimal logging interface the client needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// New creates an InfluxDB client from configuration and starts draining
// the asynchronous write error channel. Callers must Close the client
// to flush buffered points.
func New(cfg config.InfluxDBConfig, logger Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influxdb: url is required")
	}

	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(uint(cfg.BatchSize))
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval * 1000))
	}

	underlying := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	writeAPI := underlying.WriteAPI(cfg.Org, cfg.Bucket)

	c := &Client{
		client:   underlying,
		writeAPI: writeAPI,
		cfg:      cfg,
		logger:   logger,
	}

	go c.drainErrors()

	return c, nil
}

// drainErrors logs asynchronous write failures.
func (c *Client) drainErrors() {
	for err := range c.writeAPI.Errors() {
		if c.logger != nil {
			c.logger.Warn("InfluxDB write failed", "error", err)
		}
	}
}

// HealthCheck verifies the InfluxDB server is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("influxdb health check: status %s", health.Status)
	}
	return nil
}

// Close flushes buffered points and releases resources.
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}
