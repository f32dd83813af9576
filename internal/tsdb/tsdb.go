// Package tsdb mirrors forwarded readings into InfluxDB.
//
// Points are batched by the client library and written in the background.
// Write failures go to the SetOnError callback and never reach the publisher.
package tsdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sweeney/thermo-node/internal/logic"
)

var (
	ErrDisabled         = errors.New("tsdb: disabled in configuration")
	ErrConnectionFailed = errors.New("tsdb: connection failed")
)

const (
	pingTimeout   = 10 * time.Second
	batchSize     = 50
	flushInterval = 10 * time.Second

	measurement = "temperature"
)

// Config selects the InfluxDB v2 target. Zero BatchSize and FlushInterval
// fall back to 50 points and 10s.
type Config struct {
	Enabled       bool
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int
	FlushInterval time.Duration
}

func (c Config) options() *influxdb2.Options {
	size, every := batchSize, flushInterval
	if c.BatchSize > 0 {
		size = c.BatchSize
	}
	if c.FlushInterval > 0 {
		every = c.FlushInterval
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(size)).
		SetFlushInterval(uint(every / time.Millisecond))
}

// Client writes one point per reading into the "temperature" measurement,
// tagged with the source index and, when known, the sensor address.
type Client struct {
	influx influxdb2.Client
	writer api.WriteAPI

	mu      sync.RWMutex
	closed  bool
	devices []string
	onError func(error)
}

// Connect checks the server answers a ping before handing back a client.
func Connect(cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, cfg.options())
	if err := ping(influx); err != nil {
		influx.Close()
		return nil, err
	}

	c := &Client{influx: influx, writer: influx.WriteAPI(cfg.Org, cfg.Bucket)}
	go c.reportErrors()
	return c, nil
}

func ping(influx influxdb2.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	ok, err := influx.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	case !ok:
		return fmt.Errorf("%w: server not ready", ErrConnectionFailed)
	}
	return nil
}

// reportErrors drains the write API error channel until the client closes.
func (c *Client) reportErrors() {
	for err := range c.writer.Errors() {
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError sets the callback for background write failures.
func (c *Client) SetOnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// SetDevices records sensor addresses by discovery index.
func (c *Client) SetDevices(addrs []string) {
	c.mu.Lock()
	c.devices = append([]string(nil), addrs...)
	c.mu.Unlock()
}

// IsConnected reports whether Close has not yet been called.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// WriteReading queues one point. It never blocks on the network and is
// dropped after Close.
func (c *Client) WriteReading(r logic.Reading) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	var device string
	if r.Source >= 0 && r.Source < len(c.devices) {
		device = c.devices[r.Source]
	}
	c.mu.RUnlock()

	c.writer.WritePoint(point(r, device, time.Now()))
}

func point(r logic.Reading, device string, at time.Time) *write.Point {
	tags := map[string]string{"source": strconv.Itoa(r.Source)}
	if device != "" {
		tags["device"] = device
	}
	return write.NewPoint(measurement, tags, map[string]interface{}{"celsius": r.Value}, at)
}

// Flush sends buffered points now.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writer.Flush()
	}
}

// Close flushes what is buffered and shuts the client down. Safe to call twice.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writer.Flush()
	c.influx.Close()
	return nil
}
