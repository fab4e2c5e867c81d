// Package metrics writes index events to InfluxDB as time-series points.
//
// Writes are non-blocking and batched by the client library; write errors
// arrive asynchronously through the callback set with SetOnError.
package metrics

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

	"github.com/sweeney/busencoders/internal/config"
	"github.com/sweeney/busencoders/internal/encoder"
)

// Measurement is the InfluxDB measurement name for index events.
const Measurement = "encoder_event"

const (
	connectTimeout = 10 * time.Second
	batchSize      = 100
	flushMs        = 1000
)

var (
	// ErrDisabled indicates InfluxDB output is disabled in configuration.
	ErrDisabled = errors.New("metrics: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("metrics: connection failed")
)

// Client writes encoder events to one InfluxDB bucket.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu        sync.RWMutex
	connected bool
	onError   func(err error)
}

// Connect pings the server and prepares a batching write API.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushMs))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		connected: true,
	}
	go c.handleWriteErrors(c.writeAPI.Errors())
	return c, nil
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// PointFor converts an event to a point. The encoder id, name and signal
// are tags; index and mode are fields.
func PointFor(ev encoder.Event) *write.Point {
	tags := map[string]string{
		"encoder": strconv.Itoa(ev.Encoder),
		"signal":  ev.Signal.String(),
	}
	if ev.Name != "" {
		tags["name"] = ev.Name
	}
	return write.NewPoint(
		Measurement,
		tags,
		map[string]interface{}{
			"index": ev.Index,
			"mode":  ev.Mode,
		},
		ev.Time,
	)
}

// WriteEvent queues one event. It never blocks on the network.
func (c *Client) WriteEvent(ev encoder.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(PointFor(ev))
}

// Close flushes pending points and closes the client.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
