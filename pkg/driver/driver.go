// Package driver is a client for nornicgraph with the session and
// transaction model of a Neo4j driver.
//
// A Driver owns an Endpoint, either HTTP or in-process. Sessions run
// auto-commit queries, open explicit transactions, and track the bookmarks
// that give a caller causal consistency with its earlier writes.
//
// Example Usage:
//
//	drv, err := driver.NewDriver("http://localhost:7474", driver.BasicAuth("admin", "password"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer drv.Close(ctx)
//
//	session, _ := drv.NewSession(driver.SessionConfig{})
//	defer session.Close(ctx)
//
//	created, err := driver.ExecuteWrite(ctx, session, func(tx *driver.Transaction) (bool, error) {
//		res, err := tx.Run(ctx, "CREATE (n:Person {name: $name}) RETURN true AS created",
//			map[string]any{"name": "Alice"})
//		if err != nil {
//			return false, err
//		}
//		v, err := res.Records[0].Get("created")
//		if err != nil {
//			return false, err
//		}
//		b, _ := v.AsBool()
//		return b, nil
//	})
//
// Calls are synchronous. A call abandoned through its context may still
// complete on the server: the write can land even though the caller saw a
// context error.
package driver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDatabase is the database sessions use when none is configured.
const DefaultDatabase = "neo4j"

// Config holds driver options.
type Config struct {
	// Timeout bounds each HTTP request. Zero keeps the endpoint default.
	// Ignored when HTTPClient is set.
	Timeout time.Duration
	// HTTPClient replaces the endpoint's HTTP client.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Option configures a Driver.
type Option func(*Config)

// WithRequestTimeout bounds each HTTP request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithClient sets the HTTP client used by NewDriver.
func WithClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithLogger sets the driver logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// Driver is the entry point for talking to a server. It is safe for
// concurrent use; Sessions are not.
type Driver struct {
	endpoint Endpoint
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewDriver creates a driver for the HTTP server at target.
func NewDriver(target string, token AuthToken, opts ...Option) (*Driver, error) {
	cfg := buildConfig(opts)
	var httpOpts []HTTPOption
	switch {
	case cfg.HTTPClient != nil:
		httpOpts = append(httpOpts, WithHTTPClient(cfg.HTTPClient))
	case cfg.Timeout > 0:
		httpOpts = append(httpOpts, WithTimeout(cfg.Timeout))
	}
	ep, err := NewHTTPEndpoint(target, token, httpOpts...)
	if err != nil {
		return nil, err
	}
	return newDriver(ep, cfg), nil
}

// NewDriverWithEndpoint creates a driver over an existing endpoint, such as
// a LocalEndpoint.
func NewDriverWithEndpoint(ep Endpoint, opts ...Option) *Driver {
	return newDriver(ep, buildConfig(opts))
}

func buildConfig(opts []Option) Config {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

func newDriver(ep Endpoint, cfg Config) *Driver {
	return &Driver{endpoint: ep, logger: cfg.Logger}
}

// NewSession opens a session. Sessions are cheap; they hold no connection.
func (d *Driver) NewSession(cfg SessionConfig) (*Session, error) {
	if d.isClosed() {
		return nil, &DriverClosedError{}
	}
	return newSession(d, cfg), nil
}

// VerifyConnectivity checks that the server answers its health check.
func (d *Driver) VerifyConnectivity(ctx context.Context) error {
	if d.isClosed() {
		return &DriverClosedError{}
	}
	_, err := d.endpoint.Health(ctx)
	return err
}

// Close releases the endpoint. Closing twice is a no-op; every other driver
// operation afterwards fails with DriverClosedError.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	return d.endpoint.Close(ctx)
}

func (d *Driver) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}
