// Package pool implements the connection pool of spec §4.2: a map of
// nodeId -> Connection over lazily-created gRPC channels, with
// node/location/local-DC-aware acquisition, stable round robin, and
// temporary pessimization.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Endpoint is an immutable, discovery-created cluster node descriptor
// (spec §3).
type Endpoint struct {
	NodeID                uint32
	Address               string
	Port                  uint16
	Location              string
	SSL                   bool
	SSLTargetNameOverride string
}

func (e Endpoint) target() string {
	return e.Address + ":" + portString(e.Port)
}

// Connection lazily wraps one endpoint's gRPC channel (spec §3).
type Connection struct {
	endpoint Endpoint

	mu      sync.Mutex
	channel *grpc.ClientConn

	breaker *gobreaker.CircuitBreaker[any]

	pessimizedUntilMu sync.RWMutex
	pessimizedUntil   time.Time

	dialOpts []grpc.DialOption
}

func newConnection(ep Endpoint, dialOpts []grpc.DialOption) *Connection {
	c := &Connection{endpoint: ep, dialOpts: dialOpts}
	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "pool-conn-" + portString(ep.Port),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

// Endpoint returns the endpoint this connection was created for.
func (c *Connection) Endpoint() Endpoint { return c.endpoint }

// Channel returns the lazily-dialed gRPC channel, creating it on first use.
func (c *Connection) Channel() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		return c.channel, nil
	}

	opts := append([]grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		transportCredsOption(c.endpoint),
	}, c.dialOpts...)

	conn, err := grpc.NewClient(c.endpoint.target(), opts...)
	if err != nil {
		return nil, err
	}
	c.channel = conn
	return conn, nil
}

func transportCredsOption(ep Endpoint) grpc.DialOption {
	if !ep.SSL {
		return grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	cfg := credsConfig(ep)
	return grpc.WithTransportCredentials(cfg)
}

func credsConfig(ep Endpoint) credentials.TransportCredentials {
	if ep.SSLTargetNameOverride != "" {
		return credentials.NewTLS(&tlsConfigWithOverride(ep.SSLTargetNameOverride))
	}
	return credentials.NewTLS(nil)
}

// Close closes the underlying channel, if created.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return nil
	}
	err := c.channel.Close()
	c.channel = nil
	return err
}

// Pessimized reports whether the connection is currently excluded from
// acquire candidates, either via an explicit pessimize() call or an open
// circuit breaker.
func (c *Connection) Pessimized() bool {
	c.pessimizedUntilMu.RLock()
	until := c.pessimizedUntil
	c.pessimizedUntilMu.RUnlock()
	if time.Now().Before(until) {
		return true
	}
	return c.breaker.State() == gobreaker.StateOpen
}

// Pessimize marks the connection unavailable for d.
func (c *Connection) Pessimize(d time.Duration) {
	c.pessimizedUntilMu.Lock()
	defer c.pessimizedUntilMu.Unlock()
	until := time.Now().Add(d)
	if until.After(c.pessimizedUntil) {
		c.pessimizedUntil = until
	}
}

// Guard runs fn through the connection's circuit breaker, so repeated RPC
// failures on this connection pessimize it automatically even without an
// explicit Pessimize call.
func (c *Connection) Guard(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	return c.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
}
