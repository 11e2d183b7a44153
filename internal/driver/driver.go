// Package driver implements spec §4.4: the process-wide coordinator owning
// the connection pool, discovery loop, credential provider, token-refresh
// loop, and the typed RPC client factory.
package driver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/ydb-platform/ydb-go-topic/internal/auth"
	"github.com/ydb-platform/ydb-go-topic/internal/discovery"
	"github.com/ydb-platform/ydb-go-topic/internal/errs"
	"github.com/ydb-platform/ydb-go-topic/internal/pool"
)

// Config binds the "Driver configuration (recognized keys)" of spec §6.
type Config struct {
	Database string

	EnableDiscovery     bool
	TokenTimeout        time.Duration
	DiscoveryInterval   time.Duration
	LocalDC             string
	DialOpts            []grpc.DialOption
	ListEndpoints       discovery.ListEndpointsFunc
	CredentialsProvider auth.Provider

	Logger *slog.Logger
}

// Driver owns the pool, discovery, and auth collaborators and exposes
// createClient/ready/close per spec §4.4.
type Driver struct {
	cfg    Config
	pool   *pool.Pool
	disc   *discovery.Discoverer
	token  *auth.CachedProvider
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	readyOnce sync.Once
	ready     chan struct{}
}

// New constructs a Driver without starting any background loops; call Run
// to start discovery and token refresh.
func New(cfg Config) *Driver {
	if cfg.TokenTimeout == 0 {
		cfg.TokenTimeout = 10 * time.Second
	}
	if cfg.DiscoveryInterval == 0 {
		cfg.DiscoveryInterval = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Driver{cfg: cfg, logger: cfg.Logger, ready: make(chan struct{})}

	if cfg.CredentialsProvider != nil {
		d.token = auth.New(cfg.CredentialsProvider, 60*time.Second, cfg.TokenTimeout)
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithChainUnaryInterceptor(d.UnaryInterceptor()),
		grpc.WithChainStreamInterceptor(d.StreamInterceptor()),
	}, cfg.DialOpts...)

	p := pool.New(dialOpts...)
	if cfg.LocalDC != "" {
		p.SetLocalDC(cfg.LocalDC)
	}
	d.pool = p

	if cfg.EnableDiscovery {
		d.disc = discovery.New(p, discovery.Config{
			Database:      cfg.Database,
			Interval:      cfg.DiscoveryInterval,
			ListEndpoints: cfg.ListEndpoints,
			Logger:        cfg.Logger,
		})
	}

	return d
}

// Run starts the discovery loop and, if a credentials provider is
// configured, the background token-refresh loop (spec §4.4, default every
// 60s). It returns once both have been launched; use Ready to wait for the
// readiness gate.
func (d *Driver) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.disc != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.disc.Run(runCtx)
		}()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			select {
			case <-d.disc.Ready():
			case <-runCtx.Done():
				return
			}
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for d.pool.Len() == 0 {
				select {
				case <-ticker.C:
				case <-runCtx.Done():
					return
				}
			}
			d.readyOnce.Do(func() { close(d.ready) })
		}()
	} else {
		d.readyOnce.Do(func() { close(d.ready) })
	}

	if d.token != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			auth.RefreshLoop(runCtx, d.token, 60*time.Second, func(err error) {
				d.logger.Warn("driver: token refresh failed", "err", err)
			})
		}()
	}
}

// Ready resolves once the first discovery reconciliation completes and the
// pool has at least one usable connection (spec §4.4); when discovery is
// disabled it resolves immediately after Run.
func (d *Driver) Ready() <-chan struct{} { return d.ready }

// Pool exposes the underlying connection pool, mainly for tests and
// components that need acquire() directly (e.g. the topic reader/writer
// stream dialers).
func (d *Driver) Pool() *pool.Pool { return d.pool }

// CreateClient implements spec §4.4's createClient(serviceDefinition):
// service definitions themselves are out of scope (spec §1), so CreateClient
// acquires a connection per opts and hands back the decorated
// *grpc.ClientConn for the caller to build a generated stub over. Every
// outgoing call on the returned channel already carries the database name
// and auth ticket metadata via the chained interceptors installed in New.
//
// The dial is run through the acquired connection's Guard, so a node whose
// channel repeatedly fails to come up trips its breaker and Pessimized()
// starts excluding it from future Acquire candidates (spec §4.2).
func (d *Driver) CreateClient(ctx context.Context, opts pool.AcquireOptions) (*grpc.ClientConn, error) {
	conn, err := d.pool.Acquire(opts)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Guard(ctx, func(context.Context) (any, error) {
		return conn.Channel()
	})
	if err != nil {
		return nil, err
	}
	return channel.(*grpc.ClientConn), nil
}

// UnaryInterceptor returns a grpc.UnaryClientInterceptor injecting the
// database name and, when a credentials provider is configured, the
// x-ydb-auth-ticket header (spec §6's "Token header").
func (d *Driver) UnaryInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx, err := d.decorate(ctx)
		if err != nil {
			return err
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamInterceptor is the stream analogue of UnaryInterceptor, used by the
// topic reader/writer's StreamRead/StreamWrite dialers.
func (d *Driver) StreamInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		ctx, err := d.decorate(ctx)
		if err != nil {
			return nil, err
		}
		return streamer(ctx, desc, cc, method, opts...)
	}
}

// decorate stamps every outgoing call's metadata with the database name, a
// fresh x-request-id for server-side log correlation (uuid.NewString(), not
// ulid: this id is discarded after one RPC and never sorted or compared, so
// there's no ordering property worth paying for), and the auth ticket when a
// credentials provider is configured.
func (d *Driver) decorate(ctx context.Context) (context.Context, error) {
	md := metadata.Pairs(
		"x-ydb-database", d.cfg.Database,
		"x-request-id", uuid.NewString(),
	)
	if d.token != nil {
		tok, err := d.token.GetToken(ctx, false)
		if err != nil {
			return nil, errs.Wrap(errs.KindClient, errs.CodeUnauthenticated, err)
		}
		md.Set("x-ydb-auth-ticket", tok)
	}
	return metadata.NewOutgoingContext(ctx, md), nil
}

// Close halts discovery, cancels background loops, and closes all pool
// channels (spec §4.4).
func (d *Driver) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	return d.pool.Close()
}
