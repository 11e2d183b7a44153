// Package discovery implements spec §4.3: periodic ListEndpoints polling
// that reconciles the connection pool, plus local-DC detection by racing
// TCP connects across sampled endpoints per location.
package discovery

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ydb-platform/ydb-go-topic/internal/pool"
)

// ListEndpointsFunc is the server RPC this package polls; kept as a function
// type since the generated stub itself is an out-of-scope collaborator
// (spec §1).
type ListEndpointsFunc func(ctx context.Context, database string) ([]pool.Endpoint, error)

// Dialer opens a TCP connection for the local-DC race; overridable in tests.
type Dialer func(ctx context.Context, address string, timeout time.Duration) error

// DefaultDialer dials with net.Dialer, discarding the connection
// immediately — only connect latency is measured.
func DefaultDialer(ctx context.Context, address string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Config controls the discovery loop.
type Config struct {
	Database      string
	Interval      time.Duration
	RaceTimeout   time.Duration
	SamplesPerLoc int
	ListEndpoints ListEndpointsFunc
	Dial          Dialer
	Logger        *slog.Logger
}

// Discoverer owns the periodic reconciliation loop and local-DC detection.
type Discoverer struct {
	cfg  Config
	pool *pool.Pool

	ready     chan struct{}
	readyOnce bool

	mu       sync.Mutex
	lastSeen map[uint32]struct{}
}

func New(p *pool.Pool, cfg Config) *Discoverer {
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.RaceTimeout == 0 {
		cfg.RaceTimeout = 5 * time.Second
	}
	if cfg.SamplesPerLoc == 0 {
		cfg.SamplesPerLoc = 5
	}
	if cfg.Dial == nil {
		cfg.Dial = DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discoverer{cfg: cfg, pool: p, ready: make(chan struct{}), lastSeen: map[uint32]struct{}{}}
}

// Run polls ListEndpoints every cfg.Interval until ctx is cancelled,
// reconciling the pool and (re)detecting the local DC on every cycle. The
// first successful reconciliation closes the readiness channel.
func (d *Discoverer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Discoverer) tick(ctx context.Context) {
	endpoints, err := d.cfg.ListEndpoints(ctx, d.cfg.Database)
	if err != nil {
		d.cfg.Logger.Warn("discovery: ListEndpoints failed", "err", err)
		return
	}

	d.reconcile(endpoints)

	if dc := d.detectLocalDC(ctx, endpoints); dc != "" {
		d.pool.SetLocalDC(dc)
	}

	if !d.readyOnce {
		d.readyOnce = true
		close(d.ready)
	}
}

// Ready resolves once the first discovery reconciliation completes.
func (d *Discoverer) Ready() <-chan struct{} { return d.ready }

func (d *Discoverer) reconcile(endpoints []pool.Endpoint) {
	d.mu.Lock()
	previous := d.lastSeen
	seen := make(map[uint32]struct{}, len(endpoints))
	d.mu.Unlock()

	for _, ep := range endpoints {
		seen[ep.NodeID] = struct{}{}
		d.pool.Add(ep)
	}
	for existing := range previous {
		if _, ok := seen[existing]; !ok {
			d.pool.Remove(existing)
		}
	}

	d.mu.Lock()
	d.lastSeen = seen
	d.mu.Unlock()
}

// detectLocalDC groups endpoints by location, samples up to
// cfg.SamplesPerLoc per group, and races TCP connects; the location of the
// first successful connect wins (spec §4.3). With one location it is picked
// directly; if all dials fail, local-DC is left unset (empty string).
func (d *Discoverer) detectLocalDC(ctx context.Context, endpoints []pool.Endpoint) string {
	groups := groupByLocation(endpoints)
	if len(groups) == 0 {
		return ""
	}
	if len(groups) == 1 {
		for loc := range groups {
			return loc
		}
	}

	raceCtx, cancel := context.WithTimeout(ctx, d.cfg.RaceTimeout)
	defer cancel()

	type result struct {
		loc string
		err error
	}
	results := make(chan result, len(groups)*d.cfg.SamplesPerLoc)

	g, gctx := errgroup.WithContext(raceCtx)
	g.SetLimit(len(groups) * d.cfg.SamplesPerLoc)

	for loc, eps := range groups {
		loc := loc
		sample := eps
		if len(sample) > d.cfg.SamplesPerLoc {
			sample = sample[:d.cfg.SamplesPerLoc]
		}
		for _, ep := range sample {
			ep := ep
			g.Go(func() error {
				err := d.cfg.Dial(gctx, ep.Address+":"+strconv.FormatUint(uint64(ep.Port), 10), d.cfg.RaceTimeout)
				select {
				case results <- result{loc: loc, err: err}:
				case <-raceCtx.Done():
				}
				return nil
			})
		}
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	for r := range results {
		if r.err == nil {
			cancel()
			return r.loc
		}
	}
	return ""
}

func groupByLocation(endpoints []pool.Endpoint) map[string][]pool.Endpoint {
	groups := map[string][]pool.Endpoint{}
	for _, ep := range endpoints {
		groups[ep.Location] = append(groups[ep.Location], ep)
	}
	return groups
}
