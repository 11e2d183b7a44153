package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"github.com/ydb-platform/ydb-go-topic/internal/errs"
)

// AcquireOptions controls candidate filtering, honored in precedence order:
// PreferNodeID, then PreferredLocations, then PreferLocalDC (spec §4.2).
type AcquireOptions struct {
	PreferNodeID       uint32
	PreferredLocations []string
	PreferLocalDC      bool
	AllowFallback      bool
}

// Pool holds nodeId -> *Connection and serves acquire() with precedence
// filtering + stable round robin, mirroring the candidate-narrowing idiom of
// the teacher's infra/transport/subset.Subset, generalized from
// consistent-hash selection to spec §4.2's required stable rotation.
//
// order tracks insertion order of node IDs alongside conns: map iteration is
// unspecified in Go and must never back the round-robin candidate list, so
// Acquire() builds its slice from order instead of ranging over conns.
type Pool struct {
	mu    sync.RWMutex
	conns map[uint32]*Connection
	order []uint32

	localDC atomic.Value // string

	counter  uint64
	dialOpts []grpc.DialOption
}

func New(dialOpts ...grpc.DialOption) *Pool {
	p := &Pool{conns: map[uint32]*Connection{}, dialOpts: dialOpts}
	p.localDC.Store("")
	return p
}

// Add inserts or replaces the connection for ep.NodeID. Idempotent; a
// replace keeps the node's existing position in order.
func (p *Pool) Add(ep Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.conns[ep.NodeID]; !ok {
		p.order = append(p.order, ep.NodeID)
	}
	p.conns[ep.NodeID] = newConnection(ep, p.dialOpts)
}

// Remove closes and evicts the connection for nodeID. Idempotent.
func (p *Pool) Remove(nodeID uint32) {
	p.mu.Lock()
	conn, ok := p.conns[nodeID]
	delete(p.conns, nodeID)
	if ok {
		for i, id := range p.order {
			if id == nodeID {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// SetLocalDC configures the advisory local-DC preference used by
// PreferLocalDC acquires.
func (p *Pool) SetLocalDC(location string) {
	p.localDC.Store(location)
}

// LocalDC returns the currently configured local-DC, if any.
func (p *Pool) LocalDC() string {
	return p.localDC.Load().(string)
}

// Acquire selects a connection honoring opts' precedence, falling back to
// unfiltered round robin when the filtered candidate set is empty and
// AllowFallback is true.
func (p *Pool) Acquire(opts AcquireOptions) (*Connection, error) {
	p.mu.RLock()
	all := make([]*Connection, 0, len(p.order))
	for _, id := range p.order {
		all = append(all, p.conns[id])
	}
	p.mu.RUnlock()

	if len(all) == 0 {
		return nil, errs.NoMatchingConnection()
	}

	candidates := p.filterCandidates(all, opts)
	if len(candidates) == 0 {
		if !opts.AllowFallback {
			return nil, errs.NoMatchingConnection()
		}
		candidates = excludePessimized(all)
		if len(candidates) == 0 {
			candidates = all
		}
	}

	idx := atomic.AddUint64(&p.counter, 1) - 1
	return candidates[idx%uint64(len(candidates))], nil
}

// filterCandidates narrows all to the set matching opts, in precedence
// order: PreferNodeID > PreferredLocations > PreferLocalDC. Pessimized
// connections are excluded unless doing so would empty the set.
func (p *Pool) filterCandidates(all []*Connection, opts AcquireOptions) []*Connection {
	if opts.PreferNodeID != 0 {
		for _, c := range all {
			if c.Endpoint().NodeID == opts.PreferNodeID {
				return []*Connection{c}
			}
		}
		return nil
	}

	var base []*Connection
	switch {
	case len(opts.PreferredLocations) > 0:
		base = filterByLocations(all, opts.PreferredLocations)
	case opts.PreferLocalDC:
		if dc := p.LocalDC(); dc != "" {
			base = filterByLocations(all, []string{dc})
		}
	}
	if base == nil {
		base = all
	}

	filtered := excludePessimized(base)
	if len(filtered) == 0 {
		return base
	}
	return filtered
}

func filterByLocations(all []*Connection, locations []string) []*Connection {
	set := make(map[string]struct{}, len(locations))
	for _, l := range locations {
		set[l] = struct{}{}
	}
	out := make([]*Connection, 0, len(all))
	for _, c := range all {
		if _, ok := set[c.Endpoint().Location]; ok {
			out = append(out, c)
		}
	}
	return out
}

func excludePessimized(all []*Connection) []*Connection {
	out := make([]*Connection, 0, len(all))
	for _, c := range all {
		if !c.Pessimized() {
			out = append(out, c)
		}
	}
	return out
}

// Pessimize marks nodeID's connection unavailable for d; a no-op if the
// node is not currently in the pool.
func (p *Pool) Pessimize(nodeID uint32, d time.Duration) {
	p.mu.RLock()
	c, ok := p.conns[nodeID]
	p.mu.RUnlock()
	if ok {
		c.Pessimize(d)
	}
}

// Close closes all connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = map[uint32]*Connection{}
	p.order = nil
	p.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len reports the number of connections currently tracked.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}
