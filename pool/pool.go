// Package pool implements the lifecycle-managed connection pool from
// spec.md §4.5: Acquire/Release with idle reuse, bounded growth, FIFO
// waiters, a housekeeper that evicts stale idle connections and maintains a
// warm minimum, leak detection, and an optional adaptive sizer.
//
// It is a direct structural descendant of the teacher's
// internal/pool.TenantPool — same mutex-guarded idle slice plus active set,
// same dial-under-limit-else-wait shape — generalized from the teacher's
// dual Postgres/MySQL tenant pooling to a single-protocol pool of
// *mysqlclient.Connection, with the bare sync.Cond broadcast replaced by an
// explicit FIFO waiter queue (see waiter.go) so a released connection goes
// to the oldest waiter specifically, not to whichever goroutine the runtime
// wakes first.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dbbouncer/mysqlclient"
	"github.com/dbbouncer/mysqlclient/internal/telemetry"
)

// Stats is a point-in-time snapshot of a pool's occupancy, mirroring the
// teacher's pool.Stats shape, for the admin API's /pools endpoint.
type Stats struct {
	Name      string `json:"name"`
	Idle      int    `json:"idle"`
	Active    int    `json:"active"`
	Total     int    `json:"total"`
	Waiting   int    `json:"waiting"`
	MinConns  int    `json:"min_connections"`
	MaxConns  int    `json:"max_connections"`
	Exhausted int64  `json:"pool_exhausted_total"`
}

// OnExhausted is called, outside the pool's lock, whenever Acquire must
// queue a waiter because the pool is at MaxConnections.
type OnExhausted func(name string)

// Pool manages connections to a single database, per spec.md §4.5.
type Pool struct {
	mu   sync.Mutex
	name string
	cfg  mysqlclient.DialConfig

	idle    []*pooledConn
	active  map[*mysqlclient.Connection]*pooledConn
	total   int
	waiting int
	exhausted int64

	waiters waiterQueue

	closed bool
	stopCh chan struct{}

	baseMinConnections int // floor adaptive sizing never shrinks below

	logger      *slog.Logger
	telem       mysqlclient.TelemetryFacade
	onExhausted OnExhausted
}

// New creates a pool for the database described by cfg, applies pool-sizing
// defaults, starts its housekeeper (and adaptive sizer, if enabled), and
// pre-warms MinConnections connections in the background.
func New(name string, cfg mysqlclient.DialConfig) *Pool {
	cfg = cfg.WithPoolDefaults()
	p := &Pool{
		name:               name,
		cfg:                cfg,
		active:             make(map[*mysqlclient.Connection]*pooledConn),
		stopCh:             make(chan struct{}),
		baseMinConnections: cfg.MinConnections,
		logger:             cfg.Logger.With("pool", name),
		telem:              cfg.Telemetry,
	}
	if err := p.telem.RegisterPoolGauges(name, p.snapshot); err != nil {
		p.logger.Warn("registering pool telemetry gauges", "err", err)
	}

	go p.housekeeperLoop()
	if cfg.AdaptiveSizing {
		go p.adaptiveLoop()
	}
	if cfg.MinConnections > 0 {
		go p.warmUp()
	}
	return p
}

// SetOnExhausted installs a callback invoked whenever Acquire must queue a
// waiter. Must be called before the pool is used concurrently.
func (p *Pool) SetOnExhausted(cb OnExhausted) { p.onExhausted = cb }

func (p *Pool) warmUp() {
	for i := 0; i < p.cfg.MinConnections; i++ {
		p.mu.Lock()
		if p.closed || p.total >= p.cfg.MinConnections {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		pc, err := p.dialOne(context.Background())
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			p.logger.Warn("warm-up connection failed", "index", i+1, "target", p.cfg.MinConnections, "err", err)
			return
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			pc.close()
			return
		}
		pc.markIdle()
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
	}
}

func (p *Pool) dialOne(ctx context.Context) (*pooledConn, error) {
	start := time.Now()
	conn, err := mysqlclient.Dial(ctx, p.cfg)
	if err != nil {
		return nil, err
	}
	p.telem.RecordConnectionCreateTime(ctx, time.Since(start), p.name)
	return newPooledConn(conn), nil
}

// Acquire checks out a connection, reusing an idle one when available,
// dialing a new one while under MaxConnections, or queuing as a FIFO
// waiter otherwise. ctx and the pool's ConnectionTimeout both bound the
// wait; whichever deadline is earlier wins.
func (p *Pool) Acquire(ctx context.Context) (*mysqlclient.Connection, error) {
	start := time.Now()
	deadline := time.Now().Add(p.cfg.ConnectionTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for {
		pc, err := p.attemptAcquire(ctx, deadline)
		if err != nil {
			return nil, err
		}
		if pc == nil {
			continue // a waiter's connection was closed on release; retry
		}
		p.telem.RecordConnectionWaitTime(ctx, time.Since(start), p.name)
		return pc.conn, nil
	}
}

// attemptAcquire runs one pass of idle-reuse / dial-under-limit / wait.
// Returns (nil, nil) to signal the caller should loop and try again (used
// when a queued waiter is woken with a "slot opened up, nothing to hand
// you" signal rather than a connection).
func (p *Pool) attemptAcquire(ctx context.Context, deadline time.Time) (*pooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, mysqlclient.ErrPoolClosed
	}

	for len(p.idle) > 0 {
		pc := p.idle[0]
		p.idle = p.idle[1:]

		if pc.isExpired(p.cfg.MaxLifetime) {
			pc.close()
			p.total--
			continue
		}
		if !pc.validate(p.cfg.ValidationTimeout) {
			pc.close()
			p.total--
			continue
		}

		pc.markActive()
		p.active[pc.conn] = pc
		p.mu.Unlock()
		p.armLeak(pc)
		return pc, nil
	}

	if p.total < p.cfg.MaxConnections {
		p.total++
		p.mu.Unlock()

		pc, err := p.dialOne(ctx)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return nil, err
		}
		pc.markActive()
		p.mu.Lock()
		p.active[pc.conn] = pc
		p.mu.Unlock()
		p.armLeak(pc)
		return pc, nil
	}

	p.waiting++
	p.exhausted++
	cb := p.onExhausted
	p.mu.Unlock()
	if cb != nil {
		cb(p.name)
	}

	return p.wait(ctx, deadline)
}

// wait enqueues a FIFO waiter and blocks until it is handed a connection
// (possibly nil, meaning "retry"), the deadline passes, ctx is cancelled, or
// the pool is closed. Exactly one of these outcomes claims the waiter; the
// loser of that race still must consume the handoff the winner sends so a
// connection concurrently released to this waiter is never dropped. On
// timeout or cancellation such a connection is released back to the pool.
func (p *Pool) wait(ctx context.Context, deadline time.Time) (*pooledConn, error) {
	w := newWaiter()
	p.waiters.enqueue(w)

	var timerC <-chan time.Time
	if remaining := time.Until(deadline); remaining > 0 {
		t := time.NewTimer(remaining)
		defer t.Stop()
		timerC = t.C
	} else {
		immediate := make(chan time.Time, 1)
		immediate <- time.Now()
		timerC = immediate
	}

	select {
	case pc := <-w.ch:
		p.decWaiting()
		return pc, nil

	case <-timerC:
		if w.claim() {
			p.decWaiting()
			p.telem.RecordConnectionTimeout(ctx, p.name)
			return nil, mysqlclient.ErrAcquireTimeout
		}
		pc := <-w.ch // Release already committed to this handoff
		p.decWaiting()
		if pc != nil {
			p.Release(pc.conn)
		}
		p.telem.RecordConnectionTimeout(ctx, p.name)
		return nil, mysqlclient.ErrAcquireTimeout

	case <-ctx.Done():
		if w.claim() {
			p.decWaiting()
			return nil, ctx.Err()
		}
		pc := <-w.ch
		p.decWaiting()
		if pc != nil {
			p.Release(pc.conn)
		}
		return nil, ctx.Err()

	case <-p.stopCh:
		if w.claim() {
			p.decWaiting()
			return nil, mysqlclient.ErrPoolClosed
		}
		pc := <-w.ch
		p.decWaiting()
		return pc, nil
	}
}

func (p *Pool) decWaiting() {
	p.mu.Lock()
	p.waiting--
	p.mu.Unlock()
}

func (p *Pool) armLeak(pc *pooledConn) {
	pc.armLeakTimer(p.cfg.LeakDetectionThreshold, func() {
		p.logger.Warn("possible connection leak: checked out past leak_detection_threshold",
			"conn_id", pc.conn.ID, "threshold", p.cfg.LeakDetectionThreshold)
	})
}

// InjectTestConn adds conn directly to the idle list, bypassing dial and
// authentication. Only intended for tests.
func (p *Pool) InjectTestConn(conn *mysqlclient.Connection) {
	pc := newPooledConn(conn)
	p.mu.Lock()
	defer p.mu.Unlock()
	pc.markIdle()
	p.idle = append(p.idle, pc)
	p.total++
}

// Release returns conn to the pool. Callers must not use conn again after
// calling Release. Releasing a connection not checked out from this pool
// (or already released) is a no-op.
func (p *Pool) Release(conn *mysqlclient.Connection) {
	p.mu.Lock()
	pc, ok := p.active[conn]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.active, conn)
	p.mu.Unlock()
	pc.disarmLeakTimer()
	p.telem.RecordConnectionUseTime(context.Background(), pc.activeDuration(), p.name)

	p.mu.Lock()
	if p.closed || pc.isExpired(p.cfg.MaxLifetime) || conn.Broken() {
		pc.close()
		p.total--
		p.wakeRetry()
		p.mu.Unlock()
		return
	}

	pc.markIdle()
	if w := p.waiters.dequeueLive(); w != nil {
		pc.markActive()
		p.active[conn] = pc
		p.mu.Unlock()
		p.armLeak(pc)
		w.ch <- pc
		return
	}

	p.idle = append(p.idle, pc)
	p.mu.Unlock()
}

// wakeRetry hands the oldest live waiter a nil connection, meaning "a slot
// just opened up — go try the idle/dial path again yourself". Callers must
// hold p.mu.
func (p *Pool) wakeRetry() {
	if w := p.waiters.dequeueLive(); w != nil {
		w.ch <- nil
	}
}

// Stats returns a point-in-time snapshot of the pool's occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name:      p.name,
		Idle:      len(p.idle),
		Active:    len(p.active),
		Total:     p.total,
		Waiting:   p.waiting,
		MinConns:  p.cfg.MinConnections,
		MaxConns:  p.cfg.MaxConnections,
		Exhausted: p.exhausted,
	}
}

// Closed reports whether Close has been called on this pool.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) snapshot() telemetry.PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return telemetry.PoolSnapshot{
		IdleCount:           int64(len(p.idle)),
		UsedCount:           int64(len(p.active)),
		PendingRequestCount: int64(p.waiting),
		IdleMin:             int64(p.cfg.MinConnections),
		IdleMax:             int64(p.cfg.MaxConnections),
		Max:                 int64(p.cfg.MaxConnections),
	}
}

// Close shuts the pool down: no further Acquire succeeds, all idle
// connections are closed immediately, and active connections are given up
// to 30 seconds to be released before being force-closed. Safe to call more
// than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	p.mu.Unlock()
	return p.drain()
}

func (p *Pool) drain() error {
	p.mu.Lock()
	for _, pc := range p.idle {
		pc.close()
		p.total--
	}
	p.idle = p.idle[:0]
	activeCount := len(p.active)
	p.mu.Unlock()

	if activeCount == 0 {
		return nil
	}

	p.logger.Info("draining active connections", "count", activeCount)
	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if len(p.active) == 0 {
				p.mu.Unlock()
				return nil
			}
			p.mu.Unlock()
		case <-timeout:
			p.mu.Lock()
			for _, pc := range p.active {
				pc.close()
				p.total--
			}
			p.active = make(map[*mysqlclient.Connection]*pooledConn)
			p.mu.Unlock()
			p.logger.Warn("force-closed active connections after drain timeout")
			return nil
		}
	}
}

// Manager owns one Pool per named database, analogous to the teacher's
// pool.Manager but keyed by database name instead of tenant id (this spec
// has no multi-tenant routing concept, per spec.md's Non-goals).
type Manager struct {
	mu          sync.RWMutex
	pools       map[string]*Pool
	onExhausted OnExhausted
	closeOnce   sync.Once
}

// NewManager creates an empty pool manager.
func NewManager() *Manager {
	return &Manager{pools: make(map[string]*Pool)}
}

// SetOnExhausted installs the exhaustion callback new pools are created
// with. Must be called before GetOrCreate.
func (m *Manager) SetOnExhausted(cb OnExhausted) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExhausted = cb
}

// GetOrCreate returns the pool for name, creating it lazily from cfg.
func (m *Manager) GetOrCreate(name string, cfg mysqlclient.DialConfig) *Pool {
	m.mu.RLock()
	if p, ok := m.pools[name]; ok {
		m.mu.RUnlock()
		return p
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[name]; ok {
		return p
	}
	p := New(name, cfg)
	p.SetOnExhausted(m.onExhausted)
	m.pools[name] = p
	return p
}

// Get returns the pool for name, if it exists.
func (m *Manager) Get(name string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	return p, ok
}

// Remove closes and removes the pool for name.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	p, ok := m.pools[name]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pools, name)
	m.mu.Unlock()
	return p.Close() == nil
}

// AllStats returns stats for every managed pool.
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		stats = append(stats, p.Stats())
	}
	return stats
}

// Close shuts down every managed pool. Safe to call more than once.
func (m *Manager) Close() error {
	var firstErr error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		pools := m.pools
		m.pools = make(map[string]*Pool)
		m.mu.Unlock()
		for name, p := range pools {
			if err := p.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing pool %s: %w", name, err)
			}
		}
	})
	return firstErr
}
