package pool

import (
	"sync"
	"time"

	"github.com/dbbouncer/mysqlclient"
)

type connState int

const (
	connIdle connState = iota
	connActive
	connClosed
)

// pooledConn wraps a mysqlclient.Connection with the lifecycle bookkeeping
// spec.md §3's PooledConnection names: state, timestamps, use count, and a
// leak-detector timer armed on acquire and disarmed on release.
type pooledConn struct {
	mu              sync.Mutex
	conn            *mysqlclient.Connection
	state           connState
	createdAt       time.Time
	lastUsed        time.Time
	lastValidatedAt time.Time
	activeSince     time.Time
	useCount        uint64
	leakTimer       *time.Timer
}

func newPooledConn(conn *mysqlclient.Connection) *pooledConn {
	now := time.Now()
	return &pooledConn{conn: conn, state: connIdle, createdAt: now, lastUsed: now, lastValidatedAt: now}
}

func (pc *pooledConn) markActive() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = connActive
	pc.lastUsed = time.Now()
	pc.activeSince = pc.lastUsed
	pc.useCount++
}

func (pc *pooledConn) markIdle() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = connIdle
	pc.lastUsed = time.Now()
}

func (pc *pooledConn) isExpired(maxLifetime time.Duration) bool {
	if maxLifetime <= 0 {
		return false
	}
	return time.Since(pc.createdAt) > maxLifetime
}

func (pc *pooledConn) isIdleExpired(idleTimeout time.Duration) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if idleTimeout <= 0 {
		return false
	}
	return pc.state == connIdle && time.Since(pc.lastUsed) > idleTimeout
}

// validate pings the connection before handing it out again, per spec.md
// §4.5 step 2's "cheap liveness check plus optional ping". A connection
// already marked broken by a prior protocol error is rejected without a
// round trip. The ping itself only runs when validationTimeout > 0 and the
// connection hasn't been validated within that window; otherwise the cheap
// Broken() check is all that gates reuse.
func (pc *pooledConn) validate(validationTimeout time.Duration) bool {
	if pc.conn.Broken() {
		return false
	}
	pc.mu.Lock()
	needsPing := validationTimeout > 0 && time.Since(pc.lastValidatedAt) > validationTimeout
	pc.mu.Unlock()
	if !needsPing {
		return true
	}
	if err := pc.conn.Ping(); err != nil {
		return false
	}
	pc.mu.Lock()
	pc.lastValidatedAt = time.Now()
	pc.mu.Unlock()
	return true
}

func (pc *pooledConn) activeDuration() time.Duration {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return time.Since(pc.activeSince)
}

func (pc *pooledConn) close() error {
	pc.mu.Lock()
	pc.state = connClosed
	pc.mu.Unlock()
	return pc.conn.Close()
}

// armLeakTimer schedules fn to run after d if the connection has not been
// released by then. fn is expected to log a warning, not reclaim the
// connection: a leaked connection might still be in active use by code that
// simply forgot to call Release, and forcibly closing it out from under
// that caller would be worse than a noisy log line.
func (pc *pooledConn) armLeakTimer(d time.Duration, fn func()) {
	if d <= 0 {
		return
	}
	pc.mu.Lock()
	pc.leakTimer = time.AfterFunc(d, fn)
	pc.mu.Unlock()
}

func (pc *pooledConn) disarmLeakTimer() {
	pc.mu.Lock()
	if pc.leakTimer != nil {
		pc.leakTimer.Stop()
		pc.leakTimer = nil
	}
	pc.mu.Unlock()
}
