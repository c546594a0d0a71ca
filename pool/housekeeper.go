package pool

import (
	"context"
	"time"
)

// housekeeperInterval is how often the housekeeper sweeps idle connections,
// mirroring the teacher's 30-second reapLoop ticker.
const housekeeperInterval = 30 * time.Second

func (p *Pool) housekeeperLoop() {
	ticker := time.NewTicker(housekeeperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
			p.topUpMin()
		case <-p.stopCh:
			return
		}
	}
}

// reapIdle closes idle connections past IdleTimeout or MaxLifetime, always
// keeping at least MinConnections around — a direct generalization of the
// teacher's reapIdle, oldest-first, preserving the newest at the back of
// the slice.
func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) <= p.cfg.MinConnections {
		return
	}

	excess := len(p.idle) - p.cfg.MinConnections
	kept := make([]*pooledConn, 0, len(p.idle))
	for i, pc := range p.idle {
		if i < excess && (pc.isIdleExpired(p.cfg.IdleTimeout) || pc.isExpired(p.cfg.MaxLifetime)) {
			pc.close()
			p.total--
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept
}

// topUpMin dials new connections to close a deficit against MinConnections,
// per spec.md §4.5's housekeeper step "maintains min_connections by
// creating up to the deficit; failures are logged but non-fatal" — the
// same shape as warmUp, just re-run periodically instead of once at
// construction, to cover connections lost to reaping or a broken-connection
// removal dropping the pool below its floor.
func (p *Pool) topUpMin() {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		deficit := p.cfg.MinConnections - p.total
		if deficit <= 0 {
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
			p.logger.Warn("housekeeper top-up connection failed", "err", err)
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
		p.wakeRetry()
		p.mu.Unlock()
	}
}
