package pool

import (
	"context"
	"time"
)

// adaptiveGrowThreshold is how many consecutive samples must show at least
// one waiter before the sizer grows the warm minimum.
const adaptiveGrowThreshold = 2

// adaptiveShrinkThreshold is how many consecutive samples must show the
// idle set at more than double the warm minimum before the sizer shrinks
// it back down.
const adaptiveShrinkThreshold = 4

// adaptiveLoop samples occupancy on cfg.AdaptiveInterval and nudges
// MinConnections up when waiters are queuing and down when idle
// connections sit unused, per spec.md §4.5's adaptive sizing. It never
// grows past MaxConnections or shrinks below the MinConnections the pool
// was configured with.
func (p *Pool) adaptiveLoop() {
	ticker := time.NewTicker(p.cfg.AdaptiveInterval)
	defer ticker.Stop()

	waitStreak, idleStreak := 0, 0
	for {
		select {
		case <-ticker.C:
			p.adaptiveSample(&waitStreak, &idleStreak)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) adaptiveSample(waitStreak, idleStreak *int) {
	p.mu.Lock()
	waiting := p.waiting
	idle := len(p.idle)
	minConns := p.cfg.MinConnections
	maxConns := p.cfg.MaxConnections
	p.mu.Unlock()

	if waiting > 0 {
		*waitStreak++
		*idleStreak = 0
	} else if idle > minConns*2 {
		*idleStreak++
		*waitStreak = 0
	} else {
		*waitStreak, *idleStreak = 0, 0
	}

	switch {
	case *waitStreak >= adaptiveGrowThreshold && minConns < maxConns:
		p.growMin()
		*waitStreak = 0
	case *idleStreak >= adaptiveShrinkThreshold && minConns > p.baseMinConnections:
		p.shrinkMin()
		*idleStreak = 0
	}
}

// growMin raises MinConnections by one and immediately dials a connection
// to realize the new floor, so the next burst of demand finds it idle
// instead of paying dial latency.
func (p *Pool) growMin() {
	p.mu.Lock()
	if p.closed || p.cfg.MinConnections >= p.cfg.MaxConnections || p.total >= p.cfg.MaxConnections {
		p.mu.Unlock()
		return
	}
	p.cfg.MinConnections++
	p.total++
	p.mu.Unlock()

	pc, err := p.dialOne(context.Background())
	if err != nil {
		p.mu.Lock()
		p.total--
		p.cfg.MinConnections--
		p.mu.Unlock()
		p.logger.Warn("adaptive grow: dial failed", "err", err)
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
	p.logger.Info("adaptive sizing grew minimum connections", "min_connections", p.cfg.MinConnections)
}

// shrinkMin lowers MinConnections by one. It closes nothing itself; the
// housekeeper's sweeps close idle connections above the new floor only once
// they pass IdleTimeout or MaxLifetime.
func (p *Pool) shrinkMin() {
	p.mu.Lock()
	if p.cfg.MinConnections <= p.baseMinConnections {
		p.mu.Unlock()
		return
	}
	p.cfg.MinConnections--
	min := p.cfg.MinConnections
	p.mu.Unlock()
	p.logger.Info("adaptive sizing shrank minimum connections", "min_connections", min)
}
