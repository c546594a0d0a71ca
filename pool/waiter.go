package pool

import "sync"

// waiter is a single FIFO slot in the acquire queue, handed a *pooledConn
// (or nil, meaning "retry: a slot just opened up") by whichever of Release
// or the waiter's own timeout/cancellation path claims it first. A bare
// sync.Cond can only broadcast-wake every waiter, which cannot express "hand
// this exact connection to the oldest waiter and nobody else" — hence the
// explicit queue, per spec.md §4.5/§5.
type waiter struct {
	claimed bool
	mu      sync.Mutex
	ch      chan *pooledConn
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan *pooledConn, 1)}
}

// claim takes ownership of this waiter exactly once. The loser of a race
// between Release and a give-up path (ctx cancellation, acquire timeout,
// pool close) must not act: it returns false and instead blocks on ch for
// the handoff the winner commits to sending.
func (w *waiter) claim() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.claimed {
		return false
	}
	w.claimed = true
	return true
}

// waiterQueue is the pool's FIFO of goroutines blocked in Acquire.
type waiterQueue struct {
	mu sync.Mutex
	q  []*waiter
}

func (wq *waiterQueue) enqueue(w *waiter) {
	wq.mu.Lock()
	wq.q = append(wq.q, w)
	wq.mu.Unlock()
}

// dequeueLive pops waiters off the front of the queue until it finds one it
// can claim, skipping any that already gave up on their own, or returns nil
// once the queue is empty.
func (wq *waiterQueue) dequeueLive() *waiter {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	for len(wq.q) > 0 {
		w := wq.q[0]
		wq.q = wq.q[1:]
		if w.claim() {
			return w
		}
	}
	return nil
}

func (wq *waiterQueue) len() int {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return len(wq.q)
}
