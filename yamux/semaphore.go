package yamux

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// acceptGate is the bounded async gate spec §4.2 describes: acquire()
// suspends until a permit is free, release() wakes the oldest waiter if
// any and otherwise hands the permit back to the pool. golang.org/x/sync's
// Weighted semaphore already implements exactly this FIFO-or-increment
// contract when used with a constant weight of 1 per permit, so there is
// no hand-rolled channel bookkeeping here.
type acceptGate struct {
	sem *semaphore.Weighted
}

func newAcceptGate(permits int) *acceptGate {
	return &acceptGate{sem: semaphore.NewWeighted(int64(permits))}
}

func (g *acceptGate) acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// tryAcquire is the non-blocking admission check the Session's read loop
// uses when a SYN arrives: it must never stall frame dispatch waiting for
// a permit.
func (g *acceptGate) tryAcquire() bool {
	return g.sem.TryAcquire(1)
}

func (g *acceptGate) release() {
	g.sem.Release(1)
}
