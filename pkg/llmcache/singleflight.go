package llmcache

import (
	"context"
	"sync"
)

// flight is one in-progress compute shared by a leader and any waiters.
type flight struct {
	done chan struct{}

	value     string
	cacheable bool
	err       error

	// refs counts participants (leader + waiters). When the last
	// participant departs, cancel releases the leader's compute context.
	// Guarded by flightGroup.mu.
	refs   int
	cancel context.CancelFunc
}

// flightGroup is a per-key single-flight registry. The first caller for an
// absent key becomes the leader and runs the computation; concurrent callers
// for the same key park on the leader's result instead of recomputing.
//
// golang.org/x/sync/singleflight is not used: the gateway needs per-waiter
// COALESCED diagnostics, a compute context that is cancelled only once every
// participant has cancelled, and failure entries removed under the same lock
// that elects leaders.
type flightGroup struct {
	mu      sync.Mutex
	flights map[string]*flight
}

func newFlightGroup() *flightGroup {
	return &flightGroup{flights: make(map[string]*flight)}
}

// do runs compute under single-flight for key. The returned bool reports
// whether this caller waited on another caller's computation.
func (g *flightGroup) do(ctx context.Context, key string, compute func(ctx context.Context) (string, bool, error)) (value string, cacheable bool, waited bool, err error) {
	g.mu.Lock()
	if f, ok := g.flights[key]; ok {
		f.refs++
		g.mu.Unlock()
		return g.wait(ctx, key, f)
	}

	computeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{
		done:   make(chan struct{}),
		refs:   1,
		cancel: cancel,
	}
	g.flights[key] = f
	g.mu.Unlock()

	// The leader departs either when its own caller cancels mid-compute or
	// when compute returns, whichever comes first. Cancellation of the
	// compute context therefore happens only once every participant,
	// leader included, has cancelled or finished.
	var leaveOnce sync.Once
	leave := func() { leaveOnce.Do(func() { g.leave(f) }) }
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			leave()
		case <-watchDone:
		}
	}()

	f.value, f.cacheable, f.err = compute(computeCtx)
	close(watchDone)

	g.mu.Lock()
	// Remove the entry in every case: on success the caches now hold the
	// value, on failure the next request must re-elect a leader.
	delete(g.flights, key)
	g.mu.Unlock()
	close(f.done)

	leave()

	// The leader's own cancellation wins over the compute result if the
	// caller is already gone.
	if ctx.Err() != nil {
		return "", false, false, ctx.Err()
	}
	return f.value, f.cacheable, false, f.err
}

// wait parks a coalesced caller on f until the leader finishes or the
// caller's own context is cancelled.
func (g *flightGroup) wait(ctx context.Context, key string, f *flight) (string, bool, bool, error) {
	select {
	case <-f.done:
		g.leave(f)
		return f.value, f.cacheable, true, f.err
	case <-ctx.Done():
		g.leave(f)
		return "", false, true, ctx.Err()
	}
}

// leave decrements f's participant count; the last one out cancels the
// leader's compute context. For a finished flight this is a no-op cancel.
func (g *flightGroup) leave(f *flight) {
	g.mu.Lock()
	f.refs--
	last := f.refs == 0
	g.mu.Unlock()
	if last {
		f.cancel()
	}
}

// inFlight reports the number of keys with an active computation.
func (g *flightGroup) inFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.flights)
}

// participants returns the participant count for key's flight, or 0 when no
// flight is active. Used by tests to poll instead of sleeping.
func (g *flightGroup) participants(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.flights[key]; ok {
		return f.refs
	}
	return 0
}
