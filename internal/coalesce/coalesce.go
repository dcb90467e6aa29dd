// Package coalesce deduplicates concurrent identical in-flight requests:
// only one computation runs per unique key; every other caller waiting on
// that key shares its result.
package coalesce

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/towns-protocol/rpc-gateway/internal/types"
)

// housekeepingTimeout bounds an in-flight entry's lifetime: a new caller
// arriving after this window starts a fresh attempt rather than attaching
// to a potentially-dead future, so a stuck upstream can never hold a slot
// indefinitely.
const housekeepingTimeout = 500 * time.Millisecond

// Coalescer wraps a singleflight.Group, which already gives the
// shared-future/multi-waiter/single-execution semantics, with two things
// singleflight alone doesn't provide: a bounded in-flight entry lifetime
// (via a detached housekeeping goroutine that forgets the key after
// housekeepingTimeout) and leader/follower distinction, so followers can be
// relabeled with source=coalesced while the leader keeps its true source.
type Coalescer struct {
	group singleflight.Group

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New() *Coalescer {
	return &Coalescer{inFlight: make(map[string]struct{})}
}

// CoalesceOrCompute runs makeFuture for key if no computation for key is
// currently in flight, or waits for and shares the result of whichever
// computation is already running. The returned bool reports whether this
// caller was a follower (coalesced onto someone else's in-flight call).
func (c *Coalescer) CoalesceOrCompute(key string, makeFuture func() types.ChainHandlerResponse) (types.ChainHandlerResponse, bool) {
	c.mu.Lock()

	_, alreadyInFlight := c.inFlight[key]
	if !alreadyInFlight {
		c.inFlight[key] = struct{}{}
	}

	// ran is written only by this caller's own computation, which happens
	// before its result is delivered on resultCh.
	var ran bool

	resultCh := c.group.DoChan(key, func() (interface{}, error) {
		ran = true
		return makeFuture(), nil
	})

	c.mu.Unlock()

	done := make(chan struct{})
	go c.forgetAfter(key, done)

	result := <-resultCh
	close(done)

	response, _ := result.Val.(types.ChainHandlerResponse)
	if !ran {
		response.Source = types.SourceCoalesced
	}

	return response, !ran
}

// forgetAfter removes key from the in-flight bookkeeping once the caller
// that owns done has received its result, or after housekeepingTimeout,
// whichever comes first. It never reads resultCh itself: that channel
// carries the single broadcast value every waiter's goroutine also reads,
// so a second reader here would race them for it.
func (c *Coalescer) forgetAfter(key string, done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(housekeepingTimeout):
	}

	c.group.Forget(key)

	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
}
