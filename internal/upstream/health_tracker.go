package upstream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// HealthTracker holds the full configured upstream list for one chain and
// an atomically swappable snapshot of the currently-healthy subset. Readers
// of Healthy() always observe a consistent past snapshot; the snapshot
// starts out empty (never nil) so readers never see an uninitialized state.
type HealthTracker struct {
	healthy  atomic.Pointer[[]*Upstream]
	all      []*Upstream
	interval time.Duration
	enabled  bool
}

// NewHealthTracker builds a tracker over all. When enabled is false (the
// operator set upstream_health_checks.enabled: false), every configured
// upstream is treated as healthy unconditionally and RunOnce/Loop never
// probe anything -- the flag disables the probing mechanism entirely
// rather than just changing its cadence.
func NewHealthTracker(all []*Upstream, interval time.Duration, enabled bool) *HealthTracker {
	t := &HealthTracker{all: all, interval: interval, enabled: enabled}

	if enabled {
		empty := make([]*Upstream, 0)
		t.healthy.Store(&empty)
	} else {
		unconditional := make([]*Upstream, len(all))
		copy(unconditional, all)
		t.healthy.Store(&unconditional)
	}

	return t
}

// RunOnce probes every tracked upstream in parallel and atomically replaces
// the healthy snapshot with the subset that passed. It is a no-op when
// health checks are disabled for this chain.
func (t *HealthTracker) RunOnce(ctx context.Context) {
	if !t.enabled {
		return
	}

	passed := make([]bool, len(t.all))

	var wg sync.WaitGroup

	for i, u := range t.all {
		wg.Add(1)

		go func(i int, u *Upstream) {
			defer wg.Done()

			passed[i] = u.ReadinessProbe(ctx)
		}(i, u)
	}

	wg.Wait()

	healthy := make([]*Upstream, 0, len(t.all))

	for i, u := range t.all {
		if passed[i] {
			healthy = append(healthy, u)
		} else {
			zap.L().Warn("Upstream failed readiness probe.", zap.String("upstreamID", u.ID()), zap.Uint64("chainID", u.ChainID()))
		}
	}

	t.healthy.Store(&healthy)
}

// Loop repeatedly sleeps for the configured interval and calls RunOnce,
// until ctx is cancelled. It returns immediately when health checks are
// disabled for this chain.
func (t *HealthTracker) Loop(ctx context.Context) {
	if !t.enabled {
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}

// Healthy is a lock-free read of the current healthy subset.
func (t *HealthTracker) Healthy() []*Upstream {
	return *t.healthy.Load()
}
