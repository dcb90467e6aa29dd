package upstream

import (
	"fmt"
	"time"

	"github.com/towns-protocol/rpc-gateway/internal/config"
)

// LoadBalancer consumes a HealthTracker's healthy snapshot and picks one
// upstream per request according to a pluggable strategy.
type LoadBalancer interface {
	Select() *Upstream
	HealthTracker() *HealthTracker
}

// PrimaryOnlyLoadBalancer always routes to the single upstream with the
// greatest configured weight (ties broken by list order). Per spec, its
// HealthTracker is constructed tracking ONLY that upstream: if the primary
// is unhealthy, Select returns None even when other configured upstreams
// would have passed their own probe.
type PrimaryOnlyLoadBalancer struct {
	tracker *HealthTracker
}

func NewPrimaryOnlyLoadBalancer(all []*Upstream, healthCheckInterval time.Duration) *PrimaryOnlyLoadBalancer {
	return NewPrimaryOnlyLoadBalancerWithHealthChecks(all, healthCheckInterval, true)
}

// NewPrimaryOnlyLoadBalancerWithHealthChecks is NewPrimaryOnlyLoadBalancer
// with explicit control over whether the primary's HealthTracker actually
// probes, so upstream_health_checks.enabled: false can be honored.
func NewPrimaryOnlyLoadBalancerWithHealthChecks(all []*Upstream, healthCheckInterval time.Duration, healthChecksEnabled bool) *PrimaryOnlyLoadBalancer {
	primary := maxByWeight(all)

	return &PrimaryOnlyLoadBalancer{
		tracker: NewHealthTracker([]*Upstream{primary}, healthCheckInterval, healthChecksEnabled),
	}
}

func (b *PrimaryOnlyLoadBalancer) Select() *Upstream {
	healthy := b.tracker.Healthy()
	if len(healthy) == 0 {
		return nil
	}

	return healthy[0]
}

func (b *PrimaryOnlyLoadBalancer) HealthTracker() *HealthTracker {
	return b.tracker
}

func maxByWeight(all []*Upstream) *Upstream {
	best := all[0]

	for _, u := range all[1:] {
		if u.Weight() > best.Weight() {
			best = u
		}
	}

	return best
}

// ErrStrategyUnimplemented is returned for configured strategies that are
// reserved but have no implementation yet. Callers must surface this
// explicitly rather than silently falling back to a different strategy.
var ErrStrategyUnimplemented = fmt.Errorf("load balancing strategy not implemented")

func NewLoadBalancer(strategy string, all []*Upstream, healthCheckInterval time.Duration, healthChecksEnabled bool) (LoadBalancer, error) {
	switch strategy {
	case config.StrategyPrimaryOnly:
		return NewPrimaryOnlyLoadBalancerWithHealthChecks(all, healthCheckInterval, healthChecksEnabled), nil
	case config.StrategyRoundRobin, config.StrategyWeightedOrder:
		return nil, fmt.Errorf("%w: %s", ErrStrategyUnimplemented, strategy)
	default:
		return nil, fmt.Errorf("unknown load balancing strategy: %s", strategy)
	}
}
