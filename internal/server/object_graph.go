package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/towns-protocol/rpc-gateway/internal/app/gateway"
	"github.com/towns-protocol/rpc-gateway/internal/cache"
	"github.com/towns-protocol/rpc-gateway/internal/canned"
	"github.com/towns-protocol/rpc-gateway/internal/chainhandler"
	"github.com/towns-protocol/rpc-gateway/internal/coalesce"
	"github.com/towns-protocol/rpc-gateway/internal/config"
	"github.com/towns-protocol/rpc-gateway/internal/metrics"
	"github.com/towns-protocol/rpc-gateway/internal/requestpool"
	"github.com/towns-protocol/rpc-gateway/internal/ttl"
	"github.com/towns-protocol/rpc-gateway/internal/upstream"
)

// sharedHTTPClient is used by every upstream: *http.Client already
// satisfies client.HTTPClient, and each Upstream enforces its own timeout
// per call via context, so one pooled client can safely serve all of them.
var sharedHTTPClient = &http.Client{}

// ObjectGraph is every long-lived component the process needs to run and
// shut down: the RPC listener, the metrics listener, and the Gateway whose
// health loops run for the process lifetime.
type ObjectGraph struct {
	RPCServer     *RPCServer
	MetricsServer *metrics.Server
	Gateway       *gateway.Gateway
}

// WireDependenciesForAllChains builds one Chain Handler per configured
// chain -- its own cache handle, TTL manager, canned responder, coalescer,
// and request pool over its own load-balanced upstream set -- then wires
// them all into a single Gateway and the HTTP servers that front it.
func WireDependenciesForAllChains(cfg *config.Config) (ObjectGraph, error) {
	handlers := make(map[uint64]*chainhandler.Handler, len(cfg.Chains))
	healthTrackers := make(map[uint64]*upstream.HealthTracker, len(cfg.Chains))

	for chainID, chainCfg := range cfg.Chains {
		handler, tracker, err := wireChain(cfg, chainID, chainCfg)
		if err != nil {
			return ObjectGraph{}, fmt.Errorf("wiring chain %d: %w", chainID, err)
		}

		handlers[chainID] = handler
		healthTrackers[chainID] = tracker
	}

	gw := gateway.New(handlers, healthTrackers, cfg.Projects)

	return ObjectGraph{
		RPCServer:     NewRPCServer(cfg.Server, cfg.CORS, gw),
		MetricsServer: metrics.NewServer(cfg.Metrics.Host, cfg.Metrics.Port),
		Gateway:       gw,
	}, nil
}

func wireChain(cfg *config.Config, chainID uint64, chainCfg config.ChainConfig) (*chainhandler.Handler, *upstream.HealthTracker, error) {
	upstreams := make([]*upstream.Upstream, 0, len(chainCfg.Upstreams))

	for i, u := range chainCfg.Upstreams {
		id := fmt.Sprintf("%d-%d", chainID, i)
		upstreams = append(upstreams, upstream.New(id, u.URL, chainID, u.Weight, u.Timeout(), sharedHTTPClient))
	}

	lb, err := upstream.NewLoadBalancer(cfg.LoadBalancing.Strategy, upstreams, cfg.UpstreamHealthChecks.Interval(), cfg.UpstreamHealthChecks.IsEnabled())
	if err != nil {
		return nil, nil, err
	}

	chainName := fmt.Sprintf("chain-%d", chainID)

	rpcCache, err := cache.New(cfg.Cache, chainID)
	if err != nil {
		return nil, nil, fmt.Errorf("constructing cache: %w", err)
	}

	var ttlMgr *ttl.Manager
	if chainCfg.HasBlockTime() {
		ttlMgr = ttl.NewManager(chainCfg.BlockTime())
	} else {
		ttlMgr = ttl.NewManager(0)
		rpcCache = cache.Disabled{}
	}

	cannedResponder := canned.New(cfg.CannedResponses, chainID)
	pool := requestpool.New(lb, cfg.ErrorHandling)
	metricsContainer := metrics.NewContainer(chainName)

	handler := chainhandler.New(chainName, rpcCache, ttlMgr, cannedResponder, coalesce.New(), pool, cfg.RequestCoalescing, metricsContainer)

	zap.L().Info("Wired chain.", zap.Uint64("chainID", chainID), zap.Int("upstreamCount", len(upstreams)))

	return handler, lb.HealthTracker(), nil
}
