// Package gateway owns the per-chain Chain Handler registry and the
// project registry: it authenticates a caller's project key, resolves the
// chain a request addresses, and fans a batch out to its individual calls.
package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/towns-protocol/rpc-gateway/internal/chainhandler"
	"github.com/towns-protocol/rpc-gateway/internal/config"
	"github.com/towns-protocol/rpc-gateway/internal/jsonrpc"
	"github.com/towns-protocol/rpc-gateway/internal/upstream"
)

const (
	msgChainNotSupported = "Chain not supported"
	msgUnauthorized      = "Unauthorized"
)

// chain bundles one chain's handler with the health tracker that backs its
// load balancer, so the gateway can run the startup health pass and spawn
// the chain's health loop without reaching back into construction code.
type chain struct {
	handler       *chainhandler.Handler
	healthTracker *upstream.HealthTracker
}

// Request is a gateway request as the external listener assembles it: the
// caller-addressed chain, the project name from the URL's path suffix (the
// default project when absent), the key the caller supplied (if any), and
// the preserved JSON-RPC call or batch.
type Request struct {
	ChainID     uint64
	ProjectName string
	CallerKey   *string
	Preserved   *jsonrpc.PreservedRequest
}

// Gateway is the top-level entry point for one configured deployment: every
// chain it knows about, and every project allowed to call it.
type Gateway struct {
	chains   map[uint64]chain
	projects map[string]config.ProjectConfig
}

// New builds a Gateway from its fully-wired per-chain handlers. It does not
// start anything; call Start to run the initial health pass and launch the
// per-chain health loops.
func New(handlers map[uint64]*chainhandler.Handler, healthTrackers map[uint64]*upstream.HealthTracker, projects []config.ProjectConfig) *Gateway {
	chains := make(map[uint64]chain, len(handlers))
	for id, h := range handlers {
		chains[id] = chain{handler: h, healthTracker: healthTrackers[id]}
	}

	projectsByName := make(map[string]config.ProjectConfig, len(projects))
	for _, p := range projects {
		projectsByName[p.Name] = p
	}

	return &Gateway{chains: chains, projects: projectsByName}
}

// ProjectByName resolves a project record by name, used by the external
// listener to build a Request's resolved project from the URL's project
// path suffix before calling Handle.
func (g *Gateway) ProjectByName(name string) (config.ProjectConfig, bool) {
	p, ok := g.projects[name]
	return p, ok
}

// Start runs one synchronous health pass across every chain, then spawns
// one health loop per chain that runs until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) {
	var wg sync.WaitGroup

	for _, c := range g.chains {
		if c.healthTracker == nil {
			continue
		}

		wg.Add(1)

		go func(t *upstream.HealthTracker) {
			defer wg.Done()
			t.RunOnce(ctx)
		}(c.healthTracker)
	}

	wg.Wait()

	for _, c := range g.chains {
		if c.healthTracker == nil {
			continue
		}

		go c.healthTracker.Loop(ctx)
	}
}

// Handle authenticates and dispatches one gateway request. It returns nil
// when the request produces no response (a lone notification, or a batch
// that is empty once notifications are filtered out).
func (g *Gateway) Handle(ctx context.Context, req Request) jsonrpc.ResponseBody {
	c, ok := g.chains[req.ChainID]
	if !ok {
		zap.L().Debug("Rejecting request for unconfigured chain.", zap.Uint64("chainID", req.ChainID))
		return errorResponseForPreserved(req.Preserved, msgChainNotSupported)
	}

	project, ok := g.projects[req.ProjectName]
	if !ok {
		// An unrecognized project name can never satisfy a key match, so
		// it is rejected the same way a key mismatch is.
		zap.L().Debug("Rejecting request for unknown project.", zap.String("project", req.ProjectName))
		return errorResponseForPreserved(req.Preserved, msgUnauthorized)
	}

	if !keyMatches(req.CallerKey, project.Key) {
		zap.L().Debug("Rejecting request with mismatched project key.", zap.String("project", project.Name))
		return errorResponseForPreserved(req.Preserved, msgUnauthorized)
	}

	return g.dispatch(ctx, project.Name, c.handler, req.Preserved)
}

// keyMatches implements the project-key check: both sides absent counts as
// authorized, as does an exact match. A project with no key configured
// accepts any (or no) caller key.
func keyMatches(callerKey *string, projectKey string) bool {
	if projectKey == "" {
		return true
	}

	return callerKey != nil && *callerKey == projectKey
}

func (g *Gateway) dispatch(ctx context.Context, project string, h *chainhandler.Handler, preserved *jsonrpc.PreservedRequest) jsonrpc.ResponseBody {
	if !preserved.IsBatch() {
		resp := h.HandleCall(ctx, project, *preserved.Single)
		if resp == nil {
			return nil
		}

		return resp
	}

	return g.dispatchBatch(ctx, project, h, preserved.Batch)
}

// dispatchBatch fans every call in the batch out to its own goroutine and
// awaits all of them; partial failure of one call never affects the others.
// Responses are collected in submission order, and notifications (which
// never produce a response) are filtered out before reassembly.
func (g *Gateway) dispatchBatch(ctx context.Context, project string, h *chainhandler.Handler, calls []jsonrpc.PreservedSingleCall) jsonrpc.ResponseBody {
	responses := make([]*jsonrpc.SingleResponseBody, len(calls))

	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)

		go func(i int, call jsonrpc.PreservedSingleCall) {
			defer wg.Done()
			responses[i] = h.HandleCall(ctx, project, call)
		}(i, call)
	}

	wg.Wait()

	out := make([]jsonrpc.SingleResponseBody, 0, len(responses))

	for _, r := range responses {
		if r != nil {
			out = append(out, *r)
		}
	}

	if len(out) == 0 {
		return nil
	}

	return &jsonrpc.BatchResponseBody{Responses: out}
}

// errorResponseForPreserved builds an internal-error response shaped like
// the request that failed before it ever reached a chain handler: a single
// error object for a single call, or one error object per non-notification
// call in a batch.
func errorResponseForPreserved(preserved *jsonrpc.PreservedRequest, message string) jsonrpc.ResponseBody {
	if !preserved.IsBatch() {
		resp := jsonrpc.CreateErrorJSONRPCResponseBody(message, jsonrpc.CodeInternalError)
		resp.ID = preserved.Single.Deserialized.ID

		return resp
	}

	responses := make([]jsonrpc.SingleResponseBody, 0, len(preserved.Batch))

	for _, call := range preserved.Batch {
		if call.Deserialized.IsNotification() {
			continue
		}

		resp := jsonrpc.CreateErrorJSONRPCResponseBody(message, jsonrpc.CodeInternalError)
		resp.ID = call.Deserialized.ID
		responses = append(responses, *resp)
	}

	if len(responses) == 0 {
		return nil
	}

	return &jsonrpc.BatchResponseBody{Responses: responses}
}
