// Package chainhandler composes the cache, coalescer, canned responder, and
// request pool into the single-call pipeline: parse, try canned, coalesce,
// read cache, forward, write cache.
package chainhandler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/towns-protocol/rpc-gateway/internal/cache"
	"github.com/towns-protocol/rpc-gateway/internal/canned"
	"github.com/towns-protocol/rpc-gateway/internal/coalesce"
	"github.com/towns-protocol/rpc-gateway/internal/config"
	"github.com/towns-protocol/rpc-gateway/internal/jsonrpc"
	"github.com/towns-protocol/rpc-gateway/internal/metrics"
	"github.com/towns-protocol/rpc-gateway/internal/requestpool"
	"github.com/towns-protocol/rpc-gateway/internal/ttl"
	"github.com/towns-protocol/rpc-gateway/internal/types"
	"github.com/towns-protocol/rpc-gateway/internal/upstream"
)

// expectedUpstreamErrorCodes are JSON-RPC error codes an upstream is
// expected to return in normal operation (execution reverted, transaction
// rejected); they log at debug. Anything else logs at warn.
var expectedUpstreamErrorCodes = map[int]struct{}{
	-32000: {},
	-32003: {},
}

// Handler runs one chain's request-handling pipeline.
type Handler struct {
	chainName string

	cache     cache.Cache
	ttlMgr    *ttl.Manager
	canned    *canned.Responder
	coalescer *coalesce.Coalescer
	pool      *requestpool.RequestPool

	coalescingCfg config.RequestCoalescingConfig
	metrics       *metrics.Container
}

func New(
	chainName string,
	rpcCache cache.Cache,
	ttlMgr *ttl.Manager,
	cannedResponder *canned.Responder,
	coalescer *coalesce.Coalescer,
	pool *requestpool.RequestPool,
	coalescingCfg config.RequestCoalescingConfig,
	metricsContainer *metrics.Container,
) *Handler {
	return &Handler{
		chainName:     chainName,
		cache:         rpcCache,
		ttlMgr:        ttlMgr,
		canned:        cannedResponder,
		coalescer:     coalescer,
		pool:          pool,
		coalescingCfg: coalescingCfg,
		metrics:       metricsContainer,
	}
}

// HandleCall runs one preserved call through the pipeline. It returns nil
// for notifications, which never produce a response.
func (h *Handler) HandleCall(ctx context.Context, project string, call jsonrpc.PreservedSingleCall) *jsonrpc.SingleResponseBody {
	req := call.Deserialized

	if req.IsNotification() {
		zap.L().Debug("Dropping notification.", zap.String("chain", h.chainName), zap.String("method", req.Method))
		return nil
	}

	if req.Method == "" {
		zap.L().Debug("Rejecting invalid request.", zap.String("chain", h.chainName))
		resp := jsonrpc.CreateErrorJSONRPCResponseBody("Invalid Request", jsonrpc.CodeInvalidRequest)
		resp.ID = req.ID

		return resp
	}

	return h.onMethod(ctx, project, call)
}

func (h *Handler) onMethod(ctx context.Context, project string, call jsonrpc.PreservedSingleCall) *jsonrpc.SingleResponseBody {
	start := time.Now()
	req := call.Deserialized

	parsed, parseErr := types.ParseEthRequest(req.Method, req.Params)

	var (
		chr     types.ChainHandlerResponse
		handled bool
	)

	if parseErr == nil && h.canned != nil {
		if value := h.canned.Respond(parsed); value != nil {
			chr = types.ChainHandlerResponse{Source: types.SourceCanned, Result: types.Success(value)}
			handled = true
		}
	}

	if !handled {
		makeFuture := func() types.ChainHandlerResponse {
			return h.cacheThenUpstream(ctx, call.Raw, parsed)
		}

		if h.coalescingCfg.IsEnabled() && h.coalescingCfg.MethodFilter.ShouldCoalesce(req.Method) {
			chr, _ = h.coalescer.CoalesceOrCompute(coalescingKey(req.Method, req.Params, parsed), makeFuture)
		} else {
			chr = makeFuture()
		}
	}

	if parseErr == nil && parsed.Method == types.MethodEthBlockNumber && chr.Source == types.SourceUpstream && chr.Result.IsSuccess() {
		h.observeBlockNumber(chr.Result.Value)
	}

	elapsed := time.Since(start)
	if h.metrics != nil {
		h.metrics.ObserveMethodCall(project, req.Method, string(chr.Source), chr.Result.IsSuccess(), elapsed)
	}

	return wrapResponse(req.ID, chr)
}

// cacheThenUpstream reads the cache for a successfully parsed request before
// falling back to the upstream, and writes through on a cacheable upstream
// success. Cache write failures never affect the response.
func (h *Handler) cacheThenUpstream(ctx context.Context, raw []byte, parsed *types.EthRequest) types.ChainHandlerResponse {
	if parsed == nil {
		return h.forwardToUpstream(ctx, raw)
	}

	key := parsed.GetKey()
	cacheTTL := h.ttlMgr.Resolve(parsed)

	if cacheTTL != nil {
		if value, ok := h.cache.Get(ctx, key); ok {
			return types.ChainHandlerResponse{Source: types.SourceCached, Result: types.Success(value)}
		}
	}

	result := h.forwardToUpstream(ctx, raw)

	if result.Source == types.SourceUpstream && result.Result.IsSuccess() && cacheTTL != nil {
		value := result.Result.Value
		h.cache.Set(context.Background(), key, value, *cacheTTL)
	}

	return result
}

// forwardToUpstream calls the request pool and translates pool/upstream
// failures into a ChainHandlerResponse, distinguishing pre-upstream
// failures (never reached an upstream) from upstream-reported failures so
// the response_source metrics label supports SLO attribution.
func (h *Handler) forwardToUpstream(ctx context.Context, raw []byte) types.ChainHandlerResponse {
	resp, err := h.pool.Forward(ctx, raw)
	if err != nil {
		return h.translatePoolError(err)
	}

	if resp.Error != nil {
		h.logUpstreamError(resp.Error)
		return types.ChainHandlerResponse{
			Source: types.SourceUpstream,
			Result: types.RPCResult{Err: &types.RPCError{Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}},
		}
	}

	return types.ChainHandlerResponse{Source: types.SourceUpstream, Result: types.Success(resp.Result)}
}

func (h *Handler) translatePoolError(err error) types.ChainHandlerResponse {
	if errors.Is(err, requestpool.ErrNoUpstreamsAvailable) {
		return types.ChainHandlerResponse{
			Source: types.SourcePreUpstreamError,
			Result: types.Failure(jsonrpc.CodeInternalError, "No upstreams available", nil),
		}
	}

	var upstreamErr *requestpool.UpstreamError
	if errors.As(err, &upstreamErr) && (upstreamErr.Err.Kind == upstream.KindResponseError || upstreamErr.Err.Kind == upstream.KindJSONError) {
		return types.ChainHandlerResponse{
			Source: types.SourceUpstream,
			Result: types.Failure(jsonrpc.CodeInternalError, "Upstream response error", nil),
		}
	}

	return types.ChainHandlerResponse{
		Source: types.SourcePreUpstreamError,
		Result: types.Failure(jsonrpc.CodeInternalError, "Could not forward request to upstream", nil),
	}
}

func (h *Handler) logUpstreamError(rpcErr *jsonrpc.Error) {
	logger := zap.L().With(zap.String("chain", h.chainName), zap.Int("code", rpcErr.Code), zap.String("message", rpcErr.Message))

	if _, expected := expectedUpstreamErrorCodes[rpcErr.Code]; expected {
		logger.Debug("Upstream returned an expected JSON-RPC error.")
	} else {
		logger.Warn("Upstream returned an unexpected JSON-RPC error.")
	}
}

func (h *Handler) observeBlockNumber(result json.RawMessage) {
	var hexQuantity string
	if err := json.Unmarshal(result, &hexQuantity); err != nil {
		return
	}

	n, err := hexutil.DecodeUint64(hexQuantity)
	if err != nil {
		return
	}

	h.ttlMgr.ObserveBlockNumber(n)
}

func wrapResponse(id *jsonrpc.ID, chr types.ChainHandlerResponse) *jsonrpc.SingleResponseBody {
	resp := &jsonrpc.SingleResponseBody{JSONRPC: jsonrpc.JSONRPCVersion, ID: id}

	if chr.Result.IsSuccess() {
		resp.Result = chr.Result.Value
	} else {
		resp.Error = &jsonrpc.Error{Code: chr.Result.Err.Code, Message: chr.Result.Err.Message, Data: chr.Result.Err.Data}
	}

	return resp
}

// coalescingKey fingerprints a call for the coalescer: the parsed request's
// canonical key when parsing succeeded (so semantically equal requests with
// different JSON whitespace/ordering coalesce), else method+params.
func coalescingKey(method string, params json.RawMessage, parsed *types.EthRequest) string {
	if parsed != nil {
		return method + ":" + parsed.GetKey()
	}

	return method + ":" + string(params)
}
