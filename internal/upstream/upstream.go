// Package upstream models one remote JSON-RPC endpoint serving a chain,
// plus the health tracking and load balancing built on top of a pool of
// them.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/towns-protocol/rpc-gateway/internal/client"
	"github.com/towns-protocol/rpc-gateway/internal/jsonrpc"
)

// hardTimeoutCap bounds every upstream call regardless of the configured
// per-upstream timeout, so a misconfigured large timeout can never hold a
// request-handling goroutine open indefinitely.
const hardTimeoutCap = 2 * time.Second

type ErrorKind string

const (
	KindRequestError  ErrorKind = "request_error"
	KindResponseError ErrorKind = "response_error"
	KindJSONError     ErrorKind = "json_error"
)

type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Upstream is immutable except for the effective weight a weighted
// strategy might someday adjust; none of the strategies this gateway
// implements mutate it today.
type Upstream struct {
	httpClient client.HTTPClient
	id         string
	url        string
	chainID    uint64
	weight     int
	timeout    time.Duration
}

func New(id, url string, chainID uint64, weight int, timeout time.Duration, httpClient client.HTTPClient) *Upstream {
	return &Upstream{
		id:         id,
		url:        url,
		chainID:    chainID,
		weight:     weight,
		timeout:    timeout,
		httpClient: httpClient,
	}
}

func (u *Upstream) ID() string      { return u.id }
func (u *Upstream) Weight() int     { return u.weight }
func (u *Upstream) URL() string     { return u.url }
func (u *Upstream) ChainID() uint64 { return u.chainID }

func (u *Upstream) effectiveTimeout() time.Duration {
	if u.timeout <= 0 || u.timeout > hardTimeoutCap {
		return hardTimeoutCap
	}

	return u.timeout
}

// ForwardOnce sends raw as the request body and decodes the response as a
// single JSON-RPC response. It distinguishes request errors (couldn't send),
// response errors (non-2xx or unreadable body) and JSON errors (body isn't
// valid JSON-RPC) from a successful round trip that merely carries a
// JSON-RPC error payload — the latter is not an *Error at all.
func (u *Upstream) ForwardOnce(ctx context.Context, raw []byte) (*jsonrpc.SingleResponseBody, *Error) {
	ctx, cancel := context.WithTimeout(ctx, u.effectiveTimeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(raw))
	if err != nil {
		return nil, &Error{Kind: KindRequestError, Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := u.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindRequestError, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindResponseError, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Kind: KindResponseError, Err: fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)}
	}

	decoded, err := decodeSingleResponse(body)
	if err != nil {
		return nil, &Error{Kind: KindJSONError, Err: err}
	}

	return decoded, nil
}

func decodeSingleResponse(body []byte) (*jsonrpc.SingleResponseBody, error) {
	respBody, err := jsonrpc.DecodeResponseBody(body)
	if err != nil {
		return nil, err
	}

	single, ok := respBody.(*jsonrpc.SingleResponseBody)
	if !ok {
		return nil, fmt.Errorf("expected a single JSON-RPC response, got a batch")
	}

	return single, nil
}

var chainIDProbeRequest = []byte(`{"jsonrpc":"2.0","method":"eth_chainId","params":[],"id":1}`)

// ReadinessProbe validates reachability, correct chain wiring, and basic
// protocol conformance in one round trip: success requires a JSON-RPC
// success result whose hex quantity equals the configured chain id.
func (u *Upstream) ReadinessProbe(ctx context.Context) bool {
	resp, upstreamErr := u.ForwardOnce(ctx, chainIDProbeRequest)
	if upstreamErr != nil {
		zap.L().Debug("Readiness probe failed.", zap.String("upstreamID", u.id), zap.Error(upstreamErr))
		return false
	}

	if resp.Error != nil {
		zap.L().Debug("Readiness probe returned a JSON-RPC error.", zap.String("upstreamID", u.id), zap.Any("error", resp.Error))
		return false
	}

	var hexChainID string
	if err := json.Unmarshal(resp.Result, &hexChainID); err != nil {
		zap.L().Debug("Readiness probe result was not a hex string.", zap.String("upstreamID", u.id), zap.Error(err))
		return false
	}

	reportedChainID, err := hexutil.DecodeUint64(hexChainID)
	if err != nil {
		zap.L().Debug("Readiness probe result was not a valid hex quantity.", zap.String("upstreamID", u.id), zap.Error(err))
		return false
	}

	return reportedChainID == u.chainID
}
