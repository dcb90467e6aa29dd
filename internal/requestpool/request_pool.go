// Package requestpool wraps a load balancer with the configured
// error-handling policy to turn a single raw request into one response,
// via one forward attempt or a bounded sequence of attempts.
package requestpool

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/towns-protocol/rpc-gateway/internal/config"
	"github.com/towns-protocol/rpc-gateway/internal/jsonrpc"
	"github.com/towns-protocol/rpc-gateway/internal/upstream"
)

// ErrNoUpstreamsAvailable is returned when the load balancer's healthy
// snapshot is empty.
var ErrNoUpstreamsAvailable = errors.New("no upstreams available")

// UpstreamError wraps the last upstream.Error encountered while forwarding,
// after the configured error-handling policy gave up.
type UpstreamError struct {
	Err *upstream.Error
}

func (e *UpstreamError) Error() string {
	return e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

type RequestPool struct {
	loadBalancer  upstream.LoadBalancer
	errorHandling config.ErrorHandlingConfig
}

func New(loadBalancer upstream.LoadBalancer, errorHandling config.ErrorHandlingConfig) *RequestPool {
	return &RequestPool{loadBalancer: loadBalancer, errorHandling: errorHandling}
}

// Forward selects an upstream and applies the configured error-handling
// policy. The pool does not re-select an upstream between retries; that is
// a reserved future extension, matching the spec's fixed-upstream-per-call
// behavior.
func (p *RequestPool) Forward(ctx context.Context, raw []byte) (*jsonrpc.SingleResponseBody, error) {
	selected := p.loadBalancer.Select()
	if selected == nil {
		return nil, ErrNoUpstreamsAvailable
	}

	switch p.errorHandling.Type {
	case config.ErrorHandlingRetry:
		return p.forwardWithRetry(ctx, selected, raw)
	case config.ErrorHandlingCircuitBreaker:
		// Reserved; behaves as fail-fast until implemented.
		zap.L().Warn("Circuit breaker error handling is not yet implemented; falling back to a single attempt.")
		return p.forwardOnce(ctx, selected, raw)
	default:
		return p.forwardOnce(ctx, selected, raw)
	}
}

func (p *RequestPool) forwardOnce(ctx context.Context, u *upstream.Upstream, raw []byte) (*jsonrpc.SingleResponseBody, error) {
	resp, err := u.ForwardOnce(ctx, raw)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}

	return resp, nil
}

func (p *RequestPool) forwardWithRetry(ctx context.Context, u *upstream.Upstream, raw []byte) (*jsonrpc.SingleResponseBody, error) {
	attempts := 1 + p.errorHandling.MaxRetries

	var lastErr *upstream.Error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.errorHandling.RetryDelay()
			if p.errorHandling.JitterEnabled() {
				delay += time.Duration(rand.Int63n(int64(time.Second))) //nolint:gosec // jitter doesn't need cryptographic randomness
			}

			zap.L().Warn("Retrying upstream request.", zap.String("upstreamID", u.ID()), zap.Int("attempt", attempt), zap.Error(lastErr))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := u.ForwardOnce(ctx, raw)
		if err == nil {
			return resp, nil
		}

		lastErr = err
	}

	return nil, &UpstreamError{Err: lastErr}
}
