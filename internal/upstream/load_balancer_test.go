package upstream

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/towns-protocol/rpc-gateway/internal/config"
	"github.com/towns-protocol/rpc-gateway/internal/mocks"
)

func healthyClient(t *testing.T) *mocks.HTTPClient {
	c := mocks.NewHTTPClient(t)
	c.EXPECT().Do(mock.Anything).Return(&http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader(`{"jsonrpc":"2.0","result":"0x1","id":1}`)),
	}, nil).Maybe()

	return c
}

func unhealthyClient(t *testing.T) *mocks.HTTPClient {
	c := mocks.NewHTTPClient(t)
	c.EXPECT().Do(mock.Anything).Return(&http.Response{
		StatusCode: 500,
		Body:       io.NopCloser(strings.NewReader(``)),
	}, nil).Maybe()

	return c
}

func TestPrimaryOnlyLoadBalancer_PicksHighestWeight(t *testing.T) {
	low := New("low", "https://low.example.com/", 1, 1, time.Second, healthyClient(t))
	high := New("high", "https://high.example.com/", 1, 10, time.Second, healthyClient(t))

	lb := NewPrimaryOnlyLoadBalancer([]*Upstream{low, high}, time.Minute)
	lb.HealthTracker().RunOnce(context.Background())

	selected := lb.Select()
	require.NotNil(t, selected)
	assert.Equal(t, "high", selected.ID())
}

func TestPrimaryOnlyLoadBalancer_OnlyTracksPrimary(t *testing.T) {
	// Only the primary is unhealthy; the spec requires Select() to return
	// None even though a non-primary upstream would have passed its probe,
	// because the health tracker was constructed with only the primary.
	unhealthyPrimary := New("primary", "https://primary.example.com/", 1, 10, time.Second, unhealthyClient(t))
	healthyOther := New("other", "https://other.example.com/", 1, 1, time.Second, healthyClient(t))

	lb := NewPrimaryOnlyLoadBalancer([]*Upstream{unhealthyPrimary, healthyOther}, time.Minute)
	lb.HealthTracker().RunOnce(context.Background())

	assert.Nil(t, lb.Select())
}

func TestNewLoadBalancer_HealthChecksDisabled_SelectsWithoutProbing(t *testing.T) {
	u := New("primary", "https://example.com/", 1, 10, time.Second, unhealthyClient(t))

	lb, err := NewLoadBalancer(config.StrategyPrimaryOnly, []*Upstream{u}, time.Minute, false)
	require.NoError(t, err)

	selected := lb.Select()
	require.NotNil(t, selected)
	assert.Equal(t, "primary", selected.ID())
}

func TestNewLoadBalancer_ReservedStrategiesAreExplicitlyUnimplemented(t *testing.T) {
	u := New("only", "https://example.com/", 1, 1, time.Second, healthyClient(t))

	_, err := upstreamLoadBalancer(t, config.StrategyRoundRobin, u)
	require.ErrorIs(t, err, ErrStrategyUnimplemented)

	_, err = upstreamLoadBalancer(t, config.StrategyWeightedOrder, u)
	require.ErrorIs(t, err, ErrStrategyUnimplemented)
}

func upstreamLoadBalancer(t *testing.T, strategy string, u *Upstream) (LoadBalancer, error) {
	t.Helper()
	return NewLoadBalancer(strategy, []*Upstream{u}, time.Minute, true)
}
