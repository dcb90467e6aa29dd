package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/towns-protocol/rpc-gateway/internal/cache"
	"github.com/towns-protocol/rpc-gateway/internal/canned"
	"github.com/towns-protocol/rpc-gateway/internal/chainhandler"
	"github.com/towns-protocol/rpc-gateway/internal/coalesce"
	"github.com/towns-protocol/rpc-gateway/internal/config"
	"github.com/towns-protocol/rpc-gateway/internal/jsonrpc"
	"github.com/towns-protocol/rpc-gateway/internal/mocks"
	"github.com/towns-protocol/rpc-gateway/internal/requestpool"
	"github.com/towns-protocol/rpc-gateway/internal/ttl"
	"github.com/towns-protocol/rpc-gateway/internal/upstream"
)

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

func cannedOnlyChainHandler(t *testing.T, chainName string, chainID uint64) (*chainhandler.Handler, *upstream.HealthTracker) {
	t.Helper()

	// Canned methods never reach the client; only the health probe does (as
	// in TestStart), and it fails as if the upstream were unreachable.
	httpClient := mocks.NewHTTPClient(t)
	httpClient.EXPECT().Do(mock.Anything).Return(nil, errors.New("connection refused")).Maybe()

	u := upstream.New("primary", "https://example.com/", chainID, 10, time.Second, httpClient)
	lb := upstream.NewPrimaryOnlyLoadBalancer([]*upstream.Upstream{u}, time.Minute)

	cannedCfg := config.CannedResponseConfig{
		Enabled: boolPtr(true),
		Methods: config.CannedMethodsConfig{Web3ClientVersion: boolPtr(true), EthChainID: boolPtr(true)},
	}
	coalescingCfg := config.RequestCoalescingConfig{Enabled: boolPtr(true), MethodFilter: config.MethodFilterConfig{Type: config.MethodFilterAll}}
	pool := requestpool.New(lb, config.ErrorHandlingConfig{Type: config.ErrorHandlingFailFast})

	h := chainhandler.New(chainName, cache.Disabled{}, ttl.NewManager(12*time.Second), canned.New(cannedCfg, chainID),
		coalesce.New(), pool, coalescingCfg, nil)

	return h, lb.HealthTracker()
}

func singleCall(method string, id int64) *jsonrpc.PreservedRequest {
	raw := []byte(`{"jsonrpc":"2.0","method":"` + method + `","params":[],"id":` + itoa(id) + `}`)
	return &jsonrpc.PreservedRequest{
		Single: &jsonrpc.PreservedSingleCall{
			Raw: raw,
			Deserialized: jsonrpc.SingleRequestBody{
				ID:             jsonrpc.NewNumberID(id),
				JSONRPCVersion: "2.0",
				Method:         method,
				Params:         json.RawMessage(`[]`),
			},
		},
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestHandle_UnconfiguredChain_ChainNotSupported(t *testing.T) {
	h, tracker := cannedOnlyChainHandler(t, "mainnet", 1)
	gw := New(map[uint64]*chainhandler.Handler{1: h}, map[uint64]*upstream.HealthTracker{1: tracker}, []config.ProjectConfig{{Name: config.DefaultProjectName}})

	resp := gw.Handle(context.Background(), Request{
		ChainID:     999,
		ProjectName: config.DefaultProjectName,
		Preserved:   singleCall("eth_chainId", 1),
	})

	single, ok := resp.(*jsonrpc.SingleResponseBody)
	require.True(t, ok)
	require.NotNil(t, single.Error)
	assert.Equal(t, jsonrpc.CodeInternalError, single.Error.Code)
	assert.Equal(t, "Chain not supported", single.Error.Message)
}

func TestHandle_KeyMismatch_Unauthorized(t *testing.T) {
	h, tracker := cannedOnlyChainHandler(t, "mainnet", 1)
	project := config.ProjectConfig{Name: "acme", Key: "secret"}
	gw := New(map[uint64]*chainhandler.Handler{1: h}, map[uint64]*upstream.HealthTracker{1: tracker}, []config.ProjectConfig{project})

	resp := gw.Handle(context.Background(), Request{
		ChainID:     1,
		ProjectName: project.Name,
		CallerKey:   nil,
		Preserved:   singleCall("eth_chainId", 1),
	})

	single, ok := resp.(*jsonrpc.SingleResponseBody)
	require.True(t, ok)
	require.NotNil(t, single.Error)
	assert.Equal(t, "Unauthorized", single.Error.Message)
}

func TestHandle_NoKeyConfigured_AuthorizedRegardlessOfCallerKey(t *testing.T) {
	h, tracker := cannedOnlyChainHandler(t, "mainnet", 1)
	project := config.ProjectConfig{Name: config.DefaultProjectName}
	gw := New(map[uint64]*chainhandler.Handler{1: h}, map[uint64]*upstream.HealthTracker{1: tracker}, []config.ProjectConfig{project})

	resp := gw.Handle(context.Background(), Request{
		ChainID:     1,
		ProjectName: project.Name,
		Preserved:   singleCall("eth_chainId", 1),
	})

	single, ok := resp.(*jsonrpc.SingleResponseBody)
	require.True(t, ok)
	assert.Equal(t, `"0x1"`, string(single.Result))
}

func TestHandle_MatchingKey_Authorized(t *testing.T) {
	h, tracker := cannedOnlyChainHandler(t, "mainnet", 1)
	project := config.ProjectConfig{Name: "acme", Key: "secret"}
	gw := New(map[uint64]*chainhandler.Handler{1: h}, map[uint64]*upstream.HealthTracker{1: tracker}, []config.ProjectConfig{project})

	resp := gw.Handle(context.Background(), Request{
		ChainID:     1,
		ProjectName: project.Name,
		CallerKey:   strPtr("secret"),
		Preserved:   singleCall("eth_chainId", 1),
	})

	single, ok := resp.(*jsonrpc.SingleResponseBody)
	require.True(t, ok)
	assert.Equal(t, `"0x1"`, string(single.Result))
}

func TestHandle_Notification_ReturnsNil(t *testing.T) {
	h, tracker := cannedOnlyChainHandler(t, "mainnet", 1)
	project := config.ProjectConfig{Name: config.DefaultProjectName}
	gw := New(map[uint64]*chainhandler.Handler{1: h}, map[uint64]*upstream.HealthTracker{1: tracker}, []config.ProjectConfig{project})

	req := Request{
		ChainID:     1,
		ProjectName: project.Name,
		Preserved: &jsonrpc.PreservedRequest{
			Single: &jsonrpc.PreservedSingleCall{
				Raw:          []byte(`{"jsonrpc":"2.0","method":"eth_chainId"}`),
				Deserialized: jsonrpc.SingleRequestBody{JSONRPCVersion: "2.0", Method: "eth_chainId"},
			},
		},
	}

	assert.Nil(t, gw.Handle(context.Background(), req))
}

func TestHandle_Batch_ReassemblesInSubmissionOrderAndDropsNotifications(t *testing.T) {
	h, tracker := cannedOnlyChainHandler(t, "mainnet", 1)
	project := config.ProjectConfig{Name: config.DefaultProjectName}
	gw := New(map[uint64]*chainhandler.Handler{1: h}, map[uint64]*upstream.HealthTracker{1: tracker}, []config.ProjectConfig{project})

	batch := []jsonrpc.PreservedSingleCall{
		{
			Raw: []byte(`{"jsonrpc":"2.0","method":"eth_chainId","id":1}`),
			Deserialized: jsonrpc.SingleRequestBody{
				ID: jsonrpc.NewNumberID(1), JSONRPCVersion: "2.0", Method: "eth_chainId",
			},
		},
		{
			// Notification: no id, must not occupy a response slot.
			Raw: []byte(`{"jsonrpc":"2.0","method":"eth_chainId"}`),
			Deserialized: jsonrpc.SingleRequestBody{
				JSONRPCVersion: "2.0", Method: "eth_chainId",
			},
		},
		{
			Raw: []byte(`{"jsonrpc":"2.0","method":"web3_clientVersion","id":2}`),
			Deserialized: jsonrpc.SingleRequestBody{
				ID: jsonrpc.NewNumberID(2), JSONRPCVersion: "2.0", Method: "web3_clientVersion",
			},
		},
	}

	resp := gw.Handle(context.Background(), Request{
		ChainID:     1,
		ProjectName: project.Name,
		Preserved:   &jsonrpc.PreservedRequest{Batch: batch},
	})

	batchResp, ok := resp.(*jsonrpc.BatchResponseBody)
	require.True(t, ok)
	require.Len(t, batchResp.Responses, 2)
	assert.True(t, batchResp.Responses[0].ID.Equal(jsonrpc.NewNumberID(1)))
	assert.True(t, batchResp.Responses[1].ID.Equal(jsonrpc.NewNumberID(2)))
}

func TestHandle_BatchAllNotifications_ReturnsNil(t *testing.T) {
	h, tracker := cannedOnlyChainHandler(t, "mainnet", 1)
	project := config.ProjectConfig{Name: config.DefaultProjectName}
	gw := New(map[uint64]*chainhandler.Handler{1: h}, map[uint64]*upstream.HealthTracker{1: tracker}, []config.ProjectConfig{project})

	batch := []jsonrpc.PreservedSingleCall{
		{Raw: []byte(`{"jsonrpc":"2.0","method":"eth_chainId"}`), Deserialized: jsonrpc.SingleRequestBody{JSONRPCVersion: "2.0", Method: "eth_chainId"}},
	}

	resp := gw.Handle(context.Background(), Request{
		ChainID:     1,
		ProjectName: project.Name,
		Preserved:   &jsonrpc.PreservedRequest{Batch: batch},
	})

	assert.Nil(t, resp)
}

func TestProjectByName(t *testing.T) {
	h, tracker := cannedOnlyChainHandler(t, "mainnet", 1)
	gw := New(map[uint64]*chainhandler.Handler{1: h}, map[uint64]*upstream.HealthTracker{1: tracker},
		[]config.ProjectConfig{{Name: config.DefaultProjectName}, {Name: "acme", Key: "secret"}})

	p, ok := gw.ProjectByName("acme")
	require.True(t, ok)
	assert.Equal(t, "secret", p.Key)

	_, ok = gw.ProjectByName("nope")
	assert.False(t, ok)
}

func TestStart_RunsInitialHealthPassBeforeReturning(t *testing.T) {
	h, tracker := cannedOnlyChainHandler(t, "mainnet", 1)
	gw := New(map[uint64]*chainhandler.Handler{1: h}, map[uint64]*upstream.HealthTracker{1: tracker}, []config.ProjectConfig{{Name: config.DefaultProjectName}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw.Start(ctx)

	// Primary upstream isn't actually reachable in this test, so the probe
	// fails and the tracker reports no healthy upstreams -- but Start must
	// still have run RunOnce synchronously rather than leaving it unset.
	assert.Empty(t, tracker.Healthy())
}
