package ttl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/towns-protocol/rpc-gateway/internal/types"
)

const blockTime = 12 * time.Second

func numberBlockID(n uint64) *types.BlockID {
	return &types.BlockID{Number: &n}
}

func TestResolve_NetVersionIsOneYear(t *testing.T) {
	m := NewManager(blockTime)
	got := m.Resolve(&types.EthRequest{Method: types.MethodNetVersion})
	require.NotNil(t, got)
	assert.Equal(t, oneYear, *got)
}

func TestResolve_GasPriceIsBlockTime(t *testing.T) {
	m := NewManager(blockTime)
	got := m.Resolve(&types.EthRequest{Method: types.MethodEthGasPrice})
	require.NotNil(t, got)
	assert.Equal(t, blockTime, *got)
}

func TestResolve_ChainIDAndClientVersionAreNotCacheable(t *testing.T) {
	m := NewManager(blockTime)
	assert.Nil(t, m.Resolve(&types.EthRequest{Method: types.MethodEthChainID}))
	assert.Nil(t, m.Resolve(&types.EthRequest{Method: types.MethodWeb3ClientVersion}))
}

func TestResolve_BalanceWithoutBlockIDFallsBackToBlockTime(t *testing.T) {
	m := NewManager(blockTime)
	got := m.Resolve(&types.EthRequest{Method: types.MethodEthGetBalance})
	require.NotNil(t, got)
	assert.Equal(t, blockTime, *got)
}

func TestResolve_BalanceWithHashBlockIDIsOneYear(t *testing.T) {
	m := NewManager(blockTime)
	req := &types.EthRequest{Method: types.MethodEthGetBalance, BlockID: &types.BlockID{Hash: "0xabc"}}
	got := m.Resolve(req)
	require.NotNil(t, got)
	assert.Equal(t, oneYear, *got)
}

func TestResolve_BlockByHashIsOneYear(t *testing.T) {
	m := NewManager(blockTime)
	got := m.Resolve(&types.EthRequest{Method: types.MethodEthGetBlockByHash, BlockID: &types.BlockID{Hash: "0xabc"}})
	require.NotNil(t, got)
	assert.Equal(t, oneYear, *got)
}

func TestResolve_BlockByNumberTags(t *testing.T) {
	m := NewManager(blockTime)

	latest := m.Resolve(&types.EthRequest{Method: types.MethodEthGetBlockByNumber, BlockID: &types.BlockID{Tag: types.BlockTagLatest}})
	require.NotNil(t, latest)
	assert.Equal(t, blockTime, *latest)

	safe := m.Resolve(&types.EthRequest{Method: types.MethodEthGetBlockByNumber, BlockID: &types.BlockID{Tag: types.BlockTagSafe}})
	require.NotNil(t, safe)
	assert.Equal(t, blockTime, *safe)

	finalized := m.Resolve(&types.EthRequest{Method: types.MethodEthGetBlockByNumber, BlockID: &types.BlockID{Tag: types.BlockTagFinalized}})
	require.NotNil(t, finalized)
	assert.Equal(t, oneYear, *finalized)

	earliest := m.Resolve(&types.EthRequest{Method: types.MethodEthGetBlockByNumber, BlockID: &types.BlockID{Tag: types.BlockTagEarliest}})
	require.NotNil(t, earliest)
	assert.Equal(t, oneYear, *earliest)

	pending := m.Resolve(&types.EthRequest{Method: types.MethodEthGetBlockByNumber, BlockID: &types.BlockID{Tag: types.BlockTagPending}})
	assert.Nil(t, pending)
}

func TestResolve_NumericBlockID_DeepHistoryIsOneYear(t *testing.T) {
	m := NewManager(blockTime)
	m.ObserveBlockNumber(1000)

	got := m.Resolve(&types.EthRequest{Method: types.MethodEthGetBlockByNumber, BlockID: numberBlockID(1)})
	require.NotNil(t, got)
	assert.Equal(t, oneYear, *got)
}

func TestResolve_NumericBlockID_RecentIsBlockTime(t *testing.T) {
	m := NewManager(blockTime)
	m.ObserveBlockNumber(1000)

	got := m.Resolve(&types.EthRequest{Method: types.MethodEthGetBlockByNumber, BlockID: numberBlockID(960)})
	require.NotNil(t, got)
	assert.Equal(t, blockTime, *got)
}

func TestResolve_NumericBlockID_ExactlyAtThresholdIsBlockTime(t *testing.T) {
	m := NewManager(blockTime)
	m.ObserveBlockNumber(1000)

	// latest - N == 50, not > 50.
	got := m.Resolve(&types.EthRequest{Method: types.MethodEthGetBlockByNumber, BlockID: numberBlockID(950)})
	require.NotNil(t, got)
	assert.Equal(t, blockTime, *got)
}

func TestResolve_NumericBlockID_BeforeAnyObservationFallsBackToBlockTime(t *testing.T) {
	m := NewManager(blockTime)

	got := m.Resolve(&types.EthRequest{Method: types.MethodEthGetBlockByNumber, BlockID: numberBlockID(1)})
	require.NotNil(t, got)
	assert.Equal(t, blockTime, *got)
}

func TestObserveBlockNumber_OnlyAdvances(t *testing.T) {
	m := NewManager(blockTime)
	m.ObserveBlockNumber(100)
	m.ObserveBlockNumber(50)
	assert.Equal(t, uint64(100), m.latestBlockNumber())

	m.ObserveBlockNumber(150)
	assert.Equal(t, uint64(150), m.latestBlockNumber())
}

func TestResolve_TransactionReceiptAndLogsAreBlockTime(t *testing.T) {
	m := NewManager(blockTime)

	receipt := m.Resolve(&types.EthRequest{Method: types.MethodEthGetTransactionReceipt})
	require.NotNil(t, receipt)
	assert.Equal(t, blockTime, *receipt)

	logs := m.Resolve(&types.EthRequest{Method: types.MethodEthGetLogs})
	require.NotNil(t, logs)
	assert.Equal(t, blockTime, *logs)
}
