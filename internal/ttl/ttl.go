// Package ttl computes cache TTLs for parsed Ethereum requests from method
// semantics and a live-updated "latest block number" estimate.
package ttl

import (
	"time"

	"go.uber.org/atomic"

	"github.com/towns-protocol/rpc-gateway/internal/types"
)

// oneYear is used for responses that are immutable once observed.
const oneYear = 365 * 24 * time.Hour

// deepHistoryThreshold is the number of blocks behind the latest observed
// block number past which a numeric block reference is treated as
// effectively immutable. This is the one place the gateway knowingly trades
// a small staleness risk for a large hit-rate win on older blocks.
const deepHistoryThreshold = 50

// Manager computes TTLs for one chain. blockTime is that chain's configured
// (or table-derived) block time, used as the default short TTL d0.
type Manager struct {
	blockTime time.Duration
	latest    atomic.Uint64
}

func NewManager(blockTime time.Duration) *Manager {
	return &Manager{blockTime: blockTime}
}

// ObserveBlockNumber records a newly observed chain head, used to resolve
// numeric block-id TTLs. It only ever advances; an out-of-order or stale
// observation is ignored.
func (m *Manager) ObserveBlockNumber(n uint64) {
	for {
		current := m.latest.Load()
		if n <= current {
			return
		}

		if m.latest.CompareAndSwap(current, n) {
			return
		}
	}
}

func (m *Manager) latestBlockNumber() uint64 {
	return m.latest.Load()
}

// Resolve returns the TTL for req, or nil if the request is not cacheable.
func (m *Manager) Resolve(req *types.EthRequest) *time.Duration {
	switch req.Method {
	case types.MethodNetVersion:
		return durationPtr(oneYear)

	case types.MethodEthGasPrice, types.MethodEthMaxPriorityFeePerGas, types.MethodEthBlobBaseFee, types.MethodEthBlockNumber:
		return durationPtr(m.blockTime)

	case types.MethodEthGetBalance, types.MethodEthGetStorageAt, types.MethodEthGetTransactionCount,
		types.MethodEthGetCode, types.MethodEthCall, types.MethodEthEstimateGas:
		if req.BlockID != nil {
			return m.resolveBlockID(req.BlockID)
		}

		return durationPtr(m.blockTime)

	case types.MethodEthGetBlockByHash:
		return durationPtr(oneYear)

	case types.MethodEthGetBlockByNumber:
		return m.resolveBlockID(req.BlockID)

	case types.MethodEthGetTransactionReceipt, types.MethodEthGetLogs:
		return durationPtr(m.blockTime)

	case types.MethodEthChainID, types.MethodWeb3ClientVersion:
		// Served by the canned responder; never reaches the cache.
		return nil

	default:
		return nil
	}
}

func (m *Manager) resolveBlockID(b *types.BlockID) *time.Duration {
	if b == nil {
		return durationPtr(m.blockTime)
	}

	switch {
	case b.Hash != "":
		return durationPtr(oneYear)
	case b.Number != nil:
		latest := m.latestBlockNumber()
		if latest > *b.Number && latest-*b.Number > deepHistoryThreshold {
			return durationPtr(oneYear)
		}

		return durationPtr(m.blockTime)
	}

	switch b.Tag {
	case types.BlockTagLatest, types.BlockTagSafe:
		return durationPtr(m.blockTime)
	case types.BlockTagFinalized, types.BlockTagEarliest:
		return durationPtr(oneYear)
	case types.BlockTagPending:
		return nil
	default:
		return durationPtr(m.blockTime)
	}
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
