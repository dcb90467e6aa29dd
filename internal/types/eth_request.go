package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type EthMethod string

const (
	MethodEthChainID              EthMethod = "eth_chainId"
	MethodWeb3ClientVersion        EthMethod = "web3_clientVersion"
	MethodNetVersion               EthMethod = "net_version"
	MethodEthGasPrice              EthMethod = "eth_gasPrice"
	MethodEthMaxPriorityFeePerGas  EthMethod = "eth_maxPriorityFeePerGas"
	MethodEthBlobBaseFee           EthMethod = "eth_blobBaseFee"
	MethodEthBlockNumber           EthMethod = "eth_blockNumber"
	MethodEthGetBalance            EthMethod = "eth_getBalance"
	MethodEthGetStorageAt          EthMethod = "eth_getStorageAt"
	MethodEthGetTransactionCount   EthMethod = "eth_getTransactionCount"
	MethodEthGetCode               EthMethod = "eth_getCode"
	MethodEthCall                  EthMethod = "eth_call"
	MethodEthEstimateGas           EthMethod = "eth_estimateGas"
	MethodEthGetBlockByHash        EthMethod = "eth_getBlockByHash"
	MethodEthGetBlockByNumber      EthMethod = "eth_getBlockByNumber"
	MethodEthGetTransactionReceipt EthMethod = "eth_getTransactionReceipt"
	MethodEthGetLogs               EthMethod = "eth_getLogs"
)

type BlockTag string

const (
	BlockTagLatest    BlockTag = "latest"
	BlockTagSafe      BlockTag = "safe"
	BlockTagFinalized BlockTag = "finalized"
	BlockTagEarliest  BlockTag = "earliest"
	BlockTagPending   BlockTag = "pending"
)

// BlockID is exactly one of: Hash, Tag, or Number.
type BlockID struct {
	Hash   string
	Tag    BlockTag
	Number *uint64
}

func (b BlockID) String() string {
	switch {
	case b.Hash != "":
		return b.Hash
	case b.Tag != "":
		return string(b.Tag)
	case b.Number != nil:
		return hexutil.EncodeUint64(*b.Number)
	default:
		return ""
	}
}

// parseBlockID accepts a known block tag, a 32-byte 0x-prefixed block hash,
// or a 0x-prefixed hex quantity such as "0x10"; bare decimal block numbers
// are rejected.
func parseBlockID(raw json.RawMessage) (*BlockID, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("block id is not a string: %w", err)
	}

	switch BlockTag(s) {
	case BlockTagLatest, BlockTagSafe, BlockTagFinalized, BlockTagEarliest, BlockTagPending:
		return &BlockID{Tag: BlockTag(s)}, nil
	}

	if strings.HasPrefix(s, "0x") && len(s) == 66 {
		return &BlockID{Hash: s}, nil
	}

	n, err := hexutil.DecodeUint64(s)
	if err != nil {
		return nil, fmt.Errorf("block id is neither a known tag, a 32-byte hash, nor a hex quantity: %w", err)
	}

	return &BlockID{Number: &n}, nil
}

// EthRequest is a tagged variant over the subset of Ethereum JSON-RPC
// methods the gateway has semantic knowledge of: enough to derive a cache
// TTL and a collision-free cache key. Unrecognized methods, or recognized
// methods with unparseable params, are not representable here — callers
// fall back to forwarding the request with no cache interaction.
type EthRequest struct {
	Method  EthMethod
	BlockID *BlockID // present when this method's cacheability depends on a block reference
	key     string   // semantically-significant key material beyond method + block id
}

// keyPrefixes gives each recognized method a short, stable, collision-free
// prefix so that cache keys never collide across methods that happen to
// share parameter shapes (e.g. two methods both taking one address).
var keyPrefixes = map[EthMethod]string{
	MethodEthChainID:               "00",
	MethodWeb3ClientVersion:        "01",
	MethodNetVersion:               "02",
	MethodEthGasPrice:              "03",
	MethodEthMaxPriorityFeePerGas:  "04",
	MethodEthBlobBaseFee:           "05",
	MethodEthBlockNumber:           "06",
	MethodEthGetBalance:            "07",
	MethodEthGetStorageAt:          "08",
	MethodEthGetTransactionCount:   "09",
	MethodEthGetCode:               "0a",
	MethodEthCall:                  "0b",
	MethodEthEstimateGas:           "0c",
	MethodEthGetBlockByHash:        "0d",
	MethodEthGetBlockByNumber:      "0e",
	MethodEthGetTransactionReceipt: "0f",
	MethodEthGetLogs:               "10",
}

// GetKey returns the cache key for this request: a short method-class
// prefix plus whatever parameter material is semantically significant
// (address, block reference, tx/block hash, logs filter, etc).
func (r *EthRequest) GetKey() string {
	prefix := keyPrefixes[r.Method]
	if r.BlockID != nil {
		return prefix + ":" + r.key + ":" + r.BlockID.String()
	}

	return prefix + ":" + r.key
}

func firstStringParam(params []json.RawMessage, idx int) (string, error) {
	if idx >= len(params) {
		return "", fmt.Errorf("expected param at index %d", idx)
	}

	var s string
	if err := json.Unmarshal(params[idx], &s); err != nil {
		return "", err
	}

	return s, nil
}

// ParseEthRequest decodes method + params into a recognized EthRequest.
// It returns an error for any method this gateway has no semantic model
// for, or whose params don't match the expected shape; both are treated
// identically by callers (forward-only, no cache interaction).
func ParseEthRequest(method string, rawParams json.RawMessage) (*EthRequest, error) {
	var params []json.RawMessage
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return nil, fmt.Errorf("params is not a JSON array: %w", err)
		}
	}

	m := EthMethod(method)

	switch m {
	case MethodEthChainID, MethodWeb3ClientVersion, MethodNetVersion,
		MethodEthGasPrice, MethodEthMaxPriorityFeePerGas, MethodEthBlobBaseFee, MethodEthBlockNumber:
		return &EthRequest{Method: m}, nil

	case MethodEthGetBalance, MethodEthGetTransactionCount, MethodEthGetCode:
		addr, err := firstStringParam(params, 0)
		if err != nil {
			return nil, err
		}

		req := &EthRequest{Method: m, key: strings.ToLower(addr)}
		if len(params) > 1 {
			blockID, err := parseBlockID(params[1])
			if err != nil {
				return nil, err
			}

			req.BlockID = blockID
		}

		return req, nil

	case MethodEthGetStorageAt:
		addr, err := firstStringParam(params, 0)
		if err != nil {
			return nil, err
		}

		pos, err := firstStringParam(params, 1)
		if err != nil {
			return nil, err
		}

		req := &EthRequest{Method: m, key: strings.ToLower(addr) + ":" + pos}
		if len(params) > 2 {
			blockID, err := parseBlockID(params[2])
			if err != nil {
				return nil, err
			}

			req.BlockID = blockID
		}

		return req, nil

	case MethodEthCall, MethodEthEstimateGas:
		if len(params) == 0 {
			return nil, fmt.Errorf("%s requires a transaction object param", method)
		}

		req := &EthRequest{Method: m, key: string(bytesOrEmpty(params[0]))}
		if len(params) > 1 {
			blockID, err := parseBlockID(params[1])
			if err != nil {
				return nil, err
			}

			req.BlockID = blockID
		}

		if len(params) > 2 {
			req.key += ":" + string(bytesOrEmpty(params[2]))
		}

		return req, nil

	case MethodEthGetBlockByHash:
		hash, err := firstStringParam(params, 0)
		if err != nil {
			return nil, err
		}

		fullTxRaw := ""
		if len(params) > 1 {
			fullTxRaw = string(bytesOrEmpty(params[1]))
		}

		return &EthRequest{Method: m, key: strings.ToLower(hash) + ":" + fullTxRaw, BlockID: &BlockID{Hash: hash}}, nil

	case MethodEthGetBlockByNumber:
		if len(params) == 0 {
			return nil, fmt.Errorf("eth_getBlockByNumber requires a block number or tag param")
		}

		blockID, err := parseBlockID(params[0])
		if err != nil {
			return nil, err
		}

		fullTxRaw := ""
		if len(params) > 1 {
			fullTxRaw = string(bytesOrEmpty(params[1]))
		}

		return &EthRequest{Method: m, key: fullTxRaw, BlockID: blockID}, nil

	case MethodEthGetTransactionReceipt:
		hash, err := firstStringParam(params, 0)
		if err != nil {
			return nil, err
		}

		return &EthRequest{Method: m, key: strings.ToLower(hash)}, nil

	case MethodEthGetLogs:
		if len(params) == 0 {
			return nil, fmt.Errorf("eth_getLogs requires a filter object param")
		}

		return &EthRequest{Method: m, key: string(bytesOrEmpty(params[0]))}, nil

	default:
		return nil, fmt.Errorf("unrecognized method for semantic parsing: %s", method)
	}
}

func bytesOrEmpty(raw json.RawMessage) []byte {
	if raw == nil {
		return []byte{}
	}

	return raw
}
