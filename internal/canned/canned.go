// Package canned answers a small, configurable set of deterministic
// JSON-RPC methods locally, without ever contacting an upstream.
package canned

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/towns-protocol/rpc-gateway/internal/config"
	"github.com/towns-protocol/rpc-gateway/internal/types"
)

// ClientVersion identifies this gateway in web3_clientVersion responses.
const ClientVersion = "rpc-gateway/v1"

// Responder holds the per-chain state a canned answer needs: the chain id
// and which methods the operator has enabled.
type Responder struct {
	cfg     config.CannedResponseConfig
	chainID uint64
}

func New(cfg config.CannedResponseConfig, chainID uint64) *Responder {
	return &Responder{cfg: cfg, chainID: chainID}
}

// Respond returns a canned result for req, or nil if req isn't one of the
// methods this responder answers locally (either because the method has no
// canned answer, or because the operator disabled it).
func (r *Responder) Respond(req *types.EthRequest) json.RawMessage {
	switch req.Method {
	case types.MethodWeb3ClientVersion:
		if !r.cfg.IsMethodEnabled(r.cfg.Methods.Web3ClientVersion) {
			return nil
		}

		encoded, _ := json.Marshal(ClientVersion)

		return encoded

	case types.MethodEthChainID:
		if !r.cfg.IsMethodEnabled(r.cfg.Methods.EthChainID) {
			return nil
		}

		encoded, _ := json.Marshal(hexutil.EncodeUint64(r.chainID))

		return encoded

	default:
		return nil
	}
}
