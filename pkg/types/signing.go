package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	json "github.com/goccy/go-json"
)

// Proposal is a candidate session state sent out for counter-signature.
// Signers sign Digest, the keccak256 hash of State.
type Proposal struct {
	MarketID     string           `json:"market_id"`
	Version      uint64           `json:"version"`
	Digest       common.Hash      `json:"digest"`
	Participants []common.Address `json:"participants"`
	State        json.RawMessage  `json:"state"`
}

// Signature is one participant's counter-signature over a proposal digest.
type Signature struct {
	Signer    common.Address `json:"signer"`
	Signature hexutil.Bytes  `json:"signature"`
}
