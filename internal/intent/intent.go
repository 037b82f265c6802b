// Package intent defines the typed requests that advance a session and the
// state machine that validates and applies them.
package intent

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	json "github.com/goccy/go-json"
	"github.com/mselser95/predict-session/pkg/types"
)

// Kind tags an intent variant.
type Kind string

const (
	KindInitialize Kind = "INITIALIZE"
	KindOperate    Kind = "OPERATE"
	KindDeposit    Kind = "DEPOSIT"
	KindWithdraw   Kind = "WITHDRAW"
	KindFinalize   Kind = "FINALIZE"
)

// Payload is the kind-specific body of an intent. The concrete types below
// are the only implementations.
type Payload interface {
	Kind() Kind
	validate() error
}

// InitializePayload declares the participant set and opening allocations.
// The market operator is appended with a zero allocation when not listed.
type InitializePayload struct {
	Allocations []types.Allocation `json:"allocations"`
}

// OperatePayload buys shares of one side. Exactly one of Shares or Spend is
// set. MaxCost, when positive, is a slippage guard.
type OperatePayload struct {
	Participant common.Address `json:"participant"`
	Side        types.Side     `json:"side"`
	Shares      types.Shares   `json:"shares,omitempty"`
	Spend       types.Amount   `json:"spend,omitempty"`
	MaxCost     types.Amount   `json:"max_cost,omitempty"`
}

// DepositPayload credits funds from outside the session. A non-zero ChainRef
// names the custody transaction that must confirm first.
type DepositPayload struct {
	Participant common.Address `json:"participant"`
	Amount      types.Amount   `json:"amount"`
	ChainRef    common.Hash    `json:"chain_ref"`
}

// WithdrawPayload releases funds out of the session.
type WithdrawPayload struct {
	Participant common.Address `json:"participant"`
	Amount      types.Amount   `json:"amount"`
	ChainRef    common.Hash    `json:"chain_ref"`
}

// FinalizePayload resolves the market.
type FinalizePayload struct {
	Outcome types.Outcome `json:"outcome"`
}

func (InitializePayload) Kind() Kind { return KindInitialize }
func (OperatePayload) Kind() Kind    { return KindOperate }
func (DepositPayload) Kind() Kind    { return KindDeposit }
func (WithdrawPayload) Kind() Kind   { return KindWithdraw }
func (FinalizePayload) Kind() Kind   { return KindFinalize }

func malformed(format string, args ...any) error {
	return types.NewIntentError(types.CodeMalformedIntent, format, args...)
}

func (p InitializePayload) validate() error {
	if len(p.Allocations) < 2 {
		return malformed("initialize needs at least two participants, got %d", len(p.Allocations))
	}
	seen := make(map[common.Address]struct{}, len(p.Allocations))
	for _, a := range p.Allocations {
		if a.Participant == (common.Address{}) {
			return malformed("initialize lists the zero address")
		}
		if _, dup := seen[a.Participant]; dup {
			return malformed("participant %s listed twice", a.Participant.Hex())
		}
		seen[a.Participant] = struct{}{}
		if a.Amount < 0 {
			return malformed("negative opening allocation %s for %s", a.Amount, a.Participant.Hex())
		}
	}
	return nil
}

func (p OperatePayload) validate() error {
	if !p.Side.Valid() {
		return malformed("invalid side %s", p.Side)
	}
	if (p.Shares > 0) == (p.Spend > 0) {
		return malformed("operate needs exactly one of shares or spend")
	}
	if p.Shares < 0 || p.Spend < 0 || p.MaxCost < 0 {
		return malformed("operate quantities must be non-negative")
	}
	return nil
}

func (p DepositPayload) validate() error {
	if p.Amount <= 0 {
		return malformed("deposit amount must be positive, got %s", p.Amount)
	}
	return nil
}

func (p WithdrawPayload) validate() error {
	if p.Amount <= 0 {
		return malformed("withdraw amount must be positive, got %s", p.Amount)
	}
	return nil
}

func (p FinalizePayload) validate() error {
	if p.Outcome != types.OutcomeYes && p.Outcome != types.OutcomeNo {
		return malformed("finalize needs outcome YES or NO, got %s", p.Outcome)
	}
	return nil
}

// Intent is an immutable request to move a session from BaseVersion to
// BaseVersion+1. Allocations, when present, must equal the allocation set
// the machine computes. Signature is the proposer's signature over Digest.
type Intent struct {
	MarketID    string
	Kind        Kind
	BaseVersion uint64
	Payload     Payload
	Allocations []types.Allocation
	Proposer    common.Address
	Signature   hexutil.Bytes
}

// New builds an unsigned intent.
func New(marketID string, baseVersion uint64, payload Payload) *Intent {
	return &Intent{
		MarketID:    marketID,
		Kind:        payload.Kind(),
		BaseVersion: baseVersion,
		Payload:     payload,
	}
}

// Validate checks the intent's shape without looking at any session.
func (in *Intent) Validate() error {
	if in == nil || in.Payload == nil {
		return malformed("intent has no payload")
	}
	if in.MarketID == "" {
		return malformed("intent has no market id")
	}
	if in.Payload.Kind() != in.Kind {
		return malformed("intent kind %s carries %s payload", in.Kind, in.Payload.Kind())
	}
	return in.Payload.validate()
}

type wire struct {
	MarketID    string             `json:"market_id"`
	Kind        Kind               `json:"kind"`
	BaseVersion uint64             `json:"base_version"`
	Payload     json.RawMessage    `json:"payload"`
	Allocations []types.Allocation `json:"allocations,omitempty"`
	Proposer    common.Address     `json:"proposer"`
	Signature   hexutil.Bytes      `json:"signature,omitempty"`
}

// MarshalJSON encodes the payload inline under "payload".
func (in *Intent) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", in.Kind, err)
	}
	return json.Marshal(wire{
		MarketID:    in.MarketID,
		Kind:        in.Kind,
		BaseVersion: in.BaseVersion,
		Payload:     payload,
		Allocations: in.Allocations,
		Proposer:    in.Proposer,
		Signature:   in.Signature,
	})
}

// UnmarshalJSON decodes the payload according to "kind".
func (in *Intent) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return malformed("decode intent: %v", err)
	}

	payload, err := decodePayload(w.Kind, w.Payload)
	if err != nil {
		return err
	}

	*in = Intent{
		MarketID:    w.MarketID,
		Kind:        w.Kind,
		BaseVersion: w.BaseVersion,
		Payload:     payload,
		Allocations: w.Allocations,
		Proposer:    w.Proposer,
		Signature:   w.Signature,
	}
	return nil
}

func decodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, malformed("%s intent has no payload", kind)
	}

	var (
		p   Payload
		err error
	)
	switch kind {
	case KindInitialize:
		var v InitializePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindOperate:
		var v OperatePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindDeposit:
		var v DepositPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindWithdraw:
		var v WithdrawPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindFinalize:
		var v FinalizePayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, malformed("unknown intent kind %q", kind)
	}
	if err != nil {
		return nil, malformed("decode %s payload: %v", kind, err)
	}
	return p, nil
}
