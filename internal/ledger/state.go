package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	json "github.com/goccy/go-json"
	"github.com/mselser95/predict-session/internal/pricing"
	"github.com/mselser95/predict-session/pkg/types"
)

// Account is one participant's slot in a session.
type Account struct {
	Participant common.Address `json:"participant"`
	Allocation  types.Amount   `json:"allocation"`
	YesShares   types.Shares   `json:"yes_shares"`
	NoShares    types.Shares   `json:"no_shares"`
	Invested    types.Amount   `json:"invested"`
	// NetDeposit is deposits (including the initial allocation) minus withdrawals.
	NetDeposit types.Amount `json:"net_deposit"`
}

// Position returns the account's share holdings.
func (a Account) Position() types.Position {
	return types.Position{
		Participant: a.Participant,
		YesShares:   a.YesShares,
		NoShares:    a.NoShares,
		Invested:    a.Invested,
	}
}

// State is the materialized session at one version. Accounts keep
// participant order from initialization.
type State struct {
	MarketID       string         `json:"market_id"`
	Asset          string         `json:"asset"`
	Operator       common.Address `json:"operator"`
	Version        uint64         `json:"version"`
	Status         types.Status   `json:"status"`
	Outcome        types.Outcome  `json:"outcome"`
	Accounts       []Account      `json:"accounts"`
	Pricing        pricing.State  `json:"pricing"`
	TotalDeposited types.Amount   `json:"total_deposited"`
	TotalWithdrawn types.Amount   `json:"total_withdrawn"`
	Payouts        []types.Payout `json:"payouts,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Genesis returns the Pending state of a freshly created market.
func Genesis(m *types.Market) (State, error) {
	ps, err := pricing.NewState(m.Liquidity)
	if err != nil {
		return State{}, err
	}
	return State{
		MarketID:  m.ID,
		Asset:     m.Asset,
		Operator:  m.Operator,
		Status:    types.StatusPending,
		Pricing:   ps,
		UpdatedAt: m.CreatedAt,
	}, nil
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Accounts = append([]Account(nil), s.Accounts...)
	if s.Payouts != nil {
		out.Payouts = append([]types.Payout(nil), s.Payouts...)
	}
	return out
}

// Index returns the account index of participant, or -1.
func (s *State) Index(participant common.Address) int {
	for i := range s.Accounts {
		if s.Accounts[i].Participant == participant {
			return i
		}
	}
	return -1
}

// Account returns a copy of participant's account.
func (s *State) Account(participant common.Address) (Account, bool) {
	i := s.Index(participant)
	if i < 0 {
		return Account{}, false
	}
	return s.Accounts[i], true
}

// Participants returns the ordered participant list.
func (s *State) Participants() []common.Address {
	out := make([]common.Address, len(s.Accounts))
	for i := range s.Accounts {
		out[i] = s.Accounts[i].Participant
	}
	return out
}

// Allocations returns the allocation set in participant order.
func (s *State) Allocations() []types.Allocation {
	out := make([]types.Allocation, len(s.Accounts))
	for i, a := range s.Accounts {
		out[i] = types.Allocation{Participant: a.Participant, Asset: s.Asset, Amount: a.Allocation}
	}
	return out
}

// TotalAllocated sums every allocation.
func (s *State) TotalAllocated() (types.Amount, error) {
	amounts := make([]types.Amount, len(s.Accounts))
	for i, a := range s.Accounts {
		amounts[i] = a.Allocation
	}
	return types.SumAmounts(amounts...)
}

// Encode returns the canonical JSON encoding.
func (s *State) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session state: %w", err)
	}
	return data, nil
}

// Digest is the keccak256 hash of the canonical encoding. Counter-signatures
// are made over it.
func (s *State) Digest() (common.Hash, error) {
	data, err := s.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(data), nil
}

// Decode parses a state produced by Encode.
func Decode(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode session state: %w", err)
	}
	return s, nil
}
