// Package settlement computes final payouts for a resolved market.
//
// The pool is split pro rata over winning shares with floor division. The
// integer remainder goes to the largest winning holder; ties go to the
// holder listed first. When nobody holds the winning side the pool is
// refunded pro rata over net deposits instead, with the remainder going to
// the largest net depositor under the same tie break.
package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/predict-session/pkg/types"
)

// Holding is one participant's input to settlement.
type Holding struct {
	Participant   common.Address `json:"participant"`
	WinningShares types.Shares   `json:"winning_shares"`
	// NetDeposit is everything deposited minus everything withdrawn. It can
	// be negative for a participant who withdrew trading gains.
	NetDeposit types.Amount `json:"net_deposit"`
}

// Input is the full settlement request. Holdings order is significant: it
// decides remainder ties.
type Input struct {
	Pool     types.Amount  `json:"pool"`
	Outcome  types.Outcome `json:"outcome"`
	Holdings []Holding     `json:"holdings"`
}

// Record is the settlement result. Payouts follow Holdings order.
type Record struct {
	Outcome      types.Outcome  `json:"outcome"`
	Pool         types.Amount   `json:"pool"`
	TotalWinning types.Shares   `json:"total_winning"`
	Refund       bool           `json:"refund"`
	Payouts      []types.Payout `json:"payouts"`
	Remainder    types.Amount   `json:"remainder"`
	RemainderTo  common.Address `json:"remainder_to"`
}

// Total returns the sum of all payouts.
func (r *Record) Total() (types.Amount, error) {
	amounts := make([]types.Amount, len(r.Payouts))
	for i, p := range r.Payouts {
		amounts[i] = p.Amount
	}
	return types.SumAmounts(amounts...)
}

// PayoutFor returns the payout of one participant, or zero.
func (r *Record) PayoutFor(participant common.Address) types.Amount {
	for _, p := range r.Payouts {
		if p.Participant == participant {
			return p.Amount
		}
	}
	return 0
}

// Calculate splits the pool. It has no side effects.
func Calculate(in Input) (*Record, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	weights := make([]int64, len(in.Holdings))
	var totalWinning types.Shares
	for i, h := range in.Holdings {
		weights[i] = int64(h.WinningShares)
		next, err := totalWinning.Add(h.WinningShares)
		if err != nil {
			return nil, err
		}
		totalWinning = next
	}

	refund := totalWinning == 0
	if refund {
		for i, h := range in.Holdings {
			weights[i] = max(int64(h.NetDeposit), 0)
		}
	}

	payouts, remainder, idx, err := split(in.Pool, weights)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Outcome:      in.Outcome,
		Pool:         in.Pool,
		TotalWinning: totalWinning,
		Refund:       refund,
		Payouts:      make([]types.Payout, len(in.Holdings)),
		Remainder:    remainder,
	}
	for i, h := range in.Holdings {
		rec.Payouts[i] = types.Payout{Participant: h.Participant, Amount: payouts[i]}
	}
	if idx >= 0 {
		rec.RemainderTo = in.Holdings[idx].Participant
	}

	return rec, nil
}

func validate(in Input) error {
	if in.Outcome != types.OutcomeYes && in.Outcome != types.OutcomeNo {
		return types.NewIntentError(types.CodeMalformedIntent, "settlement needs a YES or NO outcome, got %s", in.Outcome)
	}
	if in.Pool < 0 {
		return types.NewIntentError(types.CodeMalformedIntent, "negative pool %s", in.Pool)
	}
	if len(in.Holdings) == 0 {
		return types.NewIntentError(types.CodeMalformedIntent, "no holdings to settle")
	}

	seen := make(map[common.Address]struct{}, len(in.Holdings))
	for _, h := range in.Holdings {
		if h.WinningShares < 0 {
			return types.NewIntentError(types.CodeMalformedIntent, "negative winning shares for %s", h.Participant.Hex())
		}
		if _, dup := seen[h.Participant]; dup {
			return types.NewIntentError(types.CodeMalformedIntent, "duplicate holding for %s", h.Participant.Hex())
		}
		seen[h.Participant] = struct{}{}
	}
	return nil
}

// split divides pool pro rata over weights using floor division and hands the
// remainder to the largest weight (first on ties). It returns the index that
// received the remainder, or -1 when the pool is empty.
func split(pool types.Amount, weights []int64) ([]types.Amount, types.Amount, int, error) {
	out := make([]types.Amount, len(weights))
	if pool == 0 {
		return out, 0, -1, nil
	}

	total := new(big.Int)
	largest := -1
	for i, w := range weights {
		total.Add(total, big.NewInt(w))
		if w > 0 && (largest < 0 || w > weights[largest]) {
			largest = i
		}
	}
	if total.Sign() == 0 {
		// A positive pool with nothing to weigh it by means the ledger lost
		// track of where the funds came from.
		return nil, 0, -1, types.NewIntentError(types.CodeInvariantViolation,
			"pool %s has no winning shares and no net deposits to refund against", pool)
	}

	p := big.NewInt(int64(pool))
	var distributed int64
	share := new(big.Int)
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		share.Mul(p, big.NewInt(w))
		share.Quo(share, total)
		// share <= pool, so it fits.
		out[i] = types.Amount(share.Int64())
		distributed += share.Int64()
	}

	remainder := types.Amount(int64(pool) - distributed)
	out[largest] += remainder
	return out, remainder, largest, nil
}
