package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/predict-session/pkg/types"
)

func violation(format string, args ...any) error {
	return types.NewIntentError(types.CodeInvariantViolation, format, args...)
}

// checkStanding verifies the invariants every committed state must hold on
// its own.
func checkStanding(s *State) error {
	if err := s.Pricing.Validate(); err != nil {
		return violation("pricing state: %v", err)
	}

	seen := make(map[common.Address]struct{}, len(s.Accounts))
	operator := false
	var yes, no types.Shares
	nets := make([]types.Amount, 0, len(s.Accounts))

	for _, a := range s.Accounts {
		if _, dup := seen[a.Participant]; dup {
			return violation("participant %s appears twice", a.Participant.Hex())
		}
		seen[a.Participant] = struct{}{}
		if a.Participant == s.Operator {
			operator = true
		}
		if a.Allocation < 0 {
			return violation("negative allocation %s for %s", a.Allocation, a.Participant.Hex())
		}
		if a.YesShares < 0 || a.NoShares < 0 {
			return violation("negative shares for %s", a.Participant.Hex())
		}

		var err error
		if yes, err = yes.Add(a.YesShares); err != nil {
			return err
		}
		if no, err = no.Add(a.NoShares); err != nil {
			return err
		}
		nets = append(nets, a.NetDeposit)
	}

	if len(s.Accounts) > 0 && !operator {
		return violation("operator %s is not a participant", s.Operator.Hex())
	}
	if yes != s.Pricing.QYes || no != s.Pricing.QNo {
		return violation("positions hold yes=%s no=%s but market has yes=%s no=%s",
			yes, no, s.Pricing.QYes, s.Pricing.QNo)
	}

	allocated, err := s.TotalAllocated()
	if err != nil {
		return err
	}
	pool, err := s.TotalDeposited.Sub(s.TotalWithdrawn)
	if err != nil {
		return err
	}
	if allocated != pool {
		return violation("allocations sum to %s but deposited-withdrawn is %s", allocated, pool)
	}

	net, err := types.SumAmounts(nets...)
	if err != nil {
		return err
	}
	if net != pool {
		return violation("net deposits sum to %s but deposited-withdrawn is %s", net, pool)
	}
	return nil
}

// checkTransition verifies that next may follow cur given the declared delta.
func checkTransition(cur, next *State, delta Delta) error {
	if delta.Deposit < 0 || delta.Withdraw < 0 {
		return violation("negative external delta %+v", delta)
	}
	if next.MarketID != cur.MarketID || next.Asset != cur.Asset || next.Operator != cur.Operator {
		return violation("candidate rewrites market identity")
	}
	if next.Status < cur.Status {
		return violation("status moves backward from %s to %s", cur.Status, next.Status)
	}
	if next.Pricing.Liquidity != cur.Pricing.Liquidity {
		return violation("liquidity changed from %s to %s", cur.Pricing.Liquidity, next.Pricing.Liquidity)
	}
	if next.Pricing.QYes < cur.Pricing.QYes || next.Pricing.QNo < cur.Pricing.QNo {
		return violation("outstanding shares decreased")
	}

	if cur.Status != types.StatusPending {
		if len(next.Accounts) != len(cur.Accounts) {
			return violation("participant set changed after initialization")
		}
		for i := range cur.Accounts {
			if next.Accounts[i].Participant != cur.Accounts[i].Participant {
				return violation("participant order changed at %d", i)
			}
		}
	}

	wantDeposited, err := cur.TotalDeposited.Add(delta.Deposit)
	if err != nil {
		return err
	}
	wantWithdrawn, err := cur.TotalWithdrawn.Add(delta.Withdraw)
	if err != nil {
		return err
	}
	if next.TotalDeposited != wantDeposited || next.TotalWithdrawn != wantWithdrawn {
		return violation("deposit totals do not match declared delta %+v", delta)
	}

	before, err := cur.TotalAllocated()
	if err != nil {
		return err
	}
	after, err := next.TotalAllocated()
	if err != nil {
		return err
	}
	moved, err := after.Sub(before)
	if err != nil {
		return err
	}
	net, err := delta.Net()
	if err != nil {
		return err
	}
	if moved != net {
		return violation("allocations moved by %s but declared delta is %s", moved, net)
	}

	return checkStanding(next)
}
