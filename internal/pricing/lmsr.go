// Package pricing implements the binary Logarithmic Market Scoring Rule
// (Hanson, 2003) used as the session's automated market maker.
//
// For outstanding share totals qYes, qNo and liquidity b the cost function is
//
//	C(qYes, qNo) = b * ln(exp(qYes/b) + exp(qNo/b))
//
// and buying d shares of one side costs C(q + d) - C(q). All inputs and
// outputs are fixed-point; float64 is used only inside the exponential and
// every result is rounded back before it can touch a ledger. Costs round up,
// so the market maker never undercharges, and any positive trade costs at
// least one micro-unit.
package pricing

import (
	"math"

	"github.com/mselser95/predict-session/pkg/types"
)

const (
	// MaxIterations bounds the search in SharesForCost.
	MaxIterations = 128

	// CostTolerance is the largest gap, in micro-units, between a budget and
	// the cost of the shares SharesForCost returns for it.
	CostTolerance types.Amount = 2
)

// State is the AMM pricing state carried alongside a session.
type State struct {
	QYes      types.Shares `json:"q_yes"`
	QNo       types.Shares `json:"q_no"`
	Liquidity types.Amount `json:"liquidity"`
}

// NewState returns a fresh market with no outstanding shares.
func NewState(liquidity types.Amount) (State, error) {
	s := State{Liquidity: liquidity}
	if err := s.Validate(); err != nil {
		return State{}, err
	}
	return s, nil
}

// Validate rejects a non-positive liquidity parameter and negative totals.
func (s State) Validate() error {
	if s.Liquidity <= 0 {
		return types.NewIntentError(types.CodeMalformedIntent,
			"liquidity parameter must be positive, got %s", s.Liquidity)
	}
	if s.QYes < 0 || s.QNo < 0 {
		return types.NewIntentError(types.CodeMalformedIntent,
			"outstanding shares must be non-negative (yes=%s, no=%s)", s.QYes, s.QNo)
	}
	return nil
}

// Outstanding returns the outstanding total for one side.
func (s State) Outstanding(side types.Side) types.Shares {
	if side == types.SideYes {
		return s.QYes
	}
	return s.QNo
}

// Apply returns the state after delta shares of side are added to the
// outstanding total. A negative delta models shares leaving the market.
func (s State) Apply(side types.Side, delta types.Shares) (State, error) {
	if err := s.Validate(); err != nil {
		return State{}, err
	}
	if !side.Valid() {
		return State{}, types.NewIntentError(types.CodeMalformedIntent, "invalid side %s", side)
	}

	next, err := s.Outstanding(side).Add(delta)
	if err != nil {
		return State{}, err
	}
	if next < 0 {
		return State{}, types.NewIntentError(types.CodeMalformedIntent,
			"trade of %s %s shares would make outstanding total negative", delta, side)
	}

	if side == types.SideYes {
		s.QYes = next
	} else {
		s.QNo = next
	}
	return s, nil
}

// Cost returns the amount charged for buying delta shares of side.
func Cost(s State, side types.Side, delta types.Shares) (types.Amount, error) {
	if delta <= 0 {
		return 0, types.NewIntentError(types.CodeMalformedIntent, "share quantity must be positive, got %s", delta)
	}
	if _, err := s.Apply(side, delta); err != nil {
		return 0, err
	}

	b := s.Liquidity.Float64()
	d := delta.Float64() / b
	other := otherPrice(s, side)

	// ln(1 - p + p*e^d) rewritten as d + ln(1 + q*(e^-d - 1)) with q = 1-p.
	// Stable for large d and for small d alike.
	c := b * (d + math.Log1p(other*math.Expm1(-d)))

	return toMicrosUp(c)
}

// SharesForCost returns the largest share quantity whose cost does not
// exceed amount. Zero means amount cannot buy a single micro-share.
// The search doubles an upper bound then bisects, so it always finishes
// within MaxIterations cost evaluations.
func SharesForCost(s State, side types.Side, amount types.Amount) (types.Shares, error) {
	if amount <= 0 {
		return 0, types.NewIntentError(types.CodeMalformedIntent, "amount must be positive, got %s", amount)
	}
	if err := s.Validate(); err != nil {
		return 0, err
	}
	if !side.Valid() {
		return 0, types.NewIntentError(types.CodeMalformedIntent, "invalid side %s", side)
	}

	affordable := func(n types.Shares) bool {
		c, err := Cost(s, side, n)
		return err == nil && c <= amount
	}

	var lo types.Shares
	hi := types.WholeShares(1)
	iterations := 0

	for affordable(hi) && iterations < MaxIterations {
		lo = hi
		if hi > math.MaxInt64/2 {
			hi = math.MaxInt64
			break
		}
		hi *= 2
		iterations++
	}

	for hi-lo > 1 && iterations < MaxIterations {
		mid := lo + (hi-lo)/2
		if affordable(mid) {
			lo = mid
		} else {
			hi = mid
		}
		iterations++
	}

	return lo, nil
}

// Odds returns the implied probabilities of YES and NO. pYes is rounded to
// the probability scale and pNo is its complement, so the pair always sums
// to exactly one.
func Odds(s State) (pYes, pNo types.Probability, err error) {
	if err = s.Validate(); err != nil {
		return 0, 0, err
	}

	p := yesPrice(s)
	pYes = types.Probability(math.Round(p * types.ProbabilityScale))
	if pYes < 0 {
		pYes = 0
	}
	if pYes > types.ProbabilityScale {
		pYes = types.ProbabilityScale
	}

	return pYes, types.ProbabilityScale - pYes, nil
}

// MaxLoss returns the market maker's worst-case subsidy, b*ln(2), rounded up.
func MaxLoss(liquidity types.Amount) (types.Amount, error) {
	return toMicrosUp(liquidity.Float64() * math.Ln2)
}

// yesPrice is the logistic of (qYes-qNo)/b.
func yesPrice(s State) float64 {
	x := (s.QYes.Float64() - s.QNo.Float64()) / s.Liquidity.Float64()
	return sigmoid(x)
}

// otherPrice is the current price of the side not being bought.
func otherPrice(s State, side types.Side) float64 {
	x := (s.QYes.Float64() - s.QNo.Float64()) / s.Liquidity.Float64()
	if side == types.SideYes {
		return sigmoid(-x)
	}
	return sigmoid(x)
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// toMicrosUp converts a unit value to micro-units, rounding up and never
// returning less than one.
func toMicrosUp(units float64) (types.Amount, error) {
	scaled := units * types.AmountScale
	if math.IsNaN(scaled) || math.IsInf(scaled, 0) || scaled >= math.MaxInt64 {
		return 0, types.NewIntentError(types.CodeArithmeticOverflow, "cost %g exceeds representable range", units)
	}

	// Absorb float noise just above an integer boundary.
	micros := math.Ceil(scaled - 1e-6)
	if micros < 1 {
		micros = 1
	}
	return types.Amount(micros), nil
}
