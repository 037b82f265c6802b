package pricing

import (
	"github.com/mselser95/predict-session/pkg/types"
)

// Quote previews a trade without changing any state.
type Quote struct {
	Side         types.Side        `json:"side"`
	Shares       types.Shares      `json:"shares"`
	Cost         types.Amount      `json:"cost"`
	AveragePrice float64           `json:"average_price"`
	PYesBefore   types.Probability `json:"p_yes_before"`
	PYesAfter    types.Probability `json:"p_yes_after"`
	PriceImpact  float64           `json:"price_impact"`
	After        State             `json:"-"`
}

// QuoteShares prices buying a fixed number of shares.
func QuoteShares(s State, side types.Side, shares types.Shares) (Quote, error) {
	cost, err := Cost(s, side, shares)
	if err != nil {
		return Quote{}, err
	}
	return buildQuote(s, side, shares, cost)
}

// QuoteSpend prices spending up to amount. The returned cost is the exact
// cost of the returned shares and never exceeds amount.
func QuoteSpend(s State, side types.Side, amount types.Amount) (Quote, error) {
	shares, err := SharesForCost(s, side, amount)
	if err != nil {
		return Quote{}, err
	}
	if shares == 0 {
		return Quote{}, types.NewIntentError(types.CodeMalformedIntent, "%s buys no %s shares", amount, side)
	}

	cost, err := Cost(s, side, shares)
	if err != nil {
		return Quote{}, err
	}
	return buildQuote(s, side, shares, cost)
}

func buildQuote(s State, side types.Side, shares types.Shares, cost types.Amount) (Quote, error) {
	before, _, err := Odds(s)
	if err != nil {
		return Quote{}, err
	}

	after, err := s.Apply(side, shares)
	if err != nil {
		return Quote{}, err
	}

	pAfter, _, err := Odds(after)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Side:         side,
		Shares:       shares,
		Cost:         cost,
		AveragePrice: cost.Float64() / shares.Float64(),
		PYesBefore:   before,
		PYesAfter:    pAfter,
		PriceImpact:  pAfter.Float64() - before.Float64(),
		After:        after,
	}, nil
}
