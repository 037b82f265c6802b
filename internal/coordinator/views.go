package coordinator

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/predict-session/internal/ledger"
	"github.com/mselser95/predict-session/internal/pricing"
	"github.com/mselser95/predict-session/pkg/cache"
	"github.com/mselser95/predict-session/pkg/types"
)

const (
	viewKind  = "state"
	quoteKind = "quote"
)

// Snapshot is the read view of one session.
type Snapshot struct {
	Market types.Market `json:"market"`
	State  ledger.State `json:"state"`
	// Status is the effective status: an Active or Trading session past its
	// end time reports Resolving until it is finalized.
	Status types.Status      `json:"status"`
	PYes   types.Probability `json:"p_yes"`
	PNo    types.Probability `json:"p_no"`
	Halted string            `json:"halted,omitempty"`
}

// GetMarketState returns the current snapshot of marketID.
func (c *Coordinator) GetMarketState(marketID string) (*Snapshot, error) {
	s, err := c.lookup(marketID)
	if err != nil {
		return nil, err
	}

	state := s.ledger.Snapshot()
	ended := s.market.Ended(c.now())
	halted := s.ledger.Halted()

	// The effective status depends on the clock, and halting does not bump
	// the version, so only plain open views are cached.
	cacheable := c.cache != nil && !ended && halted == nil
	key := cache.VersionKey(viewKind, marketID, state.Version)
	if cacheable {
		if v, ok := c.cache.Get(key); ok {
			if snap, ok := v.(*Snapshot); ok {
				out := *snap
				out.State = snap.State.Clone()
				return &out, nil
			}
		}
	}

	pYes, pNo, err := pricing.Odds(state.Pricing)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Market: *s.market,
		State:  state,
		Status: state.Status,
		PYes:   pYes,
		PNo:    pNo,
	}
	if ended && (state.Status == types.StatusActive || state.Status == types.StatusTrading) {
		snap.Status = types.StatusResolving
	}
	if halted != nil {
		snap.Halted = halted.Error()
	}

	if cacheable {
		stored := *snap
		stored.State = state.Clone()
		c.cache.Set(key, &stored, c.cacheTTL)
	}
	return snap, nil
}

// GetPosition returns participant's holdings in marketID.
func (c *Coordinator) GetPosition(marketID string, participant common.Address) (types.Position, error) {
	s, err := c.lookup(marketID)
	if err != nil {
		return types.Position{}, err
	}

	state := s.ledger.Snapshot()
	acct, ok := state.Account(participant)
	if !ok {
		return types.Position{}, types.NewIntentError(types.CodeMalformedIntent,
			"%s is not a participant of market %s", participant.Hex(), marketID)
	}
	return acct.Position(), nil
}

// Quote prices a trade against the current state without applying it.
// Exactly one of shares or spend must be positive.
func (c *Coordinator) Quote(marketID string, side types.Side, shares types.Shares, spend types.Amount) (*pricing.Quote, error) {
	if !side.Valid() {
		return nil, types.NewIntentError(types.CodeMalformedIntent, "invalid side %s", side)
	}
	if (shares > 0) == (spend > 0) || shares < 0 || spend < 0 {
		return nil, types.NewIntentError(types.CodeMalformedIntent, "quote needs exactly one of shares or spend")
	}

	s, err := c.lookup(marketID)
	if err != nil {
		return nil, err
	}
	state := s.ledger.Snapshot()
	if state.Status.Terminal() {
		return nil, types.NewIntentError(types.CodeInvalidTransition,
			"market %s is %s and does not trade", marketID, state.Status)
	}

	key := cache.VersionKey(quoteKind, marketID, state.Version, side.String(), shares.String(), spend.String())
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			if q, ok := v.(pricing.Quote); ok {
				return &q, nil
			}
		}
	}

	var q pricing.Quote
	if shares > 0 {
		q, err = pricing.QuoteShares(state.Pricing, side, shares)
	} else {
		q, err = pricing.QuoteSpend(state.Pricing, side, spend)
	}
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Set(key, q, c.cacheTTL)
	}
	return &q, nil
}
