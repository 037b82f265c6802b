package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Trade records one applied OPERATE intent.
type Trade struct {
	MarketID    string         `json:"market_id"`
	Participant common.Address `json:"participant"`
	Side        Side           `json:"side"`
	Shares      Shares         `json:"shares"`
	Cost        Amount         `json:"cost"`
	PYesAfter   Probability    `json:"p_yes_after"`
	Version     uint64         `json:"version"`
	ExecutedAt  time.Time      `json:"executed_at"`
}

// AveragePrice returns cost per whole share.
func (t Trade) AveragePrice() float64 {
	if t.Shares == 0 {
		return 0
	}
	return t.Cost.Float64() / t.Shares.Float64()
}

// Payout is one participant's settlement result.
type Payout struct {
	Participant common.Address `json:"participant"`
	Amount      Amount         `json:"amount"`
}
