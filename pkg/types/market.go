package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the market lifecycle stage. Values are ordered; a market only
// ever moves to a higher value.
type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusTrading
	StatusResolving
	StatusResolved
	StatusClosed
)

var statusNames = [...]string{"Pending", "Active", "Trading", "Resolving", "Resolved", "Closed"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Terminal reports whether no further intents are accepted.
func (s Status) Terminal() bool {
	return s >= StatusResolved
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if strings.EqualFold(name, string(b)) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(b))
}

// Outcome is the resolved result of a market.
type Outcome int

const (
	OutcomeUnresolved Outcome = iota
	OutcomeYes
	OutcomeNo
)

func (o Outcome) String() string {
	switch o {
	case OutcomeYes:
		return "YES"
	case OutcomeNo:
		return "NO"
	default:
		return "UNRESOLVED"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText accepts YES/Yes/yes, NO/No/no and UNRESOLVED.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "YES":
		*o = OutcomeYes
	case "NO":
		*o = OutcomeNo
	case "UNRESOLVED", "":
		*o = OutcomeUnresolved
	default:
		return fmt.Errorf("unknown outcome %q", string(b))
	}
	return nil
}

// Side is the outcome a trade buys into.
type Side int

const (
	SideYes Side = iota + 1
	SideNo
)

func (s Side) String() string {
	switch s {
	case SideYes:
		return "YES"
	case SideNo:
		return "NO"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool { return s == SideYes || s == SideNo }

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "YES":
		*s = SideYes
	case "NO":
		*s = SideNo
	default:
		return fmt.Errorf("unknown side %q", string(b))
	}
	return nil
}

// Market is one prediction market instance.
type Market struct {
	ID        string         `json:"id"`
	Question  string         `json:"question"`
	YesLabel  string         `json:"yes_label"`
	NoLabel   string         `json:"no_label"`
	Asset     string         `json:"asset"`
	Operator  common.Address `json:"operator"`
	Liquidity Amount         `json:"liquidity"`
	CreatedAt time.Time      `json:"created_at"`
	EndTime   time.Time      `json:"end_time"`
}

// Ended reports whether trading time is over at now. A zero EndTime never ends.
func (m *Market) Ended(now time.Time) bool {
	return !m.EndTime.IsZero() && !now.Before(m.EndTime)
}

// Allocation is one participant's balance of one asset.
type Allocation struct {
	Participant common.Address `json:"participant"`
	Asset       string         `json:"asset"`
	Amount      Amount         `json:"amount"`
}

// Position is a participant's share holdings in one market.
type Position struct {
	Participant common.Address `json:"participant"`
	YesShares   Shares         `json:"yes_shares"`
	NoShares    Shares         `json:"no_shares"`
	Invested    Amount         `json:"invested"`
}

// SharesFor returns the holding for one side.
func (p Position) SharesFor(side Side) Shares {
	if side == SideYes {
		return p.YesShares
	}
	return p.NoShares
}

// WinningShares returns the holding that pays out under outcome.
func (p Position) WinningShares(outcome Outcome) Shares {
	switch outcome {
	case OutcomeYes:
		return p.YesShares
	case OutcomeNo:
		return p.NoShares
	default:
		return 0
	}
}
