package intent

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/predict-session/internal/ledger"
	"github.com/mselser95/predict-session/internal/pricing"
	"github.com/mselser95/predict-session/internal/settlement"
	"github.com/mselser95/predict-session/pkg/types"
)

// DefaultWithdrawCapBPS limits a single withdrawal to 25% of the current allocation.
const DefaultWithdrawCapBPS = 2500

const bpsDenominator = 10_000

// Config holds state machine configuration.
type Config struct {
	// WithdrawCapBPS is the largest share of the current allocation, in basis
	// points, one withdrawal may take.
	WithdrawCapBPS int64
	// RequireSignatures rejects every unsigned intent. Without it only
	// INITIALIZE and DEPOSIT may arrive unsigned: the first is counter-signed
	// by the operator and the second is gated by its custody transaction.
	RequireSignatures bool
	// Now is the clock used for end-time checks and timestamps.
	Now func() time.Time
}

// Machine validates intents against a session and computes the successor
// state. It holds no session state of its own.
type Machine struct {
	withdrawCap       int64
	requireSignatures bool
	now               func() time.Time
}

// NewMachine creates a state machine.
func NewMachine(cfg Config) *Machine {
	m := &Machine{
		withdrawCap:       cfg.WithdrawCapBPS,
		requireSignatures: cfg.RequireSignatures,
		now:               cfg.Now,
	}
	if m.withdrawCap <= 0 || m.withdrawCap > bpsDenominator {
		m.withdrawCap = DefaultWithdrawCapBPS
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Result is a validated, uncommitted transition.
type Result struct {
	Next  ledger.State
	Delta ledger.Delta
	// ChainRef is the custody transaction to confirm before committing.
	ChainRef   common.Hash
	Trade      *types.Trade
	Settlement *settlement.Record
}

// NeedsConfirmation reports whether an on-chain confirmation gates the commit.
func (r *Result) NeedsConfirmation() bool {
	return r.ChainRef != (common.Hash{})
}

// Apply validates in against cur and returns the successor state. It never
// modifies cur. Rejections carry a typed IntentError.
func (m *Machine) Apply(market *types.Market, cur ledger.State, in *Intent) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.MarketID != cur.MarketID {
		return nil, malformed("intent targets market %s, session is %s", in.MarketID, cur.MarketID)
	}
	if in.BaseVersion != cur.Version {
		return nil, types.NewIntentError(types.CodeStaleVersion,
			"base version %d, current version %d", in.BaseVersion, cur.Version)
	}
	if cur.Status.Terminal() {
		return nil, types.NewIntentError(types.CodeInvalidTransition,
			"market %s is %s and accepts no intents", cur.MarketID, cur.Status)
	}
	if _, ok := in.Payload.(InitializePayload); !ok && cur.Status == types.StatusPending {
		return nil, types.NewIntentError(types.CodeInvalidTransition,
			"market %s is not initialized", cur.MarketID)
	}
	if err := m.checkSignature(&cur, in); err != nil {
		return nil, err
	}

	now := m.now()
	next := cur.Clone()
	next.UpdatedAt = now

	var (
		res = &Result{}
		err error
	)
	switch p := in.Payload.(type) {
	case InitializePayload:
		res.Delta, err = m.initialize(&next, p)
	case OperatePayload:
		if err = m.requireOpen(market, &cur, now); err == nil {
			res.Trade, err = m.operate(&next, p)
		}
	case DepositPayload:
		if err = m.requireOpen(market, &cur, now); err == nil {
			res.Delta, err = m.deposit(&next, p)
			res.ChainRef = p.ChainRef
		}
	case WithdrawPayload:
		if err = m.requireOpen(market, &cur, now); err == nil {
			res.Delta, err = m.withdraw(&next, p)
			res.ChainRef = p.ChainRef
		}
	case FinalizePayload:
		res.Settlement, err = m.finalize(&next, p)
	default:
		err = malformed("unsupported payload %T", in.Payload)
	}
	if err != nil {
		return nil, err
	}

	if in.Allocations != nil && !sameAllocations(in.Allocations, next.Allocations()) {
		return nil, malformed("proposed allocations do not match the computed allocation set")
	}
	if res.Trade != nil {
		res.Trade.MarketID = cur.MarketID
		res.Trade.Version = cur.Version + 1
		res.Trade.ExecutedAt = now
	}

	next.Version = cur.Version + 1
	res.Next = next
	return res, nil
}

func (m *Machine) checkSignature(cur *ledger.State, in *Intent) error {
	if !in.Signed() {
		if m.requireSignatures {
			return types.NewIntentError(types.CodeInvalidSignature, "intent is not signed")
		}
		switch in.Payload.(type) {
		case OperatePayload, WithdrawPayload, FinalizePayload:
			return types.NewIntentError(types.CodeInvalidSignature,
				"%s must be signed by its proposer", in.Kind)
		}
		return nil
	}
	if err := in.VerifySignature(); err != nil {
		return err
	}

	// Before initialization only the operator exists.
	if cur.Status == types.StatusPending {
		if in.Proposer != cur.Operator {
			return types.NewIntentError(types.CodeInvalidSignature,
				"only the operator %s may initialize", cur.Operator.Hex())
		}
		return nil
	}
	if cur.Index(in.Proposer) < 0 {
		return types.NewIntentError(types.CodeInvalidSignature,
			"proposer %s is not a participant", in.Proposer.Hex())
	}

	switch p := in.Payload.(type) {
	case OperatePayload:
		return requireProposer(in.Proposer, p.Participant)
	case WithdrawPayload:
		return requireProposer(in.Proposer, p.Participant)
	case FinalizePayload:
		return requireProposer(in.Proposer, cur.Operator)
	}
	return nil
}

func requireProposer(proposer, want common.Address) error {
	if proposer != want {
		return types.NewIntentError(types.CodeInvalidSignature,
			"intent for %s proposed by %s", want.Hex(), proposer.Hex())
	}
	return nil
}

// requireOpen rejects trading and fund movements once the market is past
// its end time or not yet initialized.
func (m *Machine) requireOpen(market *types.Market, cur *ledger.State, now time.Time) error {
	if cur.Status != types.StatusActive && cur.Status != types.StatusTrading {
		return types.NewIntentError(types.CodeInvalidTransition,
			"market %s is %s", cur.MarketID, cur.Status)
	}
	if market != nil && market.Ended(now) {
		return types.NewIntentError(types.CodeInvalidTransition,
			"market %s ended at %s and is resolving", cur.MarketID, market.EndTime.Format(time.RFC3339))
	}
	return nil
}

func (m *Machine) initialize(next *ledger.State, p InitializePayload) (ledger.Delta, error) {
	if next.Status != types.StatusPending {
		return ledger.Delta{}, types.NewIntentError(types.CodeInvalidTransition,
			"market %s is already initialized", next.MarketID)
	}

	accounts := make([]ledger.Account, 0, len(p.Allocations)+1)
	amounts := make([]types.Amount, 0, len(p.Allocations))
	hasOperator := false
	for _, a := range p.Allocations {
		if a.Asset != "" && a.Asset != next.Asset {
			return ledger.Delta{}, malformed("allocation in %s, session asset is %s", a.Asset, next.Asset)
		}
		if a.Participant == next.Operator {
			hasOperator = true
		}
		accounts = append(accounts, ledger.Account{
			Participant: a.Participant,
			Allocation:  a.Amount,
			NetDeposit:  a.Amount,
		})
		amounts = append(amounts, a.Amount)
	}
	if !hasOperator {
		accounts = append(accounts, ledger.Account{Participant: next.Operator})
	}

	total, err := types.SumAmounts(amounts...)
	if err != nil {
		return ledger.Delta{}, err
	}

	next.Accounts = accounts
	next.TotalDeposited = total
	next.Status = types.StatusActive
	return ledger.Delta{Deposit: total}, nil
}

func (m *Machine) operate(next *ledger.State, p OperatePayload) (*types.Trade, error) {
	i := next.Index(p.Participant)
	if i < 0 {
		return nil, malformed("%s is not a participant", p.Participant.Hex())
	}
	if p.Participant == next.Operator {
		return nil, types.NewIntentError(types.CodeInvalidTransition, "the operator cannot trade against its own market")
	}

	var (
		q   pricing.Quote
		err error
	)
	if p.Shares > 0 {
		q, err = pricing.QuoteShares(next.Pricing, p.Side, p.Shares)
	} else {
		q, err = pricing.QuoteSpend(next.Pricing, p.Side, p.Spend)
	}
	if err != nil {
		return nil, err
	}

	if p.MaxCost > 0 && q.Cost > p.MaxCost {
		return nil, types.NewIntentError(types.CodeCapExceeded,
			"cost %s exceeds max cost %s", q.Cost, p.MaxCost)
	}

	trader := &next.Accounts[i]
	if trader.Allocation < q.Cost {
		return nil, types.NewIntentError(types.CodeInsufficientFunds,
			"%s has %s, trade costs %s", p.Participant.Hex(), trader.Allocation, q.Cost)
	}

	op := &next.Accounts[next.Index(next.Operator)]
	credited, err := op.Allocation.Add(q.Cost)
	if err != nil {
		return nil, err
	}
	invested, err := trader.Invested.Add(q.Cost)
	if err != nil {
		return nil, err
	}
	var held types.Shares
	if p.Side == types.SideYes {
		held, err = trader.YesShares.Add(q.Shares)
	} else {
		held, err = trader.NoShares.Add(q.Shares)
	}
	if err != nil {
		return nil, err
	}

	trader.Allocation -= q.Cost
	trader.Invested = invested
	if p.Side == types.SideYes {
		trader.YesShares = held
	} else {
		trader.NoShares = held
	}
	op.Allocation = credited
	next.Pricing = q.After
	next.Status = types.StatusTrading

	return &types.Trade{
		Participant: p.Participant,
		Side:        p.Side,
		Shares:      q.Shares,
		Cost:        q.Cost,
		PYesAfter:   q.PYesAfter,
	}, nil
}

func (m *Machine) deposit(next *ledger.State, p DepositPayload) (ledger.Delta, error) {
	i := next.Index(p.Participant)
	if i < 0 {
		return ledger.Delta{}, malformed("%s is not a participant", p.Participant.Hex())
	}
	a := &next.Accounts[i]

	alloc, err := a.Allocation.Add(p.Amount)
	if err != nil {
		return ledger.Delta{}, err
	}
	net, err := a.NetDeposit.Add(p.Amount)
	if err != nil {
		return ledger.Delta{}, err
	}
	total, err := next.TotalDeposited.Add(p.Amount)
	if err != nil {
		return ledger.Delta{}, err
	}

	a.Allocation = alloc
	a.NetDeposit = net
	next.TotalDeposited = total
	return ledger.Delta{Deposit: p.Amount}, nil
}

func (m *Machine) withdraw(next *ledger.State, p WithdrawPayload) (ledger.Delta, error) {
	i := next.Index(p.Participant)
	if i < 0 {
		return ledger.Delta{}, malformed("%s is not a participant", p.Participant.Hex())
	}
	a := &next.Accounts[i]

	limit := m.WithdrawLimit(a.Allocation)
	if p.Amount > limit {
		return ledger.Delta{}, types.NewIntentError(types.CodeCapExceeded,
			"withdraw %s exceeds %d bps of allocation %s (limit %s)", p.Amount, m.withdrawCap, a.Allocation, limit)
	}
	if p.Amount > a.Allocation {
		return ledger.Delta{}, types.NewIntentError(types.CodeInsufficientFunds,
			"withdraw %s exceeds allocation %s", p.Amount, a.Allocation)
	}

	net, err := a.NetDeposit.Sub(p.Amount)
	if err != nil {
		return ledger.Delta{}, err
	}
	total, err := next.TotalWithdrawn.Add(p.Amount)
	if err != nil {
		return ledger.Delta{}, err
	}

	a.Allocation -= p.Amount
	a.NetDeposit = net
	next.TotalWithdrawn = total
	return ledger.Delta{Withdraw: p.Amount}, nil
}

// WithdrawLimit returns the most one withdrawal may take from allocation.
func (m *Machine) WithdrawLimit(allocation types.Amount) types.Amount {
	if allocation <= 0 {
		return 0
	}
	v := new(big.Int).Mul(big.NewInt(int64(allocation)), big.NewInt(m.withdrawCap))
	v.Quo(v, big.NewInt(bpsDenominator))
	return types.Amount(v.Int64())
}

func (m *Machine) finalize(next *ledger.State, p FinalizePayload) (*settlement.Record, error) {
	if next.Status != types.StatusActive && next.Status != types.StatusTrading {
		return nil, types.NewIntentError(types.CodeInvalidTransition,
			"market %s cannot finalize from %s", next.MarketID, next.Status)
	}

	pool, err := next.TotalAllocated()
	if err != nil {
		return nil, err
	}

	holdings := make([]settlement.Holding, len(next.Accounts))
	for i, a := range next.Accounts {
		holdings[i] = settlement.Holding{
			Participant:   a.Participant,
			WinningShares: a.Position().WinningShares(p.Outcome),
			NetDeposit:    a.NetDeposit,
		}
	}

	rec, err := settlement.Calculate(settlement.Input{Pool: pool, Outcome: p.Outcome, Holdings: holdings})
	if err != nil {
		return nil, err
	}

	for i, payout := range rec.Payouts {
		next.Accounts[i].Allocation = payout.Amount
	}
	next.Payouts = rec.Payouts
	next.Outcome = p.Outcome
	next.Status = types.StatusResolved
	return rec, nil
}

func sameAllocations(proposed, computed []types.Allocation) bool {
	if len(proposed) != len(computed) {
		return false
	}
	for i := range proposed {
		p, c := proposed[i], computed[i]
		if p.Participant != c.Participant || p.Amount != c.Amount {
			return false
		}
		if p.Asset != "" && p.Asset != c.Asset {
			return false
		}
	}
	return true
}
