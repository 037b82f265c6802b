// Package ledger holds the authoritative state of one market session and
// guards every mutation with an optimistic version check and a set of
// conservation invariants.
package ledger

import (
	"errors"
	"sync"

	"github.com/mselser95/predict-session/pkg/types"
	"go.uber.org/zap"
)

// Delta is the external value an apply declares. Deposits and withdrawals
// are the only way funds enter or leave a session.
type Delta struct {
	Deposit  types.Amount `json:"deposit"`
	Withdraw types.Amount `json:"withdraw"`
}

// Net returns Deposit - Withdraw.
func (d Delta) Net() (types.Amount, error) {
	return d.Deposit.Sub(d.Withdraw)
}

// Ledger owns one session. All methods are safe for concurrent use.
type Ledger struct {
	mu     sync.RWMutex
	state  State
	halted error
	logger *zap.Logger
}

// New creates a ledger at the given state. A restored state is checked
// before it is accepted.
func New(initial State, logger *zap.Logger) (*Ledger, error) {
	if err := checkStanding(&initial); err != nil {
		return nil, err
	}
	return &Ledger{
		state:  initial.Clone(),
		logger: logger,
	}, nil
}

// Version returns the current committed version.
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Version
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Clone()
}

// Halted returns the violation that halted the session, or nil.
func (l *Ledger) Halted() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.halted
}

// Halt stops the session. Every later apply fails with SessionHalted.
func (l *Ledger) Halt(cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.haltLocked(cause)
}

func (l *Ledger) haltLocked(cause error) {
	if l.halted != nil {
		return
	}
	l.halted = cause
	l.logger.Error("session-halted",
		zap.String("market-id", l.state.MarketID),
		zap.Uint64("version", l.state.Version),
		zap.Error(cause))
}

// Check verifies that next is a legal successor of the current state
// without committing it. Version and invariant failures are returned as
// StaleVersion and InvariantViolation respectively.
func (l *Ledger) Check(expectedVersion uint64, next State, delta Delta) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkLocked(expectedVersion, &next, delta)
}

// ProposeApply commits next as version expectedVersion+1. It fails without
// touching state when expectedVersion is not current. An invariant failure
// halts the session.
func (l *Ledger) ProposeApply(expectedVersion uint64, next State, delta Delta) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkLocked(expectedVersion, &next, delta); err != nil {
		if errors.Is(err, types.ErrInvariantViolation) {
			l.haltLocked(err)
		}
		return 0, err
	}

	committed := next.Clone()
	committed.Version = expectedVersion + 1
	l.state = committed

	return committed.Version, nil
}

// Close moves a resolved session to Closed. The version does not change.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted != nil {
		return types.NewIntentError(types.CodeSessionHalted, "session %s is halted", l.state.MarketID)
	}
	if l.state.Status != types.StatusResolved {
		return types.NewIntentError(types.CodeInvalidTransition,
			"cannot close session %s in status %s", l.state.MarketID, l.state.Status)
	}
	l.state.Status = types.StatusClosed
	return nil
}

func (l *Ledger) checkLocked(expectedVersion uint64, next *State, delta Delta) error {
	if l.halted != nil {
		return types.NewIntentError(types.CodeSessionHalted, "session %s is halted: %v", l.state.MarketID, l.halted)
	}
	if expectedVersion != l.state.Version {
		return types.NewIntentError(types.CodeStaleVersion,
			"base version %d, current version %d", expectedVersion, l.state.Version)
	}
	if next.Version != expectedVersion && next.Version != expectedVersion+1 {
		return violation("candidate version %d does not extend %d", next.Version, expectedVersion)
	}
	return checkTransition(&l.state, next, delta)
}
