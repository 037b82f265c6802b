// Package coordinator serializes intents per market session and is the
// boundary to counter-signature collection, on-chain confirmation and
// persistence.
//
// Commit discipline: an intent is validated, its custody reference is
// confirmed on chain, the successor state is counter-signed and persisted,
// and only then is it applied to the ledger. No state is ever visible before
// it is counter-signed, so a failed or timed out signature round leaves the
// session exactly as it was.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/predict-session/internal/intent"
	"github.com/mselser95/predict-session/internal/ledger"
	"github.com/mselser95/predict-session/internal/settlement"
	"github.com/mselser95/predict-session/internal/storage"
	"github.com/mselser95/predict-session/pkg/cache"
	"github.com/mselser95/predict-session/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Signer collects participant counter-signatures over a proposed state.
// Retrying the same proposal must be safe.
type Signer interface {
	RequestCounterSignatures(ctx context.Context, p *types.Proposal) ([]types.Signature, error)
}

// Confirmer waits for a custody transaction to be final.
type Confirmer interface {
	WaitForConfirmation(ctx context.Context, ref common.Hash) error
}

// Config holds coordinator configuration.
type Config struct {
	Storage   storage.Storage
	Signer    Signer
	Confirmer Confirmer // nil rejects every intent that carries a chain reference
	Cache     cache.Cache
	CacheTTL  time.Duration
	Machine   intent.Config

	// SignatureTimeout bounds one signature round including retries.
	SignatureTimeout time.Duration
	// SignatureQuorum is the number of distinct participant signatures a
	// commit needs. Zero means every participant.
	SignatureQuorum int
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64

	DefaultAsset     string
	DefaultLiquidity types.Amount

	Now    func() time.Time
	Logger *zap.Logger
}

type session struct {
	mu     sync.Mutex
	market *types.Market
	ledger *ledger.Ledger
}

// Coordinator owns every open session. Intents for one market run one at a
// time; different markets proceed in parallel.
type Coordinator struct {
	storage   storage.Storage
	signer    Signer
	confirmer Confirmer
	cache     cache.Cache
	cacheTTL  time.Duration
	machine   *intent.Machine

	signatureTimeout time.Duration
	quorum           int
	retryInitial     time.Duration
	retryMax         time.Duration
	retryMultiplier  float64

	defaultAsset     string
	defaultLiquidity types.Amount

	now    func() time.Time
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// New creates a coordinator.
func New(cfg *Config) (*Coordinator, error) {
	if cfg.Storage == nil {
		return nil, errors.New("coordinator needs a storage backend")
	}
	if cfg.Signer == nil {
		return nil, errors.New("coordinator needs a signer")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Coordinator{
		storage:          cfg.Storage,
		signer:           cfg.Signer,
		confirmer:        cfg.Confirmer,
		cache:            cfg.Cache,
		cacheTTL:         cfg.CacheTTL,
		signatureTimeout: cfg.SignatureTimeout,
		quorum:           cfg.SignatureQuorum,
		retryInitial:     cfg.RetryInitial,
		retryMax:         cfg.RetryMax,
		retryMultiplier:  cfg.RetryMultiplier,
		defaultAsset:     cfg.DefaultAsset,
		defaultLiquidity: cfg.DefaultLiquidity,
		now:              cfg.Now,
		logger:           cfg.Logger,
		sessions:         make(map[string]*session),
	}

	if c.now == nil {
		c.now = time.Now
	}
	machineCfg := cfg.Machine
	if machineCfg.Now == nil {
		machineCfg.Now = c.now
	}
	c.machine = intent.NewMachine(machineCfg)

	if c.signatureTimeout <= 0 {
		c.signatureTimeout = 30 * time.Second
	}
	if c.retryInitial <= 0 {
		c.retryInitial = 100 * time.Millisecond
	}
	if c.retryMax < c.retryInitial {
		c.retryMax = c.retryInitial
	}
	if c.retryMultiplier < 1 {
		c.retryMultiplier = 2.0
	}
	if c.defaultAsset == "" {
		c.defaultAsset = "USDC"
	}

	return c, nil
}

// CreateMarketRequest describes a new market. Zero Asset and Liquidity take
// the coordinator defaults.
type CreateMarketRequest struct {
	Question  string         `json:"question"`
	YesLabel  string         `json:"yes_label"`
	NoLabel   string         `json:"no_label"`
	Asset     string         `json:"asset"`
	Operator  common.Address `json:"operator"`
	Liquidity types.Amount   `json:"liquidity"`
	EndTime   time.Time      `json:"end_time"`
}

// Receipt is the result of a committed intent.
type Receipt struct {
	MarketID   string             `json:"market_id"`
	Version    uint64             `json:"version"`
	State      ledger.State       `json:"state"`
	Trade      *types.Trade       `json:"trade,omitempty"`
	Settlement *settlement.Record `json:"settlement,omitempty"`
	Signatures []types.Signature  `json:"signatures"`
}

func (c *Coordinator) lookup(marketID string) (*session, error) {
	c.mu.RLock()
	s, ok := c.sessions[marketID]
	c.mu.RUnlock()
	if !ok {
		return nil, types.NewIntentError(types.CodeUnknownMarket, "market %s is not open here", marketID)
	}
	return s, nil
}

func (c *Coordinator) register(s *session) {
	c.mu.Lock()
	c.sessions[s.market.ID] = s
	c.mu.Unlock()
	OpenSessions.Set(float64(c.openCount()))
}

// openCount returns the number of sessions not yet closed.
func (c *Coordinator) openCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, s := range c.sessions {
		if s.ledger.Snapshot().Status != types.StatusClosed {
			n++
		}
	}
	return n
}

// MarketIDs returns the ids of every session served here, closed ones
// included.
func (c *Coordinator) MarketIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

// HaltedSessions returns the ids of sessions stopped by an invariant violation.
func (c *Coordinator) HaltedSessions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var halted []string
	for id, s := range c.sessions {
		if s.ledger.Halted() != nil {
			halted = append(halted, id)
		}
	}
	return halted
}

// SubmitIntent validates in against its session and, once confirmed and
// counter-signed, commits it. Every rejection is a typed IntentError and
// leaves the session unchanged.
func (c *Coordinator) SubmitIntent(ctx context.Context, in *intent.Intent) (*Receipt, error) {
	if in == nil {
		return nil, types.NewIntentError(types.CodeMalformedIntent, "no intent")
	}

	timer := prometheus.NewTimer(ApplyDuration.WithLabelValues(string(in.Kind)))
	defer timer.ObserveDuration()

	s, err := c.lookup(in.MarketID)
	if err != nil {
		c.reject(in, err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, err := c.submitLocked(ctx, s, in)
	if err != nil {
		c.reject(in, err)
		return nil, err
	}

	IntentsTotal.WithLabelValues(string(in.Kind), "committed").Inc()
	c.logger.Info("intent-committed",
		zap.String("market-id", receipt.MarketID),
		zap.String("kind", string(in.Kind)),
		zap.Uint64("version", receipt.Version),
		zap.Int("signatures", len(receipt.Signatures)))

	return receipt, nil
}

func (c *Coordinator) submitLocked(ctx context.Context, s *session, in *intent.Intent) (*Receipt, error) {
	if cause := s.ledger.Halted(); cause != nil {
		return nil, types.NewIntentError(types.CodeSessionHalted, "session %s is halted: %v", s.market.ID, cause)
	}

	cur := s.ledger.Snapshot()
	res, err := c.machine.Apply(s.market, cur, in)
	if err != nil {
		return nil, err
	}

	if res.NeedsConfirmation() {
		if err := c.confirm(ctx, res.ChainRef); err != nil {
			return nil, err
		}
	}

	if err := s.ledger.Check(cur.Version, res.Next, res.Delta); err != nil {
		if errors.Is(err, types.ErrInvariantViolation) {
			c.halt(ctx, s, err)
		}
		return nil, err
	}

	proposal, err := newProposal(&res.Next)
	if err != nil {
		return nil, err
	}

	sigs, err := c.collectSignatures(ctx, proposal)
	if err != nil {
		return nil, err
	}

	entry, err := auditEntry(in, proposal, len(sigs), c.now())
	if err != nil {
		return nil, err
	}
	rec := &storage.SessionRecord{Market: *s.market, State: res.Next}
	if err := c.storage.Commit(ctx, rec, entry); err != nil {
		return nil, fmt.Errorf("persist version %d: %w", res.Next.Version, err)
	}

	version, err := s.ledger.ProposeApply(cur.Version, res.Next, res.Delta)
	if err != nil {
		// Check passed under the same session lock, so only a ledger defect
		// gets here. The ledger has halted itself; record that durably.
		c.halt(ctx, s, err)
		return nil, err
	}

	if res.Trade != nil {
		TradesTotal.WithLabelValues(res.Trade.Side.String()).Inc()
	}
	if res.Settlement != nil {
		SettlementsTotal.WithLabelValues(res.Settlement.Outcome.String()).Inc()
	}

	return &Receipt{
		MarketID:   s.market.ID,
		Version:    version,
		State:      s.ledger.Snapshot(),
		Trade:      res.Trade,
		Settlement: res.Settlement,
		Signatures: sigs,
	}, nil
}

func (c *Coordinator) confirm(ctx context.Context, ref common.Hash) error {
	if c.confirmer == nil {
		return types.NewIntentError(types.CodeOnChainConfirmationFailed,
			"no chain endpoint configured to confirm %s", ref.Hex())
	}

	err := c.confirmer.WaitForConfirmation(ctx, ref)
	if err == nil {
		return nil
	}
	if types.CodeOf(err) != "" {
		return err
	}
	return types.NewIntentError(types.CodeOnChainConfirmationFailed, "confirm %s: %v", ref.Hex(), err)
}

// halt stops s and persists the halt so a restart does not resume it.
func (c *Coordinator) halt(ctx context.Context, s *session, cause error) {
	s.ledger.Halt(cause)
	HaltedSessionsTotal.Inc()

	rec := &storage.SessionRecord{
		Market: *s.market,
		State:  s.ledger.Snapshot(),
		Halted: cause.Error(),
	}
	if err := c.storage.SaveSession(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Error("persist-halt-failed",
			zap.String("market-id", s.market.ID),
			zap.Error(err))
	}
}

func (c *Coordinator) reject(in *intent.Intent, err error) {
	code := types.CodeOf(err)
	result := string(code)
	if result == "" {
		result = "error"
	}
	IntentsTotal.WithLabelValues(string(in.Kind), result).Inc()

	fields := []zap.Field{
		zap.String("market-id", in.MarketID),
		zap.String("kind", string(in.Kind)),
		zap.Uint64("base-version", in.BaseVersion),
		zap.Error(err),
	}

	switch code {
	case types.CodeStaleVersion:
		StaleRejectionsTotal.Inc()
		c.logger.Debug("intent-stale", fields...)
	case types.CodeSignatureTimeout, types.CodeOnChainConfirmationFailed:
		c.logger.Warn("intent-not-committed", fields...)
	case types.CodeInvariantViolation, types.CodeSessionHalted, "":
		c.logger.Error("intent-failed", fields...)
	default:
		c.logger.Info("intent-rejected", fields...)
	}
}
