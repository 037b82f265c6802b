package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mselser95/predict-session/internal/ledger"
	"github.com/mselser95/predict-session/internal/storage"
	"github.com/mselser95/predict-session/pkg/cache"
	"github.com/mselser95/predict-session/pkg/types"
	"go.uber.org/zap"
)

// CreateMarket opens a Pending session for a new market. Participants join
// through an INITIALIZE intent signed by the operator.
func (c *Coordinator) CreateMarket(ctx context.Context, req *CreateMarketRequest) (*types.Market, error) {
	if req.Operator == (common.Address{}) {
		return nil, types.NewIntentError(types.CodeMalformedIntent, "market needs an operator address")
	}
	if strings.TrimSpace(req.Question) == "" {
		return nil, types.NewIntentError(types.CodeMalformedIntent, "market needs a question")
	}

	now := c.now()
	if !req.EndTime.IsZero() && !req.EndTime.After(now) {
		return nil, types.NewIntentError(types.CodeMalformedIntent, "end time %s is not in the future", req.EndTime)
	}

	market := &types.Market{
		ID:        uuid.NewString(),
		Question:  req.Question,
		YesLabel:  orDefault(req.YesLabel, "Yes"),
		NoLabel:   orDefault(req.NoLabel, "No"),
		Asset:     orDefault(req.Asset, c.defaultAsset),
		Operator:  req.Operator,
		Liquidity: req.Liquidity,
		CreatedAt: now,
		EndTime:   req.EndTime,
	}
	if market.Liquidity == 0 {
		market.Liquidity = c.defaultLiquidity
	}

	genesis, err := ledger.Genesis(market)
	if err != nil {
		return nil, err
	}
	l, err := ledger.New(genesis, c.logger)
	if err != nil {
		return nil, err
	}

	if err := c.storage.SaveSession(ctx, &storage.SessionRecord{Market: *market, State: genesis}); err != nil {
		return nil, fmt.Errorf("persist market %s: %w", market.ID, err)
	}

	c.register(&session{market: market, ledger: l})
	MarketsCreatedTotal.Inc()

	c.logger.Info("market-created",
		zap.String("market-id", market.ID),
		zap.String("asset", market.Asset),
		zap.String("operator", market.Operator.Hex()),
		zap.String("liquidity", market.Liquidity.String()))

	out := *market
	return &out, nil
}

// CloseMarket moves a resolved session to Closed and persists it. A closed
// session still answers reads but rejects every intent.
func (c *Coordinator) CloseMarket(ctx context.Context, marketID string) error {
	s, err := c.lookup(marketID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Close(); err != nil {
		return err
	}

	state := s.ledger.Snapshot()
	if err := c.storage.SaveSession(ctx, &storage.SessionRecord{Market: *s.market, State: state}); err != nil {
		// The in-memory ledger is Closed either way; a restart resumes the
		// persisted Resolved record, which can be closed again.
		c.logger.Error("persist-close-failed", zap.String("market-id", marketID), zap.Error(err))
		return fmt.Errorf("persist close of %s: %w", marketID, err)
	}

	// The session stays registered so its final state and payouts remain
	// readable and later intents meet the terminal status.
	OpenSessions.Set(float64(c.openCount()))

	if c.cache != nil {
		c.cache.Delete(cache.VersionKey(viewKind, marketID, state.Version))
	}

	c.logger.Info("market-closed", zap.String("market-id", marketID), zap.Uint64("version", state.Version))
	return nil
}

// Restore resumes every non-closed session held in storage. Sessions halted
// before the restart stay halted. Closed sessions are not reloaded.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	records, err := c.storage.LoadSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load sessions: %w", err)
	}

	restored := 0
	for _, rec := range records {
		market := rec.Market
		l, err := ledger.New(rec.State, c.logger)
		if err != nil {
			return restored, fmt.Errorf("restore market %s: %w", market.ID, err)
		}
		if rec.Halted != "" {
			l.Halt(errors.New(rec.Halted))
		}

		c.register(&session{market: &market, ledger: l})
		restored++

		c.logger.Info("session-restored",
			zap.String("market-id", market.ID),
			zap.Uint64("version", rec.State.Version),
			zap.String("status", rec.State.Status.String()),
			zap.Bool("halted", rec.Halted != ""))
	}

	return restored, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
