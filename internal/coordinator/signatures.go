package coordinator

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
	"github.com/mselser95/predict-session/internal/intent"
	"github.com/mselser95/predict-session/internal/ledger"
	"github.com/mselser95/predict-session/internal/storage"
	"github.com/mselser95/predict-session/pkg/types"
	"go.uber.org/zap"
)

func newProposal(next *ledger.State) (*types.Proposal, error) {
	data, err := next.Encode()
	if err != nil {
		return nil, err
	}
	digest, err := next.Digest()
	if err != nil {
		return nil, err
	}
	return &types.Proposal{
		MarketID:     next.MarketID,
		Version:      next.Version,
		Digest:       digest,
		Participants: next.Participants(),
		State:        data,
	}, nil
}

func (c *Coordinator) required(participants int) int {
	if c.quorum <= 0 || c.quorum > participants {
		return participants
	}
	return c.quorum
}

// collectSignatures asks the signer for counter-signatures until a quorum of
// distinct participants has signed p.Digest or the signature timeout passes.
// Valid signatures accumulate across attempts.
func (c *Coordinator) collectSignatures(ctx context.Context, p *types.Proposal) ([]types.Signature, error) {
	start := time.Now()
	defer func() {
		SignatureRoundDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, c.signatureTimeout)
	defer cancel()

	need := c.required(len(p.Participants))
	eligible := make(map[common.Address]struct{}, len(p.Participants))
	for _, addr := range p.Participants {
		eligible[addr] = struct{}{}
	}

	collected := make(map[common.Address]types.Signature, need)
	backoff := c.retryInitial

	for attempt := 1; ; attempt++ {
		sigs, err := c.signer.RequestCounterSignatures(ctx, p)
		if err != nil {
			c.logger.Warn("counter-signature-request-failed",
				zap.String("market-id", p.MarketID),
				zap.Uint64("version", p.Version),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		for _, sig := range sigs {
			c.acceptSignature(p, eligible, collected, sig)
		}

		if len(collected) >= need {
			SignatureRoundsTotal.WithLabelValues("ok").Inc()
			return ordered(p.Participants, collected), nil
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			SignatureRoundsTotal.WithLabelValues("timeout").Inc()
			return nil, types.NewIntentError(types.CodeSignatureTimeout,
				"collected %d of %d signatures for %s@%d after %d attempts",
				len(collected), need, p.MarketID, p.Version, attempt)
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * c.retryMultiplier)
		if backoff > c.retryMax {
			backoff = c.retryMax
		}
	}
}

func (c *Coordinator) acceptSignature(
	p *types.Proposal,
	eligible map[common.Address]struct{},
	collected map[common.Address]types.Signature,
	sig types.Signature,
) {
	signer, err := intent.RecoverSigner(p.Digest, sig.Signature)
	if err != nil || signer != sig.Signer {
		InvalidSignaturesTotal.Inc()
		c.logger.Warn("counter-signature-invalid",
			zap.String("market-id", p.MarketID),
			zap.String("claimed-signer", sig.Signer.Hex()),
			zap.String("recovered-signer", signer.Hex()),
			zap.Error(err))
		return
	}
	if _, ok := eligible[signer]; !ok {
		InvalidSignaturesTotal.Inc()
		c.logger.Warn("counter-signature-not-participant",
			zap.String("market-id", p.MarketID),
			zap.String("signer", signer.Hex()))
		return
	}
	collected[signer] = sig
}

// ordered returns the collected signatures in participant order.
func ordered(participants []common.Address, collected map[common.Address]types.Signature) []types.Signature {
	out := make([]types.Signature, 0, len(collected))
	for _, addr := range participants {
		if sig, ok := collected[addr]; ok {
			out = append(out, sig)
		}
	}
	return out
}

func auditEntry(in *intent.Intent, p *types.Proposal, signers int, now time.Time) (*storage.AuditEntry, error) {
	digest, err := in.Digest()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return &storage.AuditEntry{
		MarketID:    in.MarketID,
		Version:     p.Version,
		Kind:        string(in.Kind),
		Digest:      digest,
		StateDigest: p.Digest,
		Proposer:    in.Proposer,
		Intent:      raw,
		Signers:     signers,
		CommittedAt: now,
	}, nil
}
