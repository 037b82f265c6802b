package relay

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mselser95/predict-session/pkg/types"
	"go.uber.org/zap"
)

// LocalSigner counter-signs with private keys held in-process. It signs for
// every proposal participant it holds a key for and ignores the rest.
type LocalSigner struct {
	keys   map[common.Address]*ecdsa.PrivateKey
	logger *zap.Logger
}

// NewLocalSigner creates a signer over keys.
func NewLocalSigner(logger *zap.Logger, keys ...*ecdsa.PrivateKey) *LocalSigner {
	s := &LocalSigner{
		keys:   make(map[common.Address]*ecdsa.PrivateKey, len(keys)),
		logger: logger,
	}
	for _, k := range keys {
		s.keys[crypto.PubkeyToAddress(k.PublicKey)] = k
	}
	return s
}

// ParseKeys decodes hex private keys, with or without a 0x prefix.
func ParseKeys(hexKeys []string) ([]*ecdsa.PrivateKey, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(hexKeys))
	for i, h := range hexKeys {
		h = strings.TrimPrefix(strings.TrimSpace(h), "0x")
		if h == "" {
			continue
		}
		key, err := crypto.HexToECDSA(h)
		if err != nil {
			return nil, fmt.Errorf("parse key %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Addresses returns the addresses this signer can sign for.
func (s *LocalSigner) Addresses() []common.Address {
	out := make([]common.Address, 0, len(s.keys))
	for addr := range s.keys {
		out = append(out, addr)
	}
	return out
}

// RequestCounterSignatures signs p.Digest with every held participant key
// after checking that the digest matches the proposed state.
func (s *LocalSigner) RequestCounterSignatures(ctx context.Context, p *types.Proposal) ([]types.Signature, error) {
	start := time.Now()
	defer func() {
		SignLatencySeconds.WithLabelValues("local").Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if got := crypto.Keccak256Hash(p.State); got != p.Digest {
		SignRequestsTotal.WithLabelValues("local", "digest_mismatch").Inc()
		return nil, fmt.Errorf("proposal digest %s does not match state hash %s", p.Digest.Hex(), got.Hex())
	}

	sigs := make([]types.Signature, 0, len(p.Participants))
	for _, participant := range p.Participants {
		key, ok := s.keys[participant]
		if !ok {
			continue
		}
		sig, err := crypto.Sign(p.Digest.Bytes(), key)
		if err != nil {
			SignRequestsTotal.WithLabelValues("local", "error").Inc()
			return nil, fmt.Errorf("sign for %s: %w", participant.Hex(), err)
		}
		sigs = append(sigs, types.Signature{Signer: participant, Signature: sig})
	}

	s.logger.Debug("local-counter-signed",
		zap.String("market-id", p.MarketID),
		zap.Uint64("version", p.Version),
		zap.Int("signatures", len(sigs)))
	SignRequestsTotal.WithLabelValues("local", "ok").Inc()

	return sigs, nil
}
