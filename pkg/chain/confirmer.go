// Package chain waits for custody transactions to reach finality on an
// Ethereum-compatible chain.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/mselser95/predict-session/pkg/types"
	"go.uber.org/zap"
)

// ReceiptFetcher is the subset of ethclient.Client the confirmer needs.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config holds confirmation settings.
type Config struct {
	// Confirmations is the number of blocks, including the one holding the
	// transaction, required before a receipt counts as final.
	Confirmations  uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffMult    float64
	Timeout        time.Duration
}

// Confirmer polls receipts with exponential backoff.
type Confirmer struct {
	fetcher ReceiptFetcher
	logger  *zap.Logger
	cfg     Config
}

// NewConfirmer creates a Confirmer over fetcher.
func NewConfirmer(fetcher ReceiptFetcher, logger *zap.Logger, cfg *Config) *Confirmer {
	c := &Confirmer{
		fetcher: fetcher,
		logger:  logger,
		cfg:     *cfg,
	}
	if c.cfg.Confirmations == 0 {
		c.cfg.Confirmations = 1
	}
	if c.cfg.BackoffMult < 1 {
		c.cfg.BackoffMult = 1
	}
	if c.cfg.InitialBackoff <= 0 {
		c.cfg.InitialBackoff = time.Second
	}
	if c.cfg.MaxBackoff < c.cfg.InitialBackoff {
		c.cfg.MaxBackoff = c.cfg.InitialBackoff
	}
	if c.cfg.Timeout <= 0 {
		c.cfg.Timeout = 2 * time.Minute
	}
	return c
}

// Dial connects to rpcURL and returns a Confirmer with a close function.
func Dial(ctx context.Context, rpcURL string, logger *zap.Logger, cfg *Config) (*Confirmer, func(), error) {
	if rpcURL == "" {
		return nil, nil, errors.New("rpcURL cannot be empty")
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial RPC: %w", err)
	}

	logger.Info("chain-rpc-connected", zap.String("rpc-url", rpcURL))
	return NewConfirmer(client, logger, cfg), client.Close, nil
}

// WaitForConfirmation blocks until ref has a successful receipt with enough
// confirmations. A reverted transaction or a timeout returns
// OnChainConfirmationFailed.
func (c *Confirmer) WaitForConfirmation(ctx context.Context, ref common.Hash) error {
	start := time.Now()
	timeout := time.NewTimer(c.cfg.Timeout)
	defer timeout.Stop()

	backoff := c.cfg.InitialBackoff
	attempt := 1

	for {
		done, err := c.check(ctx, ref, attempt)
		if done {
			result := "confirmed"
			if err != nil {
				result = "reverted"
			}
			ConfirmationsTotal.WithLabelValues(result).Inc()
			ConfirmationDuration.Observe(time.Since(start).Seconds())
			return err
		}

		select {
		case <-timeout.C:
			ConfirmationsTotal.WithLabelValues("timeout").Inc()
			c.logger.Warn("confirmation-timeout",
				zap.String("tx", ref.Hex()),
				zap.Duration("timeout", c.cfg.Timeout),
				zap.Int("attempts", attempt))
			return types.NewIntentError(types.CodeOnChainConfirmationFailed,
				"transaction %s not confirmed within %s", ref.Hex(), c.cfg.Timeout)

		case <-ctx.Done():
			ConfirmationsTotal.WithLabelValues("canceled").Inc()
			c.logger.Warn("confirmation-canceled",
				zap.String("tx", ref.Hex()),
				zap.Error(ctx.Err()),
				zap.Int("attempts", attempt))
			return fmt.Errorf("wait for %s: %w", ref.Hex(), ctx.Err())

		case <-time.After(backoff):
			attempt++
			backoff = time.Duration(float64(backoff) * c.cfg.BackoffMult)
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		}
	}
}

// check returns done=true once the outcome is final.
func (c *Confirmer) check(ctx context.Context, ref common.Hash, attempt int) (bool, error) {
	receipt, err := c.fetcher.TransactionReceipt(ctx, ref)
	if errors.Is(err, ethereum.NotFound) {
		c.logger.Debug("receipt-not-found", zap.String("tx", ref.Hex()), zap.Int("attempt", attempt))
		return false, nil
	}
	if err != nil {
		// Transient RPC errors are retried until the timeout.
		c.logger.Warn("receipt-query-failed-retrying",
			zap.String("tx", ref.Hex()),
			zap.Error(err),
			zap.Int("attempt", attempt))
		return false, nil
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		c.logger.Warn("custody-transaction-reverted",
			zap.String("tx", ref.Hex()),
			zap.Uint64("block", receipt.BlockNumber.Uint64()))
		return true, types.NewIntentError(types.CodeOnChainConfirmationFailed,
			"transaction %s reverted", ref.Hex())
	}

	head, err := c.fetcher.BlockNumber(ctx)
	if err != nil {
		c.logger.Warn("block-number-failed-retrying", zap.Error(err), zap.Int("attempt", attempt))
		return false, nil
	}

	included := receipt.BlockNumber.Uint64()
	if head < included || head-included+1 < c.cfg.Confirmations {
		c.logger.Debug("awaiting-confirmations",
			zap.String("tx", ref.Hex()),
			zap.Uint64("included", included),
			zap.Uint64("head", head),
			zap.Uint64("required", c.cfg.Confirmations))
		return false, nil
	}

	c.logger.Info("custody-transaction-confirmed",
		zap.String("tx", ref.Hex()),
		zap.Uint64("block", included),
		zap.Int("attempts", attempt))
	return true, nil
}
