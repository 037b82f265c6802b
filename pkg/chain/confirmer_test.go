package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/mselser95/predict-session/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeChain returns scripted receipts; the head advances one block per poll.
type fakeChain struct {
	mu       sync.Mutex
	receipts []*ethtypes.Receipt
	errs     []error
	head     uint64
	polls    int
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.polls
	f.polls++
	f.head++

	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.receipts) {
		i = len(f.receipts) - 1
	}
	if i < 0 || f.receipts[i] == nil {
		return nil, ethereum.NotFound
	}
	return f.receipts[i], nil
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func receipt(status uint64, block int64) *ethtypes.Receipt {
	return &ethtypes.Receipt{Status: status, BlockNumber: big.NewInt(block)}
}

func fastConfig(confirmations uint64) *Config {
	return &Config{
		Confirmations:  confirmations,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffMult:    2,
		Timeout:        time.Second,
	}
}

func TestConfirmer_WaitsForConfirmations(t *testing.T) {
	chain := &fakeChain{
		head: 9,
		receipts: []*ethtypes.Receipt{
			nil,
			receipt(ethtypes.ReceiptStatusSuccessful, 10),
		},
	}
	c := NewConfirmer(chain, zaptest.NewLogger(t), fastConfig(3))

	err := c.WaitForConfirmation(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	// Included at 10, head must reach 12.
	assert.GreaterOrEqual(t, chain.head, uint64(12))
}

func TestConfirmer_RetriesTransientErrors(t *testing.T) {
	chain := &fakeChain{
		head:     100,
		errs:     []error{errors.New("connection reset"), errors.New("502")},
		receipts: []*ethtypes.Receipt{nil, nil, receipt(ethtypes.ReceiptStatusSuccessful, 50)},
	}
	c := NewConfirmer(chain, zaptest.NewLogger(t), fastConfig(1))

	require.NoError(t, c.WaitForConfirmation(context.Background(), common.HexToHash("0x02")))
	assert.Equal(t, 3, chain.polls)
}

func TestConfirmer_Reverted(t *testing.T) {
	chain := &fakeChain{head: 10, receipts: []*ethtypes.Receipt{receipt(ethtypes.ReceiptStatusFailed, 5)}}
	c := NewConfirmer(chain, zaptest.NewLogger(t), fastConfig(1))

	err := c.WaitForConfirmation(context.Background(), common.HexToHash("0x03"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrOnChainConfirmationFailed)
}

func TestConfirmer_Timeout(t *testing.T) {
	chain := &fakeChain{}
	cfg := fastConfig(1)
	cfg.Timeout = 30 * time.Millisecond
	c := NewConfirmer(chain, zaptest.NewLogger(t), cfg)

	err := c.WaitForConfirmation(context.Background(), common.HexToHash("0x04"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrOnChainConfirmationFailed)
}

func TestConfirmer_Canceled(t *testing.T) {
	c := NewConfirmer(&fakeChain{}, zaptest.NewLogger(t), fastConfig(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.WaitForConfirmation(ctx, common.HexToHash("0x05"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDial_EmptyURL(t *testing.T) {
	_, _, err := Dial(context.Background(), "", zaptest.NewLogger(t), fastConfig(1))
	assert.Error(t, err)
}
