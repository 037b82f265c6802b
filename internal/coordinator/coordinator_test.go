package coordinator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/predict-session/internal/intent"
	"github.com/mselser95/predict-session/internal/ledger"
	"github.com/mselser95/predict-session/internal/pricing"
	"github.com/mselser95/predict-session/internal/storage"
	"github.com/mselser95/predict-session/internal/testutil"
	"github.com/mselser95/predict-session/pkg/cache"
	"github.com/mselser95/predict-session/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type harness struct {
	t         *testing.T
	coord     *Coordinator
	store     *storage.MemoryStorage
	signer    *testutil.MockSigner
	confirmer *testutil.MockConfirmer
	keys      []*ecdsa.PrivateKey
	operator  common.Address
	alice     common.Address
	bob       common.Address
	now       time.Time
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	logger := zaptest.NewLogger(t)
	h := &harness{
		t:         t,
		store:     storage.NewMemoryStorage(logger),
		confirmer: &testutil.MockConfirmer{},
		keys:      testutil.CreateTestKeys(t, 3),
		now:       time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	addrs := testutil.Addresses(h.keys)
	h.operator, h.alice, h.bob = addrs[0], addrs[1], addrs[2]
	h.signer = testutil.NewMockSigner(h.keys...)

	cfg := &Config{
		Storage:          h.store,
		Signer:           h.signer,
		Confirmer:        h.confirmer,
		SignatureTimeout: time.Second,
		RetryInitial:     time.Millisecond,
		RetryMax:         5 * time.Millisecond,
		RetryMultiplier:  2,
		DefaultLiquidity: types.Units(100),
		Now:              func() time.Time { return h.now },
		Logger:           logger,
	}
	if mutate != nil {
		mutate(cfg)
	}

	var err error
	h.coord, err = New(cfg)
	require.NoError(t, err)
	return h
}

// open creates a market and initializes alice and bob with 100 each.
func (h *harness) open(t *testing.T, endTime time.Time) string {
	t.Helper()

	m, err := h.coord.CreateMarket(context.Background(), &CreateMarketRequest{
		Question: "Will it rain tomorrow?",
		Operator: h.operator,
		EndTime:  endTime,
	})
	require.NoError(t, err)

	init := intent.New(m.ID, 0, intent.InitializePayload{
		Allocations: testutil.Allocations(types.Units(100), h.alice, h.bob),
	})
	_, err = h.coord.SubmitIntent(context.Background(), init)
	require.NoError(t, err)
	return m.ID
}

func (h *harness) key(who common.Address) *ecdsa.PrivateKey {
	for i, addr := range testutil.Addresses(h.keys) {
		if addr == who {
			return h.keys[i]
		}
	}
	h.t.Fatalf("no key for %s", who.Hex())
	return nil
}

// buy builds a trade signed by the trader.
func (h *harness) buy(marketID string, base uint64, who common.Address, side types.Side, shares int64) *intent.Intent {
	return testutil.Signed(h.t, intent.New(marketID, base, intent.OperatePayload{
		Participant: who,
		Side:        side,
		Shares:      types.WholeShares(shares),
	}), h.key(who))
}

// finalize builds a resolution signed by the operator.
func (h *harness) finalize(marketID string, base uint64, outcome types.Outcome) *intent.Intent {
	return testutil.Signed(h.t, intent.New(marketID, base, intent.FinalizePayload{Outcome: outcome}), h.keys[0])
}

func TestCoordinator_Lifecycle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := h.open(t, time.Time{})

	snap, err := h.coord.GetMarketState(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.State.Version)
	assert.Equal(t, types.StatusActive, snap.Status)
	assert.Len(t, snap.State.Accounts, 3)

	expectedCost, err := pricing.Cost(snap.State.Pricing, types.SideYes, types.WholeShares(10))
	require.NoError(t, err)

	receipt, err := h.coord.SubmitIntent(ctx, h.buy(id, 1, h.alice, types.SideYes, 10))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), receipt.Version)
	require.NotNil(t, receipt.Trade)
	assert.Equal(t, expectedCost, receipt.Trade.Cost)
	assert.Len(t, receipt.Signatures, 3)

	alice, ok := receipt.State.Account(h.alice)
	require.True(t, ok)
	assert.Equal(t, types.Units(100)-expectedCost, alice.Allocation)

	pos, err := h.coord.GetPosition(id, h.alice)
	require.NoError(t, err)
	assert.Equal(t, types.WholeShares(10), pos.YesShares)

	ref := common.HexToHash("0xfeed")
	_, err = h.coord.SubmitIntent(ctx, intent.New(id, 2, intent.DepositPayload{
		Participant: h.bob, Amount: types.Units(50), ChainRef: ref,
	}))
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{ref}, h.confirmer.Refs())

	receipt, err = h.coord.SubmitIntent(ctx, h.finalize(id, 3, types.OutcomeYes))
	require.NoError(t, err)
	require.NotNil(t, receipt.Settlement)
	assert.Equal(t, types.StatusResolved, receipt.State.Status)

	pool, err := receipt.Settlement.Total()
	require.NoError(t, err)
	assert.Equal(t, types.Units(250), pool)
	assert.Equal(t, types.Units(250), receipt.Settlement.PayoutFor(h.alice))

	require.NoError(t, h.coord.CloseMarket(ctx, id))

	closed, err := h.coord.GetMarketState(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, closed.Status)
	assert.Equal(t, uint64(4), closed.State.Version)
	assert.Equal(t, receipt.Settlement.Payouts, closed.State.Payouts)

	_, err = h.coord.SubmitIntent(ctx, intent.New(id, 4, intent.DepositPayload{
		Participant: h.bob, Amount: types.Units(1),
	}))
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.ErrorIs(t, h.coord.CloseMarket(ctx, id), types.ErrInvalidTransition)
	assert.Contains(t, h.coord.MarketIDs(), id)

	audit := h.store.AuditLog(id)
	require.Len(t, audit, 4)
	assert.Equal(t, "FINALIZE", audit[3].Kind)
	assert.Equal(t, uint64(4), audit[3].Version)

	records, err := h.store.LoadSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCoordinator_UnsignedResolutionRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := h.open(t, time.Time{})

	_, err := h.coord.SubmitIntent(ctx, h.buy(id, 1, h.alice, types.SideYes, 5))
	require.NoError(t, err)

	_, err = h.coord.SubmitIntent(ctx, intent.New(id, 2, intent.FinalizePayload{Outcome: types.OutcomeYes}))
	require.ErrorIs(t, err, types.ErrInvalidSignature)

	byAlice := testutil.Signed(t, intent.New(id, 2, intent.FinalizePayload{Outcome: types.OutcomeYes}), h.key(h.alice))
	_, err = h.coord.SubmitIntent(ctx, byAlice)
	require.ErrorIs(t, err, types.ErrInvalidSignature)

	snap, err := h.coord.GetMarketState(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusTrading, snap.Status)
	assert.Equal(t, uint64(2), snap.State.Version)
	assert.Len(t, h.store.AuditLog(id), 2)
}

func TestCoordinator_ConcurrentSameVersion(t *testing.T) {
	h := newHarness(t, nil)
	id := h.open(t, time.Time{})

	const submitters = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		stale int
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := h.alice
			if i%2 == 1 {
				who = h.bob
			}
			_, err := h.coord.SubmitIntent(context.Background(), h.buy(id, 1, who, types.SideNo, 1))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, types.ErrStaleVersion):
				stale++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, submitters-1, stale)

	snap, err := h.coord.GetMarketState(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.State.Version)
}

func TestCoordinator_StaleVersionLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := h.open(t, time.Time{})

	for base := uint64(1); base <= 5; base++ {
		_, err := h.coord.SubmitIntent(ctx, h.buy(id, base, h.alice, types.SideYes, 1))
		require.NoError(t, err)
	}

	before, err := h.coord.GetMarketState(id)
	require.NoError(t, err)
	require.Equal(t, uint64(6), before.State.Version)
	beforeBytes, err := before.State.Encode()
	require.NoError(t, err)

	_, err = h.coord.SubmitIntent(ctx, h.buy(id, 5, h.bob, types.SideYes, 1))
	require.ErrorIs(t, err, types.ErrStaleVersion)
	assert.True(t, types.IsRetryable(err))

	after, err := h.coord.GetMarketState(id)
	require.NoError(t, err)
	afterBytes, err := after.State.Encode()
	require.NoError(t, err)
	assert.Equal(t, beforeBytes, afterBytes)
}

func TestCoordinator_SignatureFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{name: "withheld", setup: func(h *harness) { h.signer.Withhold = []common.Address{h.bob} }},
		{name: "forged", setup: func(h *harness) { h.signer.Forge = true }},
		{name: "unavailable", setup: func(h *harness) { h.signer.Failures = 1 << 30 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.SignatureTimeout = 50 * time.Millisecond })
			id := h.open(t, time.Time{})
			tt.setup(h)

			_, err := h.coord.SubmitIntent(context.Background(), h.buy(id, 1, h.alice, types.SideYes, 3))
			require.ErrorIs(t, err, types.ErrSignatureTimeout)
			assert.True(t, types.IsRetryable(err))

			snap, err := h.coord.GetMarketState(id)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), snap.State.Version)
			assert.Len(t, h.store.AuditLog(id), 1)
		})
	}
}

func TestCoordinator_SignatureRetrySucceeds(t *testing.T) {
	h := newHarness(t, nil)
	id := h.open(t, time.Time{})
	calls := h.signer.Calls()
	h.signer.Failures = calls + 2

	receipt, err := h.coord.SubmitIntent(context.Background(), h.buy(id, 1, h.alice, types.SideYes, 2))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), receipt.Version)
	assert.Equal(t, calls+3, h.signer.Calls())
}

func TestCoordinator_Quorum(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.SignatureQuorum = 1
		c.SignatureTimeout = 50 * time.Millisecond
	})
	h.signer.Withhold = []common.Address{h.alice, h.bob}
	id := h.open(t, time.Time{})

	receipt, err := h.coord.SubmitIntent(context.Background(), h.buy(id, 1, h.alice, types.SideNo, 2))
	require.NoError(t, err)
	require.Len(t, receipt.Signatures, 1)
	assert.Equal(t, h.operator, receipt.Signatures[0].Signer)
}

func TestCoordinator_ConfirmationFailures(t *testing.T) {
	deposit := func(id string, who common.Address, ref common.Hash) *intent.Intent {
		return intent.New(id, 1, intent.DepositPayload{Participant: who, Amount: types.Units(5), ChainRef: ref})
	}
	ref := common.HexToHash("0x01")

	t.Run("reverted", func(t *testing.T) {
		h := newHarness(t, nil)
		id := h.open(t, time.Time{})
		h.confirmer.Err = errors.New("receipt status 0")

		_, err := h.coord.SubmitIntent(context.Background(), deposit(id, h.bob, ref))
		require.ErrorIs(t, err, types.ErrOnChainConfirmationFailed)

		snap, err := h.coord.GetMarketState(id)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), snap.State.Version)
	})

	t.Run("no-chain", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.Confirmer = nil })
		id := h.open(t, time.Time{})

		_, err := h.coord.SubmitIntent(context.Background(), deposit(id, h.bob, ref))
		require.ErrorIs(t, err, types.ErrOnChainConfirmationFailed)

		_, err = h.coord.SubmitIntent(context.Background(), deposit(id, h.bob, common.Hash{}))
		require.NoError(t, err)
	})
}

func TestCoordinator_UnknownMarket(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.coord.SubmitIntent(context.Background(), h.buy("nope", 0, h.alice, types.SideYes, 1))
	assert.ErrorIs(t, err, types.ErrUnknownMarket)

	_, err = h.coord.GetMarketState("nope")
	assert.ErrorIs(t, err, types.ErrUnknownMarket)

	_, err = h.coord.GetPosition("nope", h.alice)
	assert.ErrorIs(t, err, types.ErrUnknownMarket)

	assert.ErrorIs(t, h.coord.CloseMarket(context.Background(), "nope"), types.ErrUnknownMarket)
}

func TestCoordinator_CreateMarketRejections(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.coord.CreateMarket(ctx, &CreateMarketRequest{Question: "q?"})
	assert.ErrorIs(t, err, types.ErrMalformedIntent)

	_, err = h.coord.CreateMarket(ctx, &CreateMarketRequest{Operator: h.operator})
	assert.ErrorIs(t, err, types.ErrMalformedIntent)

	_, err = h.coord.CreateMarket(ctx, &CreateMarketRequest{Question: "q?", Operator: h.operator, EndTime: h.now})
	assert.ErrorIs(t, err, types.ErrMalformedIntent)

	m, err := h.coord.CreateMarket(ctx, &CreateMarketRequest{Question: "q?", Operator: h.operator})
	require.NoError(t, err)
	assert.Equal(t, "USDC", m.Asset)
	assert.Equal(t, types.Units(100), m.Liquidity)
	assert.NotEmpty(t, m.ID)
}

func TestCoordinator_ResolvingAfterEndTime(t *testing.T) {
	h := newHarness(t, nil)
	id := h.open(t, h.now.Add(time.Hour))

	h.now = h.now.Add(2 * time.Hour)

	snap, err := h.coord.GetMarketState(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolving, snap.Status)
	assert.Equal(t, types.StatusActive, snap.State.Status)

	_, err = h.coord.SubmitIntent(context.Background(), h.buy(id, 1, h.alice, types.SideYes, 1))
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	_, err = h.coord.SubmitIntent(context.Background(), h.finalize(id, 1, types.OutcomeNo))
	require.NoError(t, err)
}

func TestCoordinator_Quote(t *testing.T) {
	h := newHarness(t, nil)
	id := h.open(t, time.Time{})

	q, err := h.coord.Quote(id, types.SideYes, types.WholeShares(10), 0)
	require.NoError(t, err)

	snap, err := h.coord.GetMarketState(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.State.Version)

	receipt, err := h.coord.SubmitIntent(context.Background(), h.buy(id, 1, h.alice, types.SideYes, 10))
	require.NoError(t, err)
	assert.Equal(t, q.Cost, receipt.Trade.Cost)

	spend, err := h.coord.Quote(id, types.SideNo, 0, types.Units(5))
	require.NoError(t, err)
	assert.LessOrEqual(t, spend.Cost, types.Units(5))

	_, err = h.coord.Quote(id, types.SideNo, types.WholeShares(1), types.Units(1))
	assert.ErrorIs(t, err, types.ErrMalformedIntent)
}

func TestCoordinator_CachedViews(t *testing.T) {
	logger := zaptest.NewLogger(t)
	rc, err := cache.NewRistrettoCache(cache.DefaultRistrettoConfig(logger))
	require.NoError(t, err)
	defer rc.Close()

	h := newHarness(t, func(c *Config) {
		c.Cache = rc
		c.CacheTTL = time.Minute
	})
	id := h.open(t, time.Time{})

	first, err := h.coord.GetMarketState(id)
	require.NoError(t, err)
	rc.Wait()

	_, err = h.coord.SubmitIntent(context.Background(), h.buy(id, 1, h.bob, types.SideYes, 4))
	require.NoError(t, err)

	second, err := h.coord.GetMarketState(id)
	require.NoError(t, err)
	assert.Equal(t, first.State.Version+1, second.State.Version)
	assert.Greater(t, second.PYes, first.PYes)
}

type failingCommit struct {
	*storage.MemoryStorage
}

func (f failingCommit) Commit(context.Context, *storage.SessionRecord, *storage.AuditEntry) error {
	return errors.New("connection refused")
}

func TestCoordinator_PersistFailureLeavesLedger(t *testing.T) {
	h := newHarness(t, nil)
	id := h.open(t, time.Time{})

	h.coord.storage = failingCommit{h.store}

	_, err := h.coord.SubmitIntent(context.Background(), h.buy(id, 1, h.alice, types.SideYes, 1))
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))

	snap, err := h.coord.GetMarketState(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.State.Version)
}

func TestCoordinator_RestoreResumes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := h.open(t, time.Time{})
	_, err := h.coord.SubmitIntent(ctx, h.buy(id, 1, h.alice, types.SideYes, 7))
	require.NoError(t, err)

	restarted, err := New(&Config{
		Storage: h.store,
		Signer:  h.signer,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	n, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := restarted.GetMarketState(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.State.Version)

	_, err = restarted.SubmitIntent(ctx, h.buy(id, 2, h.bob, types.SideNo, 1))
	require.NoError(t, err)
}

func TestCoordinator_HaltedSessionStaysHalted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	market := testutil.CreateTestMarket("m-halted", h.operator)
	genesis, err := ledger.Genesis(market)
	require.NoError(t, err)
	require.NoError(t, h.store.SaveSession(ctx, &storage.SessionRecord{
		Market: *market,
		State:  genesis,
		Halted: "INVARIANT_VIOLATION: conservation broken",
	}))

	n, err := h.coord.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, []string{"m-halted"}, h.coord.HaltedSessions())

	_, err = h.coord.SubmitIntent(ctx, intent.New("m-halted", 0, intent.InitializePayload{
		Allocations: testutil.Allocations(types.Units(1), h.alice, h.bob),
	}))
	require.ErrorIs(t, err, types.ErrSessionHalted)
	assert.True(t, types.IsFatal(err))

	snap, err := h.coord.GetMarketState("m-halted")
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Halted)
}
