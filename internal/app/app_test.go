package app

import (
	"context"
	"crypto/ecdsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mselser95/predict-session/internal/coordinator"
	"github.com/mselser95/predict-session/internal/intent"
	"github.com/mselser95/predict-session/internal/testutil"
	"github.com/mselser95/predict-session/pkg/config"
	"github.com/mselser95/predict-session/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() *config.Config {
	return &config.Config{
		LogLevel:                 "debug",
		HTTPPort:                 "0",
		SessionAsset:             "USDC",
		DefaultLiquidity:         types.Units(100),
		WithdrawCapBPS:           2500,
		CacheTTL:                 time.Minute,
		SigningMode:              "local",
		RelayDialTimeout:         time.Second,
		RelayPingInterval:        time.Second,
		RelayReconnectInitial:    10 * time.Millisecond,
		RelayReconnectMax:        50 * time.Millisecond,
		RelayReconnectMult:       2,
		SignatureTimeout:         time.Second,
		SignatureQuorum:          0,
		SignatureRetryInitial:    time.Millisecond,
		SignatureRetryMax:        10 * time.Millisecond,
		SignatureRetryMultiplier: 2,
		StorageMode:              "memory",
	}
}

func hexKey(key *ecdsa.PrivateKey) string {
	return hexutil.Encode(crypto.FromECDSA(key))
}

func ready(a *App) int {
	w := httptest.NewRecorder()
	a.healthChecker.Ready()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	return w.Code
}

// openMarket creates a market run by the first key and funds the others.
func openMarket(t *testing.T, coord *coordinator.Coordinator, keys []*ecdsa.PrivateKey) (string, error) {
	t.Helper()

	addrs := testutil.Addresses(keys)
	m, err := coord.CreateMarket(context.Background(), &coordinator.CreateMarketRequest{
		Question: "Will the bridge reopen by June?",
		Operator: addrs[0],
	})
	require.NoError(t, err)

	_, err = coord.SubmitIntent(context.Background(), intent.New(m.ID, 0, intent.InitializePayload{
		Allocations: testutil.Allocations(types.Units(10), addrs[1:]...),
	}))
	return m.ID, err
}

func TestNew_LocalSignerFromConfig(t *testing.T) {
	keys := testutil.CreateTestKeys(t, 3)
	cfg := testConfig()
	cfg.OperatorPrivateKey = hexKey(keys[0])
	cfg.LocalSignerKeys = []string{hexKey(keys[1]), hexKey(keys[2])}

	a, err := New(cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(a.release)

	id, err := openMarket(t, a.Coordinator(), keys)
	require.NoError(t, err)

	snap, err := a.Coordinator().GetMarketState(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, snap.Status)
	assert.Equal(t, "USDC", snap.Market.Asset)
}

func TestNew_LocalSignerMissingKeyTimesOut(t *testing.T) {
	keys := testutil.CreateTestKeys(t, 3)
	cfg := testConfig()
	cfg.OperatorPrivateKey = hexKey(keys[0])
	cfg.SignatureTimeout = 50 * time.Millisecond

	a, err := New(cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(a.release)

	_, err = openMarket(t, a.Coordinator(), keys)
	assert.ErrorIs(t, err, types.ErrSignatureTimeout)
}

func TestNew_RejectsBadKeys(t *testing.T) {
	cfg := testConfig()
	cfg.OperatorPrivateKey = "0xnot-a-key"

	_, err := New(cfg, zaptest.NewLogger(t), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup signer")
}

func TestNew_PostgresUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.StorageMode = "postgres"
	cfg.PostgresHost = "127.0.0.1"
	cfg.PostgresPort = "1"
	cfg.PostgresUser = "predict"
	cfg.PostgresDB = "predict_session"
	cfg.PostgresSSL = "disable"

	_, err := New(cfg, zaptest.NewLogger(t), &Options{Signer: &testutil.MockSigner{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup storage")
}

func TestNew_RelaySigner(t *testing.T) {
	keys := testutil.CreateTestKeys(t, 3)
	mock := testutil.NewMockRelay(keys...)
	t.Cleanup(mock.Close)

	cfg := testConfig()
	cfg.SigningMode = "relay"
	cfg.RelayWSURL = mock.WSURL()

	a, err := New(cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(a.release)

	a.healthChecker.SetReady(true)
	assert.Equal(t, http.StatusOK, ready(a))

	_, err = openMarket(t, a.Coordinator(), keys)
	require.NoError(t, err)
	assert.Equal(t, 1, mock.Requests())

	// A lost relay fails the readiness check.
	mock.Close()
	require.Eventually(t, func() bool {
		return ready(a) == http.StatusServiceUnavailable
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNew_RelayUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.SigningMode = "relay"
	cfg.RelayWSURL = "ws://127.0.0.1:1/relay"

	_, err := New(cfg, zaptest.NewLogger(t), nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "start relay client")
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	keys := testutil.CreateTestKeys(t, 3)

	a, err := New(testConfig(), zaptest.NewLogger(t), &Options{
		Signer:    testutil.NewMockSigner(keys...),
		Confirmer: &testutil.MockConfirmer{},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	require.Eventually(t, func() bool { return ready(a) == http.StatusOK }, 2*time.Second, 10*time.Millisecond)

	a.cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, http.StatusServiceUnavailable, ready(a))
}
