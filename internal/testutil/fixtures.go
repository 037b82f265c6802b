package testutil

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mselser95/predict-session/internal/intent"
	"github.com/mselser95/predict-session/pkg/types"
	"github.com/stretchr/testify/require"
)

// CreateTestKeys generates n secp256k1 keys.
func CreateTestKeys(t testing.TB, n int) []*ecdsa.PrivateKey {
	t.Helper()

	keys := make([]*ecdsa.PrivateKey, n)
	for i := range keys {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = key
	}
	return keys
}

// Addresses returns the address of each key.
func Addresses(keys []*ecdsa.PrivateKey) []common.Address {
	out := make([]common.Address, len(keys))
	for i, k := range keys {
		out[i] = crypto.PubkeyToAddress(k.PublicKey)
	}
	return out
}

// CreateTestMarket creates a USDC market with liquidity 100 that never ends.
func CreateTestMarket(id string, operator common.Address) *types.Market {
	return &types.Market{
		ID:        id,
		Question:  "Will the test pass?",
		YesLabel:  "Yes",
		NoLabel:   "No",
		Asset:     "USDC",
		Operator:  operator,
		Liquidity: types.Units(100),
		CreatedAt: time.Now(),
	}
}

// Allocations builds opening allocations of amount for each address.
func Allocations(amount types.Amount, addrs ...common.Address) []types.Allocation {
	out := make([]types.Allocation, len(addrs))
	for i, a := range addrs {
		out[i] = types.Allocation{Participant: a, Asset: "USDC", Amount: amount}
	}
	return out
}

// Signed signs in as the holder of key and returns it.
func Signed(t testing.TB, in *intent.Intent, key *ecdsa.PrivateKey) *intent.Intent {
	t.Helper()

	require.NoError(t, in.Sign(key))
	return in
}
