package intent

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	json "github.com/goccy/go-json"
	"github.com/mselser95/predict-session/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntent_JSONByKind(t *testing.T) {
	participant := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	tests := []struct {
		name    string
		payload Payload
	}{
		{name: "initialize", payload: InitializePayload{Allocations: []types.Allocation{{Participant: participant, Asset: "USDC", Amount: types.Units(5)}}}},
		{name: "operate", payload: OperatePayload{Participant: participant, Side: types.SideNo, Spend: types.Units(3), MaxCost: types.Units(4)}},
		{name: "deposit", payload: DepositPayload{Participant: participant, Amount: types.Units(2), ChainRef: common.HexToHash("0x01")}},
		{name: "withdraw", payload: WithdrawPayload{Participant: participant, Amount: 1}},
		{name: "finalize", payload: FinalizePayload{Outcome: types.OutcomeNo}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := New("m-1", 7, tt.payload)
			data, err := json.Marshal(in)
			require.NoError(t, err)

			var decoded Intent
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tt.payload, decoded.Payload)
			assert.Equal(t, tt.payload.Kind(), decoded.Kind)
			assert.Equal(t, uint64(7), decoded.BaseVersion)
		})
	}
}

func TestIntent_DecodeFromWire(t *testing.T) {
	raw := `{
		"market_id": "m-1",
		"kind": "OPERATE",
		"base_version": 3,
		"payload": {"participant": "0x00000000000000000000000000000000000000a1", "side": "yes", "shares": "12.5"}
	}`

	var in Intent
	require.NoError(t, json.Unmarshal([]byte(raw), &in))
	require.NoError(t, in.Validate())

	p, ok := in.Payload.(OperatePayload)
	require.True(t, ok)
	assert.Equal(t, types.SideYes, p.Side)
	assert.Equal(t, types.Shares(12_500_000), p.Shares)
}

func TestIntent_DecodeRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "unknown-kind", raw: `{"market_id":"m","kind":"SELL","payload":{}}`},
		{name: "missing-payload", raw: `{"market_id":"m","kind":"DEPOSIT"}`},
		{name: "bad-amount", raw: `{"market_id":"m","kind":"DEPOSIT","payload":{"amount":"1.0000001"}}`},
		{name: "not-json", raw: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in Intent
			err := json.Unmarshal([]byte(tt.raw), &in)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrMalformedIntent)
		})
	}
}

func TestIntent_ValidateKindMismatch(t *testing.T) {
	in := New("m-1", 0, FinalizePayload{Outcome: types.OutcomeYes})
	in.Kind = KindDeposit
	assert.ErrorIs(t, in.Validate(), types.ErrMalformedIntent)

	assert.ErrorIs(t, (&Intent{MarketID: "m"}).Validate(), types.ErrMalformedIntent)
	assert.ErrorIs(t, New("", 0, FinalizePayload{Outcome: types.OutcomeYes}).Validate(), types.ErrMalformedIntent)
}

func TestIntent_SignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	in := New("m-1", 2, WithdrawPayload{Participant: crypto.PubkeyToAddress(key.PublicKey), Amount: types.Units(1)})
	require.NoError(t, in.Sign(key))
	assert.True(t, in.Signed())
	require.NoError(t, in.VerifySignature())

	// Legacy 27/28 recovery ids verify too.
	legacy := *in
	legacy.Signature = append([]byte(nil), in.Signature...)
	legacy.Signature[crypto.RecoveryIDOffset] += 27
	require.NoError(t, legacy.VerifySignature())

	// The signature survives the wire.
	data, err := json.Marshal(in)
	require.NoError(t, err)
	var decoded Intent
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NoError(t, decoded.VerifySignature())

	decoded.Signature = decoded.Signature[:10]
	assert.ErrorIs(t, decoded.VerifySignature(), types.ErrInvalidSignature)
}
