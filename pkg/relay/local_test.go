package relay

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mselser95/predict-session/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLocalSigner_SignsHeldParticipants(t *testing.T) {
	keys := testutil.CreateTestKeys(t, 2)
	signer := NewLocalSigner(zaptest.NewLogger(t), keys[0])

	p := testProposal(t)
	p.Participants = testutil.Addresses(keys)

	sigs, err := signer.RequestCounterSignatures(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, p.Participants[0], sigs[0].Signer)

	pub, err := crypto.SigToPub(p.Digest.Bytes(), sigs[0].Signature)
	require.NoError(t, err)
	assert.Equal(t, p.Participants[0], crypto.PubkeyToAddress(*pub))
}

func TestLocalSigner_DigestMismatch(t *testing.T) {
	keys := testutil.CreateTestKeys(t, 1)
	signer := NewLocalSigner(zaptest.NewLogger(t), keys...)

	p := testProposal(t)
	p.Participants = testutil.Addresses(keys)
	p.Digest = common.HexToHash("0x01")

	_, err := signer.RequestCounterSignatures(context.Background(), p)
	assert.Error(t, err)
}

func TestParseKeys(t *testing.T) {
	keys := testutil.CreateTestKeys(t, 1)
	raw := common.Bytes2Hex(crypto.FromECDSA(keys[0]))

	parsed, err := ParseKeys([]string{"0x" + raw, "", " " + raw + " "})
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, testutil.Addresses(keys)[0], crypto.PubkeyToAddress(parsed[0].PublicKey))

	_, err = ParseKeys([]string{"zz"})
	assert.Error(t, err)
}
