package intent

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	json "github.com/goccy/go-json"
	"github.com/mselser95/predict-session/pkg/types"
)

// Digest returns the keccak256 hash of the intent's canonical encoding with
// the signature left out.
func (in *Intent) Digest() (common.Hash, error) {
	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return common.Hash{}, fmt.Errorf("marshal %s payload: %w", in.Kind, err)
	}
	data, err := json.Marshal(wire{
		MarketID:    in.MarketID,
		Kind:        in.Kind,
		BaseVersion: in.BaseVersion,
		Payload:     payload,
		Allocations: in.Allocations,
		Proposer:    in.Proposer,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("marshal intent: %w", err)
	}
	return crypto.Keccak256Hash(data), nil
}

// Sign sets the proposer to key's address and signs the digest.
func (in *Intent) Sign(key *ecdsa.PrivateKey) error {
	in.Proposer = crypto.PubkeyToAddress(key.PublicKey)
	digest, err := in.Digest()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return fmt.Errorf("sign intent: %w", err)
	}
	in.Signature = sig
	return nil
}

// Signed reports whether the intent carries a signature.
func (in *Intent) Signed() bool {
	return len(in.Signature) > 0
}

// VerifySignature checks that Signature was made by Proposer over Digest.
func (in *Intent) VerifySignature() error {
	digest, err := in.Digest()
	if err != nil {
		return err
	}
	signer, err := RecoverSigner(digest, in.Signature)
	if err != nil {
		return err
	}
	if signer != in.Proposer {
		return types.NewIntentError(types.CodeInvalidSignature,
			"intent signed by %s, proposer is %s", signer.Hex(), in.Proposer.Hex())
	}
	return nil
}

// RecoverSigner returns the address that produced sig over digest. Both the
// raw recovery id (0/1) and the legacy 27/28 form are accepted.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, types.NewIntentError(types.CodeInvalidSignature,
			"signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}

	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, types.NewIntentError(types.CodeInvalidSignature, "recover signer: %v", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
