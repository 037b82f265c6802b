package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate participant signing keys",
	Long: `Generates secp256k1 keys for session participants and prints each
address with its private key, ready for OPERATOR_PRIVATE_KEY or
LOCAL_SIGNER_KEYS. Keep the output private.`,
	RunE: runKeygen,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().IntP("count", "n", 1, "Number of keys to generate")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	return generateKeys(os.Stdout, count)
}

func generateKeys(out io.Writer, count int) error {
	if count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", count)
	}

	for i := 0; i < count; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		fmt.Fprintf(out, "%s %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex(), hexutil.Encode(crypto.FromECDSA(key)))
	}
	return nil
}
