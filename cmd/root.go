package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "predict-session",
	Short: "Off-chain session operator for binary prediction markets",
	Long: `predict-session runs binary YES/NO prediction markets inside versioned
off-chain sessions. Trades are priced by an LMSR market maker, every state
change is counter-signed by the session participants before it is committed,
and resolution pays out the pool pro rata to the winning side.

Use "run" to start the operator service. "quote" and "settle" are offline
calculators for the pricing and settlement rules.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
