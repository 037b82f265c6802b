package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/mselser95/predict-session/internal/settlement"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Compute final payouts for a resolved market offline",
	Long: `Reads a settlement input as JSON and prints the payout of every holder.

The input names the pool, the outcome and each holder's winning shares and
net deposit, in the order that decides remainder ties:

  {"pool": "250", "outcome": "YES", "holdings": [
    {"participant": "0x...", "winning_shares": "10", "net_deposit": "100"}
  ]}

Reads stdin when --file is "-".`,
	RunE: runSettle,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(settleCmd)
	settleCmd.Flags().StringP("file", "f", "-", "Settlement input file")
	settleCmd.Flags().Bool("json", false, "Print the settlement record as JSON")
}

func runSettle(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	asJSON, _ := cmd.Flags().GetBool("json")

	in := io.Reader(os.Stdin)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	rec, err := settle(in)
	if err != nil {
		return err
	}

	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(rec)
	}
	printSettlement(os.Stdout, rec)
	return nil
}

func settle(r io.Reader) (*settlement.Record, error) {
	var input settlement.Input
	if err := json.NewDecoder(r).Decode(&input); err != nil {
		return nil, fmt.Errorf("decode settlement input: %w", err)
	}
	return settlement.Calculate(input)
}

func printSettlement(out io.Writer, rec *settlement.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "OUTCOME\t%s\n", rec.Outcome)
	fmt.Fprintf(w, "POOL\t%s\n", rec.Pool)
	fmt.Fprintf(w, "WINNING SHARES\t%s\n", rec.TotalWinning)
	if rec.Refund {
		fmt.Fprintln(w, "MODE\trefund over net deposits")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "PARTICIPANT\tPAYOUT")
	for _, p := range rec.Payouts {
		fmt.Fprintf(w, "%s\t%s\n", p.Participant.Hex(), p.Amount)
	}
	if rec.Remainder > 0 {
		fmt.Fprintf(w, "\nREMAINDER\t%s to %s\n", rec.Remainder, rec.RemainderTo.Hex())
	}
	w.Flush()
}
