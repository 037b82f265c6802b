package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/mselser95/predict-session/internal/pricing"
	"github.com/mselser95/predict-session/pkg/types"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price a trade against an LMSR book offline",
	Long: `Prices a buy of YES or NO shares against an LMSR book described by its
liquidity and outstanding shares. Give exactly one of --shares (cost of a
share count) or --spend (shares bought for an amount).

Example:
  predict-session quote --liquidity 100 --q-yes 25 --side yes --shares 10`,
	RunE: runQuote,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(quoteCmd)
	quoteCmd.Flags().String("liquidity", "100", "LMSR liquidity parameter b")
	quoteCmd.Flags().String("q-yes", "0", "Outstanding YES shares")
	quoteCmd.Flags().String("q-no", "0", "Outstanding NO shares")
	quoteCmd.Flags().String("side", "yes", "Side to buy: yes or no")
	quoteCmd.Flags().String("shares", "", "Number of shares to buy")
	quoteCmd.Flags().String("spend", "", "Amount to spend")
	quoteCmd.Flags().Bool("json", false, "Print the quote as JSON")
}

// quoteRequest holds the raw quote flags.
type quoteRequest struct {
	Liquidity string
	QYes      string
	QNo       string
	Side      string
	Shares    string
	Spend     string
}

func runQuote(cmd *cobra.Command, args []string) error {
	req := quoteRequest{}
	req.Liquidity, _ = cmd.Flags().GetString("liquidity")
	req.QYes, _ = cmd.Flags().GetString("q-yes")
	req.QNo, _ = cmd.Flags().GetString("q-no")
	req.Side, _ = cmd.Flags().GetString("side")
	req.Shares, _ = cmd.Flags().GetString("shares")
	req.Spend, _ = cmd.Flags().GetString("spend")
	asJSON, _ := cmd.Flags().GetBool("json")

	q, err := buildQuote(req)
	if err != nil {
		return err
	}

	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(q)
	}
	printQuote(os.Stdout, q)
	return nil
}

func buildQuote(req quoteRequest) (pricing.Quote, error) {
	liquidity, err := types.ParseAmount(req.Liquidity)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("parse liquidity: %w", err)
	}
	state, err := pricing.NewState(liquidity)
	if err != nil {
		return pricing.Quote{}, err
	}
	if state.QYes, err = types.ParseShares(req.QYes); err != nil {
		return pricing.Quote{}, fmt.Errorf("parse q-yes: %w", err)
	}
	if state.QNo, err = types.ParseShares(req.QNo); err != nil {
		return pricing.Quote{}, fmt.Errorf("parse q-no: %w", err)
	}
	if err = state.Validate(); err != nil {
		return pricing.Quote{}, err
	}

	var side types.Side
	if err = side.UnmarshalText([]byte(req.Side)); err != nil {
		return pricing.Quote{}, err
	}

	switch {
	case req.Shares != "" && req.Spend != "":
		return pricing.Quote{}, fmt.Errorf("give --shares or --spend, not both")
	case req.Shares != "":
		shares, err := types.ParseShares(req.Shares)
		if err != nil {
			return pricing.Quote{}, fmt.Errorf("parse shares: %w", err)
		}
		return pricing.QuoteShares(state, side, shares)
	case req.Spend != "":
		spend, err := types.ParseAmount(req.Spend)
		if err != nil {
			return pricing.Quote{}, fmt.Errorf("parse spend: %w", err)
		}
		return pricing.QuoteSpend(state, side, spend)
	default:
		return pricing.Quote{}, fmt.Errorf("give --shares or --spend")
	}
}

func printQuote(out io.Writer, q pricing.Quote) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SIDE\t%s\n", q.Side)
	fmt.Fprintf(w, "SHARES\t%s\n", q.Shares)
	fmt.Fprintf(w, "COST\t%s\n", q.Cost)
	fmt.Fprintf(w, "AVG PRICE\t%.6f\n", q.AveragePrice)
	fmt.Fprintf(w, "P(YES) BEFORE\t%s\n", q.PYesBefore)
	fmt.Fprintf(w, "P(YES) AFTER\t%s\n", q.PYesAfter)
	fmt.Fprintf(w, "PRICE IMPACT\t%.6f\n", q.PriceImpact)
	w.Flush()
}
