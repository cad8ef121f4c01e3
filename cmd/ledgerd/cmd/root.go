package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "Strategy-attributed position ledger and reconciliation engine",
	Long: `Ledgerd keeps a per-strategy position ledger consistent with the broker's
authoritative view of the account.

It provides tools for:
  - Running the fill-attribution engine against a broker event stream
  - Reconciling the attributed ledger with the broker snapshot
  - Reporting positions, fills, and unattributed quantity
  - Managing engine configuration files`,
}

var verbose bool

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
