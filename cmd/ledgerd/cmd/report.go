package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantfold/ledger/config"
	"github.com/quantfold/ledger/journal"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report attributed positions, fills, and unattributed quantity",
	Long: `Read the latest attributed snapshot from the ledger store and print it.

Examples:
  ledgerd report --config ledger.yaml
  ledgerd report --config ledger.yaml --unattributed
  ledgerd report --config ledger.yaml --fills --strategy alpha`,
	RunE: runReport,
}

var (
	reportConfigPath   string
	reportUnattributed bool
	reportFills        bool
	reportStrategy     string
)

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVarP(&reportConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	reportCmd.Flags().BoolVar(&reportUnattributed, "unattributed", false, "only show the unattributed bucket")
	reportCmd.Flags().BoolVar(&reportFills, "fills", false, "list fills instead of positions")
	reportCmd.Flags().StringVar(&reportStrategy, "strategy", "", "filter by strategy")
	reportCmd.MarkFlagRequired("config")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(reportConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()

	if reportFills {
		fills, err := store.ListFills(ctx, cfg.Account.ID, reportStrategy, time.Time{}, time.Now().Add(time.Hour))
		if err != nil {
			return fmt.Errorf("list fills: %w", err)
		}
		fmt.Printf("Fills for account %s (%d):\n", cfg.Account.ID, len(fills))
		for _, f := range fills {
			fmt.Printf("  %s  %-16s %-10s qty %10.2f @ %10.4f  order %s\n",
				f.Time.Format(time.RFC3339), f.Strategy, f.Instrument, f.Quantity, f.Price, f.OrderID)
		}
		return nil
	}

	if reportUnattributed {
		rows, err := store.UnattributedReport(ctx, cfg.Account.ID)
		if err != nil {
			return fmt.Errorf("unattributed report: %w", err)
		}
		fmt.Printf("Unattributed quantity for account %s:\n", cfg.Account.ID)
		if len(rows) == 0 {
			fmt.Println("  (none)")
		}
		for _, p := range rows {
			fmt.Printf("  %-10s qty %10.2f  px %10.4f  value %12.2f\n",
				p.Instrument, p.Quantity, p.MarketPrice, p.MarketValue())
		}
		return nil
	}

	version, rows, err := store.LatestSnapshot(ctx, cfg.Account.ID)
	if err != nil {
		return fmt.Errorf("latest snapshot: %w", err)
	}
	if version == "" {
		fmt.Println("No snapshot recorded yet.")
		return nil
	}

	fmt.Printf("Snapshot %s for account %s:\n", version, cfg.Account.ID)
	for _, p := range rows {
		if reportStrategy != "" && p.Strategy != reportStrategy {
			continue
		}
		fmt.Printf("  %-16s %-10s qty %10.2f  avg %10.4f  px %10.4f  pl %10.2f\n",
			p.Strategy, p.Instrument, p.Quantity, p.AvgCost, p.MarketPrice, p.RealizedPL)
	}
	return nil
}
