package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantfold/ledger/broker/sim"
	"github.com/quantfold/ledger/config"
	"github.com/quantfold/ledger/journal"
	"github.com/quantfold/ledger/ledger"
	"github.com/quantfold/ledger/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a single reconciliation pass",
	Long: `Load the attributed ledger from the store, fetch the broker snapshot, and
run exactly one reconciliation pass. Residual quantity lands in the
"unattributed" bucket; the merged snapshot is written back atomically.

Example:
  ledgerd reconcile --config ledger.yaml`,
	RunE: runReconcile,
}

var reconcileConfigPath string

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVarP(&reconcileConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	reconcileCmd.MarkFlagRequired("config")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(reconcileConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()

	book := ledger.NewBook(cfg.Account.ID)
	rows, err := store.ListPositionRows(ctx, cfg.Account.ID)
	if err != nil {
		return fmt.Errorf("load position rows: %w", err)
	}
	book.Hydrate(reconcile.Aggregate(rows), nil)

	brk := sim.NewEngine(cfg.Account.ID, cfg.Account.Equity, nil, log)
	for instrument, price := range cfg.Sim.Prices {
		brk.SetPrice(instrument, price)
	}
	for instrument, qty := range cfg.Sim.Drift {
		brk.InjectDrift(instrument, qty)
	}

	timeout, _ := cfg.Reconcile.ParseTimeout()
	rec := reconcile.New(cfg.Account.ID, brk, store, book, log,
		reconcile.WithTimeout(timeout))

	if err := rec.Reconcile(ctx); err != nil {
		return err
	}

	fmt.Printf("Reconciled account %s:\n", cfg.Account.ID)
	for _, p := range book.All() {
		fmt.Printf("  %-16s %-10s qty %10.2f  avg %10.4f  px %10.4f\n",
			p.Strategy, p.Instrument, p.Quantity, p.AvgCost, p.MarketPrice)
	}
	return nil
}
