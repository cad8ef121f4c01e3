package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quantfold/ledger/broker/sim"
	"github.com/quantfold/ledger/config"
	"github.com/quantfold/ledger/engine"
	"github.com/quantfold/ledger/equity"
	"github.com/quantfold/ledger/events"
	"github.com/quantfold/ledger/journal"
	"github.com/quantfold/ledger/strategies"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the attribution engine from a config file",
	Long: `Run the fill-attribution and reconciliation engine using settings from a
configuration file. The engine starts one task per configured strategy, a
consumer draining the broker event stream, and the periodic reconciler, and
runs until interrupted.

Example:
  ledgerd run --config ledger.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
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

	policy := events.Reject
	if cfg.Queue.Policy == "drop-oldest" {
		policy = events.DropOldest
	}
	queue := events.New(cfg.Queue.Capacity, policy, log)

	brk := sim.NewEngine(cfg.Account.ID, cfg.Account.Equity, queue, log)
	for instrument, price := range cfg.Sim.Prices {
		brk.SetPrice(instrument, price)
	}
	for instrument, qty := range cfg.Sim.Drift {
		brk.InjectDrift(instrument, qty)
	}

	resolver := equity.NewResolver()
	for _, s := range cfg.Strategies {
		if s.EquityOverride != nil {
			resolver.SetOverride(s.Name, *s.EquityOverride)
		}
		if s.TargetWeight != nil {
			resolver.SetTargetWeight(s.Name, *s.TargetWeight)
		}
	}

	interval, _ := cfg.Reconcile.ParseInterval()
	eng := engine.New(cfg.Account.ID, brk, store, queue, resolver, log,
		engine.WithReconcileInterval(interval))

	for _, s := range cfg.Strategies {
		strat, err := strategies.ByName(s.Variant, s.Name, s.Instrument, s.Quantity)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", s.Name, err)
		}
		if err := eng.AddStrategy(strat); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Running engine for account %s (%d strategies, reconcile every %s)\n",
		cfg.Account.ID, len(cfg.Strategies), cfg.Reconcile.Interval)

	return eng.Run(ctx)
}
