package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantfold/ledger/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage engine configuration files.

Examples:
  ledgerd config init --output ledger.yaml
  ledgerd config validate --file ledger.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "ledger.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  ledgerd run --config %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return err
	}

	fmt.Printf("Configuration is valid: %s\n", configValidatePath)
	fmt.Printf("  Account: %s (%s)\n", cfg.Account.ID, cfg.Account.Currency)
	fmt.Printf("  Queue: capacity %d, policy %s\n", cfg.Queue.Capacity, cfg.Queue.Policy)
	fmt.Printf("  Reconcile: every %s (timeout %s)\n", cfg.Reconcile.Interval, cfg.Reconcile.Timeout)
	fmt.Printf("  Strategies: %d\n", len(cfg.Strategies))
	return nil
}
