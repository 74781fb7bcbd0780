// Package cmd provides the CLI commands for autowatch.
package cmd

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"autowatch/core/pricing"
	"autowatch/core/ui"
	"autowatch/internal/config"
	"autowatch/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

var (
	cfgFile string
	verbose bool
	noColor bool
	asJSON  bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "autowatch",
	Short: "Vehicle price monitoring and subscription pricing",
	Long: `autowatch tracks asking prices of vehicle listings and sells monitoring
plans priced by the number of vehicles watched.

Examples:
  autowatch quote 10 --api
  autowatch quote 250 --cycle yearly
  autowatch plans
  autowatch lookup AB19CDE
  autowatch serve --config autowatch.yaml`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (.json or .yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of tables")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(plansCmd)
	rootCmd.AddCommand(tariffCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(vehicleCmd)
}

func initConfig() {
	if cfgFile != "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		config.Set(cfg)
	}

	// Initialize logging
	cfg := config.Get()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "autowatch version %s\n", Version)
	},
}

func writer(cmd *cobra.Command) *ui.Writer {
	w := ui.NewWriter(cmd.OutOrStdout(), noColor)
	if verbose {
		w.SetVerbosity(2)
	}
	return w
}

// tariff returns the configured tariff, or the built-in one
func tariff() (*pricing.Tariff, error) {
	if path := config.Get().Pricing.TariffFile; path != "" {
		return pricing.Load(path)
	}
	return pricing.Default(), nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
