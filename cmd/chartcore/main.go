package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	format   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chartcore",
		Short: "Stock chart time-alignment core",
		Long: `chartcore loads price history for a ticker and range, aligns it to the
exchange trading day, merges the live price and lays the chart out.

Examples:
  chartcore chart AAPL --range 1D
  chartcore session AAPL
  chartcore candles AAPL
  chartcore warm --tickers AAPL,MSFT,NVDA
  chartcore serve --track AAPL,MSFT`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "output format: table, json")

	rootCmd.AddCommand(
		newChartCmd(),
		newSessionCmd(),
		newCandlesCmd(),
		newWarmCmd(),
		newServeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
