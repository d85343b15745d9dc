// Command pairsbot paper-trades one cointegrated pair.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pairsbot-go/internal/config"
)

const defaultConfigPath = "internal/config/config.yaml"

var (
	configPath string // YAML config file
	logLevel   string // overrides app.log_level when set
)

var rootCmd = &cobra.Command{
	Use:   "pairsbot",
	Short: "Statistical-arbitrage pairs trading bot",
	Long: `pairsbot fits a linear spread between two instruments, gates trading on an
Augmented Dickey-Fuller cointegration test and trades the spread z-score
against a paper broker.

Examples:
  pairsbot paper                      # scheduled paper trading
  pairsbot paper --interval 1s        # replay synthetic bars quickly
  pairsbot check                      # fit the model once and print it
  pairsbot config                     # print the effective configuration`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if env := os.Getenv("PAIRSBOT_CONFIG"); env != "" && !cmd.Flags().Changed("config") {
			configPath = env
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML config (env PAIRSBOT_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.AddCommand(paperCmd, checkCmd, configCmd)
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if base := os.Getenv("BINANCE_BASE_URL"); base != "" {
		cfg.Exchange.BaseURL = base
	}
	if logLevel != "" {
		cfg.App.LogLevel = logLevel
	}
	return cfg, nil
}

func main() {
	_ = godotenv.Load() // best-effort
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
