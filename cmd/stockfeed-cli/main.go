package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stockfeed/internal/config"
	"stockfeed/internal/util"
)

const version = "0.1.0"

var (
	flagConfig string
	flagServer string
	flagLocal  bool
)

var rootCmd = &cobra.Command{
	Use:           "stockfeed-cli",
	Short:         "Ingest, inspect and page through stockfeed data",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (default $STOCKFEED_CONFIG or config/stockfeed.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "stockfeed-server URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&flagLocal, "local", false, "read the local stores instead of the server")

	rootCmd.AddCommand(versionCmd, ingestCmd, barsCmd, recommendCmd, trendingCmd, prefsCmd, portfolioCmd, migrateCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stockfeed-cli %s\n", version)
	},
}

// loadConfig loads the configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = os.Getenv("STOCKFEED_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat("config/stockfeed.yaml"); err == nil {
			path = "config/stockfeed.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flagServer != "" {
		cfg.Client.ServerURL = flagServer
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level))
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
