package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"stockfeed/internal/domain"
	"stockfeed/internal/store"
	"stockfeed/pkg/stockfeed"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back the portfolio database schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if args[0] == "down" {
			if err := store.MigrateDown(cfg.Storage.SQLitePath); err != nil {
				return err
			}
			fmt.Println("schema rolled back")
			return nil
		}
		v, err := store.Migrate(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		fmt.Printf("schema at version %d\n", v)
		return nil
	},
}

var (
	flagPrefSectors    []string
	flagPrefRisk       string
	flagPrefProportion string
	flagPrefType       string
	flagPrefPeriod     string
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read or write a user's investment preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get USER",
	Short: "Print a user's preferences as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Feed.FetchTimeout)
		defer cancel()
		p, err := stockfeed.NewClient(cfg.Client.ServerURL).GetPreference(ctx, args[0])
		if stockfeed.IsNotFound(err) {
			return fmt.Errorf("no preferences stored for %s", args[0])
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set USER",
	Short: "Store a user's preferences",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := domain.Preference{
			Sectors:            flagPrefSectors,
			RiskAppetite:       flagPrefRisk,
			StockProportion:    flagPrefProportion,
			PreferredStockType: flagPrefType,
			Period:             flagPrefPeriod,
		}
		if err := p.Validate(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Feed.FetchTimeout)
		defer cancel()
		if err := stockfeed.NewClient(cfg.Client.ServerURL).PutPreference(ctx, args[0], p); err != nil {
			return err
		}
		fmt.Printf("preferences saved for %s\n", args[0])
		return nil
	},
}

func init() {
	f := prefsSetCmd.Flags()
	f.StringSliceVar(&flagPrefSectors, "sectors", nil, "up to 3 of: "+strings.Join(domain.Sectors, ", "))
	f.StringVar(&flagPrefRisk, "risk", "", "risk appetite: high, medium or low")
	f.StringVar(&flagPrefProportion, "proportion", "", "stock proportion: below20, below40, below60, below80 or above80")
	f.StringVar(&flagPrefType, "type", "", "preferred stock type: growth or dividends")
	f.StringVar(&flagPrefPeriod, "period", "", "investment period: short, mid, long or very-long")

	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd)
}
