package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stockfeed/internal/dashboard"
	"stockfeed/internal/domain"
	"stockfeed/pkg/stockfeed"
)

// portfolioAPI is the part of the SDK the portfolio commands use.
type portfolioAPI interface {
	Portfolio(ctx context.Context, user string) (stockfeed.PortfolioView, error)
	AddItem(ctx context.Context, user string, it domain.PortfolioItem) (domain.PortfolioItem, error)
	UpdateItem(ctx context.Context, user string, it domain.PortfolioItem) error
	DeleteItem(ctx context.Context, user string, id int64) error
}

var (
	flagItemSymbol   string
	flagItemSector   string
	flagItemQuantity string
	flagItemPrice    string
)

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Show or edit a user's own portfolio",
}

var portfolioShowCmd = &cobra.Command{
	Use:   "show USER",
	Short: "Print a user's holdings valued at the latest closes",
	Args:  cobra.ExactArgs(1),
	RunE: withPortfolioAPI(func(ctx context.Context, api portfolioAPI, cmd *cobra.Command, args []string) error {
		return showPortfolio(ctx, api, os.Stdout, args[0])
	}),
}

var portfolioAddCmd = &cobra.Command{
	Use:   "add USER",
	Short: "Add a holding",
	Args:  cobra.ExactArgs(1),
	RunE: withPortfolioAPI(func(ctx context.Context, api portfolioAPI, cmd *cobra.Command, args []string) error {
		it, err := applyItemFlags(cmd, domain.PortfolioItem{})
		if err != nil {
			return err
		}
		added, err := api.AddItem(ctx, args[0], it)
		if err != nil {
			return err
		}
		fmt.Printf("added %s as item %d\n", added.Symbol, added.ID)
		return nil
	}),
}

var portfolioUpdateCmd = &cobra.Command{
	Use:   "update USER ITEM_ID",
	Short: "Change the quantity, price or sector of a holding",
	Args:  cobra.ExactArgs(2),
	RunE: withPortfolioAPI(func(ctx context.Context, api portfolioAPI, cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[1])
		}
		return updateItem(ctx, api, cmd, args[0], id)
	}),
}

var portfolioDeleteCmd = &cobra.Command{
	Use:   "delete USER ITEM_ID",
	Short: "Remove a holding",
	Args:  cobra.ExactArgs(2),
	RunE: withPortfolioAPI(func(ctx context.Context, api portfolioAPI, cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[1])
		}
		if err := api.DeleteItem(ctx, args[0], id); err != nil {
			return err
		}
		fmt.Printf("deleted item %d\n", id)
		return nil
	}),
}

func init() {
	addItemFlags(portfolioAddCmd)
	addItemFlags(portfolioUpdateCmd)
	portfolioCmd.AddCommand(portfolioShowCmd, portfolioAddCmd, portfolioUpdateCmd, portfolioDeleteCmd)
}

func addItemFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&flagItemSymbol, "symbol", "", "ticker symbol")
	f.StringVar(&flagItemSector, "sector", "", "one of: "+strings.Join(domain.Sectors, ", "))
	f.StringVar(&flagItemQuantity, "quantity", "", "number of shares")
	f.StringVar(&flagItemPrice, "price", "", "average purchase price")
}

func withPortfolioAPI(run func(context.Context, portfolioAPI, *cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Feed.FetchTimeout)
		defer cancel()
		return run(ctx, stockfeed.NewClient(cfg.Client.ServerURL), cmd, args)
	}
}

// applyItemFlags overlays the flags that were set on it.
func applyItemFlags(cmd *cobra.Command, it domain.PortfolioItem) (domain.PortfolioItem, error) {
	f := cmd.Flags()
	if f.Changed("symbol") {
		it.Symbol = strings.ToUpper(strings.TrimSpace(flagItemSymbol))
	}
	if f.Changed("sector") {
		it.Sector = flagItemSector
	}
	if f.Changed("quantity") {
		q, err := decimal.NewFromString(flagItemQuantity)
		if err != nil {
			return it, fmt.Errorf("invalid quantity %q: %w", flagItemQuantity, err)
		}
		it.Quantity = q
	}
	if f.Changed("price") {
		p, err := decimal.NewFromString(flagItemPrice)
		if err != nil {
			return it, fmt.Errorf("invalid price %q: %w", flagItemPrice, err)
		}
		it.AvgPrice = p
	}
	return it, it.Validate()
}

// updateItem loads the current holding so that unset flags keep their
// values.
func updateItem(ctx context.Context, api portfolioAPI, cmd *cobra.Command, user string, id int64) error {
	view, err := api.Portfolio(ctx, user)
	if err != nil {
		return err
	}
	cur, ok := lo.Find(view.Items, func(it domain.PortfolioItem) bool { return it.ID == id })
	if !ok {
		return fmt.Errorf("%s has no item %d", user, id)
	}
	it, err := applyItemFlags(cmd, cur)
	if err != nil {
		return err
	}
	if err := api.UpdateItem(ctx, user, it); err != nil {
		return err
	}
	fmt.Printf("updated item %d (%s)\n", id, it.Symbol)
	return nil
}

func showPortfolio(ctx context.Context, api portfolioAPI, w io.Writer, user string) error {
	view, err := api.Portfolio(ctx, user)
	if stockfeed.IsNotFound(err) {
		fmt.Fprintf(w, "%s has no holdings\n", user)
		return nil
	}
	if err != nil {
		return err
	}

	shares := lo.SliceToMap(view.Holdings, func(h domain.Holding) (string, domain.Holding) { return h.Symbol, h })
	table := tablewriter.NewWriter(w)
	table.Header([]string{"ID", "Symbol", "Sector", "Quantity", "Avg Price", "Value", "Share"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	rows := lo.Map(view.Items, func(it domain.PortfolioItem, _ int) []string {
		h := shares[it.Symbol]
		return []string{
			strconv.FormatInt(it.ID, 10),
			it.Symbol,
			lo.Ternary(it.Sector == "", "-", it.Sector),
			it.Quantity.String(),
			dashboard.FormatMoney(it.AvgPrice),
			dashboard.FormatMoney(h.Value),
			dashboard.FormatShare(h.Proportion),
		}
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %d holding(s), total %s, %d view(s)\n", user, len(view.Items), dashboard.FormatMoney(view.Total), view.Hits)
	return nil
}
