package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/awaistahir/microgrid/internal/config"
	"github.com/awaistahir/microgrid/internal/grid"
	"github.com/awaistahir/microgrid/internal/logging"
	"github.com/awaistahir/microgrid/internal/simulation"
	"github.com/awaistahir/microgrid/internal/store"
	"github.com/awaistahir/microgrid/internal/trading"
)

var (
	cfgFile string
	dbPath  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "microgrid",
		Short: "microgrid - simulate a residential micro-grid and trade energy through the pool",
		Long: `microgrid simulates a community of houses with rooftop solar, EVs and a
central solar plant, and lets you trade energy as the community pool.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.microgrid/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default is $HOME/.microgrid/microgrid.db)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(housesCmd())
	rootCmd.AddCommand(marketCmd())
	rootCmd.AddCommand(buyCmd())
	rootCmd.AddCommand(sellCmd())
	rootCmd.AddCommand(pnlCmd())
	rootCmd.AddCommand(transactionsCmd())
	rootCmd.AddCommand(allocateCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(dumpCmd())
	rootCmd.AddCommand(tickCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	v := viper.New()
	if dbPath != "" {
		v.Set("db_path", dbPath)
	}
	return config.Load(v, cfgFile)
}

// app is everything a command needs, opened from the config.
type app struct {
	cfg *config.Config
	st  *store.Store
	sim *simulation.Simulation
	log *zap.Logger
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg, log.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	sim, err := simulation.Open(ctx, simulation.Options{Config: cfg, Store: st, Logger: log})
	if err != nil {
		st.Close()
		return nil, err
	}
	return &app{cfg: cfg, st: st, sim: sim, log: log}, nil
}

func (a *app) Close() {
	a.st.Close()
	a.log.Sync()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initCmd() *cobra.Command {
	var force, wipe bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the community (regenerates it with --force)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if wipe {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				st, err := store.Open(cfg, nil)
				if err != nil {
					return err
				}
				err = st.Reset(ctx)
				st.Close()
				if err != nil {
					return fmt.Errorf("wiping state: %w", err)
				}
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if force && !wipe {
				if err := a.sim.Regenerate(ctx); err != nil {
					return err
				}
			}

			snap := a.sim.Snapshot()
			ov := a.sim.Engine().MarketOverview()
			fmt.Printf("✓ Community ready: %d houses, %d EVs\n", len(snap.Houses), len(snap.EVs))
			fmt.Printf("  Market: %d sell offers, %d buy requests\n", ov.SellOffers, ov.BuyRequests)
			if a.cfg.Storage.Backend == "sqlite" {
				fmt.Printf("  Database: %s\n", a.cfg.DBPath)
			}
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Inspect offers: microgrid market offers")
			fmt.Println("  2. Buy for the pool: microgrid buy --offer <id> --kwh <amount>")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "regenerate the community and the market book")
	cmd.Flags().BoolVar(&wipe, "wipe", false, "also delete the transaction log")

	return cmd
}

func housesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "houses",
		Short: "List the households",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			snap := a.sim.Snapshot()
			fmt.Printf("%-4s %-16s %8s %10s %7s %6s %8s\n", "ID", "NAME", "NOW KW", "MONTH KWH", "PANELS", "ALLOC", "STATUS")
			fmt.Println(strings.Repeat("-", 66))
			for _, h := range snap.Houses {
				fmt.Printf("%-4d %-16s %8.2f %10.1f %7d %5.0f%% %8s\n",
					h.ID, h.Name, h.CurrentConsumptionKW, h.MonthlyConsumptionKWh,
					h.SolarPanels, h.SolarAllocation, grid.ConsumptionStatus(h.CurrentConsumptionKW))
			}
			fmt.Printf("\nTotal load: %.2f kW, allocated: %.0f%%\n", snap.TotalConsumption(), snap.TotalAllocation())
			return nil
		},
	}
}

func marketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Inspect the market",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return printJSON(a.sim.Engine().MarketOverview())
		},
	}

	sub := func(use, short string, show func(*trading.Engine) interface{}) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				return printJSON(show(a.sim.Engine()))
			},
		}
	}

	cmd.AddCommand(sub("offers", "List sell offers", func(e *trading.Engine) interface{} { return e.SellOffers() }))
	cmd.AddCommand(sub("requests", "List buy requests", func(e *trading.Engine) interface{} { return e.BuyRequests() }))
	cmd.AddCommand(sub("prices", "Show current pool prices", func(e *trading.Engine) interface{} { return e.Prices() }))
	cmd.AddCommand(sub("sellers", "Rank sellers by volume bought", func(e *trading.Engine) interface{} { return e.SellersByVolume() }))

	return cmd
}

func buyCmd() *cobra.Command {
	var offerID int
	var kWh float64

	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy energy from a sell offer into the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tx, err := a.sim.AcceptSellOffer(cmd.Context(), offerID, kWh)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Bought %.2f kWh from %s at %s THB/kWh (total %s THB)\n",
				tx.KWh, tx.SellerName, tx.UnitPrice.StringFixed(2), tx.Total.StringFixed(2))
			fmt.Printf("  Pool reserve: %.2f kWh\n", a.sim.Engine().Reserve())
			return nil
		},
	}

	cmd.Flags().IntVar(&offerID, "offer", 0, "sell offer id (required)")
	cmd.Flags().Float64Var(&kWh, "kwh", 0, "energy to buy in kWh (required)")
	cmd.MarkFlagRequired("offer")
	cmd.MarkFlagRequired("kwh")

	return cmd
}

func sellCmd() *cobra.Command {
	var requestID int
	var kWh float64

	cmd := &cobra.Command{
		Use:   "sell",
		Short: "Sell pool energy to a buy request",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tx, err := a.sim.AcceptBuyRequest(cmd.Context(), requestID, kWh)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Sold %.2f kWh to %s at %s THB/kWh (%s, total %s THB)\n",
				tx.KWh, tx.BuyerName, tx.UnitPrice.StringFixed(2), tx.Mode, tx.Total.StringFixed(2))
			fmt.Printf("  Pool reserve: %.2f kWh\n", a.sim.Engine().Reserve())
			return nil
		},
	}

	cmd.Flags().IntVar(&requestID, "request", 0, "buy request id (required)")
	cmd.Flags().Float64Var(&kWh, "kwh", 0, "energy to sell in kWh (required)")
	cmd.MarkFlagRequired("request")
	cmd.MarkFlagRequired("kwh")

	return cmd
}

func pnlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pnl",
		Short: "Show the pool's profit and loss",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return printJSON(a.sim.Engine().ProfitAndLoss())
		},
	}
}

func transactionsCmd() *cobra.Command {
	var txType string
	var limit int

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List executed trades, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := trading.TxFilter{Type: trading.TxType(txType), Limit: limit}
			if f.Type != "" && f.Type != trading.Buy && f.Type != trading.Sell {
				return fmt.Errorf("unknown transaction type %q (want buy or sell)", txType)
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			txs := a.sim.Engine().Transactions(f)
			if len(txs) == 0 {
				fmt.Println("No transactions")
				return nil
			}

			fmt.Printf("%-20s %-5s %-26s %-26s %9s %7s %10s\n", "TIME", "TYPE", "SELLER", "BUYER", "KWH", "PRICE", "TOTAL")
			fmt.Println(strings.Repeat("-", 110))
			for _, tx := range txs {
				fmt.Printf("%-20s %-5s %-26s %-26s %9.2f %7s %10s\n",
					tx.Timestamp.Format("2006-01-02 15:04:05"), tx.Type, tx.SellerName, tx.BuyerName,
					tx.KWh, tx.UnitPrice.StringFixed(2), tx.Total.StringFixed(2))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&txType, "type", "", "buy or sell")
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many")

	return cmd
}

func allocateCmd() *cobra.Command {
	var houseID int
	var percent float64
	var reset bool

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Assign a share of the central plant to a house",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if reset {
				if err := a.sim.ResetAllocation(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("✓ All allocations reset")
				return nil
			}
			if houseID == 0 {
				return fmt.Errorf("--house is required")
			}

			got, err := a.sim.SetAllocation(cmd.Context(), houseID, percent)
			if err != nil {
				return err
			}
			fmt.Printf("✓ House %d gets %.1f%% of the plant", houseID, got)
			if got < percent {
				fmt.Printf(" (requested %.1f%%, capped by the other allocations)", percent)
			}
			snap := a.sim.Snapshot()
			fmt.Printf("\n  Total allocated: %.1f%%\n", snap.TotalAllocation())
			return nil
		},
	}

	cmd.Flags().IntVar(&houseID, "house", 0, "house id")
	cmd.Flags().Float64Var(&percent, "percent", 0, "share of the plant in percent")
	cmd.Flags().BoolVar(&reset, "reset", false, "set every allocation to zero")

	return cmd
}

func exportCmd() *cobra.Command {
	var houseID int
	var period, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a house's consumption history as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := grid.ParseHistoryPeriod(period)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			h, ok := a.sim.House(houseID)
			if !ok {
				return fmt.Errorf("%w: %d", simulation.ErrHouseNotFound, houseID)
			}

			if out == "" {
				out = grid.HistoryFilename(h, p)
			}
			var f *os.File
			if out == "-" {
				f = os.Stdout
			} else {
				if f, err = os.Create(out); err != nil {
					return err
				}
				defer f.Close()
			}
			if err := grid.WriteHistoryCSV(f, h, p); err != nil {
				return err
			}
			if out != "-" {
				fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", out)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&houseID, "house", 0, "house id (required)")
	cmd.Flags().StringVar(&period, "period", "daily", "hourly, daily or monthly")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, - for stdout")
	cmd.MarkFlagRequired("house")

	return cmd
}

// snapshot is the YAML document written by dump.
type snapshot struct {
	Community grid.State            `yaml:"community"`
	Book      trading.Book          `yaml:"book"`
	Reserve   float64               `yaml:"reserve_kwh"`
	PnL       trading.ProfitAndLoss `yaml:"pnl"`
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the whole simulation state as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			eng := a.sim.Engine()
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(snapshot{
				Community: a.sim.Snapshot(),
				Book:      eng.Book(),
				Reserve:   eng.Reserve(),
				PnL:       eng.ProfitAndLoss(),
			})
		},
	}
}

func tickCmd() *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Advance the simulation by one refresh and one market tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			for i := 0; i < n; i++ {
				if err := a.sim.Refresh(ctx); err != nil {
					return err
				}
				if err := a.sim.MarketTick(ctx); err != nil {
					return err
				}
				if err := a.sim.ProcessReplacements(ctx); err != nil {
					return err
				}
			}

			p := a.sim.Snapshot().Plant
			ov := a.sim.Engine().MarketOverview()
			fmt.Printf("✓ Advanced %d tick(s)\n", n)
			fmt.Printf("  Plant: %.2f kW, battery %.1f%%\n", p.CurrentProductionKW, p.BatteryLevel)
			fmt.Printf("  Market: %d sell offers, %d buy requests\n", ov.SellOffers, ov.BuyRequests)
			return nil
		},
	}

	cmd.Flags().IntVarP(&n, "count", "n", 1, "number of ticks")

	return cmd
}
