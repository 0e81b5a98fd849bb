// Command replay drives a paper-trading session from a kline CSV with a
// simple dip-buying order script and prints the resulting performance.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"papertrader/config"
	"papertrader/internal/adapters/logger"
	"papertrader/internal/analytics"
	"papertrader/internal/app"
	"papertrader/internal/domain"
	"papertrader/internal/exchange"
	"papertrader/internal/ports"
	"papertrader/internal/risk"
	"papertrader/internal/session"
	"papertrader/internal/utils"
)

var (
	input    = flag.String("in", "", "kline CSV written by fetch_klines (required)")
	every    = flag.Int("every", 20, "bars between order decisions")
	dip      = flag.Float64("dip", 0.005, "limit buy distance below the close, as a fraction")
	fraction = flag.Float64("fraction", 0.1, "share of equity committed per entry")
	persist  = flag.Bool("persist", false, "save the replayed session to the configured store")
)

func main() {
	flag.Parse()
	if *input == "" || *every <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	klines, err := utils.ReadKlinesFromCSV(*input)
	if err != nil {
		log.Fatalf("Error loading klines: %v", err)
	}
	if len(klines) == 0 {
		log.Fatalf("No klines in %s", *input)
	}
	appLogger.Info(ctx, "Loaded klines", map[string]interface{}{"file": *input, "count": len(klines)})

	var store ports.SnapshotStore
	if *persist {
		s, err := app.OpenStore(ctx, cfg, appLogger.With("store"))
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize snapshot store: %v", err)
		}
		defer s.Close()
		store = s
	}

	// Fills are stamped with the kline being replayed, not wall time.
	var now time.Time
	engine := exchange.New(cfg.InitialCash, exchange.WithClock(func() time.Time { return now }))
	limits := risk.Limits{MaxOrderNotional: cfg.MaxOrderNotional, MaxPositionQty: cfg.MaxPositionQty}
	sess, err := session.New(session.Config{
		ID:     cfg.SessionID + "-replay",
		Engine: engine,
		Store:  store,
		Logger: appLogger.With("replay"),
		Limits: limits,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to create session: %v", err)
	}
	sizer := risk.NewManager(limits)

	var rejected int
	for i, k := range klines {
		now = k.CloseTime
		sess.ProcessTick(ctx, k.Tick())
		if i == 0 || i%*every != 0 {
			continue
		}
		if err := decide(ctx, sess, sizer, k); err != nil {
			rejected++
			appLogger.Debug(ctx, "Order not placed", map[string]interface{}{"error": err.Error(), "bar": i})
		}
	}

	if err := sess.Flush(ctx); err != nil {
		appLogger.Error(ctx, err, "Error saving replayed session")
	}
	report(sess, cfg.InitialCash, rejected)
}

// decide sells any long position at market, otherwise replaces the
// resting dip buy with a fresh one below the current close.
func decide(ctx context.Context, sess *session.Session, sizer *risk.Manager, k *domain.Kline) error {
	for _, p := range sess.Positions() {
		if p.Symbol == k.Symbol && p.Quantity > 0 {
			_, _, err := sess.PlaceOrder(ctx, domain.OrderRequest{
				Symbol: k.Symbol, Quantity: p.Quantity, Side: domain.Sell, Type: domain.Market,
			})
			return err
		}
	}

	for _, o := range sess.OpenOrders() {
		sess.CancelOrder(ctx, o.ID)
	}
	price := k.Close * (1 - *dip)
	qty := sizer.PositionSize(sess.Account().Equity, price, *fraction)
	if qty <= 0 {
		return fmt.Errorf("no size at price %.4f", price)
	}
	_, _, err := sess.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: k.Symbol, Quantity: qty, Side: domain.Buy, Type: domain.Limit, LimitPrice: price,
	})
	return err
}

func report(sess *session.Session, initialCash float64, rejected int) {
	acct := sess.Account()
	summary := analytics.Summarize(sess.History(), initialCash)
	fills := analytics.ReplayFills(analytics.FillsFromOrders(sess.Orders()))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Equity\t%.2f\n", acct.Equity)
	fmt.Fprintf(w, "Cash\t%.2f\n", acct.Cash)
	fmt.Fprintf(w, "Return\t%.2f%%\n", acct.TotalReturnPct)
	fmt.Fprintf(w, "Realized P&L\t%.2f\n", acct.RealizedPnL)
	fmt.Fprintf(w, "Realized from fills\t%.2f\n", analytics.TotalRealized(fills))
	fmt.Fprintf(w, "Unrealized P&L\t%.2f\n", acct.UnrealizedPnL)
	fmt.Fprintf(w, "Orders not placed\t%d\n", rejected)
	fmt.Fprintln(w)
	printSummary(w, summary)
	w.Flush()
}

func printSummary(w *tabwriter.Writer, s *analytics.Summary) {
	fmt.Fprintf(w, "Trades\t%d\n", s.TotalTrades)
	fmt.Fprintf(w, "Win rate\t%.2f%%\n", s.WinRate*100)
	fmt.Fprintf(w, "Average win\t%.2f\n", s.AverageWin)
	fmt.Fprintf(w, "Average loss\t%.2f\n", s.AverageLoss)
	fmt.Fprintf(w, "Profit factor\t%.2f\n", s.ProfitFactor)
	fmt.Fprintf(w, "Expectancy\t%.2f\n", s.Expectancy)
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", s.MaxDrawdown*100)
	fmt.Fprintf(w, "Streaks (win/loss)\t%d/%d\n", s.MaxConsecutiveWins, s.MaxConsecutiveLosses)
	for _, m := range s.GetMonthlyReturns() {
		fmt.Fprintf(w, "  %s\t%.2f\n", m.Month.Format("2006-01"), m.Return)
	}
}
