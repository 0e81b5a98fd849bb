// Command report prints the saved state of a paper-trading session.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"papertrader/config"
	"papertrader/internal/adapters/logger"
	"papertrader/internal/analytics"
	"papertrader/internal/app"
	"papertrader/internal/exchange"
)

var (
	sessionID = flag.String("session", "", "session to report on (defaults to SESSION_ID)")
	asJSON    = flag.Bool("json", false, "print the raw snapshot as JSON")
	remove    = flag.Bool("delete", false, "delete the saved session instead of reporting")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	id := *sessionID
	if id == "" {
		id = cfg.SessionID
	}

	store, err := app.OpenStore(ctx, cfg, appLogger.With("store"))
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize snapshot store: %v", err)
	}
	defer store.Close()

	if *remove {
		if err := store.DeleteSnapshot(ctx, id); err != nil {
			log.Fatalf("Error deleting session %s: %v", id, err)
		}
		fmt.Printf("Deleted session %s\n", id)
		return
	}

	snap, err := store.LoadSnapshot(ctx, id)
	if err != nil {
		log.Fatalf("Error loading session %s: %v", id, err)
	}
	if snap == nil {
		fmt.Printf("No saved state for session %s\n", id)
		return
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			log.Fatalf("Error encoding snapshot: %v", err)
		}
		return
	}

	engine := exchange.New(snap.InitialCash)
	if err := engine.LoadState(snap); err != nil {
		log.Fatalf("Saved state for session %s is invalid: %v", id, err)
	}
	acct := engine.Account()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Session\t%s (saved %s)\n", id, snap.SavedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Cash\t%.2f\n", acct.Cash)
	fmt.Fprintf(w, "Buying power\t%.2f\n", acct.BuyingPower)
	fmt.Fprintf(w, "Equity\t%.2f\n", acct.Equity)
	fmt.Fprintf(w, "Return\t%.2f (%.2f%%)\n", acct.TotalReturn, acct.TotalReturnPct)
	fmt.Fprintf(w, "Realized / unrealized\t%.2f / %.2f\n", acct.RealizedPnL, acct.UnrealizedPnL)

	fmt.Fprintln(w, "\nSymbol\tQty\tAvg entry\tLast\tUnrealized")
	for _, p := range engine.Positions() {
		fmt.Fprintf(w, "%s\t%g\t%.4f\t%.4f\t%.2f\n", p.Symbol, p.Quantity, p.AvgEntryPrice, p.CurrentPrice, p.UnrealizedPnL)
	}

	fmt.Fprintln(w, "\nOpen order\tSide\tType\tQty\tLimit")
	for _, o := range engine.OpenOrders() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%.4f\n", o.ID, o.Side, o.Type, o.Quantity, o.LimitPrice)
	}

	s := analytics.Summarize(engine.History(), snap.InitialCash)
	fmt.Fprintf(w, "\nTrades\t%d (win rate %.2f%%)\n", s.TotalTrades, s.WinRate*100)
	fmt.Fprintf(w, "Profit factor\t%.2f\n", s.ProfitFactor)
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", s.MaxDrawdown*100)
	for _, m := range s.GetMonthlyReturns() {
		fmt.Fprintf(w, "  %s\t%.2f\n", m.Month.Format("2006-01"), m.Return)
	}
	w.Flush()
}
