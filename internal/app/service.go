// Package app wires configuration, storage and the market data feed into a
// running paper-trading session.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"papertrader/config"
	"papertrader/internal/adapters/postgres"
	"papertrader/internal/adapters/sqlite"
	"papertrader/internal/exchange"
	"papertrader/internal/ports"
	"papertrader/internal/risk"
	"papertrader/internal/session"
)

// Store is a snapshot store that holds a connection.
type Store interface {
	ports.SnapshotStore
	io.Closer
}

// OpenStore opens the snapshot store selected by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg *config.Config, logger ports.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite, "":
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: logger})
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.DriverPostgres:
		store, err := postgres.New(ctx, postgres.Option{ConnString: cfg.PostgresDSN, Logger: logger})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q: %w", cfg.StoreDriver, ports.ErrConfigurationError)
	}
}

// PaperService runs one session against a live market data feed.
type PaperService struct {
	cfg     *config.Config
	logger  ports.Logger
	feed    ports.MarketDataFeed
	session *session.Session
}

// NewPaperService builds the engine and session for cfg. store may be nil
// to keep the account in memory only.
func NewPaperService(cfg *config.Config, logger ports.Logger, feed ports.MarketDataFeed, store ports.SnapshotStore) (*PaperService, error) {
	if cfg == nil || logger == nil || feed == nil {
		return nil, fmt.Errorf("missing required dependencies for PaperService: %w", ports.ErrConfigurationError)
	}
	if cfg.Symbol == "" || cfg.KlineInterval == "" {
		return nil, fmt.Errorf("symbol and kline interval are required: %w", ports.ErrConfigurationError)
	}

	sess, err := session.New(session.Config{
		ID:     cfg.SessionID,
		Engine: exchange.New(cfg.InitialCash),
		Store:  store,
		Logger: logger,
		Limits: risk.Limits{
			MaxOrderNotional: cfg.MaxOrderNotional,
			MaxPositionQty:   cfg.MaxPositionQty,
		},
	})
	if err != nil {
		return nil, err
	}
	return &PaperService{cfg: cfg, logger: logger, feed: feed, session: sess}, nil
}

// Session exposes the running session for callers that place orders.
func (s *PaperService) Session() *session.Session {
	return s.session
}

// Start restores saved state and drives the session from the feed until
// ctx is canceled or SIGINT/SIGTERM arrives.
func (s *PaperService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting paper trading service...", map[string]interface{}{
		"sessionID": s.session.ID(),
		"symbol":    s.cfg.Symbol,
		"interval":  s.cfg.KlineInterval,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	restored, err := s.session.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	acct := s.session.Account()
	s.logger.Info(ctx, "Session ready", map[string]interface{}{
		"restored":   restored,
		"cash":       acct.Cash,
		"equity":     acct.Equity,
		"openOrders": len(s.session.OpenOrders()),
	})

	if err := s.session.Run(ctx, s.feed, s.cfg.Symbol, s.cfg.KlineInterval); err != nil {
		return err
	}
	s.logger.Info(ctx, "Paper trading service stopped")
	return nil
}
