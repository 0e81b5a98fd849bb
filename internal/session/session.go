// Package session owns one paper-trading account: an exchange engine, the
// store its snapshots are saved to, and the optional risk limits applied
// before orders reach the engine. All engine access goes through the
// session's mutex.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/exchange"
	"papertrader/internal/ports"
	"papertrader/internal/risk"
)

const streamShutdownTimeout = 5 * time.Second

// Listener receives the change set of every mutation that changed something.
type Listener func(changes exchange.Changes)

// Config wires a Session.
type Config struct {
	ID     string
	Engine *exchange.Engine
	Store  ports.SnapshotStore // Optional, nil keeps state in memory only
	Logger ports.Logger
	Limits risk.Limits
}

// Session serializes access to one engine and persists it after every
// mutation.
type Session struct {
	id     string
	store  ports.SnapshotStore
	logger ports.Logger
	risk   *risk.Manager

	mu        sync.Mutex // Protects engine and listeners
	engine    *exchange.Engine
	listeners []Listener
}

// New creates a session. Call Restore to load previously saved state.
func New(cfg Config) (*Session, error) {
	if cfg.Engine == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("session requires an engine and a logger: %w", ports.ErrConfigurationError)
	}
	id := cfg.ID
	if id == "" {
		id = "default"
	}
	return &Session{
		id:     id,
		store:  cfg.Store,
		logger: cfg.Logger,
		risk:   risk.NewManager(cfg.Limits),
		engine: cfg.Engine,
	}, nil
}

// ID returns the session id used as the store key.
func (s *Session) ID() string {
	return s.id
}

// Subscribe registers fn to be called, outside the session lock, with the
// change set of every mutation that changed something.
func (s *Session) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Restore loads the saved snapshot for this session into the engine. It
// reports false when nothing was saved yet, leaving the engine as is.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	op := "Restore"
	if s.store == nil {
		return false, nil
	}
	snap, err := s.store.LoadSnapshot(ctx, s.id)
	if err != nil {
		s.logger.Error(ctx, err, op+": failed to load snapshot", map[string]interface{}{"sessionID": s.id})
		return false, fmt.Errorf("failed to load snapshot for session %s: %w", s.id, err)
	}
	if snap == nil {
		s.logger.Info(ctx, op+": no saved state, starting fresh", map[string]interface{}{"sessionID": s.id})
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.LoadState(snap); err != nil {
		s.logger.Error(ctx, err, op+": stored snapshot rejected", map[string]interface{}{"sessionID": s.id})
		return false, err
	}
	s.logger.Info(ctx, op+": state restored", map[string]interface{}{
		"sessionID": s.id,
		"cash":      snap.Cash,
		"positions": len(snap.Positions),
		"orders":    len(snap.Orders),
		"savedAt":   snap.SavedAt,
	})
	return true, nil
}

// PlaceOrder runs the risk checks and submits req to the engine.
func (s *Session) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, exchange.Changes, error) {
	op := "PlaceOrder"
	fields := map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "type": req.Type, "qty": req.Quantity, "limitPrice": req.LimitPrice,
	}

	s.mu.Lock()
	ref := req.LimitPrice
	if ref <= 0 {
		ref, _ = s.engine.LastPrice(req.Symbol)
	}
	var held float64
	if pos, ok := s.engine.Position(req.Symbol); ok {
		held = pos.Quantity
	}
	if err := s.risk.ValidateOrder(ctx, req, ref, held); err != nil {
		s.mu.Unlock()
		s.logger.Warn(ctx, op+": blocked by risk limits", merge(fields, map[string]interface{}{"reason": err.Error()}))
		return domain.Order{}, exchange.Changes{}, err
	}

	order, changes, err := s.engine.SubmitOrder(req)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn(ctx, op+": order rejected", merge(fields, map[string]interface{}{"reason": err.Error()}))
		return domain.Order{}, changes, err
	}
	s.persistLocked(ctx, op)
	listeners := s.listeners
	s.mu.Unlock()

	s.logger.Info(ctx, op+": order accepted", merge(fields, map[string]interface{}{"orderID": order.ID, "status": order.Status}))
	s.logFills(ctx, changes)
	notify(listeners, changes)
	return order, changes, nil
}

// CancelOrder cancels an open order. It returns false when the order is
// unknown or already terminal.
func (s *Session) CancelOrder(ctx context.Context, id string) (exchange.Changes, bool) {
	op := "CancelOrder"
	s.mu.Lock()
	changes, ok := s.engine.CancelOrder(id)
	if ok {
		s.persistLocked(ctx, op)
	}
	listeners := s.listeners
	s.mu.Unlock()

	if !ok {
		s.logger.Debug(ctx, op+": nothing to cancel", map[string]interface{}{"orderID": id})
		return changes, false
	}
	s.logger.Info(ctx, op+": order canceled", map[string]interface{}{"orderID": id})
	notify(listeners, changes)
	return changes, true
}

// ProcessTick feeds one price into the engine. State is persisted only when
// the tick filled or rejected an order; mark-only ticks are saved by the
// next mutation or by Flush.
func (s *Session) ProcessTick(ctx context.Context, tick domain.Tick) exchange.Changes {
	op := "ProcessTick"
	s.mu.Lock()
	changes := s.engine.ProcessTick(tick.Symbol, tick.Price)
	if len(changes.Orders) > 0 {
		s.persistLocked(ctx, op)
	}
	listeners := s.listeners
	s.mu.Unlock()

	s.logFills(ctx, changes)
	if !changes.Empty() {
		notify(listeners, changes)
	}
	return changes
}

// Reset wipes the account and starts over with cash.
func (s *Session) Reset(ctx context.Context, cash float64) error {
	op := "Reset"
	if math.IsNaN(cash) || math.IsInf(cash, 0) || cash <= 0 {
		return fmt.Errorf("%w: initial cash must be positive, got %v", ports.ErrInvalidRequest, cash)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.Reset(cash)
	s.persistLocked(ctx, op)
	s.logger.Info(ctx, op+": account reset", map[string]interface{}{"sessionID": s.id, "cash": cash})
	return nil
}

// ClearHistory empties the realized history and running realized P&L.
func (s *Session) ClearHistory(ctx context.Context) {
	op := "ClearHistory"
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.ClearHistory()
	s.persistLocked(ctx, op)
	s.logger.Info(ctx, op+": history cleared", map[string]interface{}{"sessionID": s.id})
}

// Flush saves the current state, returning any store error.
func (s *Session) Flush(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SaveSnapshot(ctx, s.id, s.engine.State())
}

// Account returns the derived account summary.
func (s *Session) Account() domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Account()
}

// Positions returns all held positions sorted by symbol.
func (s *Session) Positions() []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Positions()
}

// Orders returns every order in creation order.
func (s *Session) Orders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Orders()
}

// OpenOrders returns the orders still open.
func (s *Session) OpenOrders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.OpenOrders()
}

// History returns the realized history, newest first.
func (s *Session) History() []domain.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.History()
}

// Snapshot returns the current engine state.
func (s *Session) Snapshot() *domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.State()
}

// View runs fn with exclusive access to the engine. fn must not call back
// into the session.
func (s *Session) View(fn func(e *exchange.Engine)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.engine)
}

// Run seeds the last price for symbol from feed, then turns every kline
// event of the stream into a tick until ctx is canceled or the stream
// stops. The state is flushed before returning.
func (s *Session) Run(ctx context.Context, feed ports.MarketDataFeed, symbol, interval string) error {
	op := "Run"
	fields := map[string]interface{}{"sessionID": s.id, "symbol": symbol, "interval": interval}
	s.logger.Info(ctx, op+": starting price feed", fields)

	if price, err := feed.GetTickerPrice(ctx, symbol); err != nil {
		s.logger.Warn(ctx, op+": could not seed last price, waiting for stream", merge(fields, map[string]interface{}{"error": err.Error()}))
	} else {
		s.ProcessTick(ctx, domain.Tick{Symbol: symbol, Price: price, Time: time.Now().UTC()})
	}

	doneCh, stopCh, err := feed.StreamKlines(ctx, symbol, interval,
		func(k *domain.Kline) {
			s.ProcessTick(ctx, k.Tick())
		},
		func(err error) {
			s.logger.Error(ctx, err, op+": stream error reported", fields)
		})
	if err != nil {
		s.logger.Error(ctx, err, op+": failed to start kline stream", fields)
		return fmt.Errorf("failed to start kline stream: %w", err)
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info(ctx, op+": context canceled, stopping stream", fields)
		close(stopCh)
		select {
		case <-doneCh:
		case <-time.After(streamShutdownTimeout):
			s.logger.Warn(ctx, op+": timeout waiting for stream shutdown", fields)
		}
	case <-doneCh:
		runErr = errors.New("kline stream stopped unexpectedly")
		s.logger.Error(ctx, runErr, op+": stream stopped", fields)
	}

	// ctx may already be canceled; the final save must still happen.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), streamShutdownTimeout)
	defer cancel()
	if err := s.Flush(flushCtx); err != nil {
		s.logger.Error(ctx, err, op+": final save failed", fields)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// persistLocked saves the engine state. Store failures are logged, not
// returned: the mutation already happened and the next save retries.
func (s *Session) persistLocked(ctx context.Context, op string) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveSnapshot(ctx, s.id, s.engine.State()); err != nil {
		s.logger.Error(ctx, err, op+": failed to persist snapshot", map[string]interface{}{"sessionID": s.id})
	}
}

func (s *Session) logFills(ctx context.Context, changes exchange.Changes) {
	for _, o := range changes.Orders {
		fields := map[string]interface{}{
			"orderID": o.ID, "symbol": o.Symbol, "side": o.Side, "qty": o.Quantity,
		}
		switch o.Status {
		case domain.StatusFilled:
			fields["price"] = o.FilledAvgPrice
			s.logger.Info(ctx, "Order filled", fields)
		case domain.StatusRejected:
			s.logger.Warn(ctx, "Order rejected at fill time", fields)
		}
	}
	for _, h := range changes.History {
		s.logger.Info(ctx, "Realized P&L", map[string]interface{}{
			"symbol": h.Symbol, "type": h.Kind, "qty": h.Quantity, "entry": h.EntryPrice, "exit": h.ExitPrice, "pnl": h.PnL,
		})
	}
}

func notify(listeners []Listener, changes exchange.Changes) {
	for _, fn := range listeners {
		fn(changes)
	}
}

func merge(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
