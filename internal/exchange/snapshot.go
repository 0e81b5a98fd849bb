package exchange

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// State captures the engine in a plain snapshot suitable for persistence.
func (e *Engine) State() *domain.Snapshot {
	snap := &domain.Snapshot{
		Version:     domain.SnapshotVersion,
		Cash:        e.cash.InexactFloat64(),
		InitialCash: e.initialCash.InexactFloat64(),
		Positions:   e.Positions(),
		Orders:      e.Orders(),
		History:     e.History(),
		RealizedPnL: e.realizedPnL.InexactFloat64(),
		LastPrices:  make(map[string]float64, len(e.lastPrices)),
		SavedAt:     e.now(),
	}
	for symbol, price := range e.lastPrices {
		snap.LastPrices[symbol] = price
	}
	return snap
}

// LoadState replaces the engine's books with snap. The snapshot is
// validated first; on error the engine is left untouched.
func (e *Engine) LoadState(snap *domain.Snapshot) error {
	if err := validateSnapshot(snap); err != nil {
		return err
	}

	positions := make(map[string]*domain.Position, len(snap.Positions))
	for _, p := range snap.Positions {
		p := p
		p.Closed = false
		positions[p.Symbol] = &p
	}

	orders := make(map[string]*domain.Order, len(snap.Orders))
	seq := make([]string, 0, len(snap.Orders))
	for _, o := range snap.Orders {
		o := o
		orders[o.ID] = &o
		seq = append(seq, o.ID)
	}
	// Restore creation order even if the store returned another one.
	sort.SliceStable(seq, func(i, j int) bool {
		return orders[seq[i]].CreatedAt.Before(orders[seq[j]].CreatedAt)
	})

	history := make([]domain.HistoryEntry, len(snap.History))
	copy(history, snap.History)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.After(history[j].Timestamp)
	})

	lastPrices := make(map[string]float64, len(snap.LastPrices))
	for symbol, price := range snap.LastPrices {
		lastPrices[symbol] = price
	}

	e.cash = decimal.NewFromFloat(snap.Cash)
	e.initialCash = decimal.NewFromFloat(snap.InitialCash)
	e.realizedPnL = decimal.NewFromFloat(snap.RealizedPnL)
	e.positions = positions
	e.orders = orders
	e.orderSeq = seq
	e.history = history
	e.lastPrices = lastPrices
	return nil
}

func validateSnapshot(snap *domain.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ports.ErrInvalidSnapshot)
	}
	if snap.Version != domain.SnapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ports.ErrInvalidSnapshot, snap.Version)
	}
	for name, v := range map[string]float64{"cash": snap.Cash, "initialCash": snap.InitialCash} {
		if !isFinite(v) || v < 0 {
			return fmt.Errorf("%w: %s is %v", ports.ErrInvalidSnapshot, name, v)
		}
	}
	if !isFinite(snap.RealizedPnL) {
		return fmt.Errorf("%w: realizedPnL is %v", ports.ErrInvalidSnapshot, snap.RealizedPnL)
	}

	symbols := make(map[string]struct{}, len(snap.Positions))
	for _, p := range snap.Positions {
		if p.Symbol == "" {
			return fmt.Errorf("%w: position without symbol", ports.ErrInvalidSnapshot)
		}
		if _, dup := symbols[p.Symbol]; dup {
			return fmt.Errorf("%w: duplicate position %s", ports.ErrInvalidSnapshot, p.Symbol)
		}
		if !isFinite(p.Quantity) || math.Abs(p.Quantity) <= QuantityEpsilon {
			return fmt.Errorf("%w: position %s has quantity %v", ports.ErrInvalidSnapshot, p.Symbol, p.Quantity)
		}
		symbols[p.Symbol] = struct{}{}
	}

	ids := make(map[string]struct{}, len(snap.Orders))
	for _, o := range snap.Orders {
		if o.ID == "" {
			return fmt.Errorf("%w: order without id", ports.ErrInvalidSnapshot)
		}
		if _, dup := ids[o.ID]; dup {
			return fmt.Errorf("%w: duplicate order %s", ports.ErrInvalidSnapshot, o.ID)
		}
		if !isFinite(o.Quantity) || o.Quantity <= 0 {
			return fmt.Errorf("%w: order %s has quantity %v", ports.ErrInvalidSnapshot, o.ID, o.Quantity)
		}
		ids[o.ID] = struct{}{}
	}
	return nil
}
