package exchange

import (
	"sort"

	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
)

// Account derives cash, equity and buying power from the current books.
// It never mutates engine state.
func (e *Engine) Account() domain.Account {
	equity := e.cash
	var unrealized float64
	for _, p := range e.positions {
		equity = equity.Add(decimal.NewFromFloat(p.MarketValue))
		unrealized += p.UnrealizedPnL
	}

	acct := domain.Account{
		Cash:          e.cash.InexactFloat64(),
		BuyingPower:   e.buyingPower().InexactFloat64(),
		Equity:        equity.InexactFloat64(),
		InitialCash:   e.initialCash.InexactFloat64(),
		RealizedPnL:   e.realizedPnL.InexactFloat64(),
		UnrealizedPnL: unrealized,
	}
	totalReturn := equity.Sub(e.initialCash)
	acct.TotalReturn = totalReturn.InexactFloat64()
	if !e.initialCash.IsZero() {
		acct.TotalReturnPct = totalReturn.Div(e.initialCash).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return acct
}

// buyingPower is cash minus the capital reserved by open limit buys, floored
// at zero. Market buys and sells reserve nothing.
func (e *Engine) buyingPower() decimal.Decimal {
	held := decimal.Zero
	for _, o := range e.orders {
		if o.IsOpen() && o.Side == domain.Buy && o.Type == domain.Limit && o.HasLimitPrice() {
			held = held.Add(notional(o.Quantity, o.LimitPrice))
		}
	}
	bp := e.cash.Sub(held)
	if bp.IsNegative() {
		return decimal.Zero
	}
	return bp
}

// RealizedPnL returns the running realized P&L since the last reset or clear.
func (e *Engine) RealizedPnL() float64 {
	return e.realizedPnL.InexactFloat64()
}

// Order returns a copy of the order with the given id.
func (e *Engine) Order(id string) (domain.Order, bool) {
	o, ok := e.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Orders returns every order in creation order.
func (e *Engine) Orders() []domain.Order {
	orders := make([]domain.Order, 0, len(e.orderSeq))
	for _, id := range e.orderSeq {
		orders = append(orders, *e.orders[id])
	}
	return orders
}

// OpenOrders returns the orders still open, in creation order.
func (e *Engine) OpenOrders() []domain.Order {
	var open []domain.Order
	for _, id := range e.orderSeq {
		if o := e.orders[id]; o.IsOpen() {
			open = append(open, *o)
		}
	}
	return open
}

// Position returns a copy of the position held in symbol.
func (e *Engine) Position(symbol string) (domain.Position, bool) {
	p, ok := e.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Positions returns all held positions sorted by symbol.
func (e *Engine) Positions() []domain.Position {
	positions := make([]domain.Position, 0, len(e.positions))
	for _, p := range e.positions {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions
}

// History returns the realized history, newest first.
func (e *Engine) History() []domain.HistoryEntry {
	history := make([]domain.HistoryEntry, len(e.history))
	copy(history, e.history)
	return history
}

// LastPrice returns the last tick price seen for symbol.
func (e *Engine) LastPrice(symbol string) (float64, bool) {
	p, ok := e.lastPrices[symbol]
	return p, ok
}
