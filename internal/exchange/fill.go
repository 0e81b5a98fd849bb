package exchange

import (
	"math"

	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
)

// closedSlice is the part of a fill that reduced an opposite position.
type closedSlice struct {
	qty        float64
	entryPrice float64
	pnl        float64
	kind       domain.HistoryKind
}

// executeFill fills order at price, or rejects it when a buy costs more
// than the cash on hand. Every mutation it makes is recorded in changes.
func (e *Engine) executeFill(order *domain.Order, price float64, changes *Changes) {
	if !order.IsOpen() {
		return
	}

	amount := notional(order.Quantity, price)
	if order.Side == domain.Buy {
		if amount.GreaterThan(e.cash) {
			order.Status = domain.StatusRejected
			changes.addOrder(order)
			return
		}
		e.cash = e.cash.Sub(amount)
	} else {
		e.cash = e.cash.Add(amount)
	}

	pos, ok := e.positions[order.Symbol]
	if !ok {
		pos = &domain.Position{Symbol: order.Symbol, CurrentPrice: price}
	}

	var slice *closedSlice
	if order.Side == domain.Buy {
		slice = applyBuy(pos, order.Quantity, price)
	} else {
		slice = applySell(pos, order.Quantity, price)
	}

	if slice != nil {
		e.realizedPnL = e.realizedPnL.Add(decimal.NewFromFloat(slice.pnl))
		entry := domain.HistoryEntry{
			ID:         e.newID(),
			Symbol:     order.Symbol,
			Quantity:   slice.qty,
			EntryPrice: slice.entryPrice,
			ExitPrice:  price,
			PnL:        slice.pnl,
			Timestamp:  e.now(),
			Kind:       slice.kind,
			OrderID:    order.ID,
		}
		e.history = append([]domain.HistoryEntry{entry}, e.history...)
		changes.History = append(changes.History, entry)
	}

	if math.Abs(pos.Quantity) <= QuantityEpsilon {
		delete(e.positions, order.Symbol)
		closed := *pos
		closed.Quantity = 0
		closed.Mark(price)
		closed.Closed = true
		changes.addPosition(closed)
	} else {
		pos.Mark(price)
		e.positions[order.Symbol] = pos
		changes.addPosition(*pos)
	}

	order.Status = domain.StatusFilled
	order.FilledAvgPrice = price
	order.FilledAt = e.now()
	changes.addOrder(order)
}

// applyBuy adds qty bought at price to pos. If pos is short, the overlapping
// quantity covers it and is returned as a realized slice; a remainder past
// flat opens a long at price.
func applyBuy(pos *domain.Position, qty, price float64) *closedSlice {
	if pos.Quantity >= 0 {
		newQty := pos.Quantity + qty
		pos.AvgEntryPrice = (pos.Quantity*pos.AvgEntryPrice + qty*price) / newQty
		pos.Quantity = newQty
		return nil
	}

	covered := math.Min(-pos.Quantity, qty)
	slice := &closedSlice{
		qty:        covered,
		entryPrice: pos.AvgEntryPrice,
		pnl:        (pos.AvgEntryPrice - price) * covered,
		kind:       domain.KindCover,
	}

	pos.Quantity += covered
	if math.Abs(pos.Quantity) <= QuantityEpsilon {
		pos.Quantity = 0
	}
	if remainder := qty - covered; remainder > QuantityEpsilon {
		// Flipped to long: the new leg's basis is the fill price alone.
		pos.Quantity += remainder
		pos.AvgEntryPrice = price
	}
	return slice
}

// applySell removes qty sold at price from pos. If pos is long, the
// overlapping quantity closes it and is returned as a realized slice; a
// remainder past flat opens a short at price.
func applySell(pos *domain.Position, qty, price float64) *closedSlice {
	if pos.Quantity <= 0 {
		newQty := pos.Quantity - qty
		basis := pos.Quantity*pos.AvgEntryPrice - qty*price
		pos.AvgEntryPrice = math.Abs(basis / newQty)
		pos.Quantity = newQty
		return nil
	}

	closedQty := math.Min(pos.Quantity, qty)
	slice := &closedSlice{
		qty:        closedQty,
		entryPrice: pos.AvgEntryPrice,
		pnl:        (price - pos.AvgEntryPrice) * closedQty,
		kind:       domain.KindSell,
	}

	pos.Quantity -= closedQty
	if math.Abs(pos.Quantity) <= QuantityEpsilon {
		pos.Quantity = 0
	}
	if remainder := qty - closedQty; remainder > QuantityEpsilon {
		// Flipped to short: the new leg's basis is the fill price alone.
		pos.Quantity -= remainder
		pos.AvgEntryPrice = price
	}
	return slice
}
