// Package exchange implements the paper-trading matching engine.
//
// An Engine owns the cash ledger, the position book, the order set and the
// realized-history log of a single account. It is synchronous and does no
// locking: every method runs to completion before returning, and callers
// sharing an Engine across goroutines must serialize access themselves
// (see the session package).
package exchange

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// QuantityEpsilon is the magnitude below which a position is treated as flat.
const QuantityEpsilon = 0.000001

// Engine matches orders against price ticks and keeps the account books.
type Engine struct {
	cash        decimal.Decimal
	initialCash decimal.Decimal
	realizedPnL decimal.Decimal

	positions  map[string]*domain.Position
	orders     map[string]*domain.Order
	orderSeq   []string // Order ids in creation order
	history    []domain.HistoryEntry
	lastPrices map[string]float64

	now   func() time.Time
	newID func() string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock sets the time source used for order and history timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator sets the generator used for order and history ids.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// New creates an engine holding initialCash and nothing else.
func New(initialCash float64, opts ...Option) *Engine {
	e := &Engine{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Reset(initialCash)
	return e
}

// Reset discards all positions, orders, history and cached prices and sets
// both the cash balance and the initial-cash baseline to cash.
func (e *Engine) Reset(cash float64) {
	e.cash = decimal.NewFromFloat(cash)
	e.initialCash = e.cash
	e.realizedPnL = decimal.Zero
	e.positions = make(map[string]*domain.Position)
	e.orders = make(map[string]*domain.Order)
	e.orderSeq = nil
	e.history = nil
	e.lastPrices = make(map[string]float64)
}

// ClearHistory empties the history log and the running realized P&L.
func (e *Engine) ClearHistory() {
	e.history = nil
	e.realizedPnL = decimal.Zero
}

// SubmitOrder validates req against the account and stores it as an open
// order. A market order is filled immediately when a price for its symbol
// has already been seen. On error nothing is mutated.
func (e *Engine) SubmitOrder(req domain.OrderRequest) (domain.Order, Changes, error) {
	var changes Changes
	if err := validateRequest(req); err != nil {
		return domain.Order{}, changes, err
	}
	if err := e.checkCapital(req); err != nil {
		return domain.Order{}, changes, err
	}

	order := &domain.Order{
		ID:            e.newID(),
		Symbol:        req.Symbol,
		Quantity:      req.Quantity,
		Side:          req.Side,
		Type:          req.Type,
		LimitPrice:    req.LimitPrice,
		Status:        domain.StatusOpen,
		CreatedAt:     e.now(),
		ClientOrderID: req.ClientOrderID,
	}
	e.orders[order.ID] = order
	e.orderSeq = append(e.orderSeq, order.ID)

	if order.Type == domain.Market {
		if price, ok := e.lastPrices[order.Symbol]; ok {
			e.executeFill(order, price, &changes)
		}
	}
	return *order, changes, nil
}

// CancelOrder moves an open order to canceled. It returns false, with no
// mutation, when the order is unknown or already terminal.
func (e *Engine) CancelOrder(id string) (Changes, bool) {
	var changes Changes
	order, ok := e.orders[id]
	if !ok || !order.IsOpen() {
		return changes, false
	}
	order.Status = domain.StatusCanceled
	changes.addOrder(order)
	return changes, true
}

// ProcessTick records price as the last price for symbol, re-marks the
// symbol's position and fills every open order on the symbol whose
// trigger condition holds, one at a time in creation order. Ticks with a
// non-finite or non-positive price are ignored entirely: the last price
// is not cached and the position mark is not updated.
func (e *Engine) ProcessTick(symbol string, price float64) Changes {
	var changes Changes
	if symbol == "" || !isFinite(price) || price <= 0 {
		return changes
	}

	e.lastPrices[symbol] = price

	if pos, ok := e.positions[symbol]; ok {
		pos.Mark(price)
		changes.addPosition(*pos)
	}

	for _, id := range e.orderSeq {
		order := e.orders[id]
		if !order.IsOpen() || order.Symbol != symbol {
			continue
		}
		if shouldFill(order, price) {
			e.executeFill(order, price, &changes)
		}
	}
	return changes
}

// shouldFill is the trigger predicate for an open order at price.
func shouldFill(order *domain.Order, price float64) bool {
	switch order.Type {
	case domain.Market:
		return true
	case domain.Limit:
		if !order.HasLimitPrice() {
			return false
		}
		if order.Side == domain.Buy {
			return price <= order.LimitPrice
		}
		return price >= order.LimitPrice
	default:
		return false
	}
}

func validateRequest(req domain.OrderRequest) error {
	if !isFinite(req.Quantity) || req.Quantity <= 0 {
		return fmt.Errorf("%w: got %v", ports.ErrInvalidQuantity, req.Quantity)
	}
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ports.ErrInvalidOrder)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ports.ErrInvalidOrder, req.Side)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ports.ErrInvalidOrder, req.Type)
	}
	if !isFinite(req.LimitPrice) || req.LimitPrice < 0 {
		return fmt.Errorf("%w: invalid limit price %v", ports.ErrInvalidOrder, req.LimitPrice)
	}
	if req.Type == domain.Limit && req.LimitPrice <= 0 {
		return fmt.Errorf("%w: limit order requires a positive limit price", ports.ErrInvalidOrder)
	}
	return nil
}

// checkCapital applies the submission-time capital rules.
func (e *Engine) checkCapital(req domain.OrderRequest) error {
	ref := e.referencePrice(req)
	var held float64
	if pos, ok := e.positions[req.Symbol]; ok {
		held = pos.Quantity
	}

	switch req.Side {
	case domain.Buy:
		required := notional(req.Quantity, ref)
		if held < 0 {
			// Covering a short is checked against raw cash.
			if required.GreaterThan(e.cash) {
				return fmt.Errorf("%w: required %s, available %s",
					ports.ErrInsufficientCash, required.StringFixed(2), e.cash.StringFixed(2))
			}
			return nil
		}
		if bp := e.buyingPower(); required.GreaterThan(bp) {
			return fmt.Errorf("%w: required %s, available %s",
				ports.ErrInsufficientBuyingPower, required.StringFixed(2), bp.StringFixed(2))
		}
	case domain.Sell:
		// A pure exit from a long needs no capital. A sell the long cannot
		// cover is checked in full against buying power.
		if held > 0 && req.Quantity <= held+QuantityEpsilon {
			return nil
		}
		required := notional(req.Quantity, ref)
		if bp := e.buyingPower(); required.GreaterThan(bp) {
			return fmt.Errorf("%w: sell requires %s, available %s",
				ports.ErrInsufficientBuyingPower, required.StringFixed(2), bp.StringFixed(2))
		}
	}
	return nil
}

// referencePrice is the limit price if given, else the last tick, else zero.
func (e *Engine) referencePrice(req domain.OrderRequest) float64 {
	if req.LimitPrice > 0 {
		return req.LimitPrice
	}
	return e.lastPrices[req.Symbol]
}

func notional(qty, price float64) decimal.Decimal {
	return decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
