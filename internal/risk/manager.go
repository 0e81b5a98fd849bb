// Package risk holds optional pre-trade limits applied before an order
// reaches the matching engine.
package risk

import (
	"context"
	"fmt"
	"math"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// Limits holds configuration for pre-trade risk checks. A zero field disables that check.
type Limits struct {
	MaxOrderNotional float64 // qty * reference price of a single order
	MaxPositionQty   float64 // absolute position size after the order fills
}

// Enabled reports whether any limit is set.
func (l Limits) Enabled() bool {
	return l.MaxOrderNotional > 0 || l.MaxPositionQty > 0
}

// Manager applies Limits to incoming orders.
type Manager struct {
	limits Limits
}

// NewManager creates a new risk manager instance.
func NewManager(limits Limits) *Manager {
	return &Manager{limits: limits}
}

// Limits returns the configured limits.
func (m *Manager) Limits() Limits {
	return m.limits
}

// ValidateOrder checks req against the limits. refPrice is the price the
// order is expected to trade at (0 when unknown, which skips the notional
// check) and held is the signed quantity currently held in req.Symbol.
// Orders that shrink the position are always allowed by the size check.
func (m *Manager) ValidateOrder(_ context.Context, req domain.OrderRequest, refPrice, held float64) error {
	if m == nil || !m.limits.Enabled() {
		return nil
	}

	if limit := m.limits.MaxOrderNotional; limit > 0 && refPrice > 0 {
		if notional := req.Quantity * refPrice; notional > limit {
			return fmt.Errorf("%w: order notional %.2f exceeds maximum %.2f", ports.ErrRiskLimit, notional, limit)
		}
	}

	if limit := m.limits.MaxPositionQty; limit > 0 {
		after := held + req.Quantity
		if req.Side == domain.Sell {
			after = held - req.Quantity
		}
		if math.Abs(after) > limit && math.Abs(after) > math.Abs(held) {
			return fmt.Errorf("%w: position %s would be %g, maximum %g", ports.ErrRiskLimit, req.Symbol, after, limit)
		}
	}
	return nil
}

// PositionSize is the quantity worth fraction of equity at price, capped by
// MaxPositionQty when set. It returns 0 for a non-positive price.
func (m *Manager) PositionSize(equity, price, fraction float64) float64 {
	if price <= 0 || equity <= 0 || fraction <= 0 {
		return 0
	}
	size := equity * fraction / price
	if m != nil && m.limits.MaxPositionQty > 0 {
		size = math.Min(size, m.limits.MaxPositionQty)
	}
	return size
}
