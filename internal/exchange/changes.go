package exchange

import "papertrader/internal/domain"

// Changes is the set of state deltas caused by one engine call, so callers
// can react to executions without polling.
type Changes struct {
	// Orders whose status changed, in the order the changes happened.
	Orders []domain.Order
	// Positions touched, one entry per symbol holding its final state.
	// A position removed from the book is reported with Closed set.
	Positions []domain.Position
	// History entries appended, oldest first.
	History []domain.HistoryEntry
}

// Filled returns the orders that were filled.
func (c Changes) Filled() []domain.Order {
	var filled []domain.Order
	for _, o := range c.Orders {
		if o.Status == domain.StatusFilled {
			filled = append(filled, o)
		}
	}
	return filled
}

// Rejected returns the orders rejected at fill time.
func (c Changes) Rejected() []domain.Order {
	var rejected []domain.Order
	for _, o := range c.Orders {
		if o.Status == domain.StatusRejected {
			rejected = append(rejected, o)
		}
	}
	return rejected
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Orders) == 0 && len(c.Positions) == 0 && len(c.History) == 0
}

func (c *Changes) addOrder(o *domain.Order) {
	c.Orders = append(c.Orders, *o)
}

func (c *Changes) addPosition(p domain.Position) {
	for i := range c.Positions {
		if c.Positions[i].Symbol == p.Symbol {
			c.Positions[i] = p
			return
		}
	}
	c.Positions = append(c.Positions, p)
}
