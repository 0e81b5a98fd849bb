package analytics

import (
	"math"
	"sort"
	"time"

	"papertrader/internal/domain"
)

// Fill is one execution as reported by an activity feed.
type Fill struct {
	ID       string
	Symbol   string
	Side     domain.OrderSide
	Quantity float64
	Price    float64
	Time     time.Time
}

// AnalyzedFill is a Fill with the P&L it realized, if it closed or covered
// part of a position.
type AnalyzedFill struct {
	Fill
	RealizedPnL float64
	Realized    bool // false for fills that only opened or added
}

// replayPosition tracks signed quantity and the total entry value of the
// open leg, so the average entry is totalCost / |qty|.
type replayPosition struct {
	qty       float64
	totalCost float64
}

// ReplayFills replays fills oldest first and attributes realized P&L to
// every fill that reduces an opposite position. The result is newest first.
func ReplayFills(fills []Fill) []AnalyzedFill {
	if len(fills) == 0 {
		return nil
	}

	sorted := make([]Fill, len(fills))
	copy(sorted, fills)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	books := make(map[string]*replayPosition)
	out := make([]AnalyzedFill, 0, len(sorted))
	for _, f := range sorted {
		item := AnalyzedFill{Fill: f}
		pos, ok := books[f.Symbol]
		if !ok {
			pos = &replayPosition{}
			books[f.Symbol] = pos
		}

		switch f.Side {
		case domain.Buy:
			if pos.qty < 0 {
				covered := math.Min(f.Quantity, -pos.qty)
				avg := pos.totalCost / -pos.qty
				item.RealizedPnL = (avg - f.Price) * covered
				item.Realized = true
				pos.totalCost -= avg * covered
				pos.qty += covered
				if rest := f.Quantity - covered; rest > 0 {
					pos.qty += rest
					pos.totalCost += rest * f.Price
				}
			} else {
				pos.qty += f.Quantity
				pos.totalCost += f.Quantity * f.Price
			}
		case domain.Sell:
			if pos.qty > 0 {
				closed := math.Min(f.Quantity, pos.qty)
				avg := pos.totalCost / pos.qty
				item.RealizedPnL = (f.Price - avg) * closed
				item.Realized = true
				pos.totalCost -= avg * closed
				pos.qty -= closed
				if rest := f.Quantity - closed; rest > 0 {
					pos.qty -= rest
					pos.totalCost += rest * f.Price
				}
			} else {
				pos.qty -= f.Quantity
				pos.totalCost += f.Quantity * f.Price
			}
		}
		if math.Abs(pos.qty) <= 1e-6 {
			pos.qty, pos.totalCost = 0, 0
		}
		out = append(out, item)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// FillsFromOrders turns filled orders into fills stamped with their fill
// time. Orders saved without one fall back to their creation time.
func FillsFromOrders(orders []domain.Order) []Fill {
	var fills []Fill
	for _, o := range orders {
		if o.Status != domain.StatusFilled {
			continue
		}
		at := o.FilledAt
		if at.IsZero() {
			at = o.CreatedAt
		}
		fills = append(fills, Fill{
			ID:       o.ID,
			Symbol:   o.Symbol,
			Side:     o.Side,
			Quantity: o.Quantity,
			Price:    o.FilledAvgPrice,
			Time:     at,
		})
	}
	return fills
}

// TotalRealized sums the realized P&L of analyzed fills.
func TotalRealized(fills []AnalyzedFill) float64 {
	var total float64
	for _, f := range fills {
		total += f.RealizedPnL
	}
	return total
}
