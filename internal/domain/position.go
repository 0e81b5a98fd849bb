package domain

// Position is the current holding for one symbol.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"qty"` // Positive for long, negative for short
	AvgEntryPrice float64 `json:"avgEntryPrice"`
	CurrentPrice  float64 `json:"currentPrice"` // Last mark price
	MarketValue   float64 `json:"marketValue"`
	UnrealizedPnL float64 `json:"unrealizedPl"`

	// Closed is only set on change sets, for a position removed by a fill.
	Closed bool `json:"-"`
}

// IsLong checks if the position is long.
func (p *Position) IsLong() bool {
	return p.Quantity > 0
}

// IsShort checks if the position is short.
func (p *Position) IsShort() bool {
	return p.Quantity < 0
}

// Mark revalues the position at price.
func (p *Position) Mark(price float64) {
	p.CurrentPrice = price
	p.MarketValue = p.Quantity * price
	p.UnrealizedPnL = p.MarketValue - p.Quantity*p.AvgEntryPrice
}
