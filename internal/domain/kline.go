package domain

import "time"

// Kline represents a single candlestick data point from a market data feed.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Symbol    string
	Interval  string // e.g. "1m", "1h"
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsFinal   bool // Whether the interval has closed
}

// Tick is a single observed price for a symbol.
type Tick struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// Tick returns the kline close as a price tick.
func (k *Kline) Tick() Tick {
	return Tick{Symbol: k.Symbol, Price: k.Close, Time: k.CloseTime}
}
