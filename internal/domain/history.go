package domain

import "time"

// HistoryEntry records the realized result of one closing or covering slice.
type HistoryEntry struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Quantity   float64     `json:"qty"`
	EntryPrice float64     `json:"entryPrice"`
	ExitPrice  float64     `json:"exitPrice"`
	PnL        float64     `json:"pnl"`
	Timestamp  time.Time   `json:"timestamp"`
	Kind       HistoryKind `json:"type"`
	OrderID    string      `json:"orderId,omitempty"` // Order whose fill produced the entry
}
