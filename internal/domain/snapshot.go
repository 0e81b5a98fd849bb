package domain

import "time"

// SnapshotVersion is the current layout of Snapshot.
const SnapshotVersion = 1

// Snapshot is the plain, serializable state of one paper-trading account.
// It is produced and consumed by the exchange engine and stored by an
// external persistence adapter.
type Snapshot struct {
	Version     int                `json:"version"`
	Cash        float64            `json:"cash"`
	InitialCash float64            `json:"initialCash"`
	Positions   []Position         `json:"positions"`
	Orders      []Order            `json:"orders"`  // Creation order
	History     []HistoryEntry     `json:"history"` // Newest first
	RealizedPnL float64            `json:"realizedPnL"`
	LastPrices  map[string]float64 `json:"lastPrices,omitempty"`
	SavedAt     time.Time          `json:"savedAt"`
}
