package domain

// Account is a derived view of the cash ledger and positions.
type Account struct {
	Cash           float64 `json:"cash"`
	BuyingPower    float64 `json:"buyingPower"`
	Equity         float64 `json:"equity"`
	InitialCash    float64 `json:"initialCash"`
	RealizedPnL    float64 `json:"realizedPnl"`
	UnrealizedPnL  float64 `json:"unrealizedPnl"`
	TotalReturn    float64 `json:"totalReturn"`    // Equity - InitialCash
	TotalReturnPct float64 `json:"totalReturnPct"` // 0 when InitialCash is 0
}
