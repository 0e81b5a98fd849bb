package analytics

import (
	"sort"
	"time"

	"papertrader/internal/domain"
)

// Summary holds performance figures derived from the realized history.
type Summary struct {
	// Basic Metrics
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // Share of trades with positive P&L, 0..1
	TotalRealized float64
	AverageWin    float64
	AverageLoss   float64 // Negative or zero
	ProfitFactor  float64 // Gross profit / gross loss, 0 when there are no losses
	MaxDrawdown   float64 // Largest peak-to-trough fall of realized balance, 0..1
	FinalBalance  float64 // Initial cash plus realized P&L
	ReturnPct     float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	Expectancy           float64
	MonthlyReturns       map[string]float64
	EquityCurve          []EquityPoint
}

// EquityPoint represents a point on the realized equity curve.
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// MonthlyReturn represents realized P&L booked in one month.
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}

// Summarize computes performance figures over history, which may be in any
// order. Each entry counts as one trade.
func Summarize(history []domain.HistoryEntry, initialCash float64) *Summary {
	s := &Summary{
		FinalBalance:   initialCash,
		MonthlyReturns: make(map[string]float64),
		EquityCurve:    make([]EquityPoint, 0, len(history)),
	}
	if len(history) == 0 {
		return s
	}

	entries := make([]domain.HistoryEntry, len(history))
	copy(entries, history)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	balance, peak := initialCash, initialCash
	var grossWin, grossLoss float64
	var wins, losses int

	for _, h := range entries {
		s.TotalTrades++
		switch {
		case h.PnL > 0:
			s.WinningTrades++
			grossWin += h.PnL
			wins++
			losses = 0
		case h.PnL < 0:
			s.LosingTrades++
			grossLoss -= h.PnL
			losses++
			wins = 0
		default:
			wins, losses = 0, 0
		}
		if wins > s.MaxConsecutiveWins {
			s.MaxConsecutiveWins = wins
		}
		if losses > s.MaxConsecutiveLosses {
			s.MaxConsecutiveLosses = losses
		}

		balance += h.PnL
		s.TotalRealized += h.PnL
		s.MonthlyReturns[h.Timestamp.UTC().Format("2006-01")] += h.PnL

		if balance > peak {
			peak = balance
		}
		var dd float64
		if peak > 0 {
			dd = (peak - balance) / peak
		}
		if dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
		}
		s.EquityCurve = append(s.EquityCurve, EquityPoint{Time: h.Timestamp, Value: balance, Drawdown: dd})
	}

	s.FinalBalance = balance
	s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades)
	if s.WinningTrades > 0 {
		s.AverageWin = grossWin / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AverageLoss = -grossLoss / float64(s.LosingTrades)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossWin / grossLoss
	}
	if initialCash > 0 {
		s.ReturnPct = (balance - initialCash) / initialCash * 100
	}
	s.Expectancy = s.TotalRealized / float64(s.TotalTrades)
	return s
}

// GetMonthlyReturns returns the monthly returns sorted by month.
func (s *Summary) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(s.MonthlyReturns))
	for month, profit := range s.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{Month: date, Return: profit})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}
