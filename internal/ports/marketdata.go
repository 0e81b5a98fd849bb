package ports

import (
	"context"

	"papertrader/internal/domain"
)

// MarketDataFeed supplies the price ticks that drive the matching engine.
type MarketDataFeed interface {
	// GetTickerPrice retrieves the last traded price for a symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// GetKlines retrieves the most recent klines for a symbol, oldest first.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)

	// StreamKlines starts a kline stream, calling handler for every event.
	// doneCh is closed when the stream stops; sending on stopCh stops it.
	StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
