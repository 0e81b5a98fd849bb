// Package binanceclient adapts the Binance futures API into a ports.MarketDataFeed.
// Only public market-data endpoints are used; no orders ever reach Binance.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	maxKlinesPerRequest = 1500
)

// wsServeFunc matches futures.WsKlineServe so tests can replace the socket.
type wsServeFunc func(symbol, interval string, handler futures.WsKlineHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error)

// Client implements ports.MarketDataFeed using the go-binance library.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
	wsServe              wsServeFunc
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string // Optional, public endpoints only
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

var _ ports.MarketDataFeed = (*Client)(nil)

// New creates a new Binance market-data client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client: %w", ports.ErrConfigurationError)
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance market data client configured", map[string]interface{}{"baseURL": client.BaseURL})

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		wsServe:              futures.WsKlineServe,
	}, nil
}

// handleError translates Binance API errors into ports errors and logs them.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Bad signature or API key
			mappedErr = ports.ErrAuthenticationFailed
		case -1121: // Invalid symbol
			mappedErr = ports.ErrSymbolNotFound
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1125, -1127, -1128, -1130:
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, operation+" failed with API error", fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}
	c.logger.Error(ctx, err, operation+" failed", fields)
	return finalErr
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("%w: %v", ports.ErrExchangeUnavailable, err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetTickerPrice retrieves the last traded price for a symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no ticker data for %s: %w", symbol, ports.ErrSymbolNotFound), op)
	}

	price, err := decimal.NewFromString(tickers[0].LastPrice)
	if err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", tickers[0].LastPrice, err), op)
	}
	return price.InexactFloat64(), nil
}

// GetKlines retrieves the most recent klines for a symbol, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	klines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		k, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// GetKlinesRange pages through all klines between start and end.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	var all []*domain.Kline
	from := start

	for {
		batch, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(batch) == 0 {
			break
		}
		for _, bk := range batch {
			k, err := translateBinanceKline(bk, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline range: %w", err), op)
			}
			all = append(all, k)
		}
		// Next page starts just after the last close.
		from = time.UnixMilli(batch[len(batch)-1].CloseTime + 1)
		if from.After(end) || len(batch) < maxKlinesPerRequest {
			break
		}
	}
	c.logger.Debug(ctx, op+" done", map[string]interface{}{"symbol": symbol, "interval": interval, "count": len(all)})
	return all, nil
}

// StreamKlines keeps a kline WebSocket open, reconnecting with backoff until
// ctx is canceled, stopCh is signaled, or the reconnect budget is spent.
// doneCh is closed once the stream has stopped for good.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamKlines"
	wsCtx, cancelWs := context.WithCancel(ctx)
	fields := map[string]interface{}{"symbol": symbol, "interval": interval}

	binanceHandler := func(event *futures.WsKlineEvent) {
		k, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(wsCtx, err, op+": failed to translate kline event", fields)
			return
		}
		handler(k)
	}
	binanceErrHandler := func(err error) {
		if errHandler != nil {
			errHandler(c.handleError(wsCtx, err, op+" WebSocket"))
		}
	}

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": stop requested", fields)
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		defer close(doneCh)
		defer cancelWs()

		b := &backoff.Backoff{Min: c.reconnectDelay, Max: 60 * c.reconnectDelay, Factor: 2, Jitter: true}
		for {
			if wsCtx.Err() != nil {
				return
			}
			innerDone, innerStop, connectErr := c.wsServe(symbol, interval, binanceHandler, binanceErrHandler)
			if connectErr != nil {
				wrapped := c.handleError(wsCtx, connectErr, op+" connect")
				if int(b.Attempt())+1 >= c.maxReconnectAttempts {
					c.logger.Error(wsCtx, connectErr, op+": max reconnection attempts exceeded", fields)
					if errHandler != nil {
						errHandler(fmt.Errorf("%w: %w", ports.ErrConnectionFailed, wrapped))
					}
					return
				}
				delay := b.Duration()
				c.logger.Warn(wsCtx, op+": connect failed, retrying", map[string]interface{}{
					"symbol": symbol, "attempt": int(b.Attempt()), "delay": delay.String(),
				})
				select {
				case <-time.After(delay):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			c.logger.Info(wsCtx, op+": WebSocket connected", fields)
			b.Reset()

			select {
			case <-innerDone:
				c.logger.Warn(wsCtx, op+": WebSocket closed, reconnecting", fields)
			case <-wsCtx.Done():
				close(innerStop)
				<-innerDone
				return
			}
		}
	}()

	return doneCh, stopCh, nil
}

// --- Translation Helpers ---

// parseOHLCV parses Binance's decimal strings exactly before converting.
func parseOHLCV(open, high, low, cls, volume string) ([5]float64, error) {
	var out [5]float64
	for i, s := range []string{open, high, low, cls, volume} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return out, fmt.Errorf("parsing %q: %w", s, err)
		}
		out[i] = d.InexactFloat64()
	}
	return out, nil
}

func translateWsKline(event *futures.WsKlineEvent) (*domain.Kline, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	v, err := parseOHLCV(k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return nil, err
	}
	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.StartTime).UTC(),
		CloseTime: time.UnixMilli(k.EndTime).UTC(),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      v[0],
		High:      v[1],
		Low:       v[2],
		Close:     v[3],
		Volume:    v[4],
		IsFinal:   k.IsFinal,
	}, nil
}

func translateBinanceKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	v, err := parseOHLCV(bk.Open, bk.High, bk.Low, bk.Close, bk.Volume)
	if err != nil {
		return nil, err
	}
	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime).UTC(),
		CloseTime: time.UnixMilli(bk.CloseTime).UTC(),
		Symbol:    symbol, // futures.Kline carries no symbol
		Interval:  interval,
		Open:      v[0],
		High:      v[1],
		Low:       v[2],
		Close:     v[3],
		Volume:    v[4],
		IsFinal:   true,
	}, nil
}
