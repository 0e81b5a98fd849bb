package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/domain"
	"papertrader/internal/exchange"
	"papertrader/internal/ports"
	"papertrader/internal/risk"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errorMsgs...)
}

type mockStore struct {
	mu      sync.Mutex
	snaps   map[string]*domain.Snapshot
	saves   int
	saveErr error
	loadErr error
}

func newMockStore() *mockStore {
	return &mockStore{snaps: make(map[string]*domain.Snapshot)}
}

func (m *mockStore) SaveSnapshot(ctx context.Context, id string, snap *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.snaps[id] = snap
	return nil
}

func (m *mockStore) LoadSnapshot(ctx context.Context, id string) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.snaps[id], nil
}

func (m *mockStore) DeleteSnapshot(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}

func (m *mockStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *mockStore) saved(id string) *domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[id]
}

type mockFeed struct {
	price    float64
	priceErr error
	klines   []*domain.Kline
	closeAll bool // Close doneCh after sending klines
	streamed chan struct{}
}

func (m *mockFeed) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	return m.price, m.priceErr
}

func (m *mockFeed) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	return m.klines, nil
}

func (m *mockFeed) StreamKlines(ctx context.Context, symbol, interval string, handler func(*domain.Kline), errHandler func(error)) (chan struct{}, chan struct{}, error) {
	doneCh := make(chan struct{})
	stopCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for _, k := range m.klines {
			handler(k)
		}
		errHandler(errors.New("transient"))
		if m.streamed != nil {
			close(m.streamed)
		}
		if m.closeAll {
			return
		}
		<-stopCh
	}()
	return doneCh, stopCh, nil
}

func newTestSession(t *testing.T, store ports.SnapshotStore, limits risk.Limits) (*Session, *mockLogger) {
	t.Helper()
	var n int
	log := &mockLogger{}
	s, err := New(Config{
		ID: "test",
		Engine: exchange.New(10000, exchange.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		})),
		Store:  store,
		Logger: log,
		Limits: limits,
	})
	require.NoError(t, err)
	return s, log
}

func tick(symbol string, price float64) domain.Tick {
	return domain.Tick{Symbol: symbol, Price: price}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	_, err = New(Config{Engine: exchange.New(1)})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	s, err := New(Config{Engine: exchange.New(1), Logger: &mockLogger{}})
	require.NoError(t, err)
	assert.Equal(t, "default", s.ID())
}

func TestSession_PlaceOrderPersistsAndNotifies(t *testing.T) {
	store := newMockStore()
	s, _ := newTestSession(t, store, risk.Limits{})
	ctx := context.Background()

	var got []exchange.Changes
	s.Subscribe(func(c exchange.Changes) { got = append(got, c) })

	s.ProcessTick(ctx, tick("ETHUSDT", 100))
	assert.Zero(t, store.saveCount(), "mark-only tick is not persisted")

	order, changes, err := s.PlaceOrder(ctx, domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 5, Side: domain.Buy, Type: domain.Market})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, order.Status)
	require.Len(t, changes.Filled(), 1)

	assert.Equal(t, 1, store.saveCount())
	saved := store.saved("test")
	require.NotNil(t, saved)
	assert.Equal(t, 9500.0, saved.Cash)
	require.Len(t, saved.Positions, 1)

	require.Len(t, got, 1)
	assert.Equal(t, order.ID, got[0].Orders[0].ID)
}

func TestSession_RejectedOrderDoesNotPersist(t *testing.T) {
	store := newMockStore()
	s, log := newTestSession(t, store, risk.Limits{})

	_, _, err := s.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 0, Side: domain.Buy, Type: domain.Market})
	assert.ErrorIs(t, err, ports.ErrInvalidQuantity)
	assert.Zero(t, store.saveCount())
	assert.NotEmpty(t, log.warnMsgs)
}

func TestSession_RiskLimits(t *testing.T) {
	s, _ := newTestSession(t, nil, risk.Limits{MaxOrderNotional: 1000, MaxPositionQty: 8})
	ctx := context.Background()
	s.ProcessTick(ctx, tick("ETHUSDT", 100))

	_, _, err := s.PlaceOrder(ctx, domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 11, Side: domain.Buy, Type: domain.Market})
	assert.ErrorIs(t, err, ports.ErrRiskLimit)

	_, _, err = s.PlaceOrder(ctx, domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 6, Side: domain.Buy, Type: domain.Market})
	require.NoError(t, err)
	_, _, err = s.PlaceOrder(ctx, domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 3, Side: domain.Buy, Type: domain.Market})
	assert.ErrorIs(t, err, ports.ErrRiskLimit, "position would reach 9")

	// Limit price is the reference for notional.
	_, _, err = s.PlaceOrder(ctx, domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 2, Side: domain.Buy, Type: domain.Limit, LimitPrice: 600})
	assert.ErrorIs(t, err, ports.ErrRiskLimit)

	assert.Len(t, s.Orders(), 1)
}

func TestSession_TickFillPersists(t *testing.T) {
	store := newMockStore()
	s, _ := newTestSession(t, store, risk.Limits{})
	ctx := context.Background()

	_, _, err := s.PlaceOrder(ctx, domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 1, Side: domain.Buy, Type: domain.Limit, LimitPrice: 90})
	require.NoError(t, err)
	assert.Equal(t, 1, store.saveCount())

	s.ProcessTick(ctx, tick("ETHUSDT", 95))
	assert.Equal(t, 1, store.saveCount())

	changes := s.ProcessTick(ctx, tick("ETHUSDT", 90))
	require.Len(t, changes.Filled(), 1)
	assert.Equal(t, 2, store.saveCount())
	assert.Equal(t, domain.StatusFilled, store.saved("test").Orders[0].Status)
}

func TestSession_CancelOrder(t *testing.T) {
	store := newMockStore()
	s, _ := newTestSession(t, store, risk.Limits{})
	ctx := context.Background()

	order, _, err := s.PlaceOrder(ctx, domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 1, Side: domain.Buy, Type: domain.Limit, LimitPrice: 90})
	require.NoError(t, err)

	changes, ok := s.CancelOrder(ctx, order.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCanceled, changes.Orders[0].Status)
	assert.Equal(t, 2, store.saveCount())

	_, ok = s.CancelOrder(ctx, order.ID)
	assert.False(t, ok)
	_, ok = s.CancelOrder(ctx, "missing")
	assert.False(t, ok)
	assert.Equal(t, 2, store.saveCount())
}

func TestSession_PersistFailureIsLoggedNotReturned(t *testing.T) {
	store := newMockStore()
	store.saveErr = ports.ErrUpdateFailed
	s, log := newTestSession(t, store, risk.Limits{})

	_, _, err := s.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 1, Side: domain.Buy, Type: domain.Limit, LimitPrice: 90})
	require.NoError(t, err)
	assert.Len(t, s.Orders(), 1)
	assert.NotEmpty(t, log.errors())

	assert.ErrorIs(t, s.Flush(context.Background()), ports.ErrUpdateFailed)
}

func TestSession_Restore(t *testing.T) {
	store := newMockStore()
	ctx := context.Background()

	first, _ := newTestSession(t, store, risk.Limits{})
	ok, err := first.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first.ProcessTick(ctx, tick("ETHUSDT", 100))
	_, _, err = first.PlaceOrder(ctx, domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 3, Side: domain.Buy, Type: domain.Market})
	require.NoError(t, err)

	second, _ := newTestSession(t, store, risk.Limits{})
	ok, err = second.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first.Account(), second.Account())
	assert.Equal(t, first.Positions(), second.Positions())
}

func TestSession_RestoreErrors(t *testing.T) {
	ctx := context.Background()

	store := newMockStore()
	store.loadErr = ports.ErrQueryFailed
	s, _ := newTestSession(t, store, risk.Limits{})
	_, err := s.Restore(ctx)
	assert.ErrorIs(t, err, ports.ErrQueryFailed)

	store = newMockStore()
	store.snaps["test"] = &domain.Snapshot{Version: 99}
	s, _ = newTestSession(t, store, risk.Limits{})
	_, err = s.Restore(ctx)
	assert.ErrorIs(t, err, ports.ErrInvalidSnapshot)
	assert.Equal(t, 10000.0, s.Account().Cash)

	s, _ = newTestSession(t, nil, risk.Limits{})
	ok, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_ResetAndClearHistory(t *testing.T) {
	store := newMockStore()
	s, _ := newTestSession(t, store, risk.Limits{})
	ctx := context.Background()

	s.ProcessTick(ctx, tick("ETHUSDT", 100))
	_, _, err := s.PlaceOrder(ctx, domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 2, Side: domain.Buy, Type: domain.Market})
	require.NoError(t, err)
	s.ProcessTick(ctx, tick("ETHUSDT", 110))
	_, _, err = s.PlaceOrder(ctx, domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 1, Side: domain.Sell, Type: domain.Market})
	require.NoError(t, err)
	require.Len(t, s.History(), 1)

	s.ClearHistory(ctx)
	assert.Empty(t, s.History())
	assert.Zero(t, s.Account().RealizedPnL)
	assert.Len(t, s.Positions(), 1, "positions survive a history clear")

	assert.ErrorIs(t, s.Reset(ctx, -1), ports.ErrInvalidRequest)
	require.NoError(t, s.Reset(ctx, 500))
	assert.Equal(t, 500.0, s.Account().Cash)
	assert.Empty(t, s.Positions())
	assert.Empty(t, s.Orders())
	assert.Equal(t, 500.0, store.saved("test").InitialCash)
}

func TestSession_RunProcessesStreamUntilCanceled(t *testing.T) {
	store := newMockStore()
	s, log := newTestSession(t, store, risk.Limits{})
	ctx, cancel := context.WithCancel(context.Background())

	_, _, err := s.PlaceOrder(ctx, domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 1, Side: domain.Buy, Type: domain.Limit, LimitPrice: 95})
	require.NoError(t, err)

	streamed := make(chan struct{})
	feed := &mockFeed{
		price: 100,
		klines: []*domain.Kline{
			{Symbol: "ETHUSDT", Close: 97},
			{Symbol: "ETHUSDT", Close: 94, IsFinal: true},
		},
		streamed: streamed,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx, feed, "ETHUSDT", "1m") }()

	select {
	case <-streamed:
	case <-time.After(time.Second):
		t.Fatal("stream not consumed")
	}
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	pos := s.Positions()
	require.Len(t, pos, 1)
	assert.Equal(t, 94.0, pos[0].CurrentPrice)
	assert.Equal(t, domain.StatusFilled, s.Orders()[0].Status)
	assert.Equal(t, 94.0, s.Orders()[0].FilledAvgPrice)
	assert.Contains(t, log.errors(), "Run: stream error reported")

	saved := store.saved("test")
	require.NotNil(t, saved)
	assert.Equal(t, 94.0, saved.LastPrices["ETHUSDT"], "final flush stores the last mark")
}

func TestSession_RunReportsUnexpectedStop(t *testing.T) {
	s, _ := newTestSession(t, nil, risk.Limits{})
	feed := &mockFeed{priceErr: ports.ErrConnectionFailed, closeAll: true}

	err := s.Run(context.Background(), feed, "ETHUSDT", "1m")
	assert.ErrorContains(t, err, "stopped unexpectedly")
}
