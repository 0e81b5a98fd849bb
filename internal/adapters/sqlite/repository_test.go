package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/domain"
	"papertrader/internal/exchange"
	"papertrader/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a repository backed by a temporary database.
func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "nested", "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// tradedEngine returns an engine holding a long, a short, an open limit order
// and realized history.
func tradedEngine(t *testing.T) *exchange.Engine {
	t.Helper()
	e := exchange.New(50000)
	e.ProcessTick("ETHUSDT", 2000)
	_, _, err := e.SubmitOrder(domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 3, Side: domain.Buy, Type: domain.Market})
	require.NoError(t, err)
	e.ProcessTick("ETHUSDT", 2100)
	_, _, err = e.SubmitOrder(domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 1, Side: domain.Sell, Type: domain.Market, ClientOrderID: "tp-1"})
	require.NoError(t, err)
	_, _, err = e.SubmitOrder(domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 1, Side: domain.Buy, Type: domain.Limit, LimitPrice: 1900})
	require.NoError(t, err)
	e.ProcessTick("BTCUSDT", 40000)
	_, _, err = e.SubmitOrder(domain.OrderRequest{Symbol: "BTCUSDT", Quantity: 0.25, Side: domain.Sell, Type: domain.Market})
	require.NoError(t, err)
	return e
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestRepository_LoadMissingSession(t *testing.T) {
	repo := setupTestDB(t)
	snap, err := repo.LoadSnapshot(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestRepository_SaveAndLoadSnapshot(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	src := tradedEngine(t)
	want := src.State()

	require.NoError(t, repo.SaveSnapshot(ctx, "s1", want))

	got, err := repo.LoadSnapshot(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Cash, got.Cash)
	assert.Equal(t, want.InitialCash, got.InitialCash)
	assert.Equal(t, want.RealizedPnL, got.RealizedPnL)
	assert.Equal(t, want.LastPrices, got.LastPrices)
	assert.Equal(t, want.Positions, got.Positions)
	assert.WithinDuration(t, want.SavedAt, got.SavedAt, time.Microsecond)

	require.Len(t, got.Orders, len(want.Orders))
	for i := range want.Orders {
		w, g := want.Orders[i], got.Orders[i]
		assert.True(t, w.CreatedAt.Equal(g.CreatedAt), "order %d created at", i)
		assert.True(t, w.FilledAt.Equal(g.FilledAt), "order %d filled at", i)
		assert.Equal(t, w.Status == domain.StatusFilled, !g.FilledAt.IsZero(), "order %d fill time presence", i)
		w.CreatedAt, g.CreatedAt = time.Time{}, time.Time{}
		w.FilledAt, g.FilledAt = time.Time{}, time.Time{}
		assert.Equal(t, w, g)
	}
	require.Len(t, got.History, len(want.History))
	for i := range want.History {
		w, g := want.History[i], got.History[i]
		assert.True(t, w.Timestamp.Equal(g.Timestamp))
		w.Timestamp, g.Timestamp = time.Time{}, time.Time{}
		assert.Equal(t, w, g)
	}

	// The loaded snapshot restores an equivalent engine.
	dst := exchange.New(1)
	require.NoError(t, dst.LoadState(got))
	assert.Equal(t, src.Account(), dst.Account())
	assert.Equal(t, src.Positions(), dst.Positions())
}

func TestRepository_SaveReplacesPreviousState(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveSnapshot(ctx, "s1", tradedEngine(t).State()))
	empty := exchange.New(1234).State()
	require.NoError(t, repo.SaveSnapshot(ctx, "s1", empty))

	got, err := repo.LoadSnapshot(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1234.0, got.Cash)
	assert.Empty(t, got.Positions)
	assert.Empty(t, got.Orders)
	assert.Empty(t, got.History)
}

func TestRepository_SessionsAreIsolated(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveSnapshot(ctx, "a", tradedEngine(t).State()))
	require.NoError(t, repo.SaveSnapshot(ctx, "b", exchange.New(10).State()))

	a, err := repo.LoadSnapshot(ctx, "a")
	require.NoError(t, err)
	b, err := repo.LoadSnapshot(ctx, "b")
	require.NoError(t, err)
	assert.NotEmpty(t, a.Orders)
	assert.Empty(t, b.Orders)

	require.NoError(t, repo.DeleteSnapshot(ctx, "a"))
	a, err = repo.LoadSnapshot(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, a)
	b, err = repo.LoadSnapshot(ctx, "b")
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestRepository_SaveNilSnapshot(t *testing.T) {
	repo := setupTestDB(t)
	err := repo.SaveSnapshot(context.Background(), "s1", nil)
	assert.ErrorIs(t, err, ports.ErrInvalidSnapshot)
}
