package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/domain"
	"papertrader/internal/exchange"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func tradedSnapshot(t *testing.T) *domain.Snapshot {
	t.Helper()
	e := exchange.New(10000)
	e.ProcessTick("ETHUSDT", 2000)
	_, _, err := e.SubmitOrder(domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 2, Side: domain.Buy, Type: domain.Market})
	require.NoError(t, err)
	_, _, err = e.SubmitOrder(domain.OrderRequest{Symbol: "ETHUSDT", Quantity: 1, Side: domain.Sell, Type: domain.Limit, LimitPrice: 2100})
	require.NoError(t, err)
	e.ProcessTick("ETHUSDT", 2150)
	return e.State()
}

func TestOption_DSN(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		want string
	}{
		{name: "defaults", opt: Option{}, want: "postgres://localhost:5432?sslmode=disable"},
		{
			name: "full",
			opt: Option{Host: "db", Port: 6543, User: "bot", Password: "p@ss", Database: "paper",
				SSLMode: "require", Params: map[string]string{"application_name": "papertrader"}},
			want: "postgres://bot:p%40ss@db:6543/paper?application_name=papertrader&sslmode=require",
		},
		{name: "conn string wins", opt: Option{Host: "ignored", ConnString: "host=x"}, want: "host=x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opt.dsn())
		})
	}
}

func TestRows_RoundTrip(t *testing.T) {
	want := tradedSnapshot(t)
	rows, err := toRows("s1", want)
	require.NoError(t, err)

	assert.Equal(t, "s1", rows.session.ID)
	require.Len(t, rows.orders, 2)
	assert.Equal(t, 1, rows.orders[1].Seq)
	require.NotNil(t, rows.orders[1].FilledAt, "filled order keeps its fill time")

	got, err := rows.toSnapshot()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_Postgres(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	store, err := New(ctx, Option{ConnString: dsn, Logger: &mockLogger{}})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	id := "test-" + uuid.NewString()
	t.Cleanup(func() { store.DeleteSnapshot(ctx, id) })

	missing, err := store.LoadSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, missing)

	want := tradedSnapshot(t)
	require.NoError(t, store.SaveSnapshot(ctx, id, want))
	require.NoError(t, store.SaveSnapshot(ctx, id, want))

	got, err := store.LoadSnapshot(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Cash, got.Cash)
	assert.Equal(t, want.Positions, got.Positions)
	assert.Len(t, got.Orders, len(want.Orders))
	assert.Len(t, got.History, len(want.History))

	dst := exchange.New(1)
	require.NoError(t, dst.LoadState(got))

	require.NoError(t, store.DeleteSnapshot(ctx, id))
	gone, err := store.LoadSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
