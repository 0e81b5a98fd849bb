package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

func order(side domain.OrderSide, qty float64) domain.OrderRequest {
	return domain.OrderRequest{Symbol: "BTCUSDT", Quantity: qty, Side: side, Type: domain.Market}
}

func TestManager_ValidateOrder(t *testing.T) {
	limits := Limits{MaxOrderNotional: 10000, MaxPositionQty: 1}

	tests := []struct {
		name     string
		limits   Limits
		req      domain.OrderRequest
		refPrice float64
		held     float64
		wantErr  bool
	}{
		{name: "within limits", limits: limits, req: order(domain.Buy, 0.1), refPrice: 50000},
		{name: "notional exceeded", limits: limits, req: order(domain.Buy, 0.5), refPrice: 50000, wantErr: true},
		{name: "unknown price skips notional", limits: limits, req: order(domain.Buy, 0.5)},
		{name: "long size exceeded", limits: Limits{MaxPositionQty: 1}, req: order(domain.Buy, 0.6), held: 0.5, wantErr: true},
		{name: "short size exceeded", limits: Limits{MaxPositionQty: 1}, req: order(domain.Sell, 1.5), wantErr: true},
		{name: "exactly at size", limits: Limits{MaxPositionQty: 1}, req: order(domain.Buy, 0.5), held: 0.5},
		{name: "reducing oversized position", limits: Limits{MaxPositionQty: 1}, req: order(domain.Sell, 1), held: 3},
		{name: "flip past limit", limits: Limits{MaxPositionQty: 1}, req: order(domain.Sell, 2.5), held: 1, wantErr: true},
		{name: "disabled", limits: Limits{}, req: order(domain.Buy, 100), refPrice: 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.limits)
			err := m.ValidateOrder(context.Background(), tt.req, tt.refPrice, tt.held)
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrRiskLimit)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManager_NilIsPermissive(t *testing.T) {
	var m *Manager
	assert.NoError(t, m.ValidateOrder(context.Background(), order(domain.Buy, 1e9), 1e9, 0))
	assert.InDelta(t, 2.0, m.PositionSize(100000, 5000, 0.1), 1e-9)
}

func TestManager_PositionSize(t *testing.T) {
	m := NewManager(Limits{MaxPositionQty: 0.15})
	assert.InDelta(t, 0.1, m.PositionSize(50000, 50000, 0.1), 1e-9)
	assert.InDelta(t, 0.15, m.PositionSize(100000, 50000, 0.5), 1e-9, "capped")
	assert.Zero(t, m.PositionSize(100000, 0, 0.1))
	assert.Zero(t, m.PositionSize(-1, 100, 0.1))
}

func TestLimits_Enabled(t *testing.T) {
	assert.False(t, Limits{}.Enabled())
	assert.True(t, Limits{MaxOrderNotional: 1}.Enabled())
	assert.True(t, Limits{MaxPositionQty: 1}.Enabled())
}
