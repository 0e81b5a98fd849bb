package domain

import "time"

// OrderRequest is what a caller supplies to place an order.
type OrderRequest struct {
	Symbol        string
	Quantity      float64 // Always positive, direction comes from Side
	Side          OrderSide
	Type          OrderType
	LimitPrice    float64 // Required for limit orders, 0 means unset
	ClientOrderID string  // Optional caller correlation id
}

// Order is a request accepted by the exchange plus its mutable status.
type Order struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Quantity       float64     `json:"qty"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	LimitPrice     float64     `json:"limitPrice,omitempty"`
	Status         OrderStatus `json:"status"`
	FilledAvgPrice float64     `json:"filledAvgPrice,omitempty"` // Set only once filled
	CreatedAt      time.Time   `json:"createdAt"`
	FilledAt       time.Time   `json:"filledAt"` // Zero until filled
	ClientOrderID  string      `json:"clientOrderId,omitempty"`
}

// IsOpen checks if the order can still be filled or canceled.
func (o *Order) IsOpen() bool {
	return o.Status == StatusOpen
}

// HasLimitPrice reports whether a usable limit price was supplied.
func (o *Order) HasLimitPrice() bool {
	return o.LimitPrice > 0
}
