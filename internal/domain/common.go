package domain

// OrderSide represents the side of an order (buy or sell).
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// Valid reports whether the side is one of the known values.
func (s OrderSide) Valid() bool {
	return s == Buy || s == Sell
}

// OrderType represents how an order is priced.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// Valid reports whether the type is one of the known values.
func (t OrderType) Valid() bool {
	return t == Market || t == Limit
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusFilled   OrderStatus = "filled"
	StatusCanceled OrderStatus = "canceled"
	StatusRejected OrderStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed from this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	default:
		return false
	}
}

// HistoryKind distinguishes a closed long from a covered short.
type HistoryKind string

const (
	KindSell  HistoryKind = "sell"  // Closed (part of) a long position
	KindCover HistoryKind = "cover" // Covered (part of) a short position
)
