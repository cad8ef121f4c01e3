package broker

import (
	"context"
	"time"
)

// OrderStatus is the broker-reported lifecycle state of an order.
type OrderStatus string

const (
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// FillEvent is one broker-confirmed execution. ExecutionID is unique per
// execution and is the idempotency key for downstream processing.
type FillEvent struct {
	OrderID     string
	ExecutionID string
	Instrument  string
	Quantity    float64 // signed: buys positive, sells negative
	Price       float64
	Commission  float64
	Time        time.Time
}

// OrderStatusEvent reports an order lifecycle change, independent of fills.
type OrderStatusEvent struct {
	OrderID        string
	Status         OrderStatus
	FilledQuantity float64
	Time           time.Time
}

// InstrumentPosition is the broker's strategy-agnostic view of one instrument.
type InstrumentPosition struct {
	Instrument  string
	Quantity    float64
	MarketPrice float64
	MarketValue float64
}

// AccountSnapshot is the broker-authoritative position report for an account
// at a point in time. The engine only ever reads it.
type AccountSnapshot struct {
	AccountID string
	Time      time.Time
	Positions map[string]InstrumentPosition
}

// AccountSummary carries the account-level figures used for equity resolution.
type AccountSummary struct {
	AccountID string
	Currency  string
	Equity    float64
	Cash      float64
}

type MarketOrderRequest struct {
	AccountID  string
	OrderID    string
	Instrument string
	Quantity   float64 // signed
}

// Broker is the connection layer consumed by the engine. Implementations
// deliver FillEvent and OrderStatusEvent streams out of band (see events).
type Broker interface {
	GetAccountSnapshot(ctx context.Context, accountID string) (AccountSnapshot, error)
	GetAccountSummary(ctx context.Context, accountID string) (AccountSummary, error)
	CreateMarketOrder(ctx context.Context, req MarketOrderRequest) error
}
