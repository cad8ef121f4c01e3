// Package ledger maintains the strategy-attributed view of account state:
// positions keyed by (account, strategy, instrument), an append-only fill
// record, and order lifecycle state. The broker owns the authoritative
// totals; this package owns the attribution.
package ledger

import (
	"time"

	"github.com/quantfold/ledger/broker"
)

// StrategyUnattributed is the reserved pseudo-strategy that absorbs quantity
// the broker reports but no real strategy explains.
const StrategyUnattributed = "unattributed"

// Position is the attributed holding for one (account, strategy, instrument)
// key. Quantity is the running sum of signed fill deltas since the last
// reconciliation baseline.
type Position struct {
	Account     string
	Strategy    string
	Instrument  string
	Quantity    float64
	AvgCost     float64
	MarketPrice float64
	RealizedPL  float64
	UpdatedAt   time.Time
}

// MarketValue is the position marked at the last known price.
func (p Position) MarketValue() float64 {
	return p.Quantity * p.MarketPrice
}

// Fill is the immutable record of one execution. Created exactly once per
// broker-reported execution; the ExecutionID is the idempotency key.
type Fill struct {
	ExecutionID string
	OrderID     string
	Account     string
	Strategy    string
	Instrument  string
	Quantity    float64 // signed
	Price       float64
	Commission  float64
	Time        time.Time
}

// OrderState is the mutable lifecycle view of one order. It is archived once
// terminal and flushed.
type OrderState struct {
	OrderID           string
	Account           string
	Strategy          string
	Instrument        string
	Status            broker.OrderStatus
	RequestedQuantity float64
	FilledQuantity    float64
	UpdatedAt         time.Time
}

// OrderRef records strategy ownership of an order, registered before any fill
// can be attributed.
type OrderRef struct {
	OrderID           string
	Strategy          string
	Instrument        string
	RequestedQuantity float64
}
