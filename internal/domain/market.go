package domain

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Ticker is a point-in-time price snapshot for a symbol.
// Change24h is a percentage (e.g. -6.5 means the price dropped 6.5% in 24h).
type Ticker struct {
	Symbol    string
	LastPrice float64
	Change24h float64
}

// Balances are the available (not total) amounts at decision time.
type Balances struct {
	Base  float64
	Quote float64
}

type OrderStatus string

const (
	OrderStatusSuccess OrderStatus = "SUCCESS"
	OrderStatusFailed  OrderStatus = "FAILED"
)

// OrderResult is what the exchange reports back for a market order.
type OrderResult struct {
	ID             string
	Status         OrderStatus
	ExecutionPrice float64
}

// Order is a trade record persisted after execution.
type Order struct {
	ID         string
	Symbol     string
	Side       Side
	Amount     float64 // base amount for sells, quote amount for buys
	Price      float64
	Cause      string // "buy", "level", "trailing_stop", "manual"
	LevelIndex int    // -1 when not a level exit
	CreatedAt  time.Time
}

const (
	CycleOutcomeComplete = "complete"
	CycleOutcomeEvicted  = "evicted"
)

// CycleReport summarizes one finished partial-exit cycle, whether it
// completed or was evicted as stale.
type CycleReport struct {
	ID           int64
	Symbol       string
	Strategy     string
	EntryPrice   float64
	AvgExitPrice float64
	PeakPrice    float64
	RealizedPct  float64
	PeakPct      float64
	Outcome      string // "complete" or "evicted"
	ClosedAt     time.Time
}
