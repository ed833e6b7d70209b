package domain

import "time"

// SymbolConfig holds the trading parameters for one currency pair.
// BuyThreshold/SellThreshold are signed 24h-change percentages. The engine
// only writes LastBuyPrice/LastSellPrice back after a confirmed order; the
// rest is owned by the operator through the web API.
type SymbolConfig struct {
	Symbol        string
	BaseCoin      string
	QuoteCoin     string
	BuyThreshold  float64
	SellThreshold float64
	LastBuyPrice  *float64
	LastSellPrice *float64
	Enabled       bool
	SellStrategy  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
