package domain

import "context"

// Exchange defines the interface for interacting with a crypto exchange.
// Market orders are spot: buys spend quote currency, sells spend base.
type Exchange interface {
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetAvailableBalance(ctx context.Context, coin string) (float64, error)
	MarketBuy(ctx context.Context, symbol string, quoteAmount float64) (*OrderResult, error)
	MarketSell(ctx context.Context, symbol string, baseAmount float64) (*OrderResult, error)
	OnPriceUpdate(callback func(symbol string, price float64))
	Subscribe(symbols []string) error
}

// ConfigRepository defines storage operations for symbol configs.
type ConfigRepository interface {
	GetSymbolConfig(ctx context.Context, symbol string) (*SymbolConfig, error)
	ListSymbolConfigs(ctx context.Context) ([]*SymbolConfig, error)
	SaveSymbolConfig(ctx context.Context, cfg *SymbolConfig) error
	DeleteSymbolConfig(ctx context.Context, symbol string) error
	SetEnabled(ctx context.Context, symbol string, enabled bool) error

	// UpdateLastPrices writes back the engine feedback fields. Nil pointers
	// leave the stored value untouched.
	UpdateLastPrices(ctx context.Context, symbol string, lastBuy, lastSell *float64) error
}

// TradeRepository defines storage operations for orders and cycle reports.
type TradeRepository interface {
	SaveOrder(ctx context.Context, order *Order) error
	ListOrders(ctx context.Context, limit int) ([]*Order, error)

	SaveCycleReport(ctx context.Context, report *CycleReport) error
	ListCycleReports(ctx context.Context, limit int) ([]*CycleReport, error)
}
