package usecase

import (
	"fmt"

	"github.com/vitos/crypto_pair_trader/internal/domain"
)

// MinOrderFloor is the smallest quote-currency amount worth trading.
const MinOrderFloor = 25.0

// MinSellBalance is the base-currency balance above which an automated
// sell becomes a candidate at all.
const MinSellBalance = 1.0

// Verdict is the structured outcome of a gate check. Gate evaluation
// never returns an error; a denied action carries a code and reason.
type Verdict struct {
	Allowed bool
	Code    domain.DenyCode
	Reason  string
}

func allow() Verdict {
	return Verdict{Allowed: true}
}

func deny(code domain.DenyCode, format string, args ...interface{}) Verdict {
	return Verdict{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// ThresholdGate decides buy/sell eligibility from the 24h price change,
// balances, and the price-distance rules anchored on the last executed
// prices. The buy and sell legality rules are deliberately asymmetric:
// a config with a non-negative sell threshold can never buy automatically,
// and one with a non-positive buy threshold can never sell.
type ThresholdGate struct{}

func NewThresholdGate() *ThresholdGate {
	return &ThresholdGate{}
}

// BuyCandidate reports whether the 24h change and quote balance make a
// buy worth considering. Manual buys skip this check.
func (g *ThresholdGate) BuyCandidate(cfg *domain.SymbolConfig, change24h, quoteBalance float64) bool {
	return change24h <= cfg.BuyThreshold && quoteBalance >= MinOrderFloor
}

// SellCandidate reports whether the 24h change and base balance make a
// sell worth considering. Manual sells skip this check.
func (g *ThresholdGate) SellCandidate(cfg *domain.SymbolConfig, change24h, baseBalance float64) bool {
	return change24h >= cfg.SellThreshold && baseBalance > MinSellBalance
}

// CheckBuy applies the buy legality and price-distance rules.
func (g *ThresholdGate) CheckBuy(cfg *domain.SymbolConfig, currentPrice float64) Verdict {
	if cfg.SellThreshold >= 0 {
		return deny(domain.DenyIneligible,
			"buy requires a negative sell threshold, got %.2f", cfg.SellThreshold)
	}
	if cfg.LastSellPrice != nil {
		limit := *cfg.LastSellPrice * (1 + cfg.SellThreshold/100)
		if !priceBelow(currentPrice, limit) {
			return deny(domain.DenyIneligible,
				"price %.8f not below limit %.8f (last sell %.8f)", currentPrice, limit, *cfg.LastSellPrice)
		}
	}
	return allow()
}

// CheckSell applies the sell legality and price-distance rules.
func (g *ThresholdGate) CheckSell(cfg *domain.SymbolConfig, currentPrice float64) Verdict {
	if cfg.BuyThreshold <= 0 {
		return deny(domain.DenyIneligible,
			"sell requires a positive buy threshold, got %.2f", cfg.BuyThreshold)
	}
	if cfg.LastBuyPrice != nil {
		limit := *cfg.LastBuyPrice * (1 + cfg.BuyThreshold/100)
		if !priceAbove(currentPrice, limit) {
			return deny(domain.DenyIneligible,
				"price %.8f not above limit %.8f (last buy %.8f)", currentPrice, limit, *cfg.LastBuyPrice)
		}
	}
	return allow()
}
