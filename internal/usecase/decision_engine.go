package usecase

import (
	"errors"

	"github.com/vitos/crypto_pair_trader/internal/domain"
)

// DecisionEngine composes the threshold gate and the partial-exit tracker
// into a single decision per invocation. It performs no I/O: callers hand
// it a price snapshot and balances and get back a decision to execute.
// The only state it touches is the tracker's price mark (peak and trailing
// stop), which persists regardless of whether an order follows.
type DecisionEngine struct {
	gate     *ThresholdGate
	trackers TrackerStore
}

func NewDecisionEngine(trackers TrackerStore) *DecisionEngine {
	return &DecisionEngine{
		gate:     NewThresholdGate(),
		trackers: trackers,
	}
}

func noAction(symbol string, code domain.DenyCode, reason string) *domain.Decision {
	return &domain.Decision{
		Symbol: symbol,
		Action: domain.ActionNone,
		Code:   code,
		Reason: reason,
	}
}

// Decide evaluates one symbol against a snapshot. Buy is considered
// before sell, and at most one action comes out of a single invocation.
// The caller must hold the symbol's serialization lock.
func (e *DecisionEngine) Decide(cfg *domain.SymbolConfig, ticker *domain.Ticker, balances domain.Balances) *domain.Decision {
	if !cfg.Enabled {
		return noAction(cfg.Symbol, domain.DenyIneligible, "symbol is disabled")
	}

	price := ticker.LastPrice

	// An in-flight cycle observes every snapshot: the peak and trailing
	// stop advance even when no action can come out of this invocation.
	if tracker := e.trackers.Get(cfg.Symbol); tracker != nil {
		tracker.MarkPrice(price)
	}

	var buyDenied *Verdict
	if e.gate.BuyCandidate(cfg, ticker.Change24h, balances.Quote) {
		verdict := e.gate.CheckBuy(cfg, price)
		if verdict.Allowed {
			return e.buyDecision(cfg, balances.Quote)
		}
		buyDenied = &verdict
	}

	if e.gate.SellCandidate(cfg, ticker.Change24h, balances.Base) {
		verdict := e.gate.CheckSell(cfg, price)
		if !verdict.Allowed {
			return noAction(cfg.Symbol, verdict.Code, verdict.Reason)
		}
		return e.sellDecision(cfg, price, balances.Base)
	}

	if buyDenied != nil {
		return noAction(cfg.Symbol, buyDenied.Code, buyDenied.Reason)
	}
	return noAction(cfg.Symbol, domain.DenyNone, "no threshold condition met")
}

// DecideSell runs the sell path without candidacy or price-distance
// gating. This is the manual-request entry point; balance rules still
// apply.
func (e *DecisionEngine) DecideSell(cfg *domain.SymbolConfig, price, baseBalance float64) *domain.Decision {
	return e.sellDecision(cfg, price, baseBalance)
}

func (e *DecisionEngine) buyDecision(cfg *domain.SymbolConfig, quoteBalance float64) *domain.Decision {
	amount := floorToStep(quoteBalance, quoteStep)
	if amount < MinOrderFloor {
		return noAction(cfg.Symbol, domain.DenyInsufficientFunds,
			"quote balance below minimum order floor")
	}
	return &domain.Decision{
		Symbol:      cfg.Symbol,
		Action:      domain.ActionBuy,
		Reason:      "24h change at or below buy threshold",
		QuoteAmount: amount,
	}
}

func (e *DecisionEngine) sellDecision(cfg *domain.SymbolConfig, price, baseBalance float64) *domain.Decision {
	kind, _ := ParseStrategyKind(cfg.SellStrategy)

	tracker := e.trackers.Get(cfg.Symbol)
	if tracker == nil {
		return e.newCycleDecision(cfg, kind, price, baseBalance)
	}

	tracker.MarkPrice(price)
	plan, err := tracker.PlanExit(price)
	if err != nil {
		d := noAction(cfg.Symbol, planDenyCode(err), err.Error())
		d.Status = tracker.Status()
		return d
	}
	if plan == nil {
		d := noAction(cfg.Symbol, domain.DenyNone, "no level reached, trailing stop intact")
		d.Status = tracker.Status()
		return d
	}

	return &domain.Decision{
		Symbol:     cfg.Symbol,
		Action:     domain.ActionSell,
		Reason:     sellReason(plan),
		BaseAmount: plan.Amount,
		Exit: &domain.ExitInfo{
			Cause:       plan.Cause,
			LevelIndex:  plan.LevelIndex,
			TargetPrice: plan.TargetPrice,
		},
		Status: tracker.Status(),
	}
}

// newCycleDecision plans the initializing sell: the first level's share of
// the full balance, subject to the same amount and notional floors as any
// other level.
func (e *DecisionEngine) newCycleDecision(cfg *domain.SymbolConfig, kind StrategyKind, price, baseBalance float64) *domain.Decision {
	def := LookupStrategy(kind)
	amount := FirstExitAmount(kind, baseBalance)
	if amount <= 0 {
		return noAction(cfg.Symbol, domain.DenyZeroAmount, ErrZeroAmount.Error())
	}
	if value := amount * price; value < def.MinExitValue {
		err := &BelowMinNotionalError{Attempted: value, Required: def.MinExitValue}
		return noAction(cfg.Symbol, domain.DenyBelowMinimumNotional, err.Error())
	}
	return &domain.Decision{
		Symbol:     cfg.Symbol,
		Action:     domain.ActionSell,
		Reason:     "24h change at or above sell threshold, starting exit cycle",
		BaseAmount: amount,
		Exit: &domain.ExitInfo{
			Cause:       domain.ExitCauseLevel,
			LevelIndex:  0,
			TargetPrice: price,
			NewCycle:    true,
		},
		Status: &domain.StrategyStatus{Strategy: def.Name},
	}
}

func planDenyCode(err error) domain.DenyCode {
	var minErr *BelowMinNotionalError
	switch {
	case errors.Is(err, ErrZeroAmount):
		return domain.DenyZeroAmount
	case errors.As(err, &minErr):
		return domain.DenyBelowMinimumNotional
	}
	return domain.DenyIneligible
}

func sellReason(plan *ExitPlan) string {
	if plan.Cause == domain.ExitCauseTrailingStop {
		return "trailing stop breached, exiting remaining position"
	}
	return "level target reached"
}
