package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/vitos/crypto_pair_trader/internal/domain"
)

// ErrZeroAmount is returned when a planned exit floors to nothing. It is a
// distinct failure so callers do not confuse it with "no condition met".
var ErrZeroAmount = errors.New("amount is zero")

// BelowMinNotionalError rejects a partial exit whose value is under the
// strategy minimum. It carries both sides so the report explains itself.
type BelowMinNotionalError struct {
	Attempted float64
	Required  float64
}

func (e *BelowMinNotionalError) Error() string {
	return fmt.Sprintf("exit value %.2f below minimum %.2f", e.Attempted, e.Required)
}

// TrackedLevel is a strategy level annotated with its absolute target.
type TrackedLevel struct {
	Percentage  float64
	TargetPrice float64
	Executed    bool
}

// PartialExitState tracks one exit cycle for a symbol: which levels have
// fired, how much position remains, and the trailing stop derived from the
// highest price seen. It is created on the first qualifying sell and lives
// until completion or eviction. Access is serialized per symbol by the
// trade service; the state itself holds no locks.
type PartialExitState struct {
	Symbol            string
	Strategy          StrategyKind
	InitialAmount     float64
	RemainingAmount   float64
	EntryPrice        float64
	HighestPriceSeen  float64
	TrailingStopPrice float64
	Levels            []TrackedLevel
	LastUpdate        time.Time

	realizedAmount float64
	realizedValue  float64
}

// completion tolerance for float drift in percentage sums
const remainderEpsilon = 1e-9

// NewPartialExit builds the tracker for a fresh cycle. The first level is
// marked executed because it fires as part of initialization: execPrice is
// the fill price of that first sell and becomes the entry price all level
// targets and the trailing stop are anchored on.
func NewPartialExit(symbol string, kind StrategyKind, fullAmount, execPrice float64, now time.Time) *PartialExitState {
	def := LookupStrategy(kind)

	levels := make([]TrackedLevel, len(def.Levels))
	for i, lvl := range def.Levels {
		levels[i] = TrackedLevel{
			Percentage:  lvl.Percentage,
			TargetPrice: execPrice * (1 + lvl.PriceIncrease),
		}
	}
	levels[0].Executed = true

	s := &PartialExitState{
		Symbol:            symbol,
		Strategy:          kind,
		InitialAmount:     fullAmount,
		RemainingAmount:   fullAmount * (1 - levels[0].Percentage),
		EntryPrice:        execPrice,
		HighestPriceSeen:  execPrice,
		TrailingStopPrice: execPrice * (1 - def.TrailingStopFraction),
		Levels:            levels,
		LastUpdate:        now,
	}
	s.record(fullAmount*levels[0].Percentage, execPrice)
	return s
}

// FirstExitAmount computes the base amount the initializing sell should
// execute for a given strategy, floored to order granularity.
func FirstExitAmount(kind StrategyKind, fullAmount float64) float64 {
	def := LookupStrategy(kind)
	return floorToStep(fullAmount*def.Levels[0].Percentage, baseStep)
}

// MarkPrice folds a new price observation into the peak and trailing stop.
// Both only ever move up; a falling price changes nothing here.
func (s *PartialExitState) MarkPrice(price float64) {
	if price > s.HighestPriceSeen {
		s.HighestPriceSeen = price
	}
	def := LookupStrategy(s.Strategy)
	if stop := price * (1 - def.TrailingStopFraction); stop > s.TrailingStopPrice {
		s.TrailingStopPrice = stop
	}
}

// ExitPlan is a pure description of the sell the tracker wants executed.
// Nothing in the tracker mutates until Apply confirms the fill.
type ExitPlan struct {
	Cause       domain.ExitCause
	LevelIndex  int
	Amount      float64
	TargetPrice float64
}

// PlanExit evaluates exit conditions at the current price. Levels are
// checked in ascending order and take priority over the trailing stop: a
// planned profit target beats an opportunistic stop-out at the same tick.
// Returns (nil, nil) when no condition holds.
func (s *PartialExitState) PlanExit(price float64) (*ExitPlan, error) {
	def := LookupStrategy(s.Strategy)

	for i := range s.Levels {
		lvl := &s.Levels[i]
		if lvl.Executed {
			continue
		}
		if !priceAtLeast(price, lvl.TargetPrice) {
			continue
		}
		amount := floorToStep(s.InitialAmount*lvl.Percentage, baseStep)
		if amount <= 0 {
			return nil, ErrZeroAmount
		}
		if value := amount * price; value < def.MinExitValue {
			return nil, &BelowMinNotionalError{Attempted: value, Required: def.MinExitValue}
		}
		return &ExitPlan{
			Cause:       domain.ExitCauseLevel,
			LevelIndex:  i,
			Amount:      amount,
			TargetPrice: lvl.TargetPrice,
		}, nil
	}

	if s.RemainingAmount > 0 && priceAtMost(price, s.TrailingStopPrice) {
		amount := floorToStep(s.RemainingAmount, baseStep)
		if amount <= 0 {
			return nil, ErrZeroAmount
		}
		return &ExitPlan{
			Cause:       domain.ExitCauseTrailingStop,
			LevelIndex:  -1,
			Amount:      amount,
			TargetPrice: s.TrailingStopPrice,
		}, nil
	}

	return nil, nil
}

// Apply commits a confirmed fill. Level exits mark the level executed and
// recompute the remainder from the executed percentages; a trailing-stop
// exit drains the position entirely.
func (s *PartialExitState) Apply(plan *ExitPlan, execPrice float64, now time.Time) {
	switch plan.Cause {
	case domain.ExitCauseLevel:
		s.Levels[plan.LevelIndex].Executed = true
		executed := 0.0
		for _, lvl := range s.Levels {
			if lvl.Executed {
				executed += lvl.Percentage
			}
		}
		s.RemainingAmount = s.InitialAmount * (1 - executed)
	case domain.ExitCauseTrailingStop:
		s.RemainingAmount = 0
	}
	s.record(plan.Amount, execPrice)
	s.LastUpdate = now
}

func (s *PartialExitState) record(amount, price float64) {
	s.realizedAmount += amount
	s.realizedValue += amount * price
}

// Touch refreshes the staleness clock without changing exit state.
func (s *PartialExitState) Touch(now time.Time) {
	s.LastUpdate = now
}

// IsComplete reports whether the cycle is finished.
func (s *PartialExitState) IsComplete() bool {
	return s.RemainingAmount <= remainderEpsilon*s.InitialAmount
}

// Report computes the terminal profitability snapshot. Valid at any point;
// the trade service persists it on completion and on eviction.
func (s *PartialExitState) Report(outcome string, now time.Time) *domain.CycleReport {
	avgExit := s.EntryPrice
	if s.realizedAmount > 0 {
		avgExit = s.realizedValue / s.realizedAmount
	}
	report := &domain.CycleReport{
		Symbol:       s.Symbol,
		Strategy:     string(s.Strategy),
		EntryPrice:   s.EntryPrice,
		AvgExitPrice: avgExit,
		PeakPrice:    s.HighestPriceSeen,
		Outcome:      outcome,
		ClosedAt:     now,
	}
	if s.EntryPrice > 0 {
		report.RealizedPct = (avgExit/s.EntryPrice - 1) * 100
		report.PeakPct = (s.HighestPriceSeen/s.EntryPrice - 1) * 100
	}
	return report
}

// Status renders the descriptive state attached to decisions and exposed
// over the web API.
func (s *PartialExitState) Status() *domain.StrategyStatus {
	var targets []float64
	for _, lvl := range s.Levels {
		if !lvl.Executed {
			targets = append(targets, lvl.TargetPrice)
		}
	}
	return &domain.StrategyStatus{
		Strategy:         string(s.Strategy),
		RemainingAmount:  s.RemainingAmount,
		RemainingTargets: targets,
		TrailingStop:     s.TrailingStopPrice,
		HighestPrice:     s.HighestPriceSeen,
	}
}
