package usecase

import (
	"fmt"
	"strings"
)

// StrategyKind is the closed set of exit strategies. Free-form strings are
// parsed once at the config boundary; everything past that point switches
// exhaustively on the kind.
type StrategyKind string

const (
	StrategySecurity   StrategyKind = "security"
	StrategyBalanced   StrategyKind = "balanced"
	StrategyAggressive StrategyKind = "aggressive"
)

// DefaultStrategy is used when a stored config carries an unknown key.
const DefaultStrategy = StrategySecurity

// ParseStrategyKind maps a stored key onto the closed strategy set.
func ParseStrategyKind(key string) (StrategyKind, bool) {
	switch StrategyKind(strings.ToLower(strings.TrimSpace(key))) {
	case StrategySecurity:
		return StrategySecurity, true
	case StrategyBalanced:
		return StrategyBalanced, true
	case StrategyAggressive:
		return StrategyAggressive, true
	}
	return DefaultStrategy, false
}

// StrategyKinds lists all known strategies in display order.
func StrategyKinds() []StrategyKind {
	return []StrategyKind{StrategySecurity, StrategyBalanced, StrategyAggressive}
}

// ExitLevel is one partial-exit step: a fraction of the initial position
// sold once price rises PriceIncrease above the entry price.
type ExitLevel struct {
	Percentage    float64
	PriceIncrease float64
}

// StrategyDefinition is immutable, process-wide configuration for one
// strategy. Level percentages sum to 1.0; level 0 has PriceIncrease 0 and
// executes as part of tracker initialization.
type StrategyDefinition struct {
	Name                 string
	Description          string
	Levels               []ExitLevel
	TrailingStopFraction float64
	MinExitValue         float64
}

var strategyCatalog = map[StrategyKind]StrategyDefinition{
	StrategySecurity: {
		Name:        string(StrategySecurity),
		Description: "Conservative three-step exit, wide trailing stop",
		Levels: []ExitLevel{
			{Percentage: 0.30, PriceIncrease: 0.00},
			{Percentage: 0.30, PriceIncrease: 0.05},
			{Percentage: 0.40, PriceIncrease: 0.10},
		},
		TrailingStopFraction: 0.05,
		MinExitValue:         10,
	},
	StrategyBalanced: {
		Name:        string(StrategyBalanced),
		Description: "Two equal steps, medium trailing stop",
		Levels: []ExitLevel{
			{Percentage: 0.50, PriceIncrease: 0.00},
			{Percentage: 0.50, PriceIncrease: 0.04},
		},
		TrailingStopFraction: 0.03,
		MinExitValue:         10,
	},
	StrategyAggressive: {
		Name:        string(StrategyAggressive),
		Description: "Immediate full exit, tight trailing stop",
		Levels: []ExitLevel{
			{Percentage: 1.00, PriceIncrease: 0.00},
		},
		TrailingStopFraction: 0.02,
		MinExitValue:         10,
	},
}

// LookupStrategy returns the definition for a kind. Unknown kinds cannot
// occur once parsed, but the map lookup still falls back to the default.
func LookupStrategy(kind StrategyKind) StrategyDefinition {
	if def, ok := strategyCatalog[kind]; ok {
		return def
	}
	return strategyCatalog[DefaultStrategy]
}

// RuleDescription renders the exit rules of a strategy for reporting.
func (d StrategyDefinition) RuleDescription() string {
	var sb strings.Builder
	for i, lvl := range d.Levels {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "sell %.0f%% at +%.1f%%", lvl.Percentage*100, lvl.PriceIncrease*100)
	}
	fmt.Fprintf(&sb, "; trailing stop %.1f%% below peak", d.TrailingStopFraction*100)
	return sb.String()
}
