package domain

// DenyCode classifies why a decision produced no order. Gate and engine
// evaluations never panic or return errors for these; they are ordinary
// outcomes the caller reports upward.
type DenyCode string

const (
	DenyNone                 DenyCode = ""
	DenyIneligible           DenyCode = "INELIGIBLE"
	DenyInsufficientFunds    DenyCode = "INSUFFICIENT_FUNDS"
	DenyZeroAmount           DenyCode = "ZERO_AMOUNT"
	DenyBelowMinimumNotional DenyCode = "BELOW_MIN_NOTIONAL"
	DenyUpstreamFailure      DenyCode = "UPSTREAM_FAILURE"
)

type ActionType string

const (
	ActionNone ActionType = "NONE"
	ActionBuy  ActionType = "BUY"
	ActionSell ActionType = "SELL"
)

type ExitCause string

const (
	ExitCauseLevel        ExitCause = "LEVEL"
	ExitCauseTrailingStop ExitCause = "TRAILING_STOP"
)

// ExitInfo describes which exit rule a sell decision came from.
type ExitInfo struct {
	Cause       ExitCause
	LevelIndex  int     // -1 for trailing stop
	TargetPrice float64 // level target, or the trailing stop price
	NewCycle    bool    // true when this sell initializes a fresh tracker
}

// StrategyStatus is descriptive state attached to every decision so an
// observer can tell where the exit cycle stands.
type StrategyStatus struct {
	Strategy         string
	RemainingAmount  float64
	RemainingTargets []float64
	TrailingStop     float64
	HighestPrice     float64
}

// Decision is the single output of one engine invocation. Exactly one of
// the three actions applies; deny metadata is set only for ActionNone.
type Decision struct {
	Symbol      string
	Action      ActionType
	Code        DenyCode
	Reason      string
	QuoteAmount float64 // set for buys
	BaseAmount  float64 // set for sells
	Exit        *ExitInfo
	Status      *StrategyStatus
}
