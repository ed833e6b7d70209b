package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_pair_trader/internal/domain"
)

// TradeService drives the decision engine against live collaborators: it
// fetches snapshots, executes the resulting orders, and commits tracker
// mutations and last-price write-backs only after a confirmed fill. All
// work on one symbol is serialized through a per-symbol mutex so that a
// scheduled evaluation and a manual request can never both initialize the
// same cycle or race on the remaining amount.
type TradeService struct {
	configs  domain.ConfigRepository
	trades   domain.TradeRepository
	exchange domain.Exchange
	trackers TrackerStore
	engine   *DecisionEngine
	logger   *zap.Logger

	mu          sync.Mutex
	symbolLocks map[string]*sync.Mutex

	priceMu    sync.RWMutex
	lastPrices map[string]float64
}

func NewTradeService(
	configs domain.ConfigRepository,
	trades domain.TradeRepository,
	exchange domain.Exchange,
	trackers TrackerStore,
	logger *zap.Logger,
) *TradeService {
	return &TradeService{
		configs:     configs,
		trades:      trades,
		exchange:    exchange,
		trackers:    trackers,
		engine:      NewDecisionEngine(trackers),
		logger:      logger,
		symbolLocks: make(map[string]*sync.Mutex),
		lastPrices:  make(map[string]float64),
	}
}

func (s *TradeService) symbolLock(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.symbolLocks[symbol]
	if !ok {
		l = &sync.Mutex{}
		s.symbolLocks[symbol] = l
	}
	return l
}

// loadConfig reads a symbol config and normalizes its strategy key. An
// unknown key is mapped to the default here, with a warning, so the
// engine only ever sees valid kinds.
func (s *TradeService) loadConfig(ctx context.Context, symbol string) (*domain.SymbolConfig, error) {
	cfg, err := s.configs.GetSymbolConfig(ctx, symbol)
	if err != nil {
		return nil, err
	}
	kind, known := ParseStrategyKind(cfg.SellStrategy)
	if !known {
		s.logger.Warn("unknown sell strategy, using default",
			zap.String("symbol", symbol),
			zap.String("requested", cfg.SellStrategy),
			zap.String("using", string(kind)))
	}
	cfg.SellStrategy = string(kind)
	return cfg, nil
}

// TrackPrices registers the websocket price feed into the last-price
// cache used by the status page and the manual-sell fallback.
func (s *TradeService) TrackPrices() {
	s.exchange.OnPriceUpdate(func(symbol string, price float64) {
		s.priceMu.Lock()
		s.lastPrices[symbol] = price
		s.priceMu.Unlock()
	})
}

// GetLatestPrice returns the last streamed price for a symbol, 0 if none.
func (s *TradeService) GetLatestPrice(symbol string) float64 {
	s.priceMu.RLock()
	defer s.priceMu.RUnlock()
	return s.lastPrices[symbol]
}

// ProcessSymbol runs one scheduled evaluation for a symbol: snapshot, a
// single decision, and at most one executed order. Upstream failures
// abort the invocation with the tracker untouched.
func (s *TradeService) ProcessSymbol(ctx context.Context, symbol string) (*domain.Decision, error) {
	lock := s.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := s.loadConfig(ctx, symbol)
	if err != nil {
		return s.upstreamFailure(symbol, "config read failed"), fmt.Errorf("read config: %w", err)
	}
	if !cfg.Enabled {
		return noAction(symbol, domain.DenyIneligible, "symbol is disabled"), nil
	}

	ticker, err := s.exchange.GetTicker(ctx, symbol)
	if err != nil {
		return s.upstreamFailure(symbol, "price snapshot failed"), fmt.Errorf("get ticker: %w", err)
	}

	quoteBal, err := s.exchange.GetAvailableBalance(ctx, cfg.QuoteCoin)
	if err != nil {
		return s.upstreamFailure(symbol, "quote balance fetch failed"), fmt.Errorf("get quote balance: %w", err)
	}
	baseBal, err := s.exchange.GetAvailableBalance(ctx, cfg.BaseCoin)
	if err != nil {
		return s.upstreamFailure(symbol, "base balance fetch failed"), fmt.Errorf("get base balance: %w", err)
	}

	decision := s.engine.Decide(cfg, ticker, domain.Balances{Base: baseBal, Quote: quoteBal})
	return s.execute(ctx, cfg, decision, baseBal, "")
}

// ManualBuy places an operator-requested buy. Candidacy and the
// price-distance gate do not apply; the balance check does. A zero amount
// spends the full quote balance.
func (s *TradeService) ManualBuy(ctx context.Context, symbol string, quoteAmount float64) (*domain.Decision, error) {
	lock := s.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := s.loadConfig(ctx, symbol)
	if err != nil {
		return s.upstreamFailure(symbol, "config read failed"), fmt.Errorf("read config: %w", err)
	}
	if !cfg.Enabled {
		return noAction(symbol, domain.DenyIneligible, "symbol is disabled"), nil
	}

	quoteBal, err := s.exchange.GetAvailableBalance(ctx, cfg.QuoteCoin)
	if err != nil {
		return s.upstreamFailure(symbol, "quote balance fetch failed"), fmt.Errorf("get quote balance: %w", err)
	}

	if quoteAmount <= 0 {
		quoteAmount = quoteBal
	}
	amount := floorToStep(quoteAmount, quoteStep)
	if amount < MinOrderFloor || amount > quoteBal {
		return noAction(symbol, domain.DenyInsufficientFunds,
			fmt.Sprintf("requested %.2f, available %.2f, floor %.2f", amount, quoteBal, MinOrderFloor)), nil
	}

	decision := &domain.Decision{
		Symbol:      symbol,
		Action:      domain.ActionBuy,
		Reason:      "manual buy request",
		QuoteAmount: amount,
	}
	return s.execute(ctx, cfg, decision, 0, "manual")
}

// ManualSell runs the sell path on request, bypassing the candidacy and
// price-distance gates. It advances an existing cycle or starts one.
func (s *TradeService) ManualSell(ctx context.Context, symbol string) (*domain.Decision, error) {
	lock := s.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := s.loadConfig(ctx, symbol)
	if err != nil {
		return s.upstreamFailure(symbol, "config read failed"), fmt.Errorf("read config: %w", err)
	}
	if !cfg.Enabled {
		return noAction(symbol, domain.DenyIneligible, "symbol is disabled"), nil
	}

	price := 0.0
	ticker, err := s.exchange.GetTicker(ctx, symbol)
	if err != nil {
		// A manual request can still proceed on the streamed price.
		if price = s.GetLatestPrice(symbol); price <= 0 {
			return s.upstreamFailure(symbol, "price snapshot failed"), fmt.Errorf("get ticker: %w", err)
		}
	} else {
		price = ticker.LastPrice
	}

	baseBal, err := s.exchange.GetAvailableBalance(ctx, cfg.BaseCoin)
	if err != nil {
		return s.upstreamFailure(symbol, "base balance fetch failed"), fmt.Errorf("get base balance: %w", err)
	}
	if baseBal <= MinSellBalance {
		return noAction(symbol, domain.DenyInsufficientFunds,
			fmt.Sprintf("base balance %.6f at or below minimum %.2f", baseBal, MinSellBalance)), nil
	}

	decision := s.engine.DecideSell(cfg, price, baseBal)
	return s.execute(ctx, cfg, decision, baseBal, "manual")
}

// execute carries a decision through order placement and, on success, the
// tracker commit, write-backs, and persistence. causeOverride tags manual
// orders in the trade log.
func (s *TradeService) execute(ctx context.Context, cfg *domain.SymbolConfig, decision *domain.Decision, baseBal float64, causeOverride string) (*domain.Decision, error) {
	mtxDecisions.WithLabelValues(string(decision.Action), string(decision.Code)).Inc()

	switch decision.Action {
	case domain.ActionBuy:
		return s.executeBuy(ctx, cfg, decision, causeOverride)
	case domain.ActionSell:
		return s.executeSell(ctx, cfg, decision, baseBal, causeOverride)
	}

	s.logger.Debug("decision_made",
		zap.String("symbol", decision.Symbol),
		zap.String("action", string(decision.Action)),
		zap.String("code", string(decision.Code)),
		zap.String("reason", decision.Reason))
	return decision, nil
}

func (s *TradeService) executeBuy(ctx context.Context, cfg *domain.SymbolConfig, decision *domain.Decision, causeOverride string) (*domain.Decision, error) {
	res, err := s.exchange.MarketBuy(ctx, cfg.Symbol, decision.QuoteAmount)
	if err != nil {
		return s.upstreamFailure(cfg.Symbol, "buy order failed"), fmt.Errorf("market buy: %w", err)
	}
	if res.Status != domain.OrderStatusSuccess {
		return s.upstreamFailure(cfg.Symbol, "buy order rejected by exchange"), fmt.Errorf("market buy rejected: %s", res.ID)
	}

	if err := s.configs.UpdateLastPrices(ctx, cfg.Symbol, &res.ExecutionPrice, nil); err != nil {
		s.logger.Error("failed to write back last buy price", zap.String("symbol", cfg.Symbol), zap.Error(err))
	}

	cause := "buy"
	if causeOverride != "" {
		cause = causeOverride
	}
	s.saveOrder(ctx, &domain.Order{
		ID:         res.ID,
		Symbol:     cfg.Symbol,
		Side:       domain.SideBuy,
		Amount:     decision.QuoteAmount,
		Price:      res.ExecutionPrice,
		Cause:      cause,
		LevelIndex: -1,
		CreatedAt:  time.Now(),
	})
	mtxOrders.WithLabelValues(string(domain.SideBuy), cause).Inc()

	s.logger.Info("decision_made",
		zap.String("symbol", cfg.Symbol),
		zap.String("action", "BUY"),
		zap.Float64("quote_amount", decision.QuoteAmount),
		zap.Float64("price", res.ExecutionPrice),
		zap.String("reason", decision.Reason))
	return decision, nil
}

func (s *TradeService) executeSell(ctx context.Context, cfg *domain.SymbolConfig, decision *domain.Decision, baseBal float64, causeOverride string) (*domain.Decision, error) {
	res, err := s.exchange.MarketSell(ctx, cfg.Symbol, decision.BaseAmount)
	if err != nil {
		return s.upstreamFailure(cfg.Symbol, "sell order failed"), fmt.Errorf("market sell: %w", err)
	}
	if res.Status != domain.OrderStatusSuccess {
		return s.upstreamFailure(cfg.Symbol, "sell order rejected by exchange"), fmt.Errorf("market sell rejected: %s", res.ID)
	}

	now := time.Now()
	kind, _ := ParseStrategyKind(cfg.SellStrategy)

	var tracker *PartialExitState
	if decision.Exit != nil && decision.Exit.NewCycle {
		// Targets and the trailing stop anchor on the actual fill
		// price, not the snapshot the decision was made from.
		tracker = NewPartialExit(cfg.Symbol, kind, baseBal, res.ExecutionPrice, now)
		s.trackers.Put(cfg.Symbol, tracker)
		mtxActiveTrackers.Inc()
	} else {
		tracker = s.trackers.Get(cfg.Symbol)
		if tracker != nil && decision.Exit != nil {
			tracker.Apply(&ExitPlan{
				Cause:       decision.Exit.Cause,
				LevelIndex:  decision.Exit.LevelIndex,
				Amount:      decision.BaseAmount,
				TargetPrice: decision.Exit.TargetPrice,
			}, res.ExecutionPrice, now)
		}
	}

	if err := s.configs.UpdateLastPrices(ctx, cfg.Symbol, nil, &res.ExecutionPrice); err != nil {
		s.logger.Error("failed to write back last sell price", zap.String("symbol", cfg.Symbol), zap.Error(err))
	}

	cause := "level"
	levelIndex := -1
	if decision.Exit != nil {
		levelIndex = decision.Exit.LevelIndex
		if decision.Exit.Cause == domain.ExitCauseTrailingStop {
			cause = "trailing_stop"
		}
	}
	if causeOverride != "" {
		cause = causeOverride
	}
	s.saveOrder(ctx, &domain.Order{
		ID:         res.ID,
		Symbol:     cfg.Symbol,
		Side:       domain.SideSell,
		Amount:     decision.BaseAmount,
		Price:      res.ExecutionPrice,
		Cause:      cause,
		LevelIndex: levelIndex,
		CreatedAt:  now,
	})
	mtxOrders.WithLabelValues(string(domain.SideSell), cause).Inc()

	if decision.Exit != nil && decision.Exit.Cause == domain.ExitCauseTrailingStop {
		mtxTrailingStops.Inc()
		s.logger.Info("trailing_stop_executed",
			zap.String("symbol", cfg.Symbol),
			zap.Float64("amount", decision.BaseAmount),
			zap.Float64("price", res.ExecutionPrice),
			zap.Float64("stop_price", decision.Exit.TargetPrice))
	} else {
		mtxLevelExits.Inc()
		s.logger.Info("level_executed",
			zap.String("symbol", cfg.Symbol),
			zap.Int("level", levelIndex),
			zap.Float64("amount", decision.BaseAmount),
			zap.Float64("price", res.ExecutionPrice))
	}

	if tracker != nil {
		decision.Status = tracker.Status()
		if tracker.IsComplete() {
			s.closeCycle(ctx, tracker, domain.CycleOutcomeComplete, now)
		}
	}
	return decision, nil
}

// closeCycle persists the terminal profitability report and drops the
// tracker. Used for completion, manual resets, and reaper evictions.
func (s *TradeService) closeCycle(ctx context.Context, tracker *PartialExitState, outcome string, now time.Time) {
	report := tracker.Report(outcome, now)
	if err := s.trades.SaveCycleReport(ctx, report); err != nil {
		s.logger.Error("failed to save cycle report", zap.String("symbol", tracker.Symbol), zap.Error(err))
	}
	s.trackers.Delete(tracker.Symbol)
	mtxActiveTrackers.Dec()
	mtxCyclesClosed.WithLabelValues(outcome).Inc()

	event := "strategy_complete"
	if outcome == domain.CycleOutcomeEvicted {
		event = "tracker_evicted"
	}
	s.logger.Info(event,
		zap.String("symbol", tracker.Symbol),
		zap.String("strategy", string(tracker.Strategy)),
		zap.Float64("entry_price", report.EntryPrice),
		zap.Float64("avg_exit_price", report.AvgExitPrice),
		zap.Float64("realized_pct", report.RealizedPct),
		zap.Float64("peak_pct", report.PeakPct))
}

// ResetCycle abandons the in-flight cycle for a symbol. The next
// qualifying sell starts over.
func (s *TradeService) ResetCycle(ctx context.Context, symbol string) bool {
	lock := s.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	tracker := s.trackers.ResetCycle(symbol)
	if tracker == nil {
		return false
	}
	report := tracker.Report(domain.CycleOutcomeEvicted, time.Now())
	if err := s.trades.SaveCycleReport(ctx, report); err != nil {
		s.logger.Error("failed to save cycle report", zap.String("symbol", symbol), zap.Error(err))
	}
	mtxActiveTrackers.Dec()
	mtxCyclesClosed.WithLabelValues(domain.CycleOutcomeEvicted).Inc()
	s.logger.Info("tracker_evicted",
		zap.String("symbol", symbol),
		zap.String("cause", "manual_reset"),
		zap.Float64("realized_pct", report.RealizedPct))
	return true
}

// ReapStale evicts trackers whose last mutation is older than maxAge.
// Each symbol is locked before its state is read, so a sweep never races
// an in-flight evaluation. Best-effort cleanup: an evicted cycle simply
// restarts on the next qualifying sell.
func (s *TradeService) ReapStale(ctx context.Context, now time.Time, maxAge time.Duration) int {
	evicted := 0
	for _, symbol := range s.trackers.Symbols() {
		lock := s.symbolLock(symbol)
		lock.Lock()
		tracker := s.trackers.Get(symbol)
		if tracker == nil || now.Sub(tracker.LastUpdate) <= maxAge {
			lock.Unlock()
			continue
		}
		idle := now.Sub(tracker.LastUpdate)
		report := tracker.Report(domain.CycleOutcomeEvicted, now)
		s.trackers.Delete(symbol)
		lock.Unlock()

		if err := s.trades.SaveCycleReport(ctx, report); err != nil {
			s.logger.Error("failed to save cycle report", zap.String("symbol", symbol), zap.Error(err))
		}
		mtxActiveTrackers.Dec()
		mtxCyclesClosed.WithLabelValues(domain.CycleOutcomeEvicted).Inc()
		s.logger.Info("tracker_evicted",
			zap.String("symbol", symbol),
			zap.String("cause", "stale"),
			zap.Duration("idle", idle),
			zap.Float64("realized_pct", report.RealizedPct),
			zap.Float64("peak_pct", report.PeakPct))
		evicted++
	}
	return evicted
}

// TrackerView is a read-only snapshot of one in-flight cycle.
type TrackerView struct {
	Symbol           string    `json:"symbol"`
	Strategy         string    `json:"strategy"`
	InitialAmount    float64   `json:"initial_amount"`
	RemainingAmount  float64   `json:"remaining_amount"`
	EntryPrice       float64   `json:"entry_price"`
	HighestPrice     float64   `json:"highest_price"`
	TrailingStop     float64   `json:"trailing_stop"`
	RemainingTargets []float64 `json:"remaining_targets"`
	LastUpdate       time.Time `json:"last_update"`
}

// ActiveTrackers returns status snapshots of every in-flight cycle. Each
// view is copied out under the symbol's lock so readers never see a state
// mid-mutation.
func (s *TradeService) ActiveTrackers() []TrackerView {
	symbols := s.trackers.Symbols()
	out := make([]TrackerView, 0, len(symbols))
	for _, symbol := range symbols {
		lock := s.symbolLock(symbol)
		lock.Lock()
		state := s.trackers.Get(symbol)
		if state == nil {
			lock.Unlock()
			continue
		}
		status := state.Status()
		view := TrackerView{
			Symbol:           state.Symbol,
			Strategy:         status.Strategy,
			InitialAmount:    state.InitialAmount,
			RemainingAmount:  status.RemainingAmount,
			EntryPrice:       state.EntryPrice,
			HighestPrice:     status.HighestPrice,
			TrailingStop:     status.TrailingStop,
			RemainingTargets: status.RemainingTargets,
			LastUpdate:       state.LastUpdate,
		}
		lock.Unlock()
		out = append(out, view)
	}
	return out
}

func (s *TradeService) saveOrder(ctx context.Context, order *domain.Order) {
	if err := s.trades.SaveOrder(ctx, order); err != nil {
		s.logger.Error("failed to save order", zap.String("symbol", order.Symbol), zap.Error(err))
	}
}

func (s *TradeService) upstreamFailure(symbol, reason string) *domain.Decision {
	return noAction(symbol, domain.DenyUpstreamFailure, reason)
}
