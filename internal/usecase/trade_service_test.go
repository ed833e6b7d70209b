package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vitos/crypto_pair_trader/internal/domain"
	"github.com/vitos/crypto_pair_trader/internal/usecase"
)

type MockExchange struct {
	Price     float64
	Change24h float64
	Balances  map[string]float64

	ExecPrice  float64 // fill price reported for orders, defaults to Price
	BuyCalled  bool
	SellCalled bool
	SellAmount float64
	FailOrders bool
	FailTicker bool

	callback func(symbol string, price float64)
}

func (m *MockExchange) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	if m.FailTicker {
		return nil, errors.New("exchange unreachable")
	}
	return &domain.Ticker{Symbol: symbol, LastPrice: m.Price, Change24h: m.Change24h}, nil
}

func (m *MockExchange) GetAvailableBalance(ctx context.Context, coin string) (float64, error) {
	return m.Balances[coin], nil
}

func (m *MockExchange) fill() float64 {
	if m.ExecPrice > 0 {
		return m.ExecPrice
	}
	return m.Price
}

func (m *MockExchange) MarketBuy(ctx context.Context, symbol string, quoteAmount float64) (*domain.OrderResult, error) {
	if m.FailOrders {
		return nil, errors.New("order rejected")
	}
	m.BuyCalled = true
	return &domain.OrderResult{ID: "buy-1", Status: domain.OrderStatusSuccess, ExecutionPrice: m.fill()}, nil
}

func (m *MockExchange) MarketSell(ctx context.Context, symbol string, baseAmount float64) (*domain.OrderResult, error) {
	if m.FailOrders {
		return nil, errors.New("order rejected")
	}
	m.SellCalled = true
	m.SellAmount = baseAmount
	return &domain.OrderResult{ID: "sell-1", Status: domain.OrderStatusSuccess, ExecutionPrice: m.fill()}, nil
}

func (m *MockExchange) OnPriceUpdate(callback func(symbol string, price float64)) {
	m.callback = callback
}

func (m *MockExchange) Subscribe(symbols []string) error { return nil }

type MockConfigRepo struct {
	Configs map[string]*domain.SymbolConfig
}

func newMockConfigRepo(cfgs ...*domain.SymbolConfig) *MockConfigRepo {
	repo := &MockConfigRepo{Configs: make(map[string]*domain.SymbolConfig)}
	for _, cfg := range cfgs {
		repo.Configs[cfg.Symbol] = cfg
	}
	return repo
}

func (r *MockConfigRepo) GetSymbolConfig(ctx context.Context, symbol string) (*domain.SymbolConfig, error) {
	cfg, ok := r.Configs[symbol]
	if !ok {
		return nil, errors.New("symbol not configured")
	}
	return cfg, nil
}

func (r *MockConfigRepo) ListSymbolConfigs(ctx context.Context) ([]*domain.SymbolConfig, error) {
	out := make([]*domain.SymbolConfig, 0, len(r.Configs))
	for _, cfg := range r.Configs {
		out = append(out, cfg)
	}
	return out, nil
}

func (r *MockConfigRepo) SaveSymbolConfig(ctx context.Context, cfg *domain.SymbolConfig) error {
	r.Configs[cfg.Symbol] = cfg
	return nil
}

func (r *MockConfigRepo) DeleteSymbolConfig(ctx context.Context, symbol string) error {
	delete(r.Configs, symbol)
	return nil
}

func (r *MockConfigRepo) SetEnabled(ctx context.Context, symbol string, enabled bool) error {
	if cfg, ok := r.Configs[symbol]; ok {
		cfg.Enabled = enabled
	}
	return nil
}

func (r *MockConfigRepo) UpdateLastPrices(ctx context.Context, symbol string, lastBuy, lastSell *float64) error {
	cfg, ok := r.Configs[symbol]
	if !ok {
		return errors.New("symbol not configured")
	}
	if lastBuy != nil {
		cfg.LastBuyPrice = lastBuy
	}
	if lastSell != nil {
		cfg.LastSellPrice = lastSell
	}
	return nil
}

type MockTradeRepo struct {
	mu      sync.Mutex
	Orders  []*domain.Order
	Reports []*domain.CycleReport
}

func (r *MockTradeRepo) SaveOrder(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Orders = append(r.Orders, order)
	return nil
}

func (r *MockTradeRepo) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Orders, nil
}

func (r *MockTradeRepo) SaveCycleReport(ctx context.Context, report *domain.CycleReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Reports = append(r.Reports, report)
	return nil
}

func (r *MockTradeRepo) ListCycleReports(ctx context.Context, limit int) ([]*domain.CycleReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Reports, nil
}

func (r *MockTradeRepo) ReportCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Reports)
}

type fixture struct {
	service  *usecase.TradeService
	exchange *MockExchange
	configs  *MockConfigRepo
	trades   *MockTradeRepo
	trackers *usecase.MemoryTrackerStore
}

func newFixture(cfg *domain.SymbolConfig, exchange *MockExchange) *fixture {
	configs := newMockConfigRepo(cfg)
	trades := &MockTradeRepo{}
	trackers := usecase.NewMemoryTrackerStore()
	service := usecase.NewTradeService(configs, trades, exchange, trackers, zap.NewNop())
	return &fixture{service: service, exchange: exchange, configs: configs, trades: trades, trackers: trackers}
}

func TestProcessSymbolBuyWritesBackLastPrice(t *testing.T) {
	cfg := testConfig()
	cfg.LastSellPrice = ptr(100)
	exchange := &MockExchange{
		Price:     89,
		Change24h: -6,
		ExecPrice: 89.05,
		Balances:  map[string]float64{"USDT": 100},
	}
	f := newFixture(cfg, exchange)

	d, err := f.service.ProcessSymbol(context.Background(), cfg.Symbol)
	if err != nil {
		t.Fatalf("ProcessSymbol: %v", err)
	}
	if d.Action != domain.ActionBuy {
		t.Fatalf("decision = %+v, want buy", d)
	}
	if !exchange.BuyCalled {
		t.Fatal("no buy order placed")
	}
	if cfg.LastBuyPrice == nil || *cfg.LastBuyPrice != 89.05 {
		t.Errorf("last buy price = %v, want fill price 89.05", cfg.LastBuyPrice)
	}
	if len(f.trades.Orders) != 1 || f.trades.Orders[0].Cause != "buy" {
		t.Errorf("orders = %+v, want one logged buy", f.trades.Orders)
	}
}

func TestProcessSymbolSellStartsCycleAtFillPrice(t *testing.T) {
	cfg := testConfig()
	cfg.BuyThreshold = 10
	cfg.SellThreshold = 8
	exchange := &MockExchange{
		Price:     120,
		Change24h: 9,
		ExecPrice: 119.5,
		Balances:  map[string]float64{"BTC": 10},
	}
	f := newFixture(cfg, exchange)

	d, err := f.service.ProcessSymbol(context.Background(), cfg.Symbol)
	if err != nil {
		t.Fatalf("ProcessSymbol: %v", err)
	}
	if d.Action != domain.ActionSell {
		t.Fatalf("decision = %+v, want sell", d)
	}
	if !within(exchange.SellAmount, 3, 1e-9) {
		t.Errorf("sold %f, want first level share 3", exchange.SellAmount)
	}

	tracker := f.trackers.Get(cfg.Symbol)
	if tracker == nil {
		t.Fatal("no tracker created after the fill")
	}
	if tracker.EntryPrice != 119.5 {
		t.Errorf("entry price = %f, want the fill price 119.5", tracker.EntryPrice)
	}
	if cfg.LastSellPrice == nil || *cfg.LastSellPrice != 119.5 {
		t.Errorf("last sell price = %v, want 119.5", cfg.LastSellPrice)
	}
	if len(f.trades.Orders) != 1 || f.trades.Orders[0].LevelIndex != 0 {
		t.Errorf("orders = %+v, want one level-0 sell", f.trades.Orders)
	}
}

// An exchange failure aborts the invocation before any state changes:
// no tracker mutation, no write-back, no order row.
func TestProcessSymbolUpstreamFailureLeavesStateAlone(t *testing.T) {
	cfg := testConfig()
	cfg.BuyThreshold = 10
	cfg.SellThreshold = 8
	exchange := &MockExchange{
		Price:      120,
		Change24h:  9,
		Balances:   map[string]float64{"BTC": 10},
		FailOrders: true,
	}
	f := newFixture(cfg, exchange)

	d, err := f.service.ProcessSymbol(context.Background(), cfg.Symbol)
	if err == nil {
		t.Fatal("want error from rejected order")
	}
	if d.Code != domain.DenyUpstreamFailure {
		t.Errorf("code = %s, want %s", d.Code, domain.DenyUpstreamFailure)
	}
	if f.trackers.Get(cfg.Symbol) != nil {
		t.Error("tracker created despite rejected order")
	}
	if cfg.LastSellPrice != nil {
		t.Error("last sell price written despite rejected order")
	}
	if len(f.trades.Orders) != 0 {
		t.Error("order persisted despite rejection")
	}
}

func TestProcessSymbolTickerFailure(t *testing.T) {
	cfg := testConfig()
	exchange := &MockExchange{FailTicker: true, Balances: map[string]float64{}}
	f := newFixture(cfg, exchange)

	d, err := f.service.ProcessSymbol(context.Background(), cfg.Symbol)
	if err == nil {
		t.Fatal("want error from failed snapshot")
	}
	if d.Code != domain.DenyUpstreamFailure {
		t.Errorf("code = %s, want %s", d.Code, domain.DenyUpstreamFailure)
	}
}

// A level fill that drains the position closes the cycle: the tracker is
// gone and a completion report is on file.
func TestSellCompletionClosesCycle(t *testing.T) {
	cfg := testConfig()
	cfg.BuyThreshold = 10
	cfg.SellThreshold = 8
	cfg.SellStrategy = "aggressive"
	exchange := &MockExchange{
		Price:     50,
		Change24h: 9,
		Balances:  map[string]float64{"BTC": 10},
	}
	f := newFixture(cfg, exchange)

	d, err := f.service.ProcessSymbol(context.Background(), cfg.Symbol)
	if err != nil {
		t.Fatalf("ProcessSymbol: %v", err)
	}
	if d.Action != domain.ActionSell {
		t.Fatalf("decision = %+v, want sell", d)
	}
	if !within(exchange.SellAmount, 10, 1e-9) {
		t.Errorf("sold %f, want the whole position", exchange.SellAmount)
	}
	if f.trackers.Get(cfg.Symbol) != nil {
		t.Error("tracker survived a completed cycle")
	}
	if len(f.trades.Reports) != 1 || f.trades.Reports[0].Outcome != domain.CycleOutcomeComplete {
		t.Errorf("reports = %+v, want one completion report", f.trades.Reports)
	}
}

func TestManualBuyBalanceRules(t *testing.T) {
	cfg := testConfig()
	exchange := &MockExchange{Price: 100, Balances: map[string]float64{"USDT": 60}}
	f := newFixture(cfg, exchange)

	tests := []struct {
		name       string
		amount     float64
		wantAction domain.ActionType
		wantSpend  float64
	}{
		{"partial spend", 30, domain.ActionBuy, 30},
		{"zero means everything", 0, domain.ActionBuy, 60},
		{"over balance", 80, domain.ActionNone, 0},
		{"under order floor", 20, domain.ActionNone, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchange.BuyCalled = false
			d, err := f.service.ManualBuy(context.Background(), cfg.Symbol, tt.amount)
			if err != nil {
				t.Fatalf("ManualBuy: %v", err)
			}
			if d.Action != tt.wantAction {
				t.Fatalf("decision = %+v, want action %s", d, tt.wantAction)
			}
			if tt.wantAction == domain.ActionBuy && d.QuoteAmount != tt.wantSpend {
				t.Errorf("spend = %f, want %f", d.QuoteAmount, tt.wantSpend)
			}
			if tt.wantAction == domain.ActionNone {
				if d.Code != domain.DenyInsufficientFunds {
					t.Errorf("code = %s, want %s", d.Code, domain.DenyInsufficientFunds)
				}
				if exchange.BuyCalled {
					t.Error("order placed despite denial")
				}
			}
		})
	}
}

func TestManualSellStartsCycleDespiteGates(t *testing.T) {
	cfg := testConfig() // thresholds that block every automated sell
	exchange := &MockExchange{
		Price:    100,
		Balances: map[string]float64{"BTC": 10},
	}
	f := newFixture(cfg, exchange)

	d, err := f.service.ManualSell(context.Background(), cfg.Symbol)
	if err != nil {
		t.Fatalf("ManualSell: %v", err)
	}
	if d.Action != domain.ActionSell {
		t.Fatalf("decision = %+v, want sell", d)
	}
	if len(f.trades.Orders) != 1 || f.trades.Orders[0].Cause != "manual" {
		t.Errorf("orders = %+v, want one manual sell", f.trades.Orders)
	}
	if f.trackers.Get(cfg.Symbol) == nil {
		t.Error("manual sell did not start a cycle")
	}
}

// With the REST snapshot down, a manual sell falls back to the last
// streamed price instead of failing.
func TestManualSellFallsBackToStreamedPrice(t *testing.T) {
	cfg := testConfig()
	exchange := &MockExchange{
		FailTicker: true,
		ExecPrice:  100,
		Balances:   map[string]float64{"BTC": 10},
	}
	f := newFixture(cfg, exchange)

	f.service.TrackPrices()
	exchange.callback(cfg.Symbol, 100)

	d, err := f.service.ManualSell(context.Background(), cfg.Symbol)
	if err != nil {
		t.Fatalf("ManualSell: %v", err)
	}
	if d.Action != domain.ActionSell {
		t.Fatalf("decision = %+v, want sell on the streamed price", d)
	}
}

func TestManualSellInsufficientBalance(t *testing.T) {
	cfg := testConfig()
	exchange := &MockExchange{Price: 100, Balances: map[string]float64{"BTC": 0.5}}
	f := newFixture(cfg, exchange)

	d, err := f.service.ManualSell(context.Background(), cfg.Symbol)
	if err != nil {
		t.Fatalf("ManualSell: %v", err)
	}
	if d.Action != domain.ActionNone || d.Code != domain.DenyInsufficientFunds {
		t.Errorf("decision = %+v, want insufficient-funds no-action", d)
	}
}

func TestResetCyclePersistsEvictionReport(t *testing.T) {
	cfg := testConfig()
	f := newFixture(cfg, &MockExchange{Balances: map[string]float64{}})

	if f.service.ResetCycle(context.Background(), cfg.Symbol) {
		t.Error("reset reported success with no tracker")
	}

	f.trackers.Put(cfg.Symbol, usecase.NewPartialExit(cfg.Symbol, usecase.StrategySecurity, 10, 100, time.Now()))
	if !f.service.ResetCycle(context.Background(), cfg.Symbol) {
		t.Fatal("reset failed with a live tracker")
	}
	if f.trackers.Get(cfg.Symbol) != nil {
		t.Error("tracker survived reset")
	}
	if len(f.trades.Reports) != 1 || f.trades.Reports[0].Outcome != domain.CycleOutcomeEvicted {
		t.Errorf("reports = %+v, want one eviction report", f.trades.Reports)
	}
}

func TestReapStale(t *testing.T) {
	cfg := testConfig()
	f := newFixture(cfg, &MockExchange{Balances: map[string]float64{}})
	now := time.Now()

	f.trackers.Put("BTCUSDT", usecase.NewPartialExit("BTCUSDT", usecase.StrategySecurity, 10, 100, now.Add(-25*time.Hour)))
	f.trackers.Put("ETHUSDT", usecase.NewPartialExit("ETHUSDT", usecase.StrategySecurity, 10, 100, now.Add(-1*time.Hour)))

	n := f.service.ReapStale(context.Background(), now, 24*time.Hour)
	if n != 1 {
		t.Fatalf("reaped %d trackers, want 1", n)
	}
	if f.trackers.Get("BTCUSDT") != nil {
		t.Error("stale tracker survived the reaper")
	}
	if f.trackers.Get("ETHUSDT") == nil {
		t.Error("fresh tracker evicted")
	}
	if len(f.trades.Reports) != 1 || f.trades.Reports[0].Outcome != domain.CycleOutcomeEvicted {
		t.Errorf("reports = %+v, want one eviction report", f.trades.Reports)
	}
}

// Staleness is measured from the last confirmed fill. A tracker that has
// only watched prices drift for a day goes away even though the peak and
// trailing stop kept moving.
func TestReapStaleAfterPriceWatching(t *testing.T) {
	cfg := testConfig()
	f := newFixture(cfg, &MockExchange{Balances: map[string]float64{}})
	now := time.Now()

	state := usecase.NewPartialExit(cfg.Symbol, usecase.StrategySecurity, 10, 100, now.Add(-25*time.Hour))
	state.MarkPrice(104) // below every level target, above the stop
	f.trackers.Put(cfg.Symbol, state)

	if n := f.service.ReapStale(context.Background(), now, 24*time.Hour); n != 1 {
		t.Errorf("reaped %d trackers, want 1", n)
	}
}

// Scheduled evaluations mutate the tracker under the symbol lock while
// the status page and the reaper read it. Runs under the race detector.
func TestConcurrentEvaluationAndStatusReads(t *testing.T) {
	cfg := testConfig()
	cfg.BuyThreshold = 10
	cfg.SellThreshold = 8
	exchange := &MockExchange{
		Price:     102,
		Change24h: 9,
		Balances:  map[string]float64{"BTC": 7},
	}
	f := newFixture(cfg, exchange)
	f.trackers.Put(cfg.Symbol, usecase.NewPartialExit(cfg.Symbol, usecase.StrategySecurity, 10, 100, time.Now()))

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := f.service.ProcessSymbol(ctx, cfg.Symbol); err != nil {
				t.Errorf("ProcessSymbol: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			f.service.ActiveTrackers()
			f.service.ReapStale(ctx, time.Now(), 24*time.Hour)
		}
	}()
	wg.Wait()

	if f.trackers.Get(cfg.Symbol) == nil {
		t.Error("live tracker evicted during concurrent reads")
	}
}

// An unknown strategy key stored in the config is normalized to the
// default at the read boundary, with a warning, before the engine runs.
func TestUnknownStrategyNormalizedWithWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	cfg := testConfig()
	cfg.SellStrategy = "yolo"
	exchange := &MockExchange{
		Price:    100,
		Balances: map[string]float64{"BTC": 10},
	}
	configs := newMockConfigRepo(cfg)
	trades := &MockTradeRepo{}
	trackers := usecase.NewMemoryTrackerStore()
	service := usecase.NewTradeService(configs, trades, exchange, trackers, zap.New(core))

	d, err := service.ManualSell(context.Background(), cfg.Symbol)
	if err != nil {
		t.Fatalf("ManualSell: %v", err)
	}
	if d.Action != domain.ActionSell {
		t.Fatalf("decision = %+v, want sell", d)
	}
	tracker := trackers.Get(cfg.Symbol)
	if tracker == nil || tracker.Strategy != usecase.StrategySecurity {
		t.Errorf("tracker = %+v, want the default strategy", tracker)
	}
	if logs.FilterMessage("unknown sell strategy, using default").Len() != 1 {
		t.Errorf("logs = %+v, want one fallback warning", logs.All())
	}
}

func TestManualOpsOnDisabledSymbol(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	exchange := &MockExchange{
		Price:    100,
		Balances: map[string]float64{"BTC": 10, "USDT": 100},
	}
	f := newFixture(cfg, exchange)

	d, err := f.service.ManualBuy(context.Background(), cfg.Symbol, 50)
	if err != nil {
		t.Fatalf("ManualBuy: %v", err)
	}
	if d.Action != domain.ActionNone || d.Code != domain.DenyIneligible {
		t.Errorf("buy decision = %+v, want ineligible no-action", d)
	}

	d, err = f.service.ManualSell(context.Background(), cfg.Symbol)
	if err != nil {
		t.Fatalf("ManualSell: %v", err)
	}
	if d.Action != domain.ActionNone || d.Code != domain.DenyIneligible {
		t.Errorf("sell decision = %+v, want ineligible no-action", d)
	}
	if exchange.BuyCalled || exchange.SellCalled {
		t.Error("order placed for a disabled symbol")
	}
}

func TestTrackPrices(t *testing.T) {
	cfg := testConfig()
	exchange := &MockExchange{Balances: map[string]float64{}}
	f := newFixture(cfg, exchange)

	f.service.TrackPrices()
	if exchange.callback == nil {
		t.Fatal("no price callback registered")
	}
	exchange.callback("BTCUSDT", 101.5)
	if got := f.service.GetLatestPrice("BTCUSDT"); got != 101.5 {
		t.Errorf("latest price = %f, want 101.5", got)
	}
	if got := f.service.GetLatestPrice("ETHUSDT"); got != 0 {
		t.Errorf("latest price for unknown symbol = %f, want 0", got)
	}
}

func TestActiveTrackers(t *testing.T) {
	cfg := testConfig()
	f := newFixture(cfg, &MockExchange{Balances: map[string]float64{}})

	f.trackers.Put(cfg.Symbol, usecase.NewPartialExit(cfg.Symbol, usecase.StrategySecurity, 10, 100, time.Now()))

	views := f.service.ActiveTrackers()
	if len(views) != 1 {
		t.Fatalf("views = %+v, want 1 entry", views)
	}
	v := views[0]
	if v.Symbol != cfg.Symbol || v.Strategy != "security" {
		t.Errorf("view = %+v, want security tracker for %s", v, cfg.Symbol)
	}
	if !within(v.RemainingAmount, 7, 1e-9) || len(v.RemainingTargets) != 2 {
		t.Errorf("view = %+v, want remainder 7 with two targets", v)
	}
}
