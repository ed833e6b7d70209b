package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/vitos/crypto_pair_trader/internal/domain"
	"github.com/vitos/crypto_pair_trader/internal/usecase"
)

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	configs, err := s.configRepo.ListSymbolConfigs(r.Context())
	if err != nil {
		s.logger.Error("Failed to list symbols", zap.Error(err))
		http.Error(w, "Failed to list symbols", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, configs)
}

type symbolRequest struct {
	Symbol        string  `json:"symbol"`
	BaseCoin      string  `json:"base_coin"`
	QuoteCoin     string  `json:"quote_coin"`
	BuyThreshold  float64 `json:"buy_threshold"`
	SellThreshold float64 `json:"sell_threshold"`
	Enabled       bool    `json:"enabled"`
	SellStrategy  string  `json:"sell_strategy"`
}

func (s *Server) handleSaveSymbol(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" || req.BaseCoin == "" || req.QuoteCoin == "" {
		http.Error(w, "symbol, base_coin and quote_coin are required", http.StatusBadRequest)
		return
	}

	kind, known := usecase.ParseStrategyKind(req.SellStrategy)
	if !known {
		s.logger.Warn("Unknown sell strategy, using default",
			zap.String("symbol", req.Symbol),
			zap.String("requested", req.SellStrategy),
			zap.String("using", string(kind)))
	}

	cfg := &domain.SymbolConfig{
		Symbol:        req.Symbol,
		BaseCoin:      req.BaseCoin,
		QuoteCoin:     req.QuoteCoin,
		BuyThreshold:  req.BuyThreshold,
		SellThreshold: req.SellThreshold,
		Enabled:       req.Enabled,
		SellStrategy:  string(kind),
	}
	if err := s.configRepo.SaveSymbolConfig(r.Context(), cfg); err != nil {
		s.logger.Error("Failed to save symbol", zap.Error(err))
		http.Error(w, "Failed to save symbol", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, cfg)
}

func (s *Server) handleDeleteSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if err := s.configRepo.DeleteSymbolConfig(r.Context(), symbol); err != nil {
		s.logger.Error("Failed to delete symbol", zap.Error(err))
		http.Error(w, "Failed to delete symbol", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.configRepo.SetEnabled(r.Context(), symbol, req.Enabled); err != nil {
		s.logger.Error("Failed to update symbol", zap.Error(err))
		http.Error(w, "Failed to update symbol", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTrackers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.service.ActiveTrackers())
}

func (s *Server) handleResetCycle(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if !s.service.ResetCycle(r.Context(), symbol) {
		http.Error(w, "No active tracker for symbol", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleManualBuy(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	var req struct {
		QuoteAmount float64 `json:"quote_amount"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}

	decision, err := s.service.ManualBuy(r.Context(), symbol, req.QuoteAmount)
	if err != nil {
		s.logger.Error("Manual buy failed", zap.String("symbol", symbol), zap.Error(err))
	}
	s.writeJSON(w, decision)
}

func (s *Server) handleManualSell(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	decision, err := s.service.ManualSell(r.Context(), symbol)
	if err != nil {
		s.logger.Error("Manual sell failed", zap.String("symbol", symbol), zap.Error(err))
	}
	s.writeJSON(w, decision)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	orders, err := s.tradeRepo.ListOrders(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list orders", zap.Error(err))
		http.Error(w, "Failed to list orders", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, orders)
}

func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	reports, err := s.tradeRepo.ListCycleReports(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list cycle reports", zap.Error(err))
		http.Error(w, "Failed to list cycle reports", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, reports)
}

type strategyView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rules       string `json:"rules"`
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	var out []strategyView
	for _, kind := range usecase.StrategyKinds() {
		def := usecase.LookupStrategy(kind)
		out = append(out, strategyView{
			Name:        def.Name,
			Description: def.Description,
			Rules:       def.RuleDescription(),
		})
	}
	s.writeJSON(w, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	configs, err := s.configRepo.ListSymbolConfigs(r.Context())
	if err != nil {
		s.logger.Error("Failed to list symbols", zap.Error(err))
		http.Error(w, "Failed to list symbols", http.StatusInternalServerError)
		return
	}

	type symbolStatus struct {
		Symbol    string  `json:"symbol"`
		Enabled   bool    `json:"enabled"`
		LastPrice float64 `json:"last_price"`
	}
	statuses := make([]symbolStatus, 0, len(configs))
	for _, cfg := range configs {
		statuses = append(statuses, symbolStatus{
			Symbol:    cfg.Symbol,
			Enabled:   cfg.Enabled,
			LastPrice: s.service.GetLatestPrice(cfg.Symbol),
		})
	}

	s.writeJSON(w, map[string]interface{}{
		"symbols":         statuses,
		"active_trackers": len(s.service.ActiveTrackers()),
	})
}
