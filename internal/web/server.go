package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vitos/crypto_pair_trader/internal/domain"
	"github.com/vitos/crypto_pair_trader/internal/usecase"
)

type Server struct {
	router     *http.ServeMux
	server     *http.Server
	configRepo domain.ConfigRepository
	tradeRepo  domain.TradeRepository
	service    *usecase.TradeService
	logger     *zap.Logger
}

func NewServer(
	port int,
	configRepo domain.ConfigRepository,
	tradeRepo domain.TradeRepository,
	service *usecase.TradeService,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		configRepo: configRepo,
		tradeRepo:  tradeRepo,
		service:    service,
		logger:     logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Symbols
	s.router.HandleFunc("GET /api/symbols", s.handleListSymbols)
	s.router.HandleFunc("POST /api/symbols", s.handleSaveSymbol)
	s.router.HandleFunc("DELETE /api/symbols/{symbol}", s.handleDeleteSymbol)
	s.router.HandleFunc("POST /api/symbols/{symbol}/enabled", s.handleSetEnabled)

	// Trackers
	s.router.HandleFunc("GET /api/trackers", s.handleListTrackers)
	s.router.HandleFunc("DELETE /api/trackers/{symbol}", s.handleResetCycle)

	// Manual trading
	s.router.HandleFunc("POST /api/trade/{symbol}/buy", s.handleManualBuy)
	s.router.HandleFunc("POST /api/trade/{symbol}/sell", s.handleManualSell)

	// History
	s.router.HandleFunc("GET /api/orders", s.handleListOrders)
	s.router.HandleFunc("GET /api/cycles", s.handleListCycles)

	// Strategies
	s.router.HandleFunc("GET /api/strategies", s.handleListStrategies)

	// Status
	s.router.HandleFunc("GET /api/status", s.handleStatus)

	// Prometheus
	s.router.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
