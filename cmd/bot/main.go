package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_pair_trader/internal/infrastructure/exchange"
	"github.com/vitos/crypto_pair_trader/internal/infrastructure/logger"
	"github.com/vitos/crypto_pair_trader/internal/infrastructure/storage"
	"github.com/vitos/crypto_pair_trader/internal/usecase"
	"github.com/vitos/crypto_pair_trader/internal/web"
)

type Config struct {
	Exchanges []struct {
		Name         string `yaml:"name"`
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		WSEndpoint   string `yaml:"ws_endpoint"`
		RESTEndpoint string `yaml:"rest_endpoint"`
	} `yaml:"exchanges"`
	Trading struct {
		CheckIntervalMs    int `yaml:"check_interval_ms"`
		ReaperIntervalMs   int `yaml:"reaper_interval_ms"`
		TrackerMaxAgeHours int `yaml:"tracker_max_age_hours"`
	} `yaml:"trading"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore("bot.db")
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange (Bybit)
	bybitCfg := cfg.Exchanges[0]
	bybitAdapter := exchange.NewBybitAdapter(bybitCfg.APIKey, bybitCfg.APISecret, bybitCfg.RESTEndpoint, bybitCfg.WSEndpoint)

	// 5. Init Service
	trackers := usecase.NewMemoryTrackerStore()
	svc := usecase.NewTradeService(store, store, bybitAdapter, trackers, log)
	svc.TrackPrices()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. Decision Loop (with symbol subscription diff)
	checkInterval := time.Duration(cfg.Trading.CheckIntervalMs) * time.Millisecond
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		activeSymbols := make(map[string]bool)

		for {
			configs, err := store.ListSymbolConfigs(ctx)
			if err != nil {
				log.Error("Failed to list symbols", zap.Error(err))
			} else {
				var toSubscribe []string
				for _, sc := range configs {
					if !activeSymbols[sc.Symbol] {
						toSubscribe = append(toSubscribe, sc.Symbol)
						activeSymbols[sc.Symbol] = true
					}
				}
				if len(toSubscribe) > 0 {
					log.Info("Subscribing to new symbols", zap.Strings("symbols", toSubscribe))
					if err := bybitAdapter.Subscribe(toSubscribe); err != nil {
						log.Error("Failed to subscribe", zap.Error(err))
					}
				}

				for _, sc := range configs {
					if !sc.Enabled {
						continue
					}
					if _, err := svc.ProcessSymbol(ctx, sc.Symbol); err != nil {
						log.Error("Symbol evaluation failed",
							zap.String("symbol", sc.Symbol), zap.Error(err))
					}
				}
			}

			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}()

	// 7. Staleness Reaper
	reaperInterval := time.Duration(cfg.Trading.ReaperIntervalMs) * time.Millisecond
	if reaperInterval <= 0 {
		reaperInterval = time.Hour
	}
	maxAge := time.Duration(cfg.Trading.TrackerMaxAgeHours) * time.Hour

	reaper := usecase.NewReaper(svc, reaperInterval, maxAge, log)
	reaper.Start(ctx)

	// 8. Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, store, store, svc, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 9. Wait for Shutdown
	<-stop

	log.Info("Shutting down...")
	cancel()
	reaper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}
