package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_pair_trader/internal/infrastructure/exchange"
)

type Config struct {
	Exchanges []struct {
		Name         string `yaml:"name"`
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		WSEndpoint   string `yaml:"ws_endpoint"`
		RESTEndpoint string `yaml:"rest_endpoint"`
	} `yaml:"exchanges"`
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
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	bybitCfg := cfg.Exchanges[0]
	fmt.Printf("Testing Bybit Interaction...\n")
	fmt.Printf("Endpoint: %s\n", bybitCfg.RESTEndpoint)
	fmt.Printf("API Key: %s...\n", bybitCfg.APIKey[:4])

	adapter := exchange.NewBybitAdapter(bybitCfg.APIKey, bybitCfg.APISecret, bybitCfg.RESTEndpoint, bybitCfg.WSEndpoint)
	ctx := context.Background()

	// Public Endpoint (Ticker)
	ticker, err := adapter.GetTicker(ctx, "BTCUSDT")
	if err != nil {
		fmt.Printf("❌ Failed to get ticker: %v\n", err)
	} else {
		fmt.Printf("✅ Ticker (BTCUSDT): Price=%f, Change24h=%.2f%%\n", ticker.LastPrice, ticker.Change24h)
	}

	// Private Endpoint (Balance)
	balance, err := adapter.GetAvailableBalance(ctx, "USDT")
	if err != nil {
		fmt.Printf("❌ Failed to get balance: %v\n", err)
	} else {
		fmt.Printf("✅ Available Balance (USDT): %f\n", balance)
	}
}
