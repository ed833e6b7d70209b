package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vitos/crypto_pair_trader/internal/infrastructure/storage"
)

func main() {
	store, err := storage.NewSQLiteStore("bot.db")
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	configs, err := store.ListSymbolConfigs(ctx)
	if err != nil {
		fmt.Printf("Failed to list symbols: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d symbols:\n", len(configs))
	for _, c := range configs {
		fmt.Printf("- %s (%s/%s): buy<=%.2f%% sell>=%.2f%% strategy=%s enabled=%v\n",
			c.Symbol, c.BaseCoin, c.QuoteCoin, c.BuyThreshold, c.SellThreshold, c.SellStrategy, c.Enabled)
		if c.LastBuyPrice != nil {
			fmt.Printf("  last buy: %f\n", *c.LastBuyPrice)
		}
		if c.LastSellPrice != nil {
			fmt.Printf("  last sell: %f\n", *c.LastSellPrice)
		}
	}

	orders, err := store.ListOrders(ctx, 20)
	if err != nil {
		fmt.Printf("Failed to list orders: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nLast %d orders:\n", len(orders))
	for _, o := range orders {
		fmt.Printf("- %s %s %s amount=%f price=%f cause=%s level=%d at %s\n",
			o.ID, o.Symbol, o.Side, o.Amount, o.Price, o.Cause, o.LevelIndex,
			o.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}
