package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitos/crypto_pair_trader/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS symbol_configs (
			symbol TEXT PRIMARY KEY,
			base_coin TEXT NOT NULL,
			quote_coin TEXT NOT NULL,
			buy_threshold REAL NOT NULL,
			sell_threshold REAL NOT NULL,
			last_buy_price REAL,
			last_sell_price REAL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			sell_strategy TEXT NOT NULL DEFAULT 'security',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			amount REAL NOT NULL,
			price REAL NOT NULL,
			cause TEXT NOT NULL,
			level_index INTEGER NOT NULL DEFAULT -1,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);`,
		`CREATE TABLE IF NOT EXISTS cycle_reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			strategy TEXT NOT NULL,
			entry_price REAL NOT NULL,
			avg_exit_price REAL NOT NULL,
			peak_price REAL NOT NULL,
			realized_pct REAL NOT NULL,
			peak_pct REAL NOT NULL,
			outcome TEXT NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// ConfigRepository Implementation

const symbolConfigColumns = `symbol, base_coin, quote_coin, buy_threshold, sell_threshold,
	last_buy_price, last_sell_price, enabled, sell_strategy, created_at, updated_at`

func (s *SQLiteStore) SaveSymbolConfig(ctx context.Context, cfg *domain.SymbolConfig) error {
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}
	cfg.UpdatedAt = time.Now()

	query := `INSERT INTO symbol_configs (` + symbolConfigColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(symbol) DO UPDATE SET
				base_coin=excluded.base_coin,
				quote_coin=excluded.quote_coin,
				buy_threshold=excluded.buy_threshold,
				sell_threshold=excluded.sell_threshold,
				enabled=excluded.enabled,
				sell_strategy=excluded.sell_strategy,
				updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		cfg.Symbol, cfg.BaseCoin, cfg.QuoteCoin, cfg.BuyThreshold, cfg.SellThreshold,
		cfg.LastBuyPrice, cfg.LastSellPrice, cfg.Enabled, cfg.SellStrategy,
		cfg.CreatedAt, cfg.UpdatedAt)
	return err
}

func scanSymbolConfig(row interface{ Scan(...interface{}) error }) (*domain.SymbolConfig, error) {
	var cfg domain.SymbolConfig
	err := row.Scan(&cfg.Symbol, &cfg.BaseCoin, &cfg.QuoteCoin, &cfg.BuyThreshold,
		&cfg.SellThreshold, &cfg.LastBuyPrice, &cfg.LastSellPrice, &cfg.Enabled,
		&cfg.SellStrategy, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLiteStore) GetSymbolConfig(ctx context.Context, symbol string) (*domain.SymbolConfig, error) {
	query := `SELECT ` + symbolConfigColumns + ` FROM symbol_configs WHERE symbol = ?`
	return scanSymbolConfig(s.db.QueryRowContext(ctx, query, symbol))
}

func (s *SQLiteStore) ListSymbolConfigs(ctx context.Context) ([]*domain.SymbolConfig, error) {
	query := `SELECT ` + symbolConfigColumns + ` FROM symbol_configs ORDER BY symbol`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.SymbolConfig
	for rows.Next() {
		cfg, err := scanSymbolConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (s *SQLiteStore) DeleteSymbolConfig(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM symbol_configs WHERE symbol = ?`, symbol)
	return err
}

func (s *SQLiteStore) SetEnabled(ctx context.Context, symbol string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE symbol_configs SET enabled = ?, updated_at = ? WHERE symbol = ?`,
		enabled, time.Now(), symbol)
	return err
}

func (s *SQLiteStore) UpdateLastPrices(ctx context.Context, symbol string, lastBuy, lastSell *float64) error {
	if lastBuy != nil {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE symbol_configs SET last_buy_price = ?, updated_at = ? WHERE symbol = ?`,
			*lastBuy, time.Now(), symbol); err != nil {
			return err
		}
	}
	if lastSell != nil {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE symbol_configs SET last_sell_price = ?, updated_at = ? WHERE symbol = ?`,
			*lastSell, time.Now(), symbol); err != nil {
			return err
		}
	}
	return nil
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	query := `INSERT INTO orders (id, symbol, side, amount, price, cause, level_index, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		order.ID, order.Symbol, order.Side, order.Amount, order.Price,
		order.Cause, order.LevelIndex, order.CreatedAt)
	return err
}

func (s *SQLiteStore) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	query := `SELECT id, symbol, side, amount, price, cause, level_index, created_at
			  FROM orders ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.Symbol, &o.Side, &o.Amount, &o.Price,
			&o.Cause, &o.LevelIndex, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) SaveCycleReport(ctx context.Context, report *domain.CycleReport) error {
	query := `INSERT INTO cycle_reports (symbol, strategy, entry_price, avg_exit_price,
			  peak_price, realized_pct, peak_pct, outcome, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		report.Symbol, report.Strategy, report.EntryPrice, report.AvgExitPrice,
		report.PeakPrice, report.RealizedPct, report.PeakPct, report.Outcome, report.ClosedAt)
	if err != nil {
		return err
	}
	report.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListCycleReports(ctx context.Context, limit int) ([]*domain.CycleReport, error) {
	query := `SELECT id, symbol, strategy, entry_price, avg_exit_price, peak_price,
			  realized_pct, peak_pct, outcome, closed_at
			  FROM cycle_reports ORDER BY closed_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*domain.CycleReport
	for rows.Next() {
		var r domain.CycleReport
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Strategy, &r.EntryPrice, &r.AvgExitPrice,
			&r.PeakPrice, &r.RealizedPct, &r.PeakPct, &r.Outcome, &r.ClosedAt); err != nil {
			return nil, err
		}
		reports = append(reports, &r)
	}
	return reports, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
