package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.SnapshotStore using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

var _ ports.SnapshotStore = (*Repository)(nil)

// NewRepository opens (or creates) the database at cfg.DBPath and makes sure
// the schema exists.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository: %w", ports.ErrConfigurationError)
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/paper_trading.db"
	}
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %v", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %v", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer at a time; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "SQLite snapshot store ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		cash REAL NOT NULL,
		initial_cash REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		last_prices TEXT NOT NULL DEFAULT '{}',
		saved_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		symbol TEXT NOT NULL,
		quantity REAL NOT NULL,
		avg_entry_price REAL NOT NULL,
		current_price REAL NOT NULL,
		market_value REAL NOT NULL,
		unrealized_pnl REAL NOT NULL,
		PRIMARY KEY (session_id, symbol)
	);

	CREATE TABLE IF NOT EXISTS orders (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity REAL NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		limit_price REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		filled_avg_price REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		filled_at TIMESTAMP,
		client_order_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (session_id, id)
	);

	CREATE TABLE IF NOT EXISTS history (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		pnl REAL NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		kind TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (session_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_orders_session_seq ON orders (session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_history_session_seq ON history (session_id, seq);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}

	// Databases created before fill times were recorded lack filled_at.
	if _, err := r.db.ExecContext(ctx, `ALTER TABLE orders ADD COLUMN filled_at TIMESTAMP`); err != nil &&
		!strings.Contains(err.Error(), "duplicate column name") {
		return fmt.Errorf("failed to add filled_at column: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// SaveSnapshot replaces everything stored for sessionID with snap in a
// single transaction.
func (r *Repository) SaveSnapshot(ctx context.Context, sessionID string, snap *domain.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot for session %s: %w", sessionID, ports.ErrInvalidSnapshot)
	}
	lastPrices, err := json.Marshal(snap.LastPrices)
	if err != nil {
		return fmt.Errorf("failed to encode last prices: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w: %v", ports.ErrUpdateFailed, err)
	}
	defer tx.Rollback() // No-op after commit

	// Cascades to positions, orders and history.
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear session %s: %w: %v", sessionID, ports.ErrUpdateFailed, err)
	}
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO sessions (id, version, cash, initial_cash, realized_pnl, last_prices, saved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, snap.Version, snap.Cash, snap.InitialCash, snap.RealizedPnL, string(lastPrices), snap.SavedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert session %s: %w: %v", sessionID, ports.ErrUpdateFailed, err)
	}

	for _, p := range snap.Positions {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO positions (session_id, symbol, quantity, avg_entry_price, current_price, market_value, unrealized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID, p.Symbol, p.Quantity, p.AvgEntryPrice, p.CurrentPrice, p.MarketValue, p.UnrealizedPnL); err != nil {
			return fmt.Errorf("failed to insert position %s: %w: %v", p.Symbol, ports.ErrUpdateFailed, err)
		}
	}

	for i, o := range snap.Orders {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (session_id, seq, id, symbol, quantity, side, type, limit_price, status, filled_avg_price, created_at, filled_at, client_order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, i, o.ID, o.Symbol, o.Quantity, string(o.Side), string(o.Type), o.LimitPrice,
			string(o.Status), o.FilledAvgPrice, o.CreatedAt.UTC(), nullTime(o.FilledAt), o.ClientOrderID); err != nil {
			return fmt.Errorf("failed to insert order %s: %w: %v", o.ID, ports.ErrUpdateFailed, err)
		}
	}

	for i, h := range snap.History {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO history (session_id, seq, id, symbol, quantity, entry_price, exit_price, pnl, timestamp, kind, order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, i, h.ID, h.Symbol, h.Quantity, h.EntryPrice, h.ExitPrice, h.PnL,
			h.Timestamp.UTC(), string(h.Kind), h.OrderID); err != nil {
			return fmt.Errorf("failed to insert history entry %s: %w: %v", h.ID, ports.ErrUpdateFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot for session %s: %w: %v", sessionID, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Snapshot saved", map[string]interface{}{
		"sessionID": sessionID,
		"positions": len(snap.Positions),
		"orders":    len(snap.Orders),
		"history":   len(snap.History),
	})
	return nil
}

// LoadSnapshot reads the state stored for sessionID. It returns nil, nil
// when the session has never been saved.
func (r *Repository) LoadSnapshot(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{}
	var lastPrices string
	err := r.db.QueryRowContext(ctx, `
	SELECT version, cash, initial_cash, realized_pnl, last_prices, saved_at
	FROM sessions WHERE id = ?`, sessionID).
		Scan(&snap.Version, &snap.Cash, &snap.InitialCash, &snap.RealizedPnL, &lastPrices, &snap.SavedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "No snapshot stored for session", map[string]interface{}{"sessionID": sessionID})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query session %s: %w: %v", sessionID, ports.ErrQueryFailed, err)
	}
	if err := json.Unmarshal([]byte(lastPrices), &snap.LastPrices); err != nil {
		return nil, fmt.Errorf("failed to decode last prices for session %s: %w", sessionID, err)
	}

	if snap.Positions, err = queryRows(ctx, r.db, scanPosition, `
	SELECT symbol, quantity, avg_entry_price, current_price, market_value, unrealized_pnl
	FROM positions WHERE session_id = ? ORDER BY symbol`, sessionID); err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	if snap.Orders, err = queryRows(ctx, r.db, scanOrder, `
	SELECT id, symbol, quantity, side, type, limit_price, status, filled_avg_price, created_at, filled_at, client_order_id
	FROM orders WHERE session_id = ? ORDER BY seq`, sessionID); err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	if snap.History, err = queryRows(ctx, r.db, scanHistory, `
	SELECT id, symbol, quantity, entry_price, exit_price, pnl, timestamp, kind, order_id
	FROM history WHERE session_id = ? ORDER BY seq`, sessionID); err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return snap, nil
}

// DeleteSnapshot removes everything stored for sessionID.
func (r *Repository) DeleteSnapshot(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w: %v", sessionID, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Snapshot deleted", map[string]interface{}{"sessionID": sessionID})
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func queryRows[T any](ctx context.Context, db *sql.DB, scan func(scanner) (T, error), query string, args ...interface{}) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ports.ErrQueryFailed, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate: %v", ports.ErrQueryFailed, err)
	}
	return out, nil
}

func scanPosition(s scanner) (domain.Position, error) {
	var p domain.Position
	err := s.Scan(&p.Symbol, &p.Quantity, &p.AvgEntryPrice, &p.CurrentPrice, &p.MarketValue, &p.UnrealizedPnL)
	return p, err
}

func scanOrder(s scanner) (domain.Order, error) {
	var o domain.Order
	var side, typ, status string
	var filledAt sql.NullTime
	err := s.Scan(&o.ID, &o.Symbol, &o.Quantity, &side, &typ, &o.LimitPrice, &status,
		&o.FilledAvgPrice, &o.CreatedAt, &filledAt, &o.ClientOrderID)
	if err != nil {
		return o, err
	}
	if filledAt.Valid {
		o.FilledAt = filledAt.Time.UTC()
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func scanHistory(s scanner) (domain.HistoryEntry, error) {
	var h domain.HistoryEntry
	var kind string
	err := s.Scan(&h.ID, &h.Symbol, &h.Quantity, &h.EntryPrice, &h.ExitPrice, &h.PnL, &h.Timestamp, &kind, &h.OrderID)
	if err != nil {
		return h, err
	}
	h.Kind = domain.HistoryKind(kind)
	return h, nil
}

// nullTime stores the zero time as NULL.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
