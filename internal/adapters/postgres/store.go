// Package postgres stores engine snapshots in PostgreSQL through gorm.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Option defines connection options for PostgreSQL.
type Option struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string // Used as is when set
	Logger     ports.Logger
}

// Store implements ports.SnapshotStore on PostgreSQL.
type Store struct {
	db     *gorm.DB
	logger ports.Logger
}

var _ ports.SnapshotStore = (*Store)(nil)

// New connects to PostgreSQL and migrates the snapshot tables.
func New(ctx context.Context, opt Option) (*Store, error) {
	if opt.Logger == nil {
		return nil, fmt.Errorf("logger is required for postgres store: %w", ports.ErrConfigurationError)
	}
	db, err := gorm.Open(postgres.Open(opt.dsn()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w: %v", ports.ErrDBConnection, err)
	}

	s := &Store{db: db, logger: opt.Logger}
	if err := db.WithContext(ctx).AutoMigrate(&sessionRow{}, &positionRow{}, &orderRow{}, &historyRow{}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate snapshot tables: %w", err)
	}
	opt.Logger.Info(ctx, "Postgres snapshot store ready", map[string]interface{}{"host": opt.Host, "database": opt.Database})
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveSnapshot replaces everything stored for sessionID with snap.
func (s *Store) SaveSnapshot(ctx context.Context, sessionID string, snap *domain.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot for session %s: %w", sessionID, ports.ErrInvalidSnapshot)
	}
	rows, err := toRows(sessionID, snap)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteSession(tx, sessionID); err != nil {
			return err
		}
		if err := tx.Create(&rows.session).Error; err != nil {
			return err
		}
		if len(rows.positions) > 0 {
			if err := tx.Create(&rows.positions).Error; err != nil {
				return err
			}
		}
		if len(rows.orders) > 0 {
			if err := tx.Create(&rows.orders).Error; err != nil {
				return err
			}
		}
		if len(rows.history) > 0 {
			if err := tx.Create(&rows.history).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot for session %s: %w: %v", sessionID, ports.ErrUpdateFailed, err)
	}
	s.logger.Debug(ctx, "Snapshot saved", map[string]interface{}{"sessionID": sessionID, "orders": len(snap.Orders)})
	return nil
}

// LoadSnapshot returns nil, nil when sessionID has never been saved.
func (s *Store) LoadSnapshot(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	db := s.db.WithContext(ctx)

	var rows snapshotRows
	err := db.Where("id = ?", sessionID).Take(&rows.session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w: %v", sessionID, ports.ErrQueryFailed, err)
	}
	if err := db.Where("session_id = ?", sessionID).Order("symbol").Find(&rows.positions).Error; err != nil {
		return nil, fmt.Errorf("failed to load positions: %w: %v", ports.ErrQueryFailed, err)
	}
	if err := db.Where("session_id = ?", sessionID).Order("seq").Find(&rows.orders).Error; err != nil {
		return nil, fmt.Errorf("failed to load orders: %w: %v", ports.ErrQueryFailed, err)
	}
	if err := db.Where("session_id = ?", sessionID).Order("seq").Find(&rows.history).Error; err != nil {
		return nil, fmt.Errorf("failed to load history: %w: %v", ports.ErrQueryFailed, err)
	}
	return rows.toSnapshot()
}

// DeleteSnapshot removes everything stored for sessionID.
func (s *Store) DeleteSnapshot(ctx context.Context, sessionID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteSession(tx, sessionID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w: %v", sessionID, ports.ErrUpdateFailed, err)
	}
	return nil
}

func deleteSession(tx *gorm.DB, sessionID string) error {
	for _, model := range []interface{}{&positionRow{}, &orderRow{}, &historyRow{}} {
		if err := tx.Where("session_id = ?", sessionID).Delete(model).Error; err != nil {
			return err
		}
	}
	return tx.Where("id = ?", sessionID).Delete(&sessionRow{}).Error
}

func (opt Option) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := &url.URL{Scheme: "postgres", Host: fmt.Sprintf("%s:%d", host, port)}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key != "" {
			query.Set(key, value)
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// --- Table models ---

type sessionRow struct {
	ID          string `gorm:"primaryKey"`
	Version     int
	Cash        float64
	InitialCash float64
	RealizedPnL float64 `gorm:"column:realized_pnl"`
	LastPrices  string `gorm:"type:jsonb"`
	SavedAt     time.Time
}

func (sessionRow) TableName() string { return "paper_sessions" }

type positionRow struct {
	SessionID     string `gorm:"primaryKey"`
	Symbol        string `gorm:"primaryKey"`
	Quantity      float64
	AvgEntryPrice float64
	CurrentPrice  float64
	MarketValue   float64
	UnrealizedPnL float64 `gorm:"column:unrealized_pnl"`
}

func (positionRow) TableName() string { return "paper_positions" }

type orderRow struct {
	SessionID      string `gorm:"primaryKey"`
	ID             string `gorm:"primaryKey"`
	Seq            int    `gorm:"index"`
	Symbol         string
	Quantity       float64
	Side           string
	Type           string
	LimitPrice     float64
	Status         string
	FilledAvgPrice float64
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
	FilledAt       *time.Time
	ClientOrderID  string
}

func (orderRow) TableName() string { return "paper_orders" }

type historyRow struct {
	SessionID  string `gorm:"primaryKey"`
	ID         string `gorm:"primaryKey"`
	Seq        int    `gorm:"index"`
	Symbol     string
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64 `gorm:"column:pnl"`
	Timestamp  time.Time
	Kind       string
	OrderID    string
}

func (historyRow) TableName() string { return "paper_history" }

type snapshotRows struct {
	session   sessionRow
	positions []positionRow
	orders    []orderRow
	history   []historyRow
}

func toRows(sessionID string, snap *domain.Snapshot) (snapshotRows, error) {
	lastPrices, err := json.Marshal(snap.LastPrices)
	if err != nil {
		return snapshotRows{}, fmt.Errorf("failed to encode last prices: %w", err)
	}
	rows := snapshotRows{
		session: sessionRow{
			ID:          sessionID,
			Version:     snap.Version,
			Cash:        snap.Cash,
			InitialCash: snap.InitialCash,
			RealizedPnL: snap.RealizedPnL,
			LastPrices:  string(lastPrices),
			SavedAt:     snap.SavedAt.UTC(),
		},
		positions: make([]positionRow, 0, len(snap.Positions)),
		orders:    make([]orderRow, 0, len(snap.Orders)),
		history:   make([]historyRow, 0, len(snap.History)),
	}
	for _, p := range snap.Positions {
		rows.positions = append(rows.positions, positionRow{
			SessionID:     sessionID,
			Symbol:        p.Symbol,
			Quantity:      p.Quantity,
			AvgEntryPrice: p.AvgEntryPrice,
			CurrentPrice:  p.CurrentPrice,
			MarketValue:   p.MarketValue,
			UnrealizedPnL: p.UnrealizedPnL,
		})
	}
	for i, o := range snap.Orders {
		rows.orders = append(rows.orders, orderRow{
			SessionID:      sessionID,
			ID:             o.ID,
			Seq:            i,
			Symbol:         o.Symbol,
			Quantity:       o.Quantity,
			Side:           string(o.Side),
			Type:           string(o.Type),
			LimitPrice:     o.LimitPrice,
			Status:         string(o.Status),
			FilledAvgPrice: o.FilledAvgPrice,
			CreatedAt:      o.CreatedAt.UTC(),
			FilledAt:       optionalTime(o.FilledAt),
			ClientOrderID:  o.ClientOrderID,
		})
	}
	for i, h := range snap.History {
		rows.history = append(rows.history, historyRow{
			SessionID:  sessionID,
			ID:         h.ID,
			Seq:        i,
			Symbol:     h.Symbol,
			Quantity:   h.Quantity,
			EntryPrice: h.EntryPrice,
			ExitPrice:  h.ExitPrice,
			PnL:        h.PnL,
			Timestamp:  h.Timestamp.UTC(),
			Kind:       string(h.Kind),
			OrderID:    h.OrderID,
		})
	}
	return rows, nil
}

func (r snapshotRows) toSnapshot() (*domain.Snapshot, error) {
	snap := &domain.Snapshot{
		Version:     r.session.Version,
		Cash:        r.session.Cash,
		InitialCash: r.session.InitialCash,
		RealizedPnL: r.session.RealizedPnL,
		SavedAt:     r.session.SavedAt.UTC(),
		Positions:   make([]domain.Position, 0, len(r.positions)),
		Orders:      make([]domain.Order, 0, len(r.orders)),
		History:     make([]domain.HistoryEntry, 0, len(r.history)),
	}
	if r.session.LastPrices != "" {
		if err := json.Unmarshal([]byte(r.session.LastPrices), &snap.LastPrices); err != nil {
			return nil, fmt.Errorf("failed to decode last prices: %w", err)
		}
	}
	for _, p := range r.positions {
		snap.Positions = append(snap.Positions, domain.Position{
			Symbol:        p.Symbol,
			Quantity:      p.Quantity,
			AvgEntryPrice: p.AvgEntryPrice,
			CurrentPrice:  p.CurrentPrice,
			MarketValue:   p.MarketValue,
			UnrealizedPnL: p.UnrealizedPnL,
		})
	}
	for _, o := range r.orders {
		snap.Orders = append(snap.Orders, domain.Order{
			ID:             o.ID,
			Symbol:         o.Symbol,
			Quantity:       o.Quantity,
			Side:           domain.OrderSide(o.Side),
			Type:           domain.OrderType(o.Type),
			LimitPrice:     o.LimitPrice,
			Status:         domain.OrderStatus(o.Status),
			FilledAvgPrice: o.FilledAvgPrice,
			CreatedAt:      o.CreatedAt.UTC(),
			FilledAt:       valueTime(o.FilledAt),
			ClientOrderID:  o.ClientOrderID,
		})
	}
	for _, h := range r.history {
		snap.History = append(snap.History, domain.HistoryEntry{
			ID:         h.ID,
			Symbol:     h.Symbol,
			Quantity:   h.Quantity,
			EntryPrice: h.EntryPrice,
			ExitPrice:  h.ExitPrice,
			PnL:        h.PnL,
			Timestamp:  h.Timestamp.UTC(),
			Kind:       domain.HistoryKind(h.Kind),
			OrderID:    h.OrderID,
		})
	}
	return snap, nil
}

// optionalTime maps the zero time to NULL.
func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func valueTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
