// Package storage persists paper fills and per-tick decisions to SQLite.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/signal"
)

// FillRecord is one booked paper fill.
type FillRecord struct {
	ID         uint   `gorm:"primaryKey"`
	OrderID    string `gorm:"size:36;index"`
	Symbol     string `gorm:"index"`
	Side       string `gorm:"size:8"`
	Qty        float64
	Price      float64
	Commission float64
	FilledAt   time.Time `gorm:"index"`
}

// DecisionRecord is the outcome of one engine tick.
type DecisionRecord struct {
	ID           uint   `gorm:"primaryKey"`
	Pair         string `gorm:"index"`
	Action       string
	Reason       string
	ExitReason   string
	State        string
	Spread       float64
	ZScore       float64
	Slope        float64
	Intercept    float64
	SpreadStdDev float64
	Cointegrated bool
	PValue       float64
	Orders       int
	DecidedAt    time.Time `gorm:"index"`
}

// Storage wraps a gorm handle on a pure-Go SQLite database.
type Storage struct {
	db *gorm.DB
}

// Open creates the parent directory, connects and migrates the schema.
func Open(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&FillRecord{}, &DecisionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record stores a fill. It satisfies the paper broker's recorder hook.
func (s *Storage) Record(fill execution.Fill) error {
	return s.db.Create(&FillRecord{
		OrderID:    fill.OrderID,
		Symbol:     fill.Symbol,
		Side:       string(fill.Side),
		Qty:        fill.Qty,
		Price:      fill.Price,
		Commission: fill.Commission,
		FilledAt:   fill.Ts,
	}).Error
}

// RecordDecision stores one tick outcome.
func (s *Storage) RecordDecision(sig signal.Signal) error {
	return s.db.Create(&DecisionRecord{
		Pair:         sig.Pair,
		Action:       sig.Action,
		Reason:       sig.Reason,
		ExitReason:   sig.ExitReason,
		State:        sig.State,
		Spread:       sig.Spread,
		ZScore:       sig.ZScore,
		Slope:        sig.Slope,
		Intercept:    sig.Intercept,
		SpreadStdDev: sig.SpreadStdDev,
		Cointegrated: sig.Cointegrated,
		PValue:       sig.PValue,
		Orders:       sig.Orders,
		DecidedAt:    sig.Ts,
	}).Error
}

// Fills returns stored fills for symbol (all symbols when empty), oldest first.
func (s *Storage) Fills(symbol string) ([]FillRecord, error) {
	var out []FillRecord
	q := s.db.Order("id")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	err := q.Find(&out).Error
	return out, err
}

// RecentDecisions returns up to limit decisions for pair, newest first.
func (s *Storage) RecentDecisions(pair string, limit int) ([]DecisionRecord, error) {
	var out []DecisionRecord
	err := s.db.Where("pair = ?", pair).Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}
