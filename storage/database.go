package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/deltahedge/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORAGE - Hedge trade and cycle history
// ═══════════════════════════════════════════════════════════════════════════════
//
// Pure observability sink: nothing in the decision path reads from here.
// Empty DATABASE_PATH disables persistence and every write becomes a no-op.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db      *gorm.DB
	enabled bool
}

// HedgeTrade records one executed or rejected hedge order.
type HedgeTrade struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Symbol       string `gorm:"index"`
	VenueOrderID string
	Size         decimal.Decimal `gorm:"type:decimal(20,8)"`
	FilledSize   decimal.Decimal `gorm:"type:decimal(20,8)"`
	LimitPrice   decimal.Decimal `gorm:"type:decimal(20,8)"`
	AvgPrice     decimal.Decimal `gorm:"type:decimal(20,8)"`
	State        string          `gorm:"index"` // FILLED, REJECTED, FAILED
	Reason       string          // threshold_breach, rebalance, emergency_close
	RejectReason string
	CreatedAt    time.Time
}

// CycleSnapshot records one cycle's aggregate risk picture.
type CycleSnapshot struct {
	ID             uint `gorm:"primaryKey;autoIncrement"`
	Positions      int
	TotalValueUSD  decimal.Decimal `gorm:"type:decimal(20,6)"`
	TotalIL        decimal.Decimal `gorm:"type:decimal(20,6)"`
	TotalFees      decimal.Decimal `gorm:"type:decimal(20,6)"`
	TotalNetPnL    decimal.Decimal `gorm:"type:decimal(20,6)"`
	AggregateDelta decimal.Decimal `gorm:"type:decimal(20,8)"`
	HedgePosition  decimal.Decimal `gorm:"type:decimal(20,8)"`
	HedgesExecuted int
	CreatedAt      time.Time `gorm:"index"`
}

// New opens the database at dbPath: a postgres:// DSN or a SQLite file path.
// An empty path disables persistence.
func New(dbPath string) (*Database, error) {
	if dbPath == "" {
		log.Warn().Msg("DATABASE_PATH not set, running without persistence")
		return &Database{enabled: false}, nil
	}

	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("💾 Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&HedgeTrade{}, &CycleSnapshot{}); err != nil {
		return nil, err
	}

	return &Database{db: db, enabled: true}, nil
}

// SaveTrade records a hedge order outcome. Persistence failures are logged,
// never propagated into the cycle.
func (d *Database) SaveTrade(trade *HedgeTrade) {
	if !d.enabled {
		return
	}
	if err := d.db.Create(trade).Error; err != nil {
		log.Error().Err(err).Msg("Failed to save hedge trade")
	}
}

// SaveCycle records one cycle report.
func (d *Database) SaveCycle(report types.CycleReport) {
	if !d.enabled {
		return
	}

	snap := &CycleSnapshot{
		Positions:      report.Positions,
		TotalValueUSD:  report.TotalValueUSD,
		TotalIL:        report.TotalIL,
		TotalFees:      report.TotalFees,
		TotalNetPnL:    report.TotalNetPnL,
		AggregateDelta: report.AggregateDelta,
		HedgePosition:  report.HedgePosition,
		HedgesExecuted: report.HedgesExecuted,
		CreatedAt:      report.Timestamp,
	}
	if err := d.db.Create(snap).Error; err != nil {
		log.Error().Err(err).Msg("Failed to save cycle snapshot")
	}
}

// RecentTrades returns the latest hedge trades, newest first.
func (d *Database) RecentTrades(limit int) ([]HedgeTrade, error) {
	if !d.enabled {
		return nil, nil
	}

	var trades []HedgeTrade
	err := d.db.Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// RecentCycles returns the latest cycle snapshots, newest first.
func (d *Database) RecentCycles(limit int) ([]CycleSnapshot, error) {
	if !d.enabled {
		return nil, nil
	}

	var cycles []CycleSnapshot
	err := d.db.Order("created_at DESC").Limit(limit).Find(&cycles).Error
	return cycles, err
}

// IsEnabled reports whether persistence is active.
func (d *Database) IsEnabled() bool {
	return d.enabled
}

// Close releases the underlying connection.
func (d *Database) Close() {
	if !d.enabled {
		return
	}
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}
