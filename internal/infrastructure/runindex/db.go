// Package runindex is a small cross-run SQL index — sqlite by default,
// postgres for multi-run fleets sharing one index — independent of the
// per-run turns.jsonl/state.json artifacts on disk.
package runindex

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vizloop/enginecore/internal/domain/entity"
)

// Config selects the backing database.
type Config struct {
	Type string // "sqlite" or "postgres"
	DSN  string
}

// Open connects and auto-migrates the RunRecord table.
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported run index database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open run index: %w", err)
	}
	if err := db.AutoMigrate(&entity.RunRecord{}); err != nil {
		return nil, fmt.Errorf("migrate run index: %w", err)
	}
	return db, nil
}

// Index wraps a *gorm.DB with the narrow set of operations EngineLoop's
// wiring needs: upsert on run-start/turn-persist/pause/shutdown, and list
// for GET /runs.
type Index struct {
	db *gorm.DB
}

// New wraps an already-opened database handle.
func New(db *gorm.DB) *Index { return &Index{db: db} }

// Upsert inserts or updates the RunRecord for rec.RunID.
func (i *Index) Upsert(rec *entity.RunRecord) error {
	return i.db.Save(rec).Error
}

// List returns every run, most recently started first.
func (i *Index) List() ([]entity.RunRecord, error) {
	var out []entity.RunRecord
	err := i.db.Order("started_at DESC").Find(&out).Error
	return out, err
}

// Get returns a single run by id.
func (i *Index) Get(runID string) (*entity.RunRecord, error) {
	var rec entity.RunRecord
	if err := i.db.First(&rec, "run_id = ?", runID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
