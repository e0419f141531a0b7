package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillLatestVersion   = "2026-09-14_backfill_latest_version"
	migrationLockSupersededTextEdits = "2026-09-28_lock_superseded_text_edits"
	supersededVersionSubquery        = "version_id NOT IN (SELECT current_version_id FROM documents)"
	unlockedRowCondition             = "committed_version_id = ''"
	latestVersionMissingCondition    = "latest_version_id = '' AND current_version_id <> ''"
	columnCommittedVersionID         = "committed_version_id"
	columnLatestVersionID            = "latest_version_id"
	expressionCurrentVersionID       = "current_version_id"
	expressionVersionID              = "version_id"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillLatestVersion, apply: backfillLatestVersion},
		{name: migrationLockSupersededTextEdits, apply: lockSupersededTextEdits},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		}); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillLatestVersion points latest at current for documents written before
// the latest pointer was tracked.
func backfillLatestVersion(db *gorm.DB) error {
	return db.Model(&records.Document{}).
		Where(latestVersionMissingCondition).
		Update(columnLatestVersionID, gorm.Expr(expressionCurrentVersionID)).Error
}

// lockSupersededTextEdits freezes text edits of superseded versions that were
// committed while commits only locked annotations.
func lockSupersededTextEdits(db *gorm.DB) error {
	return db.Model(&records.TextEdit{}).
		Where(unlockedRowCondition).
		Where(supersededVersionSubquery).
		Update(columnCommittedVersionID, gorm.Expr(expressionVersionID)).Error
}
