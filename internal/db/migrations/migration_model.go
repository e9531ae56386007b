package migrations

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migration is an applied schema change
type Migration struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	AppliedAt time.Time `gorm:"not null"`
}

// MigrationManager applies named migrations at most once
type MigrationManager struct {
	db *gorm.DB
}

func NewMigrationManager(db *gorm.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

func (m *MigrationManager) EnsureMigrationTable() error {
	if !m.db.Migrator().HasTable(&Migration{}) {
		log.Debugf("Creating migrations table")
		return m.db.AutoMigrate(&Migration{})
	}
	return nil
}

// RunMigration applies migrationFn and records name in one transaction,
// unless name is already recorded.
func (m *MigrationManager) RunMigration(name string, migrationFn func(*gorm.DB) error) error {
	applied := false
	err := m.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Migration{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return fmt.Errorf("check migration status: %w", err)
		}
		if count > 0 {
			return nil
		}
		if err := migrationFn(tx); err != nil {
			return err
		}
		applied = true
		return tx.Create(&Migration{Name: name, AppliedAt: time.Now()}).Error
	})
	if err != nil {
		return fmt.Errorf("migration %s: %w", name, err)
	}
	if applied {
		log.Debugf("Applied migration: %s", name)
	} else {
		log.Debugf("Migration %s has already been applied, skipping", name)
	}
	return nil
}
