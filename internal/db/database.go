package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goatnetwork/peg-relayer/internal/db/migrations"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DatabaseManager struct {
	journalDb    *gorm.DB
	checkpointDb *gorm.DB
}

// NewDatabaseManager opens the journal and checkpoint databases under dbDir.
// An empty dbDir keeps both in memory.
func NewDatabaseManager(dbDir string) *DatabaseManager {
	dm, err := OpenDatabaseManager(dbDir)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	return dm
}

func OpenDatabaseManager(dbDir string) (*DatabaseManager, error) {
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dm := &DatabaseManager{}
	var err error
	if dm.journalDb, err = open(dbDir, "relay_journal.db"); err != nil {
		return nil, err
	}
	if dm.checkpointDb, err = open(dbDir, "poll_checkpoint.db"); err != nil {
		return nil, err
	}
	if err := dm.autoMigrate(); err != nil {
		return nil, err
	}
	log.Debugf("Database migration completed successfully")
	return dm, nil
}

func open(dbDir, name string) (*gorm.DB, error) {
	dsn := filepath.Join(dbDir, name)
	if dbDir == "" {
		// each manager gets its own private memory database
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", name, err)
	}
	if dbDir == "" {
		// the memory database lives as long as its single connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	log.Debugf("Database %s connected successfully, path: %s", name, dsn)
	return db, nil
}

func (dm *DatabaseManager) autoMigrate() error {
	if err := dm.journalDb.AutoMigrate(&RelayRecord{}); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	if err := dm.checkpointDb.AutoMigrate(&PollCheckpoint{}); err != nil {
		return fmt.Errorf("migrate checkpoint: %w", err)
	}

	mm := migrations.NewMigrationManager(dm.journalDb)
	if err := mm.EnsureMigrationTable(); err != nil {
		return err
	}
	return mm.RunMigration("20261001_relay_records_kind_index", migrations.AddRelayRecordKindIndex)
}

func (dm *DatabaseManager) GetJournalDB() *gorm.DB {
	return dm.journalDb
}

func (dm *DatabaseManager) GetCheckpointDB() *gorm.DB {
	return dm.checkpointDb
}

func (dm *DatabaseManager) Close() {
	for _, db := range []*gorm.DB{dm.journalDb, dm.checkpointDb} {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
