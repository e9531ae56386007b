package migrations

import (
	"gorm.io/gorm"
)

// AddRelayRecordKindIndex indexes the journal for the per kind activity query
func AddRelayRecordKindIndex(tx *gorm.DB) error {
	return tx.Exec("CREATE INDEX IF NOT EXISTS relay_records_kind_created_index ON relay_records (kind, created_at)").Error
}
