package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/production-control/internal/repository"
	"gorm.io/gorm"
)

func createProductionTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_production_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.WorkCenterModel{},
				&repository.BatchModel{},
				&repository.ProductModel{},
			); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_batches_open_shift_end ON batches (shift_end) WHERE is_closed = false`,
				`CREATE INDEX IF NOT EXISTS idx_products_batch_aggregated ON products (batch_id, is_aggregated)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.ProductModel{},
				&repository.BatchModel{},
				&repository.WorkCenterModel{},
			)
		},
	}
}
