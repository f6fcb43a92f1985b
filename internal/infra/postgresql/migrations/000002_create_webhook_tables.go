package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/production-control/internal/repository"
	"gorm.io/gorm"
)

func createWebhookTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_webhook_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.WebhookSubscriptionModel{},
				&repository.WebhookDeliveryModel{},
			); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_active ON webhook_subscriptions (id) WHERE is_active = true`,
				`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_failed ON webhook_deliveries (subscription_id, attempts) WHERE status = 'failed'`,
				`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_pending ON webhook_deliveries (updated_at) WHERE status = 'pending'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.WebhookDeliveryModel{},
				&repository.WebhookSubscriptionModel{},
			)
		},
	}
}
