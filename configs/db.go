package configs

import (
	"fmt"
	"time"

	"paygate/entity"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDatabase connects with the configured driver. TranslateError is on so
// unique-index violations surface as gorm.ErrDuplicatedKey.
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	return db, nil
}

// at most one PENDING attempt per (order, method)
const onePendingIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_one_pending
	ON payments (order_id, payment_method) WHERE status = 'PENDING'`

func SetupDatabase(db *gorm.DB) error {
	// Migrate the schema
	if err := db.AutoMigrate(&entity.Order{}, &entity.Payment{}, &entity.AuditLog{}); err != nil {
		return err
	}
	if err := db.Exec(onePendingIndex).Error; err != nil {
		return fmt.Errorf("create pending index: %w", err)
	}
	log.Debug().Msg("schema migrated")
	return nil
}
