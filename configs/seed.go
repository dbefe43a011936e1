package configs

import (
	"paygate/entity"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Seed ออเดอร์ตัวอย่างสำหรับ dev (SEED_DEMO=true)
func SeedDemoOrders(db *gorm.DB) error {
	demo := []entity.Order{
		{OrderRef: "O1", UserID: 1, Total: decimal.NewFromInt(100000)},
		{OrderRef: "O2", UserID: 1, Total: decimal.NewFromInt(250000)},
		{OrderRef: "O3", UserID: 2, Total: decimal.NewFromInt(45000)},
	}
	for _, o := range demo {
		o := o
		if err := db.Where(entity.Order{OrderRef: o.OrderRef}).FirstOrCreate(&o).Error; err != nil {
			return err
		}
	}
	log.Info().Int("orders", len(demo)).Msg("demo orders seeded")
	return nil
}
