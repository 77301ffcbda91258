package db

import (
	"investcore/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Portfolio{},
		&models.Holding{},
		&models.Transaction{},
		&models.OptimizationRecord{},
		&models.PortfolioSnapshot{},
		&models.SystemSetting{},
		&models.ModelHealthCheck{},
	)
}
