package db

import (
	"tokenwars/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Competition{},
		&models.TokenPair{},
		&models.PriceSample{},
		&models.Bet{},
		&models.SystemSetting{},
	)
}
