package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one observed price for a tracked token address. Samples are
// appended by the pricefeed sampler and consumed by TWAP resolution windows.
type PriceSample struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	TokenAddress string          `gorm:"type:text;not null;index:idx_price_samples_addr_time,priority:1"`
	Price        decimal.Decimal `gorm:"type:numeric(30,12);not null"`
	Source       string          `gorm:"type:varchar(30);not null"`
	Confidence   *float64

	CollectedAt time.Time `gorm:"type:timestamptz;not null;index:idx_price_samples_addr_time,priority:2"`
}

func (PriceSample) TableName() string {
	return "price_samples"
}
