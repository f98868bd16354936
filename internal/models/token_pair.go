package models

import "time"

// TokenPair is an admin-curated candidate pairing for automated competition
// creation. Pairs are ranked by compatibility score and de-prioritized for 24h
// after use.
type TokenPair struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	TokenAAddress string `gorm:"type:text;not null;uniqueIndex:idx_token_pairs_pair,priority:1"`
	TokenASymbol  string `gorm:"type:text;not null"`
	TokenAName    string `gorm:"type:text;not null"`
	TokenBAddress string `gorm:"type:text;not null;uniqueIndex:idx_token_pairs_pair,priority:2"`
	TokenBSymbol  string `gorm:"type:text;not null"`
	TokenBName    string `gorm:"type:text;not null"`

	Active             bool    `gorm:"not null;default:true;index"`
	CompatibilityScore float64 `gorm:"not null;default:0"`

	TimesUsed  int        `gorm:"not null;default:0"`
	LastUsedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (TokenPair) TableName() string {
	return "token_pairs"
}
