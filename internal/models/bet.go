package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bet outcomes. A bet is PLACED until its competition settles; settlement
// marks it WON/LOST, or REFUNDED on a tie or cancellation. CLAIMED records
// that the on-chain payout was taken.
const (
	BetStatusPlaced   = "PLACED"
	BetStatusWon      = "WON"
	BetStatusLost     = "LOST"
	BetStatusRefunded = "REFUNDED"
	BetStatusClaimed  = "CLAIMED"
)

type Bet struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	CompetitionID string `gorm:"type:text;not null;uniqueIndex:idx_bets_comp_wallet,priority:1"`
	Wallet        string `gorm:"type:text;not null;uniqueIndex:idx_bets_comp_wallet,priority:2"`

	// ChosenToken is SideTokenA or SideTokenB.
	ChosenToken string          `gorm:"type:varchar(10);not null"`
	Amount      decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	Status string           `gorm:"type:varchar(12);not null;default:'PLACED';index"`
	Payout *decimal.Decimal `gorm:"type:numeric(30,10)"`

	PlacedAt  time.Time  `gorm:"type:timestamptz;not null"`
	SettledAt *time.Time `gorm:"type:timestamptz"`
	ClaimedAt *time.Time `gorm:"type:timestamptz"`
}

func (Bet) TableName() string {
	return "bets"
}
