package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Competition statuses. The automatic scheduler only ever moves a competition
// forward through SETUP → VOTING → ACTIVE → CLOSED → RESOLVED; PAUSED and
// CANCELLED are operator escape states.
const (
	StatusSetup     = "SETUP"
	StatusVoting    = "VOTING"
	StatusActive    = "ACTIVE"
	StatusClosed    = "CLOSED"
	StatusResolved  = "RESOLVED"
	StatusPaused    = "PAUSED"
	StatusCancelled = "CANCELLED"
)

// Winner side values stored in Competition.WinnerToken.
const (
	SideTokenA = "token_a"
	SideTokenB = "token_b"
)

const (
	CreatedByManual    = "manual"
	CreatedByAutomated = "automated"
)

var statusRank = map[string]int{
	StatusSetup:    0,
	StatusVoting:   1,
	StatusActive:   2,
	StatusClosed:   3,
	StatusResolved: 4,
}

// StatusRank returns the position of a scheduler status in the forward
// ordering, or -1 for escape/unknown statuses.
func StatusRank(status string) int {
	rank, ok := statusRank[status]
	if !ok {
		return -1
	}
	return rank
}

// SchedulerStatuses are the statuses the phase state machine owns. Recovery
// loads every competition in one of these.
func SchedulerStatuses() []string {
	return []string{StatusSetup, StatusVoting, StatusActive, StatusClosed}
}

// IsTerminal reports whether no further automatic transition applies.
func IsTerminal(status string) bool {
	switch status {
	case StatusResolved, StatusCancelled:
		return true
	}
	return false
}

type Competition struct {
	ID string `gorm:"primaryKey;type:text"`

	TokenAAddress string `gorm:"type:text;not null;index"`
	TokenASymbol  string `gorm:"type:text;not null"`
	TokenAName    string `gorm:"type:text;not null"`
	TokenBAddress string `gorm:"type:text;not null;index"`
	TokenBSymbol  string `gorm:"type:text;not null"`
	TokenBName    string `gorm:"type:text;not null"`

	Status string `gorm:"type:varchar(20);not null;index"`

	StartTime     time.Time `gorm:"type:timestamptz;not null"`
	VotingEndTime time.Time `gorm:"type:timestamptz;not null"`
	EndTime       time.Time `gorm:"type:timestamptz;not null;index"`

	BetAmount      decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	PlatformFeeBps int             `gorm:"not null;default:0"`

	TotalPool  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	TokenAPool decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	TokenBPool decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	TotalBets  int             `gorm:"not null;default:0"`

	// WinnerToken is SideTokenA or SideTokenB; nil until RESOLVED, and nil on
	// a RESOLVED tie (refund-all).
	WinnerToken *string `gorm:"type:varchar(10)"`

	TokenAStartPrice *decimal.Decimal `gorm:"type:numeric(30,12)"`
	TokenAEndPrice   *decimal.Decimal `gorm:"type:numeric(30,12)"`
	TokenBStartPrice *decimal.Decimal `gorm:"type:numeric(30,12)"`
	TokenBEndPrice   *decimal.Decimal `gorm:"type:numeric(30,12)"`

	// Relative performance (end-start)/start, recorded at resolution.
	TokenAPerformance *decimal.Decimal `gorm:"type:numeric(20,10)"`
	TokenBPerformance *decimal.Decimal `gorm:"type:numeric(20,10)"`

	CreatedBy string `gorm:"type:varchar(20);not null;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Competition) TableName() string {
	return "competitions"
}

// TokenAddresses returns both tracked mint addresses.
func (c *Competition) TokenAddresses() []string {
	return []string{c.TokenAAddress, c.TokenBAddress}
}
