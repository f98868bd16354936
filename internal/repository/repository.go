package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tokenwars/internal/models"
)

// Repository is the persistence boundary for the competition engine. The
// database is the source of truth; in-memory state in the competition manager
// is a write-through cache over it.
type Repository interface {
	// Competitions
	InsertCompetition(ctx context.Context, item *models.Competition) error
	GetCompetitionByID(ctx context.Context, id string) (*models.Competition, error)
	ListCompetitionsByStatuses(ctx context.Context, statuses []string) ([]models.Competition, error)
	ListCompetitions(ctx context.Context, params ListCompetitionsParams) ([]models.Competition, error)
	CountCompetitions(ctx context.Context, params ListCompetitionsParams) (int64, error)
	CountCompetitionsByStatuses(ctx context.Context, statuses []string) (int64, error)
	// UpdateCompetitionStatus is an atomic single-row update of status plus
	// any extra fields; it returns the stored row after the update.
	UpdateCompetitionStatus(ctx context.Context, id string, newStatus string, updates map[string]any) (*models.Competition, error)
	// ApplyBetToPools atomically adds a bet's stake to the pools of a
	// competition still in VOTING; returns nil when the row is absent or no
	// longer accepting bets.
	ApplyBetToPools(ctx context.Context, id, side string, amount decimal.Decimal) (*models.Competition, error)

	// Token pairs
	UpsertTokenPair(ctx context.Context, item *models.TokenPair) error
	GetTokenPairByID(ctx context.Context, id uint64) (*models.TokenPair, error)
	ListTokenPairs(ctx context.Context, activeOnly bool) ([]models.TokenPair, error)
	MarkTokenPairUsed(ctx context.Context, id uint64, usedAt time.Time) error
	SetTokenPairActive(ctx context.Context, id uint64, active bool) error

	// Price samples
	InsertPriceSample(ctx context.Context, item *models.PriceSample) error
	InsertPriceSamples(ctx context.Context, items []models.PriceSample) error
	ListPriceSamplesInWindow(ctx context.Context, tokenAddress string, from, to time.Time) ([]models.PriceSample, error)
	LatestPriceSample(ctx context.Context, tokenAddress string) (*models.PriceSample, error)
	// DeletePriceSamplesBefore prunes old samples but never touches addresses
	// in keepAddresses (tokens still referenced by unresolved competitions).
	DeletePriceSamplesBefore(ctx context.Context, before time.Time, keepAddresses []string) (int64, error)

	// Bets
	InsertBet(ctx context.Context, item *models.Bet) error
	// DeleteBet removes a bet whose pool update never landed, unwinding the
	// insert so the wallet is not left with a dangling stake.
	DeleteBet(ctx context.Context, id uint64) error
	GetBet(ctx context.Context, competitionID, wallet string) (*models.Bet, error)
	ListBetsByCompetition(ctx context.Context, competitionID string) ([]models.Bet, error)
	UpdateBetSettlement(ctx context.Context, id uint64, status string, payout *decimal.Decimal, settledAt time.Time) error
	MarkBetClaimed(ctx context.Context, id uint64, claimedAt time.Time) error
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error)

	// System settings
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
}

type ListCompetitionsParams struct {
	Limit     int
	Offset    int
	Status    *string
	CreatedBy *string
	Since     *time.Time
	Until     *time.Time
	OrderBy   string
	Asc       *bool
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}

type LeaderboardRow struct {
	Wallet      string          `json:"wallet"`
	TotalBets   int64           `json:"total_bets"`
	Wins        int64           `json:"wins"`
	Losses      int64           `json:"losses"`
	Refunds     int64           `json:"refunds"`
	TotalStaked decimal.Decimal `json:"total_staked"`
	TotalPayout decimal.Decimal `json:"total_payout"`
	NetWinnings decimal.Decimal `json:"net_winnings"`
}
