package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tokenwars/internal/models"
	"tokenwars/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Competitions -----------------------------------------------------------

func (s *Store) InsertCompetition(ctx context.Context, item *models.Competition) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetCompetitionByID(ctx context.Context, id string) (*models.Competition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.Competition
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListCompetitionsByStatuses(ctx context.Context, statuses []string) ([]models.Competition, error) {
	if s == nil || s.db == nil || len(statuses) == 0 {
		return nil, nil
	}
	var items []models.Competition
	err := s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("end_time asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListCompetitions(ctx context.Context, params repository.ListCompetitionsParams) ([]models.Competition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.competitionsQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Competition
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountCompetitions(ctx context.Context, params repository.ListCompetitionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	if err := s.competitionsQuery(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) competitionsQuery(ctx context.Context, params repository.ListCompetitionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Competition{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.CreatedBy != nil && strings.TrimSpace(*params.CreatedBy) != "" {
		query = query.Where("created_by = ?", strings.TrimSpace(*params.CreatedBy))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("created_at < ?", *params.Until)
	}
	return query
}

func (s *Store) CountCompetitionsByStatuses(ctx context.Context, statuses []string) (int64, error) {
	if s == nil || s.db == nil || len(statuses) == 0 {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Competition{}).
		Where("status IN ?", statuses).
		Count(&count).Error
	return count, err
}

func (s *Store) UpdateCompetitionStatus(ctx context.Context, id string, newStatus string, updates map[string]any) (*models.Competition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" || strings.TrimSpace(newStatus) == "" {
		return nil, nil
	}
	values := map[string]any{
		"status":     newStatus,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		values[k] = v
	}
	res := s.db.WithContext(ctx).
		Model(&models.Competition{}).
		Where("id = ?", id).
		Updates(values)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return s.GetCompetitionByID(ctx, id)
}

func (s *Store) ApplyBetToPools(ctx context.Context, id, side string, amount decimal.Decimal) (*models.Competition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	poolColumn := "token_a_pool"
	if side == models.SideTokenB {
		poolColumn = "token_b_pool"
	}
	res := s.db.WithContext(ctx).
		Model(&models.Competition{}).
		Where("id = ?", id).
		Where("status = ?", models.StatusVoting).
		Updates(map[string]any{
			"total_pool": gorm.Expr("total_pool + ?", amount),
			poolColumn:   gorm.Expr(poolColumn+" + ?", amount),
			"total_bets": gorm.Expr("total_bets + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return s.GetCompetitionByID(ctx, id)
}

// --- Token pairs ------------------------------------------------------------

func (s *Store) UpsertTokenPair(ctx context.Context, item *models.TokenPair) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.TokenAAddress) == "" || strings.TrimSpace(item.TokenBAddress) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token_a_address"}, {Name: "token_b_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"token_a_symbol",
			"token_a_name",
			"token_b_symbol",
			"token_b_name",
			"active",
			"compatibility_score",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetTokenPairByID(ctx context.Context, id uint64) (*models.TokenPair, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.TokenPair
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListTokenPairs(ctx context.Context, activeOnly bool) ([]models.TokenPair, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.TokenPair{})
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var items []models.TokenPair
	err := query.
		Order("compatibility_score desc").
		Order("last_used_at asc nulls first").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkTokenPairUsed(ctx context.Context, id uint64, usedAt time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.TokenPair{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_used_at": usedAt,
			"times_used":   gorm.Expr("times_used + 1"),
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (s *Store) SetTokenPairActive(ctx context.Context, id uint64, active bool) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.TokenPair{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"active":     active,
			"updated_at": time.Now().UTC(),
		}).Error
}

// --- Price samples ----------------------------------------------------------

func (s *Store) InsertPriceSample(ctx context.Context, item *models.PriceSample) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) InsertPriceSamples(ctx context.Context, items []models.PriceSample) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(items, 200).Error
}

func (s *Store) ListPriceSamplesInWindow(ctx context.Context, tokenAddress string, from, to time.Time) ([]models.PriceSample, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	tokenAddress = strings.TrimSpace(tokenAddress)
	if tokenAddress == "" {
		return nil, nil
	}
	var items []models.PriceSample
	err := s.db.WithContext(ctx).
		Where("token_address = ?", tokenAddress).
		Where("collected_at >= ?", from).
		Where("collected_at <= ?", to).
		Order("collected_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) LatestPriceSample(ctx context.Context, tokenAddress string) (*models.PriceSample, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	tokenAddress = strings.TrimSpace(tokenAddress)
	if tokenAddress == "" {
		return nil, nil
	}
	var item models.PriceSample
	err := s.db.WithContext(ctx).
		Where("token_address = ?", tokenAddress).
		Order("collected_at desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) DeletePriceSamplesBefore(ctx context.Context, before time.Time, keepAddresses []string) (int64, error) {
	if s == nil || s.db == nil || before.IsZero() {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Where("collected_at < ?", before)
	keep := cleanStrings(keepAddresses)
	if len(keep) > 0 {
		query = query.Where("token_address NOT IN ?", keep)
	}
	res := query.Delete(&models.PriceSample{})
	return res.RowsAffected, res.Error
}

// --- Bets -------------------------------------------------------------------

func (s *Store) InsertBet(ctx context.Context, item *models.Bet) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) DeleteBet(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&models.Bet{}, id).Error
}

func (s *Store) GetBet(ctx context.Context, competitionID, wallet string) (*models.Bet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	competitionID = strings.TrimSpace(competitionID)
	wallet = strings.TrimSpace(wallet)
	if competitionID == "" || wallet == "" {
		return nil, nil
	}
	var item models.Bet
	err := s.db.WithContext(ctx).
		Where("competition_id = ?", competitionID).
		Where("wallet = ?", wallet).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListBetsByCompetition(ctx context.Context, competitionID string) ([]models.Bet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	competitionID = strings.TrimSpace(competitionID)
	if competitionID == "" {
		return nil, nil
	}
	var items []models.Bet
	err := s.db.WithContext(ctx).
		Where("competition_id = ?", competitionID).
		Order("placed_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateBetSettlement(ctx context.Context, id uint64, status string, payout *decimal.Decimal, settledAt time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	values := map[string]any{
		"status":     status,
		"settled_at": settledAt,
	}
	if payout != nil {
		values["payout"] = *payout
	}
	return s.db.WithContext(ctx).
		Model(&models.Bet{}).
		Where("id = ?", id).
		Updates(values).Error
}

func (s *Store) MarkBetClaimed(ctx context.Context, id uint64, claimedAt time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Bet{}).
		Where("id = ?", id).
		Where("status = ?", models.BetStatusWon).
		Updates(map[string]any{
			"status":     models.BetStatusClaimed,
			"claimed_at": claimedAt,
		}).Error
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]repository.LeaderboardRow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 50)
	var rows []repository.LeaderboardRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT
			wallet,
			COUNT(*) AS total_bets,
			COUNT(*) FILTER (WHERE status IN ('WON','CLAIMED')) AS wins,
			COUNT(*) FILTER (WHERE status = 'LOST') AS losses,
			COUNT(*) FILTER (WHERE status = 'REFUNDED') AS refunds,
			COALESCE(SUM(amount), 0) AS total_staked,
			COALESCE(SUM(payout), 0) AS total_payout,
			COALESCE(SUM(payout), 0) - COALESCE(SUM(amount) FILTER (WHERE status != 'REFUNDED'), 0) AS net_winnings
		FROM bets
		WHERE status != 'PLACED'
		GROUP BY wallet
		ORDER BY net_winnings DESC
		LIMIT ?`, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// --- System settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).First(&item, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "key")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.SystemSetting
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}
