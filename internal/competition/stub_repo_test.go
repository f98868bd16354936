package competition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tokenwars/internal/models"
	"tokenwars/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// It implements the full interface but only the subset the manager touches
// does real work.
type stubRepo struct {
	mu sync.Mutex

	comps    map[string]*models.Competition
	samples  []models.PriceSample
	bets     []models.Bet
	pairs    []models.TokenPair
	settings map[string]*models.SystemSetting

	// failStatusUpdates makes the next N UpdateCompetitionStatus calls fail.
	failStatusUpdates int
	statusHistory     map[string][]string
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		comps:         map[string]*models.Competition{},
		settings:      map[string]*models.SystemSetting{},
		statusHistory: map[string][]string{},
	}
}

var _ repository.Repository = (*stubRepo)(nil)

func (s *stubRepo) InsertCompetition(_ context.Context, item *models.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *item
	s.comps[item.ID] = &c
	return nil
}

func (s *stubRepo) GetCompetitionByID(_ context.Context, id string) (*models.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comps[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (s *stubRepo) ListCompetitionsByStatuses(_ context.Context, statuses []string) ([]models.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	var out []models.Competition
	for _, c := range s.comps {
		if want[c.Status] {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *stubRepo) ListCompetitions(_ context.Context, _ repository.ListCompetitionsParams) ([]models.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Competition
	for _, c := range s.comps {
		out = append(out, *c)
	}
	return out, nil
}

func (s *stubRepo) CountCompetitions(_ context.Context, _ repository.ListCompetitionsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.comps)), nil
}

func (s *stubRepo) CountCompetitionsByStatuses(ctx context.Context, statuses []string) (int64, error) {
	items, _ := s.ListCompetitionsByStatuses(ctx, statuses)
	return int64(len(items)), nil
}

func (s *stubRepo) UpdateCompetitionStatus(_ context.Context, id, newStatus string, updates map[string]any) (*models.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStatusUpdates > 0 {
		s.failStatusUpdates--
		return nil, fmt.Errorf("stub: status update refused")
	}
	c, ok := s.comps[id]
	if !ok {
		return nil, nil
	}
	c.Status = newStatus
	s.statusHistory[id] = append(s.statusHistory[id], newStatus)
	for key, val := range updates {
		applyCompetitionField(c, key, val)
	}
	copied := *c
	return &copied, nil
}

func applyCompetitionField(c *models.Competition, key string, val any) {
	switch key {
	case "winner_token":
		if side, ok := val.(*string); ok {
			c.WinnerToken = side
		}
	case "token_a_start_price":
		c.TokenAStartPrice = decPtr(val)
	case "token_a_end_price":
		c.TokenAEndPrice = decPtr(val)
	case "token_b_start_price":
		c.TokenBStartPrice = decPtr(val)
	case "token_b_end_price":
		c.TokenBEndPrice = decPtr(val)
	case "token_a_performance":
		c.TokenAPerformance = decPtr(val)
	case "token_b_performance":
		c.TokenBPerformance = decPtr(val)
	}
}

func decPtr(val any) *decimal.Decimal {
	if d, ok := val.(decimal.Decimal); ok {
		return &d
	}
	return nil
}

func (s *stubRepo) ApplyBetToPools(_ context.Context, id, side string, amount decimal.Decimal) (*models.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comps[id]
	if !ok || c.Status != models.StatusVoting {
		return nil, nil
	}
	c.TotalPool = c.TotalPool.Add(amount)
	if side == models.SideTokenB {
		c.TokenBPool = c.TokenBPool.Add(amount)
	} else {
		c.TokenAPool = c.TokenAPool.Add(amount)
	}
	c.TotalBets++
	copied := *c
	return &copied, nil
}

func (s *stubRepo) UpsertTokenPair(_ context.Context, item *models.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs = append(s.pairs, *item)
	return nil
}

func (s *stubRepo) GetTokenPairByID(_ context.Context, id uint64) (*models.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pairs {
		if s.pairs[i].ID == id {
			copied := s.pairs[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListTokenPairs(_ context.Context, activeOnly bool) ([]models.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TokenPair
	for _, p := range s.pairs {
		if !activeOnly || p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubRepo) MarkTokenPairUsed(_ context.Context, id uint64, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pairs {
		if s.pairs[i].ID == id {
			at := usedAt
			s.pairs[i].LastUsedAt = &at
			s.pairs[i].TimesUsed++
		}
	}
	return nil
}

func (s *stubRepo) SetTokenPairActive(_ context.Context, id uint64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pairs {
		if s.pairs[i].ID == id {
			s.pairs[i].Active = active
		}
	}
	return nil
}

func (s *stubRepo) InsertPriceSample(_ context.Context, item *models.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, *item)
	return nil
}

func (s *stubRepo) InsertPriceSamples(_ context.Context, items []models.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, items...)
	return nil
}

func (s *stubRepo) ListPriceSamplesInWindow(_ context.Context, addr string, from, to time.Time) ([]models.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PriceSample
	for _, sample := range s.samples {
		if sample.TokenAddress != addr {
			continue
		}
		if sample.CollectedAt.Before(from) || sample.CollectedAt.After(to) {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

func (s *stubRepo) LatestPriceSample(_ context.Context, addr string) (*models.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.PriceSample
	for i := range s.samples {
		if s.samples[i].TokenAddress != addr {
			continue
		}
		if latest == nil || s.samples[i].CollectedAt.After(latest.CollectedAt) {
			latest = &s.samples[i]
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (s *stubRepo) DeletePriceSamplesBefore(_ context.Context, _ time.Time, _ []string) (int64, error) {
	return 0, nil
}

func (s *stubRepo) InsertBet(_ context.Context, item *models.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bets = append(s.bets, *item)
	return nil
}

func (s *stubRepo) DeleteBet(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bets {
		if s.bets[i].ID == id {
			s.bets = append(s.bets[:i], s.bets[i+1:]...)
			break
		}
	}
	return nil
}

func (s *stubRepo) GetBet(_ context.Context, competitionID, wallet string) (*models.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bets {
		if s.bets[i].CompetitionID == competitionID && s.bets[i].Wallet == wallet {
			copied := s.bets[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListBetsByCompetition(_ context.Context, competitionID string) ([]models.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Bet
	for _, b := range s.bets {
		if b.CompetitionID == competitionID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubRepo) UpdateBetSettlement(_ context.Context, id uint64, status string, payout *decimal.Decimal, settledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bets {
		if s.bets[i].ID == id {
			s.bets[i].Status = status
			s.bets[i].Payout = payout
			at := settledAt
			s.bets[i].SettledAt = &at
		}
	}
	return nil
}

func (s *stubRepo) MarkBetClaimed(_ context.Context, id uint64, claimedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bets {
		if s.bets[i].ID == id && s.bets[i].Status == models.BetStatusWon {
			s.bets[i].Status = models.BetStatusClaimed
			at := claimedAt
			s.bets[i].ClaimedAt = &at
		}
	}
	return nil
}

func (s *stubRepo) Leaderboard(_ context.Context, _ int) ([]repository.LeaderboardRow, error) {
	return nil, nil
}

func (s *stubRepo) UpsertSystemSetting(_ context.Context, item *models.SystemSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *item
	s.settings[item.Key] = &copied
	return nil
}

func (s *stubRepo) GetSystemSettingByKey(_ context.Context, key string) (*models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setting, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	copied := *setting
	return &copied, nil
}

func (s *stubRepo) ListSystemSettings(_ context.Context, _ repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SystemSetting
	for _, setting := range s.settings {
		out = append(out, *setting)
	}
	return out, nil
}

func (s *stubRepo) history(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.statusHistory[id]))
	copy(out, s.statusHistory[id])
	return out
}

func (s *stubRepo) seedSamples(addr string, base time.Time, prices []float64, step time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range prices {
		s.samples = append(s.samples, models.PriceSample{
			TokenAddress: addr,
			Price:        decimal.NewFromFloat(p),
			CollectedAt:  base.Add(time.Duration(i) * step),
			Source:       "test",
		})
	}
}
