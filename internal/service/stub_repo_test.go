package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tokenwars/internal/models"
	"tokenwars/internal/repository"
)

// stubRepo covers the subset of repository.Repository the bet and payout
// services touch; everything else comes from the embedded nil interface and
// must not be called.
type stubRepo struct {
	repository.Repository

	comps map[string]*models.Competition
	bets  []models.Bet

	// refusePools makes ApplyBetToPools report the competition as no longer
	// accepting bets, as when voting closes between the status check and the
	// pool update.
	refusePools bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{comps: map[string]*models.Competition{}}
}

func (s *stubRepo) GetCompetitionByID(_ context.Context, id string) (*models.Competition, error) {
	c, ok := s.comps[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (s *stubRepo) ApplyBetToPools(_ context.Context, id, side string, amount decimal.Decimal) (*models.Competition, error) {
	c, ok := s.comps[id]
	if !ok || c.Status != models.StatusVoting || s.refusePools {
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

func (s *stubRepo) InsertBet(_ context.Context, item *models.Bet) error {
	bet := *item
	bet.ID = uint64(len(s.bets) + 1)
	s.bets = append(s.bets, bet)
	item.ID = bet.ID
	return nil
}

func (s *stubRepo) DeleteBet(_ context.Context, id uint64) error {
	for i := range s.bets {
		if s.bets[i].ID == id {
			s.bets = append(s.bets[:i], s.bets[i+1:]...)
			break
		}
	}
	return nil
}

func (s *stubRepo) GetBet(_ context.Context, competitionID, wallet string) (*models.Bet, error) {
	for i := range s.bets {
		if s.bets[i].CompetitionID == competitionID && s.bets[i].Wallet == wallet {
			copied := s.bets[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListBetsByCompetition(_ context.Context, competitionID string) ([]models.Bet, error) {
	var out []models.Bet
	for _, b := range s.bets {
		if b.CompetitionID == competitionID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubRepo) UpdateBetSettlement(_ context.Context, id uint64, status string, payout *decimal.Decimal, settledAt time.Time) error {
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
	for i := range s.bets {
		if s.bets[i].ID == id && s.bets[i].Status == models.BetStatusWon {
			s.bets[i].Status = models.BetStatusClaimed
			at := claimedAt
			s.bets[i].ClaimedAt = &at
		}
	}
	return nil
}

func (s *stubRepo) betByWallet(wallet string) *models.Bet {
	for i := range s.bets {
		if s.bets[i].Wallet == wallet {
			return &s.bets[i]
		}
	}
	return nil
}
