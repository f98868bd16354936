package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tokenwars/internal/models"
	"tokenwars/internal/repository"
)

const bpsDenominator = 10000

// PayoutService books bet outcomes once a competition resolves or is
// cancelled. The platform fee comes off the top of the total pool and the
// remainder is split across the winning side pro rata; with no winner every
// stake is refunded at face value.
type PayoutService struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// Settle books outcomes for a resolved competition. A nil WinnerToken means
// tie: everyone is refunded.
func (s *PayoutService) Settle(ctx context.Context, comp *models.Competition) error {
	if s == nil || s.Repo == nil || comp == nil {
		return nil
	}
	bets, err := s.Repo.ListBetsByCompetition(ctx, comp.ID)
	if err != nil {
		return fmt.Errorf("failed to load bets: %w", err)
	}
	if len(bets) == 0 {
		return nil
	}
	now := time.Now().UTC()

	if comp.WinnerToken == nil {
		return s.refund(ctx, bets, now)
	}
	winner := *comp.WinnerToken

	totalPool := decimal.Zero
	winnerPool := decimal.Zero
	for _, bet := range bets {
		totalPool = totalPool.Add(bet.Amount)
		if bet.ChosenToken == winner {
			winnerPool = winnerPool.Add(bet.Amount)
		}
	}
	if winnerPool.IsZero() {
		// nobody backed the winner: nothing to distribute, refund instead
		return s.refund(ctx, bets, now)
	}

	fee := totalPool.Mul(decimal.NewFromInt(int64(comp.PlatformFeeBps))).
		Div(decimal.NewFromInt(bpsDenominator))
	distributable := totalPool.Sub(fee)

	for _, bet := range bets {
		if bet.Status != models.BetStatusPlaced {
			continue
		}
		if bet.ChosenToken == winner {
			payout := distributable.Mul(bet.Amount).Div(winnerPool)
			if err := s.Repo.UpdateBetSettlement(ctx, bet.ID, models.BetStatusWon, &payout, now); err != nil {
				return fmt.Errorf("failed to settle winning bet %d: %w", bet.ID, err)
			}
		} else {
			if err := s.Repo.UpdateBetSettlement(ctx, bet.ID, models.BetStatusLost, nil, now); err != nil {
				return fmt.Errorf("failed to settle losing bet %d: %w", bet.ID, err)
			}
		}
	}
	if s.Logger != nil {
		s.Logger.Info("bets settled",
			zap.String("competition_id", comp.ID),
			zap.Int("bets", len(bets)),
			zap.String("winner", winner),
			zap.String("fee", fee.String()))
	}
	return nil
}

// RefundAll returns every open stake, used for cancellations.
func (s *PayoutService) RefundAll(ctx context.Context, comp *models.Competition) error {
	if s == nil || s.Repo == nil || comp == nil {
		return nil
	}
	bets, err := s.Repo.ListBetsByCompetition(ctx, comp.ID)
	if err != nil {
		return fmt.Errorf("failed to load bets: %w", err)
	}
	return s.refund(ctx, bets, time.Now().UTC())
}

func (s *PayoutService) refund(ctx context.Context, bets []models.Bet, now time.Time) error {
	for _, bet := range bets {
		if bet.Status != models.BetStatusPlaced {
			continue
		}
		amount := bet.Amount
		if err := s.Repo.UpdateBetSettlement(ctx, bet.ID, models.BetStatusRefunded, &amount, now); err != nil {
			return fmt.Errorf("failed to refund bet %d: %w", bet.ID, err)
		}
	}
	return nil
}
