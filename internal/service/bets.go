package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tokenwars/internal/models"
	"tokenwars/internal/notify"
	"tokenwars/internal/repository"
)

// BetService records bets during the voting window. Stakes are fixed per
// competition and each wallet gets exactly one bet.
type BetService struct {
	Repo   repository.Repository
	Hub    *notify.Hub
	Logger *zap.Logger
}

func (s *BetService) Place(ctx context.Context, competitionID, wallet, chosenToken string) (*models.Bet, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("bet service is not wired")
	}
	competitionID = strings.TrimSpace(competitionID)
	wallet = strings.TrimSpace(wallet)
	if competitionID == "" || wallet == "" {
		return nil, fmt.Errorf("competition id and wallet are required")
	}
	if chosenToken != models.SideTokenA && chosenToken != models.SideTokenB {
		return nil, fmt.Errorf("chosen token must be %s or %s", models.SideTokenA, models.SideTokenB)
	}

	comp, err := s.Repo.GetCompetitionByID(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if comp == nil {
		return nil, fmt.Errorf("competition %s not found", competitionID)
	}
	if comp.Status != models.StatusVoting {
		return nil, fmt.Errorf("betting is only open during voting, competition is %s", comp.Status)
	}
	existing, err := s.Repo.GetBet(ctx, competitionID, wallet)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("wallet already has a bet on this competition")
	}

	bet := &models.Bet{
		CompetitionID: competitionID,
		Wallet:        wallet,
		ChosenToken:   chosenToken,
		Amount:        comp.BetAmount,
		Status:        models.BetStatusPlaced,
		PlacedAt:      time.Now().UTC(),
	}
	if err := s.Repo.InsertBet(ctx, bet); err != nil {
		return nil, fmt.Errorf("failed to record bet: %w", err)
	}

	updated, err := s.Repo.ApplyBetToPools(ctx, competitionID, chosenToken, bet.Amount)
	if err != nil {
		s.unwindBet(ctx, bet)
		return nil, fmt.Errorf("failed to update pools: %w", err)
	}
	if updated == nil {
		// voting closed between the status check and the pool update; take the
		// recorded bet back out so it never settles and the wallet stays free
		s.unwindBet(ctx, bet)
		return nil, fmt.Errorf("betting closed while placing bet")
	}

	if s.Hub != nil {
		s.Hub.Publish(notify.Event{
			Type:          notify.EventBetPlaced,
			CompetitionID: competitionID,
			Data: map[string]any{
				"wallet":       wallet,
				"chosen_token": chosenToken,
				"amount":       bet.Amount.String(),
				"total_bets":   updated.TotalBets,
			},
		})
	}
	return bet, nil
}

// unwindBet deletes a bet whose pool update did not land. A leftover row
// would settle and block the wallet, so a failed delete is flagged for the
// operator.
func (s *BetService) unwindBet(ctx context.Context, bet *models.Bet) {
	if err := s.Repo.DeleteBet(ctx, bet.ID); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to unwind bet after pool update miss",
			zap.String("competition_id", bet.CompetitionID),
			zap.String("wallet", bet.Wallet),
			zap.Uint64("bet_id", bet.ID),
			zap.Error(err))
	}
}

// Claim flips a won bet to claimed, recording that the wallet took its
// payout.
func (s *BetService) Claim(ctx context.Context, competitionID, wallet string) (*models.Bet, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("bet service is not wired")
	}
	bet, err := s.Repo.GetBet(ctx, competitionID, wallet)
	if err != nil {
		return nil, err
	}
	if bet == nil {
		return nil, fmt.Errorf("no bet found")
	}
	if bet.Status != models.BetStatusWon {
		return nil, fmt.Errorf("bet is %s, only won bets can be claimed", bet.Status)
	}
	if err := s.Repo.MarkBetClaimed(ctx, bet.ID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.Repo.GetBet(ctx, competitionID, wallet)
}
