package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tokenwars/internal/repository"
	"tokenwars/internal/service"
)

type BetHandler struct {
	Repo  repository.Repository
	Bets  *service.BetService
	Flags *service.SystemSettingsService
}

func (h *BetHandler) Register(r *gin.Engine) {
	r.POST("/api/competitions/:id/bets", h.place)
	r.GET("/api/competitions/:id/bets", h.list)
	r.POST("/api/competitions/:id/bets/claim", h.claim)
	r.GET("/api/leaderboard", h.leaderboard)
}

type placeBetRequest struct {
	Wallet      string `json:"wallet" binding:"required"`
	ChosenToken string `json:"chosen_token" binding:"required"`
}

func (h *BetHandler) place(c *gin.Context) {
	if h.Bets == nil {
		Error(c, http.StatusInternalServerError, "bet service unavailable", nil)
		return
	}
	if h.Flags != nil && !h.Flags.IsEnabled(c.Request.Context(), service.FeatureBetting, true) {
		Error(c, http.StatusServiceUnavailable, "betting is disabled", nil)
		return
	}
	var req placeBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	bet, err := h.Bets.Place(c.Request.Context(), c.Param("id"), req.Wallet, req.ChosenToken)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, bet, nil)
}

func (h *BetHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	items, err := h.Repo.ListBetsByCompetition(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, gin.H{"count": len(items)})
}

type claimBetRequest struct {
	Wallet string `json:"wallet" binding:"required"`
}

func (h *BetHandler) claim(c *gin.Context) {
	if h.Bets == nil {
		Error(c, http.StatusInternalServerError, "bet service unavailable", nil)
		return
	}
	var req claimBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	bet, err := h.Bets.Claim(c.Request.Context(), c.Param("id"), req.Wallet)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, bet, nil)
}

func (h *BetHandler) leaderboard(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 20)
	rows, err := h.Repo.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, rows, gin.H{"count": len(rows)})
}
