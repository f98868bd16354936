package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tokenwars/internal/models"
	"tokenwars/internal/repository"
)

type TokenPairHandler struct {
	Repo repository.Repository
}

func (h *TokenPairHandler) Register(r *gin.Engine) {
	g := r.Group("/api/pairs")
	g.GET("", h.list)
	g.POST("", h.upsert)
	g.POST("/:id/active", h.setActive)
}

func (h *TokenPairHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	activeOnly := boolQueryDefault(c, "active_only", false)
	items, err := h.Repo.ListTokenPairs(c.Request.Context(), activeOnly)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, gin.H{"count": len(items)})
}

type upsertPairRequest struct {
	TokenA             tokenRequest `json:"token_a" binding:"required"`
	TokenB             tokenRequest `json:"token_b" binding:"required"`
	CompatibilityScore float64      `json:"compatibility_score"`
	Active             *bool        `json:"active"`
}

func (h *TokenPairHandler) upsert(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req upsertPairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if strings.EqualFold(req.TokenA.Address, req.TokenB.Address) {
		Error(c, http.StatusBadRequest, "pair tokens must differ", nil)
		return
	}
	item := &models.TokenPair{
		TokenAAddress:      strings.TrimSpace(req.TokenA.Address),
		TokenASymbol:       strings.TrimSpace(req.TokenA.Symbol),
		TokenAName:         strings.TrimSpace(req.TokenA.Name),
		TokenBAddress:      strings.TrimSpace(req.TokenB.Address),
		TokenBSymbol:       strings.TrimSpace(req.TokenB.Symbol),
		TokenBName:         strings.TrimSpace(req.TokenB.Name),
		CompatibilityScore: req.CompatibilityScore,
		Active:             true,
	}
	if req.Active != nil {
		item.Active = *req.Active
	}
	if err := h.Repo.UpsertTokenPair(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

type setPairActiveRequest struct {
	Active bool `json:"active"`
}

func (h *TokenPairHandler) setActive(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req setPairActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Repo.SetTokenPairActive(c.Request.Context(), id, req.Active); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item, err := h.Repo.GetTokenPairByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "pair not found", nil)
		return
	}
	Ok(c, item, nil)
}
