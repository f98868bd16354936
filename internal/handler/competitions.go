package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tokenwars/internal/competition"
	"tokenwars/internal/repository"
)

type CompetitionHandler struct {
	Repo    repository.Repository
	Manager *competition.Manager
	Logger  *zap.Logger
}

func (h *CompetitionHandler) Register(r *gin.Engine) {
	g := r.Group("/api/competitions")
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("", h.create)
	g.POST("/:id/pause", h.pause)
	g.POST("/:id/resume", h.resume)
	g.POST("/:id/cancel", h.cancel)
}

func (h *CompetitionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListCompetitionsParams{
		Limit:     limit,
		Offset:    offset,
		Status:    strQueryPtr(c, "status"),
		CreatedBy: strQueryPtr(c, "created_by"),
		OrderBy:   "created_at",
		Asc:       boolPtr(false),
	}
	if since, ok := timeQuery(c, "since"); ok {
		params.Since = &since
	}
	if until, ok := timeQuery(c, "until"); ok {
		params.Until = &until
	}
	items, err := h.Repo.ListCompetitions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountCompetitions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *CompetitionHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetCompetitionByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "competition not found", nil)
		return
	}
	Ok(c, item, nil)
}

type createCompetitionRequest struct {
	TokenA tokenRequest `json:"token_a" binding:"required"`
	TokenB tokenRequest `json:"token_b" binding:"required"`
}

type tokenRequest struct {
	Address string `json:"address" binding:"required"`
	Symbol  string `json:"symbol" binding:"required"`
	Name    string `json:"name" binding:"required"`
}

func (h *CompetitionHandler) create(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusInternalServerError, "manager unavailable", nil)
		return
	}
	var req createCompetitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	comp, err := h.Manager.CreateManual(c.Request.Context(), competition.CreateParams{
		TokenA: competition.TokenInfo{Address: req.TokenA.Address, Symbol: req.TokenA.Symbol, Name: req.TokenA.Name},
		TokenB: competition.TokenInfo{Address: req.TokenB.Address, Symbol: req.TokenB.Symbol, Name: req.TokenB.Name},
	})
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, comp, nil)
}

func (h *CompetitionHandler) pause(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusInternalServerError, "manager unavailable", nil)
		return
	}
	comp, err := h.Manager.Pause(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, comp, nil)
}

func (h *CompetitionHandler) resume(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusInternalServerError, "manager unavailable", nil)
		return
	}
	comp, err := h.Manager.Resume(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, comp, nil)
}

type cancelCompetitionRequest struct {
	Reason string `json:"reason"`
}

func (h *CompetitionHandler) cancel(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusInternalServerError, "manager unavailable", nil)
		return
	}
	var req cancelCompetitionRequest
	_ = c.ShouldBindJSON(&req)
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "cancelled by operator"
	}
	comp, err := h.Manager.Cancel(c.Request.Context(), strings.TrimSpace(c.Param("id")), req.Reason)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, comp, nil)
}
