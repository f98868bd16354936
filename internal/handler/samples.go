package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tokenwars/internal/pricefeed"
	"tokenwars/internal/repository"
)

type PriceSampleHandler struct {
	Repo    repository.Repository
	Sampler *pricefeed.Sampler
}

func (h *PriceSampleHandler) Register(r *gin.Engine) {
	r.GET("/api/prices/:address/samples", h.samples)
	r.GET("/api/prices/:address/latest", h.latest)
	r.GET("/api/prices/tracked", h.tracked)
}

func (h *PriceSampleHandler) samples(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	addr := strings.TrimSpace(c.Param("address"))
	if addr == "" {
		Error(c, http.StatusBadRequest, "invalid token address", nil)
		return
	}
	to, ok := timeQuery(c, "to")
	if !ok {
		to = time.Now().UTC()
	}
	from, ok := timeQuery(c, "from")
	if !ok {
		from = to.Add(-time.Hour)
	}
	if !from.Before(to) {
		Error(c, http.StatusBadRequest, "from must precede to", nil)
		return
	}
	items, err := h.Repo.ListPriceSamplesInWindow(c.Request.Context(), addr, from, to)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, gin.H{"count": len(items), "from": from, "to": to})
}

func (h *PriceSampleHandler) latest(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	addr := strings.TrimSpace(c.Param("address"))
	if addr == "" {
		Error(c, http.StatusBadRequest, "invalid token address", nil)
		return
	}
	item, err := h.Repo.LatestPriceSample(c.Request.Context(), addr)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "no samples for token", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *PriceSampleHandler) tracked(c *gin.Context) {
	if h.Sampler == nil {
		Error(c, http.StatusInternalServerError, "sampler unavailable", nil)
		return
	}
	items := h.Sampler.Tracked()
	Ok(c, items, gin.H{"count": len(items)})
}
