package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tokenwars/internal/automation"
)

type AutomationHandler struct {
	Policy *automation.Policy
}

func (h *AutomationHandler) Register(r *gin.Engine) {
	g := r.Group("/api/automation")
	g.GET("/status", h.status)
	g.POST("/enable", h.enable)
	g.POST("/disable", h.disable)
}

func (h *AutomationHandler) status(c *gin.Context) {
	if h.Policy == nil {
		Error(c, http.StatusInternalServerError, "automation unavailable", nil)
		return
	}
	Ok(c, h.Policy.Status(), nil)
}

func (h *AutomationHandler) enable(c *gin.Context) {
	if h.Policy == nil {
		Error(c, http.StatusInternalServerError, "automation unavailable", nil)
		return
	}
	if err := h.Policy.Enable(c.Request.Context()); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, h.Policy.Status(), nil)
}

type disableAutomationRequest struct {
	Reason string `json:"reason"`
}

func (h *AutomationHandler) disable(c *gin.Context) {
	if h.Policy == nil {
		Error(c, http.StatusInternalServerError, "automation unavailable", nil)
		return
	}
	var req disableAutomationRequest
	_ = c.ShouldBindJSON(&req)
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "disabled by operator"
	}
	if err := h.Policy.Disable(c.Request.Context(), req.Reason); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, h.Policy.Status(), nil)
}
