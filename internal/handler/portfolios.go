package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"investcore/internal/audit"
	"investcore/internal/service"
)

type PortfolioHandler struct {
	Portfolios *service.PortfolioService
}

func (h *PortfolioHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/portfolios")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.GET("/:id/holdings", h.holdings)
	g.GET("/:id/history", h.history)
}

type createPortfolioRequest struct {
	Name string `json:"name"`
}

// @Summary Create portfolio
// @Tags portfolios
// @Param X-User-ID header string true "caller"
// @Param body body createPortfolioRequest true "portfolio"
// @Success 201 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/portfolios [post]
func (h *PortfolioHandler) create(c *gin.Context) {
	if h.Portfolios == nil {
		Error(c, http.StatusServiceUnavailable, "portfolio service unavailable", nil)
		return
	}
	var req createPortfolioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Portfolios.CreatePortfolio(c.Request.Context(), audit.UserID(c), req.Name)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, item)
}

// @Summary List caller portfolios
// @Tags portfolios
// @Param X-User-ID header string true "caller"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/portfolios [get]
func (h *PortfolioHandler) list(c *gin.Context) {
	if h.Portfolios == nil {
		Error(c, http.StatusServiceUnavailable, "portfolio service unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Portfolios.List(c.Request.Context(), audit.UserID(c), limit, offset)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset})
}

// @Summary Get portfolio with holdings
// @Tags portfolios
// @Param X-User-ID header string true "caller"
// @Param id path string true "portfolio id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/portfolios/{id} [get]
func (h *PortfolioHandler) get(c *gin.Context) {
	if h.Portfolios == nil {
		Error(c, http.StatusServiceUnavailable, "portfolio service unavailable", nil)
		return
	}
	item, err := h.Portfolios.Get(c.Request.Context(), audit.UserID(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary List holdings
// @Tags portfolios
// @Param X-User-ID header string true "caller"
// @Param id path string true "portfolio id"
// @Success 200 {object} apiResponse
// @Router /api/v1/portfolios/{id}/holdings [get]
func (h *PortfolioHandler) holdings(c *gin.Context) {
	if h.Portfolios == nil {
		Error(c, http.StatusServiceUnavailable, "portfolio service unavailable", nil)
		return
	}
	items, err := h.Portfolios.Holdings(c.Request.Context(), audit.UserID(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

// @Summary Portfolio snapshot history
// @Tags portfolios
// @Param X-User-ID header string true "caller"
// @Param id path string true "portfolio id"
// @Param since query string false "RFC3339 or YYYY-MM-DD"
// @Param until query string false "RFC3339 or YYYY-MM-DD"
// @Param limit query int false "limit"
// @Success 200 {object} apiResponse
// @Router /api/v1/portfolios/{id}/history [get]
func (h *PortfolioHandler) history(c *gin.Context) {
	if h.Portfolios == nil {
		Error(c, http.StatusServiceUnavailable, "portfolio service unavailable", nil)
		return
	}
	since, err := timeQuery(c, "since")
	if err != nil {
		Fail(c, err)
		return
	}
	until, err := untilQuery(c, "until")
	if err != nil {
		Fail(c, err)
		return
	}
	items, err := h.Portfolios.History(c.Request.Context(), audit.UserID(c), strings.TrimSpace(c.Param("id")), since, until, intQuery(c, "limit", 168))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, nil)
}
