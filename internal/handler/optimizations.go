package handler

import (
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"investcore/internal/audit"
	"investcore/internal/models"
	"investcore/internal/optimization"
)

type OptimizationHandler struct {
	Manager *optimization.Manager
}

func (h *OptimizationHandler) Register(r *gin.Engine) {
	p := r.Group("/api/v1/portfolios/:id/optimizations")
	p.POST("", h.request)
	p.GET("", h.history)
	p.GET("/status", h.portfolioStatus)

	o := r.Group("/api/v1/optimizations")
	o.GET("/:id", h.get)
	o.GET("/:id/status", h.status)
	o.POST("/:id/apply", h.apply)
	o.POST("/:id/cancel", h.cancel)
}

// @Summary Request an optimization
// @Description Blocks until the provider answers or times out. A provider failure is reported in the body with successful=false.
// @Tags optimizations
// @Param X-User-ID header string true "caller"
// @Param id path string true "portfolio id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/portfolios/{id}/optimizations [post]
func (h *OptimizationHandler) request(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusServiceUnavailable, "optimization unavailable", nil)
		return
	}
	res, err := h.Manager.RequestOptimization(c.Request.Context(), audit.UserID(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, res, nil)
}

// @Summary Optimization history of a portfolio
// @Tags optimizations
// @Param X-User-ID header string true "caller"
// @Param id path string true "portfolio id"
// @Param status query string false "status"
// @Param since query string false "RFC3339 or YYYY-MM-DD"
// @Param until query string false "RFC3339 or YYYY-MM-DD"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/portfolios/{id}/optimizations [get]
func (h *OptimizationHandler) history(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusServiceUnavailable, "optimization unavailable", nil)
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
	f := optimization.HistoryFilter{
		Since:  since,
		Until:  until,
		Status: models.OptimizationStatus(strings.TrimSpace(c.Query("status"))),
		Limit:  intQuery(c, "limit", 50),
		Offset: intQuery(c, "offset", 0),
	}
	items, err := h.Manager.GetHistory(c.Request.Context(), audit.UserID(c), strings.TrimSpace(c.Param("id")), f)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, map[string]any{"limit": f.Limit, "offset": f.Offset})
}

type portfolioOptimizationStatus struct {
	Ongoing                 bool  `json:"ongoing"`
	RemainingCoolOffSeconds int64 `json:"remaining_cool_off_seconds"`
}

// @Summary Whether a portfolio may request an optimization now
// @Tags optimizations
// @Param X-User-ID header string true "caller"
// @Param id path string true "portfolio id"
// @Success 200 {object} apiResponse
// @Router /api/v1/portfolios/{id}/optimizations/status [get]
func (h *OptimizationHandler) portfolioStatus(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusServiceUnavailable, "optimization unavailable", nil)
		return
	}
	ctx := c.Request.Context()
	uid := audit.UserID(c)
	pid := strings.TrimSpace(c.Param("id"))
	ongoing, err := h.Manager.HasOngoingOptimization(ctx, uid, pid)
	if err != nil {
		Fail(c, err)
		return
	}
	remaining, err := h.Manager.RemainingCoolOff(ctx, uid, pid)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, portfolioOptimizationStatus{
		Ongoing:                 ongoing,
		RemainingCoolOffSeconds: int64(math.Ceil(remaining.Seconds())),
	}, nil)
}

// @Summary Get optimization record
// @Tags optimizations
// @Param X-User-ID header string true "caller"
// @Param id path string true "optimization id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/optimizations/{id} [get]
func (h *OptimizationHandler) get(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusServiceUnavailable, "optimization unavailable", nil)
		return
	}
	item, err := h.Manager.Get(c.Request.Context(), audit.UserID(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Get optimization status
// @Tags optimizations
// @Param X-User-ID header string true "caller"
// @Param id path string true "optimization id"
// @Success 200 {object} apiResponse
// @Router /api/v1/optimizations/{id}/status [get]
func (h *OptimizationHandler) status(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusServiceUnavailable, "optimization unavailable", nil)
		return
	}
	st, err := h.Manager.GetStatus(c.Request.Context(), audit.UserID(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"status": st}, nil)
}

// @Summary Apply a created optimization to the portfolio
// @Tags optimizations
// @Param X-User-ID header string true "caller"
// @Param id path string true "optimization id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/optimizations/{id}/apply [post]
func (h *OptimizationHandler) apply(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusServiceUnavailable, "optimization unavailable", nil)
		return
	}
	item, err := h.Manager.ApplyRecommendation(c.Request.Context(), audit.UserID(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Cancel an optimization
// @Tags optimizations
// @Param X-User-ID header string true "caller"
// @Param id path string true "optimization id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/optimizations/{id}/cancel [post]
func (h *OptimizationHandler) cancel(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusServiceUnavailable, "optimization unavailable", nil)
		return
	}
	item, err := h.Manager.CancelOptimization(c.Request.Context(), audit.UserID(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}
