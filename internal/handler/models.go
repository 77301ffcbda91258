package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"investcore/internal/provider"
)

type ModelHandler struct {
	Registry *provider.Registry
}

func (h *ModelHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/models/health", h.health)
}

// @Summary Probe every registered model
// @Tags models
// @Param X-User-ID header string true "caller"
// @Success 200 {object} apiResponse
// @Router /api/v1/models/health [get]
func (h *ModelHandler) health(c *gin.Context) {
	if h.Registry == nil {
		Error(c, http.StatusServiceUnavailable, "model registry unavailable", nil)
		return
	}
	items, err := h.Registry.HealthAll(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}
