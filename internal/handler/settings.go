package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"investcore/internal/audit"
	"investcore/internal/service"
)

type SettingsHandler struct {
	Settings *service.SystemSettingsService
}

func (h *SettingsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/settings")
	g.GET("", h.list)
	g.GET("/:key", h.get)
	g.PUT("/:key", h.put)
}

type putSwitchRequest struct {
	Enabled *bool `json:"enabled"`
}

type switchView struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

// @Summary List feature switches
// @Tags settings
// @Param X-User-ID header string true "caller"
// @Success 200 {object} apiResponse
// @Router /api/v1/settings [get]
func (h *SettingsHandler) list(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusServiceUnavailable, "settings unavailable", nil)
		return
	}
	items, err := h.Settings.List(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

// @Summary Get a feature switch
// @Tags settings
// @Param X-User-ID header string true "caller"
// @Param key path string true "feature key"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/settings/{key} [get]
func (h *SettingsHandler) get(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusServiceUnavailable, "settings unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if !service.IsFeatureKey(key) {
		Error(c, http.StatusNotFound, "unknown switch", nil)
		return
	}
	def := service.DefaultFeatureSwitches()[key]
	Ok(c, switchView{Key: key, Enabled: h.Settings.IsEnabled(c.Request.Context(), key, def)}, nil)
}

// @Summary Flip a feature switch
// @Tags settings
// @Param X-User-ID header string true "caller"
// @Param key path string true "feature key"
// @Param body body putSwitchRequest true "switch"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/settings/{key} [put]
func (h *SettingsHandler) put(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusServiceUnavailable, "settings unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if !service.IsFeatureKey(key) {
		Error(c, http.StatusNotFound, "unknown switch", nil)
		return
	}
	var req putSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		Error(c, http.StatusBadRequest, "enabled is required", nil)
		return
	}
	if _, err := h.Settings.SetEnabled(c.Request.Context(), key, *req.Enabled, audit.UserID(c)); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, switchView{Key: key, Enabled: *req.Enabled}, nil)
}
