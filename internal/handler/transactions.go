package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"investcore/internal/audit"
	"investcore/internal/models"
	"investcore/internal/settlement"
)

type TransactionHandler struct {
	Settlement *settlement.Service
	// Operators may trigger the settlement sweep over every user.
	Operators []string
}

func (h *TransactionHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/transactions")
	g.GET("", h.list)
	g.POST("", h.create)
	g.POST("/recommendation", h.createFromRecommendation)
	g.POST("/settle-pending", audit.RequireOperatorMiddleware(h.Operators), h.settlePending)
	g.GET("/:id", h.get)
	g.POST("/:id/cancel", h.cancel)
}

type createTransactionRequest struct {
	PortfolioID   string          `json:"portfolio_id"`
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity" swaggertype:"string"`
	PricePerShare decimal.Decimal `json:"price_per_share" swaggertype:"string"`
	Type          string          `json:"type"`
}

type recommendationDeltaRequest struct {
	PortfolioID    string          `json:"portfolio_id"`
	Symbol         string          `json:"symbol"`
	Current        decimal.Decimal `json:"current_quantity" swaggertype:"string"`
	Target         decimal.Decimal `json:"target_quantity" swaggertype:"string"`
	OptimizationID *string         `json:"optimization_id,omitempty"`
}

// @Summary Create a user transaction
// @Description Persists the transaction on hold and settles it immediately when the market is open.
// @Tags transactions
// @Param X-User-ID header string true "caller"
// @Param body body createTransactionRequest true "transaction"
// @Success 201 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/transactions [post]
func (h *TransactionHandler) create(c *gin.Context) {
	if h.Settlement == nil {
		Error(c, http.StatusServiceUnavailable, "settlement unavailable", nil)
		return
	}
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Settlement.CreateFromRequest(c.Request.Context(), settlement.CreateRequest{
		UserID:        audit.UserID(c),
		PortfolioID:   req.PortfolioID,
		Symbol:        req.Symbol,
		Quantity:      req.Quantity,
		PricePerShare: req.PricePerShare,
		Type:          models.TransactionType(strings.ToLower(strings.TrimSpace(req.Type))),
		TriggeredBy:   models.TriggeredByUser,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, item)
}

// @Summary Create the trade for a recommendation delta
// @Tags transactions
// @Param X-User-ID header string true "caller"
// @Param body body recommendationDeltaRequest true "delta"
// @Success 201 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Failure 503 {object} apiResponse
// @Router /api/v1/transactions/recommendation [post]
func (h *TransactionHandler) createFromRecommendation(c *gin.Context) {
	if h.Settlement == nil {
		Error(c, http.StatusServiceUnavailable, "settlement unavailable", nil)
		return
	}
	var req recommendationDeltaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Settlement.CreateFromRecommendationDelta(c.Request.Context(), settlement.DeltaRequest{
		UserID:         audit.UserID(c),
		PortfolioID:    req.PortfolioID,
		Symbol:         req.Symbol,
		Current:        req.Current,
		Target:         req.Target,
		OptimizationID: req.OptimizationID,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, item)
}

// @Summary List caller transactions
// @Tags transactions
// @Param X-User-ID header string true "caller"
// @Param portfolio_id query string false "portfolio"
// @Param symbol query string false "symbol"
// @Param status query string false "on_hold|succeeded|failed|canceled"
// @Param since query string false "RFC3339 or YYYY-MM-DD"
// @Param until query string false "RFC3339 or YYYY-MM-DD"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param asc query bool false "oldest first"
// @Success 200 {object} apiResponse
// @Router /api/v1/transactions [get]
func (h *TransactionHandler) list(c *gin.Context) {
	if h.Settlement == nil {
		Error(c, http.StatusServiceUnavailable, "settlement unavailable", nil)
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
	f := settlement.ListFilter{
		PortfolioID: strings.TrimSpace(c.Query("portfolio_id")),
		Symbol:      strings.TrimSpace(c.Query("symbol")),
		Status:      models.TransactionStatus(strings.TrimSpace(c.Query("status"))),
		Since:       since,
		Until:       until,
		Limit:       intQuery(c, "limit", 50),
		Offset:      intQuery(c, "offset", 0),
		Asc:         boolQueryDefault(c, "asc", false),
	}
	items, total, err := h.Settlement.List(c.Request.Context(), audit.UserID(c), f)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(f.Limit, f.Offset, total))
}

// @Summary Get transaction
// @Tags transactions
// @Param X-User-ID header string true "caller"
// @Param id path string true "transaction id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/transactions/{id} [get]
func (h *TransactionHandler) get(c *gin.Context) {
	if h.Settlement == nil {
		Error(c, http.StatusServiceUnavailable, "settlement unavailable", nil)
		return
	}
	item, err := h.Settlement.Get(c.Request.Context(), audit.UserID(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Cancel an on-hold user transaction
// @Tags transactions
// @Param X-User-ID header string true "caller"
// @Param id path string true "transaction id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/transactions/{id}/cancel [post]
func (h *TransactionHandler) cancel(c *gin.Context) {
	if h.Settlement == nil {
		Error(c, http.StatusServiceUnavailable, "settlement unavailable", nil)
		return
	}
	item, err := h.Settlement.Cancel(c.Request.Context(), strings.TrimSpace(c.Param("id")), audit.UserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Settle every on-hold transaction now
// @Tags transactions
// @Param X-User-ID header string true "operator id"
// @Success 200 {object} apiResponse
// @Failure 403 {object} apiResponse
// @Router /api/v1/transactions/settle-pending [post]
func (h *TransactionHandler) settlePending(c *gin.Context) {
	if h.Settlement == nil {
		Error(c, http.StatusServiceUnavailable, "settlement unavailable", nil)
		return
	}
	n, err := h.Settlement.SettlePending(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"settled": n}, nil)
}
