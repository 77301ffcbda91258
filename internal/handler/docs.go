package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# investcore

Portfolio holdings ledger, transaction settlement and optimization lifecycle.

## Auth

Every /api/* route requires an X-User-ID header set by the gateway.
Health endpoints are public.

## Errors

Failures use the envelope {code, message, meta}. meta.kind is one of
validation (400), not_found (404), conflict (409), invalid_state (409),
insufficient_holdings (422), price_unavailable (503), provider (502).
A cool-off conflict carries meta.remaining_cool_off_seconds.

## Routes

- GET /healthz
- GET /readyz
- GET /swagger/index.html
- GET|POST /api/v1/portfolios
- GET /api/v1/portfolios/:id
- GET /api/v1/portfolios/:id/holdings
- GET /api/v1/portfolios/:id/history
- POST /api/v1/portfolios/:id/optimizations
- GET /api/v1/portfolios/:id/optimizations
- GET /api/v1/portfolios/:id/optimizations/status
- GET /api/v1/optimizations/:id
- GET /api/v1/optimizations/:id/status
- POST /api/v1/optimizations/:id/apply
- POST /api/v1/optimizations/:id/cancel
- GET|POST /api/v1/transactions
- POST /api/v1/transactions/recommendation
- POST /api/v1/transactions/settle-pending (operators listed in server.operators)
- GET /api/v1/transactions/:id
- POST /api/v1/transactions/:id/cancel
- GET /api/v1/models/health
- GET /api/v1/settings
- GET|PUT /api/v1/settings/:key
`)
	})
}
